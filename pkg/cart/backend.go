package cart

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-storefront/pkg/identity"
	"github.com/illmade-knight/go-storefront/pkg/webapi"
)

// RemoteItem is a backend cart line as the backend represents it. Only
// product, price, quantity and engraving survive the round trip; the
// full custom-design detail does not.
type RemoteItem struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Engrave   string `json:"engrave,omitempty"`
}

// Backend is the server-authoritative cart resource.
type Backend interface {
	List(ctx context.Context) ([]RemoteItem, error)
	Add(ctx context.Context, productID string, quantity int, engrave string) error
	UpdateQuantity(ctx context.Context, id string, quantity int) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// APIBackend implements Backend over the storefront web API. Every call
// runs through the identity provider, which retries once after a token
// refresh on an authorization failure.
type APIBackend struct {
	client   *webapi.Client
	identity identity.Provider
	logger   zerolog.Logger
}

// NewAPIBackend creates the standard Backend implementation.
func NewAPIBackend(client *webapi.Client, provider identity.Provider, logger zerolog.Logger) *APIBackend {
	return &APIBackend{
		client:   client,
		identity: provider,
		logger:   logger.With().Str("component", "CartAPIBackend").Logger(),
	}
}

type listResponse struct {
	Items []RemoteItem `json:"items"`
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Engrave   string `json:"engrave,omitempty"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// List reads the authoritative cart.
func (b *APIBackend) List(ctx context.Context) ([]RemoteItem, error) {
	var resp listResponse
	err := b.identity.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
		return b.client.Do(ctx, webapi.Request{
			Method:      http.MethodGet,
			Path:        "/v1/cart/items",
			BearerToken: token,
		}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	return resp.Items, nil
}

// Add creates a line item for a catalog product.
func (b *APIBackend) Add(ctx context.Context, productID string, quantity int, engrave string) error {
	return b.identity.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
		return b.client.Do(ctx, webapi.Request{
			Method:      http.MethodPost,
			Path:        "/v1/cart/items",
			Body:        addItemRequest{ProductID: productID, Quantity: quantity, Engrave: engrave},
			BearerToken: token,
		}, nil)
	})
}

// UpdateQuantity sets the quantity of a line item.
func (b *APIBackend) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	return b.identity.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
		return b.client.Do(ctx, webapi.Request{
			Method:      http.MethodPatch,
			Path:        "/v1/cart/items/" + id,
			Body:        updateQuantityRequest{Quantity: quantity},
			BearerToken: token,
		}, nil)
	})
}

// Remove deletes a line item.
func (b *APIBackend) Remove(ctx context.Context, id string) error {
	return b.identity.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
		return b.client.Do(ctx, webapi.Request{
			Method:      http.MethodDelete,
			Path:        "/v1/cart/items/" + id,
			BearerToken: token,
		}, nil)
	})
}

// Clear deletes the whole cart.
func (b *APIBackend) Clear(ctx context.Context) error {
	return b.identity.RunAuthenticated(ctx, func(ctx context.Context, token string) error {
		return b.client.Do(ctx, webapi.Request{
			Method:      http.MethodDelete,
			Path:        "/v1/cart",
			BearerToken: token,
		}, nil)
	})
}
