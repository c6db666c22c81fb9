package cart

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-storefront/pkg/identity"
)

// Engine owns the canonical in-memory cart for the current session.
//
// For authenticated users the backend is the source of truth: every
// mutation issues the corresponding backend call and then re-fetches the
// full cart. For anonymous users the engine is the sole source of truth,
// persisted to the guest store after every change.
//
// Backend failures never surface from mutating methods. The engine falls
// back to an optimistic local mutation, logs the failure and raises the
// degraded flag; the next successful reconciliation overwrites the
// optimistic state and clears the flag.
type Engine struct {
	backend  Backend
	store    Store
	identity identity.Provider
	logger   zerolog.Logger

	// fetchSeq orders concurrent fetches so a slower, earlier-issued
	// fetch can never overwrite a later one's result.
	fetchSeq atomic.Uint64

	mu         sync.Mutex
	items      []LineItem
	appliedSeq uint64
	degraded   bool
}

// NewEngine creates a cart engine. The identity provider is injected so
// the engine holds no global session state of its own.
func NewEngine(backend Backend, store Store, provider identity.Provider, logger zerolog.Logger) *Engine {
	return &Engine{
		backend:  backend,
		store:    store,
		identity: provider,
		logger:   logger.With().Str("component", "CartEngine").Logger(),
	}
}

// Hydrate restores a persisted anonymous cart at session start. For an
// authenticated session use FetchCart instead.
func (e *Engine) Hydrate(ctx context.Context) error {
	items, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("hydrate cart: %w", err)
	}
	e.mu.Lock()
	e.items = items
	e.mu.Unlock()
	return nil
}

// AddCustomDesign adds a fully custom configuration. An existing item
// with the same configuration has its quantity incremented by one;
// otherwise a new local-only item is appended with quantity one. Custom
// designs have no backend representation, so no backend call is made for
// either track.
func (e *Engine) AddCustomDesign(ctx context.Context, design CustomDesign) {
	e.mu.Lock()
	merged := false
	for i := range e.items {
		if e.items[i].IsLocal() && e.items[i].Design.SameConfiguration(design) {
			e.items[i].Quantity++
			merged = true
			break
		}
	}
	if !merged {
		e.items = append(e.items, LineItem{ID: NewLocalID(), Design: design, Quantity: 1})
	}
	e.mu.Unlock()

	if !identity.IsAuthenticated(e.identity) {
		e.persistGuest(ctx)
	}
}

// AddByProductID adds a catalog product by its ID. Authenticated: the
// backend owns de-duplication, so the engine issues the call and
// re-fetches. Anonymous: an existing plain item for the same product and
// engraving is incremented, otherwise a zero-priced placeholder is
// appended (the consuming UI resolves the price from the product
// record).
func (e *Engine) AddByProductID(ctx context.Context, productID string, quantity int, engrave string) {
	if quantity <= 0 {
		return
	}

	if identity.IsAuthenticated(e.identity) {
		if err := e.backend.Add(ctx, productID, quantity, engrave); err != nil {
			e.logger.Error().Err(err).Str("product_id", productID).Msg("Backend add failed. Applying optimistic local add.")
			e.markDegraded()
			e.addPlaceholder(productID, quantity, engrave)
			return
		}
		e.refetch(ctx)
		return
	}

	e.addPlaceholder(productID, quantity, engrave)
	e.persistGuest(ctx)
}

// addPlaceholder merges or appends a plain catalog item.
func (e *Engine) addPlaceholder(productID string, quantity int, engrave string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		d := e.items[i].Design
		if e.items[i].IsLocal() && d.ProductID == productID && d.TemplateID == "" && d.Engrave == engrave {
			e.items[i].Quantity += quantity
			return
		}
	}
	e.items = append(e.items, LineItem{
		ID:       NewLocalID(),
		Design:   CustomDesign{ProductID: productID, Engrave: engrave},
		Quantity: quantity,
	})
}

// RemoveItem removes an item. The target is classified by its ID shape
// first: local tokens are removed directly regardless of authentication;
// backend-issued IDs route to the backend when a user is signed in.
func (e *Engine) RemoveItem(ctx context.Context, id string) {
	if !IsRemoteID(id) || !identity.IsAuthenticated(e.identity) {
		e.removeLocal(id)
		if !identity.IsAuthenticated(e.identity) {
			e.persistGuest(ctx)
		}
		return
	}

	if err := e.backend.Remove(ctx, id); err != nil {
		e.logger.Error().Err(err).Str("item_id", id).Msg("Backend remove failed. Applying optimistic local remove.")
		e.markDegraded()
		e.removeLocal(id)
		return
	}
	e.refetch(ctx)
}

// SetQuantity sets an item's quantity. A quantity of zero or less
// removes the item; the cart never holds a zero or negative quantity.
func (e *Engine) SetQuantity(ctx context.Context, id string, quantity int) {
	if quantity <= 0 {
		e.RemoveItem(ctx, id)
		return
	}

	if !IsRemoteID(id) || !identity.IsAuthenticated(e.identity) {
		e.setQuantityLocal(id, quantity)
		if !identity.IsAuthenticated(e.identity) {
			e.persistGuest(ctx)
		}
		return
	}

	if err := e.backend.UpdateQuantity(ctx, id, quantity); err != nil {
		e.logger.Error().Err(err).Str("item_id", id).Msg("Backend quantity update failed. Applying optimistic local update.")
		e.markDegraded()
		e.setQuantityLocal(id, quantity)
		return
	}
	e.refetch(ctx)
}

// ClearCart empties the cart, local-only items included.
func (e *Engine) ClearCart(ctx context.Context) {
	e.mu.Lock()
	e.items = nil
	e.mu.Unlock()

	if !identity.IsAuthenticated(e.identity) {
		if err := e.store.Clear(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to clear persisted guest cart.")
		}
		return
	}

	if err := e.backend.Clear(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Backend clear failed. Cart cleared locally only.")
		e.markDegraded()
		return
	}
	e.refetch(ctx)
}

// FetchCart reconciles the in-memory list with the backend: a no-op for
// anonymous sessions, otherwise the authoritative items replace the list
// wholesale and every held custom-design item (non-empty template) is
// spliced back in. Concurrent fetches are arbitrated by sequence number;
// a result older than the last applied one is discarded.
func (e *Engine) FetchCart(ctx context.Context) error {
	if !identity.IsAuthenticated(e.identity) {
		return nil
	}

	seq := e.fetchSeq.Add(1)
	remote, err := e.backend.List(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Cart fetch failed. Keeping current local state.")
		e.markDegraded()
		return fmt.Errorf("fetch cart: %w", err)
	}

	items := make([]LineItem, 0, len(remote))
	for _, r := range remote {
		items = append(items, LineItem{
			ID: r.ID,
			Design: CustomDesign{
				ProductID: r.ProductID,
				UnitPrice: r.UnitPrice,
				Engrave:   r.Engrave,
			},
			Quantity: r.Quantity,
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq <= e.appliedSeq {
		e.logger.Debug().Uint64("seq", seq).Uint64("applied", e.appliedSeq).Msg("Discarding out-of-order fetch result.")
		return nil
	}
	for _, item := range e.items {
		if item.IsLocal() && item.Design.TemplateID != "" {
			items = append(items, item)
		}
	}
	e.items = items
	e.appliedSeq = seq
	e.degraded = false
	return nil
}

// Items returns a snapshot copy of the current cart.
func (e *Engine) Items() []LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LineItem, len(e.items))
	copy(out, e.items)
	return out
}

// TotalPrice sums unit price times quantity over all items.
func (e *Engine) TotalPrice() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total int64
	for _, item := range e.items {
		total += item.Design.UnitPrice * int64(item.Quantity)
	}
	return total
}

// TotalItems sums the quantities of all items.
func (e *Engine) TotalItems() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, item := range e.items {
		total += item.Quantity
	}
	return total
}

// Degraded reports whether the cart is showing optimistic state after a
// backend failure. Cleared by the next successful reconciliation.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

func (e *Engine) markDegraded() {
	e.mu.Lock()
	e.degraded = true
	e.mu.Unlock()
}

func (e *Engine) removeLocal(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		if e.items[i].ID == id {
			e.items = append(e.items[:i], e.items[i+1:]...)
			return
		}
	}
}

func (e *Engine) setQuantityLocal(id string, quantity int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		if e.items[i].ID == id {
			e.items[i].Quantity = quantity
			return
		}
	}
}

// refetch runs the post-mutation reconciliation. Its failure is already
// logged and reflected by the degraded flag, never surfaced.
func (e *Engine) refetch(ctx context.Context) {
	_ = e.FetchCart(ctx)
}

// persistGuest writes the current list to the guest store. Persistence
// failures are logged only; durable storage is not a correctness
// dependency for the in-memory cart.
func (e *Engine) persistGuest(ctx context.Context) {
	items := e.Items()
	if err := e.store.Save(ctx, items); err != nil {
		e.logger.Error().Err(err).Msg("Failed to persist guest cart.")
	}
}
