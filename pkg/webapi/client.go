// Package webapi provides the JSON-over-HTTP fetch layer underneath the
// cache and cart subsystems.
package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-storefront/pkg/apierror"
)

// Request describes a backend call. It is both the input to Client.Do and
// the basis for cache-key derivation.
type Request struct {
	Method string
	Path   string
	// Body is JSON-encoded when non-nil.
	Body any
	// BearerToken, when set, is attached as an Authorization header.
	BearerToken string
}

// EncodedBody returns the serialized request body, or nil when the
// request has none.
func (r Request) EncodedBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return encoded, nil
}

// ClientConfig holds configuration for the backend HTTP client.
type ClientConfig struct {
	BaseURL string
}

// Client performs JSON requests against the backend. A non-2xx response
// is returned as the parsed error body (*apierror.Error); undecodable
// bodies become *apierror.MalformedResponseError.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a backend client. httpClient may be nil, in which
// case http.DefaultClient is used.
func NewClient(cfg *ClientConfig, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With().Str("component", "WebAPIClient").Logger(),
	}
}

// Do executes req and, when out is non-nil, decodes the response body
// into it.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	encoded, err := req.EncodedBody()
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if encoded != nil {
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if encoded != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug().Int("status", resp.StatusCode).Str("path", req.Path).Msg("Backend returned non-success status.")
		return apierror.FromResponse(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apierror.NewMalformedResponse(respBody, err)
	}
	return nil
}
