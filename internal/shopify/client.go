// Package shopify is the client for the storefront AJAX API the host theme
// itself uses. The gateway calls it on the shopper's behalf, relaying the
// shopper's cart cookie both ways so the theme and the gateway always see
// the same cart.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flexgate/internal/model"
	"flexgate/internal/transport"
)

// Config holds storefront client configuration.
type Config struct {
	StorefrontURL string

	// AccessToken is the shop's storefront access token (the embed's
	// sf_token). Sent on every call when set; password-protected and
	// development shops reject anonymous AJAX calls without it.
	AccessToken string

	Timeout time.Duration

	// HTTPClient overrides the default fingerprint transport. Tests use
	// this to reach plaintext servers.
	HTTPClient *http.Client
}

// Client talks to one shop's storefront. It is stateless; per-shopper cart
// identity travels in the cookie threaded through Session.
type Client struct {
	httpClient    *http.Client
	storefrontURL string
	accessToken   string
}

// New creates a storefront client.
func New(cfg Config) (*Client, error) {
	if cfg.StorefrontURL == "" {
		return nil, fmt.Errorf("storefront URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Chrome TLS fingerprint transport: the AJAX endpoints sit behind
		// the same bot protection as the theme. See internal/transport.
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport.NewStorefrontTransport(timeout),
		}
	}
	return &Client{
		httpClient:    httpClient,
		storefrontURL: strings.TrimSuffix(cfg.StorefrontURL, "/"),
		accessToken:   cfg.AccessToken,
	}, nil
}

// GetProduct fetches product details by handle and derives the fields the
// offer resolver needs. Price is the first variant's price in cents.
func (c *Client) GetProduct(ctx context.Context, handle string) (*model.ProductInfo, error) {
	var product Product
	if err := c.doJSON(ctx, http.MethodGet, "/products/"+handle+".js", "", nil, &product, nil); err != nil {
		return nil, err
	}

	info := &model.ProductInfo{
		ID:          product.ID,
		Handle:      product.Handle,
		Title:       product.Title,
		Price:       product.Price,
		Vendor:      product.Vendor,
		Tags:        product.Tags,
		CategoryTag: model.DetectCategoryTag(product.Tags),
	}
	if len(product.Variants) > 0 {
		info.VariantID = product.Variants[0].ID
		if info.Price == 0 {
			info.Price = product.Variants[0].Price
		}
	}
	return info, nil
}

// Session binds cart operations to one shopper's cookie jar contents.
// cookie is the raw Cookie header from the inbound request; Set-Cookie
// headers Shopify returns are collected for relaying back to the shopper.
func (c *Client) Session(cookie string) *CartSession {
	return &CartSession{client: c, cookie: cookie}
}

// CartSession performs cart operations as one shopper.
type CartSession struct {
	client     *Client
	cookie     string
	setCookies []string
}

// SetCookies returns the Set-Cookie header values collected from Shopify
// responses, in order. The handler relays them to the shopper so the
// theme's next native request sees the same cart.
func (s *CartSession) SetCookies() []string {
	return s.setCookies
}

// GetCart fetches the current cart state.
func (s *CartSession) GetCart(ctx context.Context) (*Cart, error) {
	var cart Cart
	if err := s.client.doJSON(ctx, http.MethodGet, "/cart.js", s.cookie, nil, &cart, &s.setCookies); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItems adds lines to the cart via /cart/add.js.
func (s *CartSession) AddItems(ctx context.Context, items []AddItem) (*AddResponse, error) {
	var resp AddResponse
	err := s.client.doJSON(ctx, http.MethodPost, "/cart/add.js", s.cookie,
		AddRequest{Items: items}, &resp, &s.setCookies)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChangeLine sets the quantity of the line at the 1-based position.
// Quantity zero removes the line.
func (s *CartSession) ChangeLine(ctx context.Context, line, quantity int) (*Cart, error) {
	var cart Cart
	err := s.client.doJSON(ctx, http.MethodPost, "/cart/change.js", s.cookie,
		ChangeRequest{Line: line, Quantity: quantity}, &cart, &s.setCookies)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// ChangeKey sets the quantity of the line with the given key. Keys survive
// position shifts, so this is the fallback when line positions have moved
// under us.
func (s *CartSession) ChangeKey(ctx context.Context, key string, quantity int) (*Cart, error) {
	var cart Cart
	err := s.client.doJSON(ctx, http.MethodPost, "/cart/change.js", s.cookie,
		ChangeRequest{ID: key, Quantity: quantity}, &cart, &s.setCookies)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// doJSON executes a storefront request and decodes the JSON response.
// cookie is sent verbatim when non-empty; Set-Cookie values are appended to
// setCookies when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path, cookie string, body, out any, setCookies *[]string) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.storefrontURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("X-Shopify-Storefront-Access-Token", c.accessToken)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("storefront", err)
	}
	defer resp.Body.Close()

	if setCookies != nil {
		*setCookies = append(*setCookies, resp.Header.Values("Set-Cookie")...)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// parseErrorResponse converts a storefront error body to an APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var sfErr ErrorResponse
	json.Unmarshal(body, &sfErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError("product")
	case 422:
		msg := sfErr.Description
		if msg == "" {
			msg = sfErr.Message
		}
		if msg == "" {
			msg = "cart operation rejected"
		}
		return model.NewValidationError("cart", msg)
	case 429:
		return model.NewRateLimitError("storefront")
	default:
		return model.NewUpstreamError("storefront",
			fmt.Errorf("status %d: %s", statusCode, sfErr.Message))
	}
}
