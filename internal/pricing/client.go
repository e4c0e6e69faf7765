// Package pricing is the client for the warranty pricing service: remote
// merchant config, per-product plan options, and the variant-selection call
// that mints the purchasable warranty variant. It also ships analytics
// events, fire-and-forget.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flexgate/internal/model"
)

// Config holds pricing client configuration. ShopID identifies the merchant
// and is sent as the shop query parameter on every call.
type Config struct {
	BaseURL string
	APIKey  string
	ShopID  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the pricing service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	shopID     string
	logger     *slog.Logger
}

// New creates a pricing client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pricing base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		shopID:     cfg.ShopID,
		logger:     logger,
	}, nil
}

// query returns url.Values pre-populated with the shop identifier.
func (c *Client) query() url.Values {
	q := url.Values{}
	if c.shopID != "" {
		q.Set("shop", c.shopID)
	}
	return q
}

// RemoteConfig is the merchant's pricing-service-side configuration.
type RemoteConfig struct {
	Enabled   bool                  `json:"enabled"`
	Placement model.PlacementConfig `json:"placement"`
}

// GetConfig fetches the merchant's remote configuration.
func (c *Client) GetConfig(ctx context.Context) (*RemoteConfig, error) {
	var cfg RemoteConfig
	if err := c.get(ctx, "/pricing/config", c.query(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetOptions fetches the plan terms priced for a product price and category.
// An empty slice means the product prices out of the program.
func (c *Client) GetOptions(ctx context.Context, priceCents int64, categoryTag string) ([]model.PricingOption, error) {
	q := c.query()
	q.Set("price", model.FormatCents(priceCents))
	q.Set("category_tag", categoryTag)
	var resp struct {
		Options []model.PricingOption `json:"options"`
	}
	if err := c.get(ctx, "/pricing/options", q, &resp); err != nil {
		return nil, err
	}
	return resp.Options, nil
}

// FullOffer is the merchandising payload for the modal surface.
type FullOffer struct {
	Options     []model.PricingOption `json:"options"`
	IncludesADH bool                  `json:"includes_adh"`
	Headline    string                `json:"headline,omitempty"`
}

// GetFullOffer fetches the richer offer payload used by the modal.
func (c *Client) GetFullOffer(ctx context.Context, priceCents int64, categoryTag string) (*FullOffer, error) {
	q := c.query()
	q.Set("price", model.FormatCents(priceCents))
	q.Set("category_tag", categoryTag)
	var offer FullOffer
	if err := c.get(ctx, "/pricing/fulloffer", q, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// SelectRequest identifies the plan being purchased.
type SelectRequest struct {
	ProductID    int64  `json:"product_id"`
	ProductTitle string `json:"product_title,omitempty"`
	Term         int    `json:"term"`
	Price        int64  `json:"price"`
	CategoryTag  string `json:"category_tag"`
	SessionToken string `json:"session_token"`
}

// selectResponse carries the warranty variant as a Shopify global id.
type selectResponse struct {
	VariantID string `json:"variant_id"`
}

// SelectVariant resolves the purchasable warranty variant for the chosen
// plan and returns its numeric id. Tries GET first and retries any failure
// as a POST with the same payload, since older service versions only accept
// POST. A response that is not a well-formed product variant gid is an
// error; the caller must abort the add without touching the cart.
func (c *Client) SelectVariant(ctx context.Context, req SelectRequest) (int64, error) {
	q := c.query()
	q.Set("product_id", strconv.FormatInt(req.ProductID, 10))
	q.Set("term", strconv.Itoa(req.Term))
	q.Set("price", model.FormatCents(req.Price))
	q.Set("category_tag", req.CategoryTag)
	q.Set("session_token", req.SessionToken)

	var resp selectResponse
	if err := c.get(ctx, "/pricing/select", q, &resp); err != nil {
		c.logger.Debug("select GET failed, retrying as POST", "error", err)
		if err := c.post(ctx, "/pricing/select", c.query(), req, &resp); err != nil {
			return 0, err
		}
	}

	id, err := model.ParseVariantGID(resp.VariantID)
	if err != nil {
		return 0, model.NewUpstreamError("pricing", err)
	}
	return id, nil
}

// Event is one analytics record.
type Event struct {
	Type         string         `json:"type"`
	SessionToken string         `json:"session_token"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// PublishEvent ships an analytics event in the background. Delivery is best
// effort; failures are logged and never reach the shopper's request path.
func (c *Client) PublishEvent(evt Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.post(ctx, "/events", c.query(), evt, nil); err != nil {
			c.logger.Warn("analytics event dropped",
				"event", evt.Type,
				"error", err)
		}
	}()
}

// get executes a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

// post executes a POST request with a JSON body. out may be nil when the
// response body is irrelevant.
func (c *Client) post(ctx context.Context, path string, q url.Values, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("pricing", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// parseErrorResponse converts a pricing service error to an APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var svcErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	json.Unmarshal(body, &svcErr) // Best effort parse

	msg := svcErr.Message
	if msg == "" {
		msg = svcErr.Error
	}

	switch statusCode {
	case 404:
		return &model.APIError{
			Code:       "NOT_FOUND",
			Message:    "pricing endpoint not found",
			StatusCode: 404,
			Err:        model.ErrNotFound,
		}
	case 405:
		return &model.APIError{
			Code:       "METHOD_NOT_ALLOWED",
			Message:    "pricing endpoint rejected method",
			StatusCode: 405,
			Err:        model.ErrInvalidRequest,
		}
	case 429:
		return model.NewRateLimitError("pricing")
	default:
		return model.NewUpstreamError("pricing",
			fmt.Errorf("status %d: %s", statusCode, msg))
	}
}
