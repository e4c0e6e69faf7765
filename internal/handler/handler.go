// Package handler provides HTTP handlers for the embed gateway API, served
// on the shop's app-proxy path.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"flexgate/internal/engine"
	"flexgate/internal/middleware"
	"flexgate/internal/model"
	"flexgate/internal/offer"
	"flexgate/internal/pricing"
	"flexgate/internal/session"
	"flexgate/internal/shopify"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine     *engine.Engine
	resolver   *offer.Resolver
	storefront *shopify.Client
	pricing    *pricing.Client
	sessions   *session.Manager
	logger     *slog.Logger
}

// New creates a Handler.
func New(e *engine.Engine, resolver *offer.Resolver, storefront *shopify.Client,
	pricingClient *pricing.Client, sessions *session.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		engine:     e,
		resolver:   resolver,
		storefront: storefront,
		pricing:    pricingClient,
		sessions:   sessions,
		logger:     logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns. The cart endpoints mirror the
// storefront AJAX paths so the embed can rewrite the theme's own calls to
// the proxy base without reshaping them.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Offer surface
	mux.HandleFunc("GET /offer", h.handleGetOffer)
	mux.HandleFunc("POST /offer/select", h.handleSelect)
	mux.HandleFunc("POST /offer/decline", h.handleDecline)

	// Intercepted cart traffic
	mux.HandleFunc("POST /cart/add.js", h.handleCartAddJSON)
	mux.HandleFunc("POST /cart/add", h.handleCartAddForm)
	mux.HandleFunc("POST /cart/change.js", h.handleCartChange)
	mux.HandleFunc("POST /cart/update.js", h.handleCartChange)
	mux.HandleFunc("POST /cart/reconcile", h.handleReconcile)
	mux.HandleFunc("GET /cart.js", h.handleGetCart)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionStore resolves the shopper's store from the session middleware.
func (h *Handler) sessionStore(r *http.Request) (session.Store, error) {
	id := middleware.SessionID(r.Context())
	if id == "" {
		return nil, model.NewInternalError(errors.New("no session bound to request"))
	}
	return h.sessions.For(id)
}

// relayCookies forwards the storefront's Set-Cookie headers to the shopper
// so the theme's next native request sees the same cart.
func relayCookies(w http.ResponseWriter, sess *shopify.CartSession) {
	for _, c := range sess.SetCookies() {
		w.Header().Add("Set-Cookie", c)
	}
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if errors.As(err, &apiErr) {
		// Found APIError in error chain - use it
	} else {
		// Wrap unexpected errors
		apiErr = &model.APIError{
			Code:       "INTERNAL_ERROR",
			Message:    "an internal error occurred",
			StatusCode: http.StatusInternalServerError,
		}
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
