// MCP transport handler using the official MCP Go SDK. Exposes the offer
// and cart operations as tools so agent surfaces can drive the same flows
// as the embed script.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"flexgate/internal/bus"
	"flexgate/internal/engine"
	"flexgate/internal/model"
	"flexgate/internal/offer"
	"flexgate/internal/session"
)

// === MCP Tool Input/Output Types ===
// Tools are sessionful: callers pass the session_id returned by their first
// call (there is no cookie jar on this transport). Cart tools additionally
// take the shopper's storefront cookie so mutations land in the right cart.

// GetOfferInput is the input schema for get_offer.
type GetOfferInput struct {
	Handle    string `json:"handle" jsonschema:"product handle,required"`
	SessionID string `json:"session_id,omitempty" jsonschema:"shopper session id from a previous call"`
}

// SelectPlanInput is the input schema for select_plan.
type SelectPlanInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"shopper session id from a previous call"`
	Handle    string `json:"handle" jsonschema:"product handle,required"`
	Term      int    `json:"term" jsonschema:"plan term in years,required"`
	Price     int64  `json:"price" jsonschema:"plan price in cents,required"`
}

// DeclineOfferInput is the input schema for decline_offer.
type DeclineOfferInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"shopper session id from a previous call"`
	Handle    string `json:"handle" jsonschema:"product handle,required"`
}

// AddProtectionInput is the input schema for add_protection.
type AddProtectionInput struct {
	SessionID  string `json:"session_id,omitempty" jsonschema:"shopper session id from a previous call"`
	Handle     string `json:"handle" jsonschema:"product handle,required"`
	VariantID  int64  `json:"variant_id,omitempty" jsonschema:"product variant to add, defaults to the first variant"`
	Quantity   int    `json:"quantity,omitempty" jsonschema:"quantity, defaults to 1"`
	CartCookie string `json:"cart_cookie,omitempty" jsonschema:"storefront cart cookie"`
}

// ReconcileCartInput is the input schema for reconcile_cart.
type ReconcileCartInput struct {
	CartCookie string `json:"cart_cookie,omitempty" jsonschema:"storefront cart cookie"`
}

// SessionResult wraps a tool result with the session id to reuse.
type SessionResult[T any] struct {
	SessionID string `json:"session_id"`
	Result    T      `json:"result"`
}

// ReconcileResult is the reconcile_cart output.
type ReconcileResult struct {
	Removed int `json:"removed"`
}

// NewMCPServer creates an MCP server with the offer and cart tools
// registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "flexgate",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Extended warranty offers for storefront products. " +
				"Use get_offer to check eligibility and plans, select_plan or " +
				"decline_offer to record the shopper's choice, add_protection " +
				"to add the product with its warranty, and reconcile_cart to " +
				"clean up dangling warranty lines.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_offer",
		Description: "Resolve the warranty offer for a product: eligibility, surface, and plan options.",
	}, h.mcpGetOffer)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_plan",
		Description: "Record a plan choice. Selecting the already-active term toggles it off.",
	}, h.mcpSelectPlan)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "decline_offer",
		Description: "Record that the shopper declined the offer for a product.",
	}, h.mcpDeclineOffer)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_protection",
		Description: "Add a product to the cart, with its warranty when a plan is selected.",
	}, h.mcpAddProtection)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile_cart",
		Description: "Remove warranty lines whose protected product has left the cart.",
	}, h.mcpReconcileCart)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// mcpSession resolves (or mints) the shopper session for a tool call.
func (h *Handler) mcpSession(id string) (string, session.Store, error) {
	if id == "" {
		id = session.NewSessionID()
	}
	st, err := h.sessions.For(id)
	if err != nil {
		return "", nil, err
	}
	return id, st, nil
}

// === Tool Handlers ===

func (h *Handler) mcpGetOffer(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOfferInput,
) (*mcp.CallToolResult, *SessionResult[OfferResponse], error) {
	if input.Handle == "" {
		return nil, nil, fmt.Errorf("handle is required")
	}
	id, st, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	product, err := h.storefront.GetProduct(ctx, input.Handle)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	resolved, err := h.resolver.Resolve(ctx, product)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	resp := OfferResponse{Offer: resolved}
	tracker := offer.NewTracker(st)
	if sel, ok := tracker.Selection(product.Key()); ok {
		resp.Selection = &sel
	}
	resp.Declined = tracker.Declined(product.Key())

	return nil, &SessionResult[OfferResponse]{SessionID: id, Result: resp}, nil
}

func (h *Handler) mcpSelectPlan(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectPlanInput,
) (*mcp.CallToolResult, *SessionResult[SelectResponse], error) {
	if input.Handle == "" {
		return nil, nil, fmt.Errorf("handle is required")
	}
	if input.Term <= 0 {
		return nil, nil, fmt.Errorf("term must be positive")
	}
	id, st, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	sel, active, err := offer.NewTracker(st).Select(input.Handle, input.Term, input.Price)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	resp := SelectResponse{Selected: active}
	if active {
		resp.Selection = &sel
	}
	return nil, &SessionResult[SelectResponse]{SessionID: id, Result: resp}, nil
}

func (h *Handler) mcpDeclineOffer(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input DeclineOfferInput,
) (*mcp.CallToolResult, *SessionResult[map[string]bool], error) {
	if input.Handle == "" {
		return nil, nil, fmt.Errorf("handle is required")
	}
	id, st, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	if err := offer.NewTracker(st).Decline(input.Handle); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &SessionResult[map[string]bool]{
		SessionID: id,
		Result:    map[string]bool{"declined": true},
	}, nil
}

func (h *Handler) mcpAddProtection(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddProtectionInput,
) (*mcp.CallToolResult, *SessionResult[*engine.Decision], error) {
	if input.Handle == "" {
		return nil, nil, fmt.Errorf("handle is required")
	}
	id, st, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	product, err := h.storefront.GetProduct(ctx, input.Handle)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	variantID := input.VariantID
	if variantID == 0 {
		variantID = product.VariantID
	}
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}

	sess := h.storefront.Session(input.CartCookie)
	decision, err := h.engine.HandleAdd(ctx, st, sess, product, bus.Event{
		Source:       bus.SourceProgrammatic,
		SessionToken: session.Token(st),
		VariantID:    variantID,
		Quantity:     quantity,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &SessionResult[*engine.Decision]{SessionID: id, Result: decision}, nil
}

func (h *Handler) mcpReconcileCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ReconcileCartInput,
) (*mcp.CallToolResult, *ReconcileResult, error) {
	sess := h.storefront.Session(input.CartCookie)
	removed, err := h.engine.ReconcileNow(ctx, sess)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &ReconcileResult{Removed: removed}, nil
}

// mcpError converts internal errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	if apiErr, ok := err.(*model.APIError); ok {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
