package handler

import (
	"net/http"

	"flexgate/internal/model"
	"flexgate/internal/offer"
	"flexgate/internal/pricing"
	"flexgate/internal/session"
)

// OfferResponse is the GET /offer payload: the resolved offer plus the
// shopper's current state for the product.
type OfferResponse struct {
	Offer     *model.Offer     `json:"offer"`
	Selection *model.Selection `json:"selection,omitempty"`
	Declined  bool             `json:"declined"`
}

// handleGetOffer resolves the offer for a product view.
// GET /offer?handle={product-handle}
func (h *Handler) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		h.writeError(w, model.NewValidationError("handle", "required"))
		return
	}

	st, err := h.sessionStore(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	product, err := h.storefront.GetProduct(r.Context(), handle)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resolved, err := h.resolver.Resolve(r.Context(), product)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := OfferResponse{Offer: resolved}
	tracker := offer.NewTracker(st)
	if sel, ok := tracker.Selection(product.Key()); ok {
		resp.Selection = &sel
	}
	resp.Declined = tracker.Declined(product.Key())

	if resolved.Placement != model.PlacementNone {
		h.pricing.PublishEvent(pricing.Event{
			Type:         "offer_shown",
			SessionToken: session.Token(st),
			Payload: map[string]any{
				"product_id": product.ID,
				"placement":  string(resolved.Placement),
				"category":   product.CategoryTag,
			},
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// SelectRequest is the POST /offer/select body.
type SelectRequest struct {
	Handle string `json:"handle"`
	Term   int    `json:"term"`
	Price  int64  `json:"price"`
}

// SelectResponse reports the selection state after the toggle.
type SelectResponse struct {
	Selected  bool             `json:"selected"`
	Selection *model.Selection `json:"selection,omitempty"`
}

// handleSelect records a plan choice; choosing the active term toggles it
// off. POST /offer/select
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Handle == "" {
		h.writeError(w, model.NewValidationError("handle", "required"))
		return
	}
	if req.Term <= 0 {
		h.writeError(w, model.NewValidationError("term", "must be positive"))
		return
	}

	st, err := h.sessionStore(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	sel, active, err := offer.NewTracker(st).Select(req.Handle, req.Term, req.Price)
	if err != nil {
		h.writeError(w, model.NewInternalError(err))
		return
	}

	eventType := "plan_selected"
	if !active {
		eventType = "plan_deselected"
	}
	h.pricing.PublishEvent(pricing.Event{
		Type:         eventType,
		SessionToken: session.Token(st),
		Payload: map[string]any{
			"handle": req.Handle,
			"term":   req.Term,
			"price":  req.Price,
		},
	})

	resp := SelectResponse{Selected: active}
	if active {
		resp.Selection = &sel
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DeclineRequest is the POST /offer/decline body.
type DeclineRequest struct {
	Handle string `json:"handle"`
}

// handleDecline records the shopper's "no thanks" for a product.
// POST /offer/decline
func (h *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	var req DeclineRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Handle == "" {
		h.writeError(w, model.NewValidationError("handle", "required"))
		return
	}

	st, err := h.sessionStore(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := offer.NewTracker(st).Decline(req.Handle); err != nil {
		h.writeError(w, model.NewInternalError(err))
		return
	}

	h.pricing.PublishEvent(pricing.Event{
		Type:         "offer_declined",
		SessionToken: session.Token(st),
		Payload:      map[string]any{"handle": req.Handle},
	})

	h.writeJSON(w, http.StatusOK, map[string]bool{"declined": true})
}
