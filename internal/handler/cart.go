package handler

import (
	"net/http"
	"strconv"
	"strings"

	"flexgate/internal/bus"
	"flexgate/internal/engine"
	"flexgate/internal/middleware"
	"flexgate/internal/model"
	"flexgate/internal/session"
	"flexgate/internal/shopify"
)

// CartAddRequest mirrors the storefront /cart/add.js body: either the items
// form or the flat single-item form.
type CartAddRequest struct {
	Items []shopify.AddItem `json:"items"`

	// Flat form used by older themes
	ID         int64             `json:"id,omitempty"`
	Quantity   int               `json:"quantity,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (r *CartAddRequest) normalize() []shopify.AddItem {
	if len(r.Items) > 0 {
		return r.Items
	}
	if r.ID != 0 {
		qty := r.Quantity
		if qty == 0 {
			qty = 1
		}
		return []shopify.AddItem{{ID: r.ID, Quantity: qty, Properties: r.Properties}}
	}
	return nil
}

// handleCartAddJSON processes an intercepted JSON add-to-cart call (the
// fetch, XHR, and programmatic paths).
// POST /cart/add.js?handle={product-handle}&src={source}
func (h *Handler) handleCartAddJSON(w http.ResponseWriter, r *http.Request) {
	var req CartAddRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	h.processAdd(w, r, req.normalize())
}

// handleCartAddForm processes an intercepted form-encoded add (the native
// form submit and submit-control click paths).
// POST /cart/add?handle={product-handle}&src={source}
func (h *Handler) handleCartAddForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, model.NewValidationError("body", "invalid form data"))
		return
	}

	id, err := strconv.ParseInt(r.PostFormValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, model.NewValidationError("id", "variant id required"))
		return
	}
	quantity, _ := strconv.Atoi(r.PostFormValue("quantity"))
	if quantity <= 0 {
		quantity = 1
	}

	// properties[Name]=Value pairs
	props := make(map[string]string)
	for key, vals := range r.PostForm {
		if strings.HasPrefix(key, "properties[") && strings.HasSuffix(key, "]") && len(vals) > 0 {
			props[key[len("properties[") : len(key)-1]] = vals[0]
		}
	}
	if len(props) == 0 {
		props = nil
	}

	h.processAdd(w, r, []shopify.AddItem{{ID: id, Quantity: quantity, Properties: props}})
}

// processAdd runs one observed add through the engine. Requests without a
// product handle (theme flows the embed has no product context for) are
// forwarded verbatim.
func (h *Handler) processAdd(w http.ResponseWriter, r *http.Request, items []shopify.AddItem) {
	if len(items) == 0 {
		h.writeError(w, model.NewValidationError("items", "at least one item required"))
		return
	}

	st, err := h.sessionStore(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sess := h.storefront.Session(r.Header.Get("Cookie"))

	handle := r.URL.Query().Get("handle")
	if handle == "" {
		h.forwardAdd(w, r, sess, items)
		return
	}

	product, err := h.storefront.GetProduct(r.Context(), handle)
	if err != nil {
		// Unknown product context is not worth failing the add over
		h.logger.Warn("product lookup failed, forwarding add untouched",
			"handle", handle, "error", err)
		h.forwardAdd(w, r, sess, items)
		return
	}

	src := r.URL.Query().Get("src")
	if src == "" {
		src = middleware.Client(r.Context()).Source
	}
	primary := items[0]
	evt := bus.Event{
		Source:       bus.ParseSource(src),
		SessionToken: session.Token(st),
		VariantID:    primary.ID,
		Quantity:     primary.Quantity,
		Properties:   primary.Properties,
	}

	decision, err := h.engine.HandleAdd(r.Context(), st, sess, product, evt)
	relayCookies(w, sess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

// forwardAdd relays an add to the storefront without warranty involvement.
func (h *Handler) forwardAdd(w http.ResponseWriter, r *http.Request, sess *shopify.CartSession, items []shopify.AddItem) {
	resp, err := sess.AddItems(r.Context(), items)
	relayCookies(w, sess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleCartChange forwards a line change to the storefront and schedules a
// debounced orphan-cleanup pass, since removals are where warranty lines go
// stale. POST /cart/change.js and /cart/update.js
func (h *Handler) handleCartChange(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChangeRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Line == 0 && req.ID == "" {
		h.writeError(w, model.NewValidationError("line", "line or id required"))
		return
	}

	sess := h.storefront.Session(r.Header.Get("Cookie"))

	var cart *shopify.Cart
	if req.ID != "" {
		cart, err = sess.ChangeKey(r.Context(), req.ID, req.Quantity)
	} else {
		cart, err = sess.ChangeLine(r.Context(), req.Line, req.Quantity)
	}
	relayCookies(w, sess)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cookie := r.Header.Get("Cookie")
	h.engine.ReconcileRequested(middleware.SessionID(r.Context()), func() engine.CartAPI {
		return h.storefront.Session(cookie)
	})

	h.writeJSON(w, http.StatusOK, cart)
}

// decodeChangeRequest reads a change body in either of the shapes themes
// send: JSON or form-encoded line/id/quantity fields.
func decodeChangeRequest(r *http.Request) (shopify.ChangeRequest, error) {
	var req shopify.ChangeRequest

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return req, model.NewValidationError("body", "invalid form data")
		}
		req.ID = r.PostFormValue("id")
		if v := r.PostFormValue("line"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return req, model.NewValidationError("line", "line must be a number")
			}
			req.Line = n
		}
		if v := r.PostFormValue("quantity"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return req, model.NewValidationError("quantity", "quantity must be a number")
			}
			req.Quantity = n
		}
		return req, nil
	}

	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	return req, nil
}

// handleReconcile runs an immediate orphan-cleanup pass. The embed calls
// this on its periodic timer and after cart page loads.
// POST /cart/reconcile
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sess := h.storefront.Session(r.Header.Get("Cookie"))

	removed, err := h.engine.ReconcileNow(r.Context(), sess)
	relayCookies(w, sess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleGetCart relays the cart state. GET /cart.js
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	sess := h.storefront.Session(r.Header.Get("Cookie"))

	cart, err := sess.GetCart(r.Context())
	relayCookies(w, sess)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cart)
}
