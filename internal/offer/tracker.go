package offer

import (
	"encoding/json"
	"fmt"

	"flexgate/internal/model"
	"flexgate/internal/session"
)

// selectionPrefix namespaces the persisted plan choice per product.
const selectionPrefix = "fp_selection:"

// Tracker holds the shopper's plan choice and decline state. The two are
// mutually exclusive per product: selecting clears the decline flag,
// declining clears the selection.
type Tracker struct {
	store session.Store
}

// NewTracker creates a tracker over the shopper's session store.
func NewTracker(store session.Store) *Tracker {
	return &Tracker{store: store}
}

// Selection returns the current plan choice for the product, if any.
func (t *Tracker) Selection(productKey string) (model.Selection, bool) {
	raw, ok := t.store.Get(selectionPrefix + productKey)
	if !ok {
		return model.Selection{}, false
	}
	var sel model.Selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil || sel.Term == 0 {
		return model.Selection{}, false
	}
	return sel, true
}

// Select records a plan choice. Choosing the already-selected term toggles
// the selection off; anything else replaces it. Either way the decline flag
// is cleared. Returns the resulting selection state.
func (t *Tracker) Select(productKey string, term int, price int64) (model.Selection, bool, error) {
	if current, ok := t.Selection(productKey); ok && current.Term == term {
		if err := t.store.Delete(selectionPrefix + productKey); err != nil {
			return model.Selection{}, false, fmt.Errorf("clearing selection: %w", err)
		}
		return model.Selection{}, false, nil
	}

	sel := model.Selection{Term: term, Price: price}
	raw, err := json.Marshal(sel)
	if err != nil {
		return model.Selection{}, false, fmt.Errorf("encoding selection: %w", err)
	}
	if err := t.store.Set(selectionPrefix+productKey, string(raw)); err != nil {
		return model.Selection{}, false, fmt.Errorf("saving selection: %w", err)
	}
	// A fresh choice always overrides an earlier "no thanks"
	if err := session.ClearDeclined(t.store, productKey); err != nil {
		return model.Selection{}, false, fmt.Errorf("clearing decline flag: %w", err)
	}
	return sel, true, nil
}

// Decline records the shopper's "no thanks" for the product and drops any
// active selection.
func (t *Tracker) Decline(productKey string) error {
	if err := t.store.Delete(selectionPrefix + productKey); err != nil {
		return fmt.Errorf("clearing selection: %w", err)
	}
	return session.SetDeclined(t.store, productKey)
}

// Declined reports whether the shopper has declined the offer for the
// product.
func (t *Tracker) Declined(productKey string) bool {
	return session.IsDeclined(t.store, productKey)
}

// Clear drops both the selection and the decline flag, e.g. after the
// warranty was purchased or the product left the cart.
func (t *Tracker) Clear(productKey string) error {
	if err := t.store.Delete(selectionPrefix + productKey); err != nil {
		return fmt.Errorf("clearing selection: %w", err)
	}
	return session.ClearDeclined(t.store, productKey)
}
