// Package reconcile keeps the warranty lines in a cart consistent with the
// products they protect. A warranty line whose parent variant has left the
// cart is an orphan and gets removed; everything else is left untouched.
// The cart is the only source of truth: no local mirror of cart state is
// kept between passes.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"flexgate/internal/model"
	"flexgate/internal/shopify"
)

// Line pairs a cart item with its 1-based position. Positions shift when
// lines above are removed, so they are only valid against the cart snapshot
// they came from.
type Line struct {
	Index int
	Item  shopify.CartItem
}

// Partition splits a cart snapshot into product lines and warranty lines,
// identified by the warranty marker properties.
func Partition(items []shopify.CartItem) (parents, warranties []Line) {
	for i, item := range items {
		line := Line{Index: i + 1, Item: item}
		if model.IsWarrantyProps(item.Properties) {
			warranties = append(warranties, line)
		} else {
			parents = append(parents, line)
		}
	}
	return parents, warranties
}

// Orphans returns the warranty lines whose declared parent variant is not
// present among the product lines. A warranty with no parent reference
// cannot be verified and is kept.
func Orphans(items []shopify.CartItem) []Line {
	parents, warranties := Partition(items)

	parentVariants := make(map[int64]bool, len(parents))
	for _, p := range parents {
		parentVariants[p.Item.VariantID] = true
	}

	var orphans []Line
	for _, w := range warranties {
		parent := model.ParentVariant(w.Item.Properties)
		if parent != 0 && !parentVariants[parent] {
			orphans = append(orphans, w)
		}
	}
	return orphans
}

// CartAPI is the slice of the storefront session the cleaner uses.
type CartAPI interface {
	GetCart(ctx context.Context) (*shopify.Cart, error)
	ChangeLine(ctx context.Context, line, quantity int) (*shopify.Cart, error)
	ChangeKey(ctx context.Context, key string, quantity int) (*shopify.Cart, error)
}

// Cleaner removes orphaned warranty lines.
type Cleaner struct {
	logger *slog.Logger
}

// NewCleaner creates a cleaner.
func NewCleaner(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{logger: logger}
}

// Clean fetches the cart and removes orphaned warranty lines one at a time,
// re-reading state from each mutation response so shifted positions never
// target the wrong line. Removal is attempted by position first and falls
// back to the stable line key. Returns the number of lines removed.
func (c *Cleaner) Clean(ctx context.Context, api CartAPI) (int, error) {
	cart, err := api.GetCart(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	// One orphan per pass; bounded by the snapshot size so a cart that
	// keeps changing under us cannot loop forever.
	for pass := 0; pass <= len(cart.Items); pass++ {
		orphans := Orphans(cart.Items)
		if len(orphans) == 0 {
			break
		}
		target := orphans[0]

		next, err := api.ChangeLine(ctx, target.Index, 0)
		if err == nil && containsKey(next.Items, target.Item.Key) {
			// Position pointed at something else; the key is authoritative
			c.logger.Debug("orphan survived position removal, retrying by key",
				"key", target.Item.Key)
			next, err = api.ChangeKey(ctx, target.Item.Key, 0)
		}
		if err != nil {
			next, err = api.ChangeKey(ctx, target.Item.Key, 0)
			if err != nil {
				return removed, err
			}
		}

		removed++
		c.logger.Info("removed orphaned warranty line",
			"key", target.Item.Key,
			"parent_variant", model.ParentVariant(target.Item.Properties))
		cart = next
	}
	return removed, nil
}

func containsKey(items []shopify.CartItem, key string) bool {
	for _, item := range items {
		if item.Key == key {
			return true
		}
	}
	return false
}

// === Debouncer ===

// Debouncer coalesces bursts of cleanup triggers per key into one trailing
// run. A removal cascade (theme removes a product, we remove its warranty,
// the theme's cart refresh fires again) collapses into a single pass.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timers map[string]*time.Timer
}

// NewDebouncer creates a debouncer with the given trailing window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger schedules fn to run after the window. Re-triggering the same key
// before it fires restarts the window; only the last fn runs.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Stop cancels all pending runs.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
