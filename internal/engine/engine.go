// Package engine applies the warranty rules to observed add-to-cart events:
// deciding between a plain add, a combined product+warranty add, or holding
// the add for the modal surface, then waiting for the cart to settle.
package engine

import (
	"context"
	"log/slog"
	"time"

	"flexgate/internal/bus"
	"flexgate/internal/model"
	"flexgate/internal/offer"
	"flexgate/internal/pricing"
	"flexgate/internal/reconcile"
	"flexgate/internal/retry"
	"flexgate/internal/session"
	"flexgate/internal/shopify"
)

// CartAPI is the per-shopper cart surface the engine drives.
type CartAPI interface {
	GetCart(ctx context.Context) (*shopify.Cart, error)
	AddItems(ctx context.Context, items []shopify.AddItem) (*shopify.AddResponse, error)
	ChangeLine(ctx context.Context, line, quantity int) (*shopify.Cart, error)
	ChangeKey(ctx context.Context, key string, quantity int) (*shopify.Cart, error)
}

// VariantSelector resolves the purchasable warranty variant for a plan.
type VariantSelector interface {
	SelectVariant(ctx context.Context, req pricing.SelectRequest) (int64, error)
}

// EventPublisher ships analytics events.
type EventPublisher interface {
	PublishEvent(evt pricing.Event)
}

// Action describes what the engine did (or wants the embed to do) with an
// observed add.
type Action string

const (
	// ActionPassthrough: the product was added with no warranty involvement.
	ActionPassthrough Action = "passthrough"
	// ActionCombined: product and warranty were added together.
	ActionCombined Action = "combined"
	// ActionOfferPending: the add is held; the embed shows the offer modal
	// and resubmits with the shopper's answer.
	ActionOfferPending Action = "offer_pending"
	// ActionDuplicate: a second echo of an add already being handled;
	// nothing was done.
	ActionDuplicate Action = "duplicate"
)

// Decision is the outcome of one observed add.
type Decision struct {
	Action      Action        `json:"action"`
	Cart        *shopify.Cart `json:"cart,omitempty"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	Offer       *model.Offer  `json:"offer,omitempty"`
}

// Config holds engine tuning.
type Config struct {
	SettleAttempts int
	SettleInterval time.Duration
}

// Engine is the single subscriber that acts on observed add events. All
// interception paths converge here; the guard makes acting idempotent per
// shopper action.
type Engine struct {
	resolver *offer.Resolver
	selector VariantSelector
	events   EventPublisher
	guard    *bus.Guard
	bus      *bus.Bus
	cleaner  *reconcile.Cleaner
	debounce *reconcile.Debouncer
	cfg      Config
	logger   *slog.Logger
}

// New creates an engine and registers it on the bus.
func New(resolver *offer.Resolver, selector VariantSelector, events EventPublisher,
	guard *bus.Guard, b *bus.Bus, cleaner *reconcile.Cleaner,
	debounce *reconcile.Debouncer, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SettleAttempts == 0 {
		cfg.SettleAttempts = 10
	}
	if cfg.SettleInterval == 0 {
		cfg.SettleInterval = 500 * time.Millisecond
	}
	return &Engine{
		resolver: resolver,
		selector: selector,
		events:   events,
		guard:    guard,
		bus:      b,
		cleaner:  cleaner,
		debounce: debounce,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleAdd processes one observed add-to-cart action. Failure handling is
// fail-open throughout: any warranty-side failure degrades to a plain
// product add rather than blocking the purchase.
func (e *Engine) HandleAdd(ctx context.Context, st session.Store, cart CartAPI,
	product *model.ProductInfo, evt bus.Event) (*Decision, error) {

	e.bus.Publish(ctx, evt)

	tracker := offer.NewTracker(st)
	sel, hasSelection := tracker.Selection(product.Key())
	declined := tracker.Declined(product.Key())

	// Modal surface: hold the first untagged add until the shopper answers.
	// Declines and existing selections resolve the modal, as does the
	// resubmission after the modal closes.
	if !hasSelection && !declined && evt.Source != bus.SourceModalResume &&
		e.resolver.Placement() == model.PlacementOfferModal {
		if resolved, err := e.resolver.Resolve(ctx, product); err == nil &&
			resolved.Placement == model.PlacementOfferModal {
			return &Decision{Action: ActionOfferPending, Offer: resolved}, nil
		}
	}

	if !hasSelection {
		return e.plainAdd(ctx, cart, product, evt)
	}

	// One combined add per shopper action, whichever hook observed it first
	if !e.guard.Arm(evt.SessionToken) {
		e.logger.Debug("duplicate add suppressed",
			"session", evt.SessionToken, "source", evt.Source)
		return &Decision{Action: ActionDuplicate}, nil
	}

	variantID, err := e.selector.SelectVariant(ctx, pricing.SelectRequest{
		ProductID:    product.ID,
		ProductTitle: product.Title,
		Term:         sel.Term,
		Price:        sel.Price,
		CategoryTag:  product.CategoryTag,
		SessionToken: evt.SessionToken,
	})
	if err != nil {
		// The cart is untouched at this point; release so a retry can
		// attach the warranty, and let the product add go through alone.
		e.guard.Release(evt.SessionToken)
		e.logger.Warn("variant selection failed, adding product without warranty",
			"product", product.Key(), "error", err)
		return e.plainAdd(ctx, cart, product, evt)
	}

	quantity := evt.Quantity
	if quantity == 0 {
		quantity = 1
	}
	items := []shopify.AddItem{
		{ID: evt.VariantID, Quantity: quantity, Properties: evt.Properties},
		{ID: variantID, Quantity: 1,
			Properties: model.WarrantyProperties(sel.Term, sel.Price, evt.VariantID)},
	}

	if _, err := cart.AddItems(ctx, items); err != nil {
		e.guard.Release(evt.SessionToken)
		e.logger.Error("combined add failed, falling back to plain add",
			"product", product.Key(), "error", err)
		return e.plainAdd(ctx, cart, product, evt)
	}

	settled, err := e.awaitSettled(ctx, cart, variantID)
	if err != nil {
		// The add went through; an unsettled read is a warning, not a rollback
		e.logger.Warn("cart did not settle after combined add",
			"session", evt.SessionToken, "error", err)
	}

	e.events.PublishEvent(pricing.Event{
		Type:         "protection_added",
		SessionToken: evt.SessionToken,
		Payload: map[string]any{
			"product_id": product.ID,
			"term":       sel.Term,
			"price":      sel.Price,
			"source":     string(evt.Source),
		},
	})

	return &Decision{
		Action:      ActionCombined,
		Cart:        settled,
		RedirectURL: "/cart",
	}, nil
}

// plainAdd performs the product-only add the theme asked for.
func (e *Engine) plainAdd(ctx context.Context, cart CartAPI,
	product *model.ProductInfo, evt bus.Event) (*Decision, error) {

	quantity := evt.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if _, err := cart.AddItems(ctx, []shopify.AddItem{
		{ID: evt.VariantID, Quantity: quantity, Properties: evt.Properties},
	}); err != nil {
		return nil, err
	}
	current, err := cart.GetCart(ctx)
	if err != nil {
		// The add succeeded; report it even if the readback failed
		e.logger.Warn("cart readback failed after add", "error", err)
		return &Decision{Action: ActionPassthrough}, nil
	}
	return &Decision{Action: ActionPassthrough, Cart: current}, nil
}

// awaitSettled polls the cart until the warranty line is fully materialized:
// present, priced, and with a resolved title. Returns the settled cart.
func (e *Engine) awaitSettled(ctx context.Context, cart CartAPI, warrantyVariant int64) (*shopify.Cart, error) {
	var settled *shopify.Cart
	err := retry.Do(ctx, e.cfg.SettleAttempts, e.cfg.SettleInterval, func(ctx context.Context) (bool, error) {
		current, err := cart.GetCart(ctx)
		if err != nil {
			// Transient read failures burn an attempt but do not end the poll
			e.logger.Debug("cart read failed while settling", "error", err)
			return false, nil
		}
		for _, item := range current.Items {
			if item.VariantID == warrantyVariant &&
				item.FinalPrice > 0 && item.Title != "" {
				settled = current
				return true, nil
			}
		}
		settled = current
		return false, nil
	})
	if err != nil {
		return settled, model.ErrCartUnsettled
	}
	return settled, nil
}

// ReconcileRequested schedules a debounced orphan-cleanup pass for the
// shopper. The cart factory is called when the pass actually runs so it
// sees post-burst state.
func (e *Engine) ReconcileRequested(sessionKey string, makeCart func() CartAPI) {
	e.debounce.Trigger(sessionKey, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.cleaner.Clean(ctx, makeCart()); err != nil {
			e.logger.Warn("orphan cleanup failed", "session", sessionKey, "error", err)
		}
	})
}

// ReconcileNow runs an immediate cleanup pass and returns the removal count.
func (e *Engine) ReconcileNow(ctx context.Context, cart CartAPI) (int, error) {
	return e.cleaner.Clean(ctx, cart)
}
