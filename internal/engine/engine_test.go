package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"flexgate/internal/bus"
	"flexgate/internal/model"
	"flexgate/internal/offer"
	"flexgate/internal/pricing"
	"flexgate/internal/reconcile"
	"flexgate/internal/session"
	"flexgate/internal/shopify"
)

// fakeCart is an in-memory cart with configurable settle behavior.
type fakeCart struct {
	items        []shopify.CartItem
	addCalls     int
	getCalls     int
	addErr       error
	failReads    int // GetCart calls that error before reads start succeeding
	settleAfter  int // GetCart calls before added lines get price and title
	pendingTitle map[int64]string
}

func (f *fakeCart) GetCart(ctx context.Context) (*shopify.Cart, error) {
	f.getCalls++
	if f.getCalls <= f.failReads {
		return nil, errors.New("storefront read failed")
	}
	items := make([]shopify.CartItem, len(f.items))
	copy(items, f.items)
	for i := range items {
		if f.getCalls > f.settleAfter {
			if items[i].Title == "" {
				items[i].Title = f.pendingTitle[items[i].VariantID]
			}
			if items[i].FinalPrice == 0 {
				items[i].FinalPrice = items[i].Price
			}
		} else {
			items[i].Title = ""
			items[i].FinalPrice = 0
		}
	}
	return &shopify.Cart{Items: items, ItemCount: len(items)}, nil
}

func (f *fakeCart) AddItems(ctx context.Context, add []shopify.AddItem) (*shopify.AddResponse, error) {
	f.addCalls++
	if f.addErr != nil {
		return nil, f.addErr
	}
	var resp shopify.AddResponse
	for _, a := range add {
		item := shopify.CartItem{
			Key:        "k",
			VariantID:  a.ID,
			Quantity:   a.Quantity,
			Price:      4999,
			Properties: shopify.Properties(a.Properties),
		}
		f.items = append(f.items, item)
		resp.Items = append(resp.Items, item)
	}
	return &resp, nil
}

func (f *fakeCart) ChangeLine(ctx context.Context, line, quantity int) (*shopify.Cart, error) {
	if quantity == 0 && line >= 1 && line <= len(f.items) {
		f.items = append(f.items[:line-1], f.items[line:]...)
	}
	return f.GetCart(ctx)
}

func (f *fakeCart) ChangeKey(ctx context.Context, key string, quantity int) (*shopify.Cart, error) {
	for i, item := range f.items {
		if item.Key == key && quantity == 0 {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return f.GetCart(ctx)
}

type fakeSelector struct {
	variantID int64
	err       error
	calls     int
}

func (f *fakeSelector) SelectVariant(ctx context.Context, req pricing.SelectRequest) (int64, error) {
	f.calls++
	return f.variantID, f.err
}

type fakeEvents struct {
	published []pricing.Event
}

func (f *fakeEvents) PublishEvent(evt pricing.Event) {
	f.published = append(f.published, evt)
}

type fakePricing struct{}

func (fakePricing) GetOptions(ctx context.Context, price int64, tag string) ([]model.PricingOption, error) {
	return []model.PricingOption{{Term: 2, Price: 4999}}, nil
}

func (fakePricing) GetFullOffer(ctx context.Context, price int64, tag string) (*pricing.FullOffer, error) {
	return &pricing.FullOffer{Options: []model.PricingOption{{Term: 2, Price: 4999}}}, nil
}

func testProduct() *model.ProductInfo {
	return &model.ProductInfo{
		ID: 123, Handle: "acme-tv", Title: "Acme TV",
		Price: 49999, Vendor: "Acme", CategoryTag: "TVs", VariantID: 111,
	}
}

func newTestEngine(selector *fakeSelector, events *fakeEvents, placement model.PlacementConfig) *Engine {
	resolver := offer.NewResolver(fakePricing{}, offer.ResolverConfig{
		WarrantyVendor: "Flex Protect",
		MinPriceCents:  1000,
		Placement:      placement,
	}, nil)
	return New(resolver, selector, events,
		bus.NewGuard(time.Minute), bus.New(), reconcile.NewCleaner(nil),
		reconcile.NewDebouncer(10*time.Millisecond),
		Config{SettleAttempts: 5, SettleInterval: time.Millisecond}, nil)
}

func addEvent(source bus.Source) bus.Event {
	return bus.Event{
		Source:       source,
		SessionToken: "session_abc_1",
		VariantID:    111,
		Quantity:     1,
	}
}

func TestHandleAddWithoutSelectionPassesThrough(t *testing.T) {
	selector := &fakeSelector{variantID: 900}
	e := newTestEngine(selector, &fakeEvents{}, model.PlacementConfig{ProductPage: true})
	cart := &fakeCart{}

	dec, err := e.HandleAdd(context.Background(), session.NewMemoryStore(), cart,
		testProduct(), addEvent(bus.SourceFormSubmit))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionPassthrough {
		t.Errorf("Action = %q, want passthrough", dec.Action)
	}
	if len(cart.items) != 1 || cart.items[0].VariantID != 111 {
		t.Errorf("cart = %v, want just the product line", cart.items)
	}
	if selector.calls != 0 {
		t.Error("variant selected without a plan choice")
	}
}

func TestHandleAddWithSelectionAddsCombined(t *testing.T) {
	selector := &fakeSelector{variantID: 900}
	events := &fakeEvents{}
	e := newTestEngine(selector, events, model.PlacementConfig{ProductPage: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Select("acme-tv", 2, 4999)
	cart := &fakeCart{pendingTitle: map[int64]string{111: "Acme TV", 900: "Protection Plan"}}

	dec, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFetch))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionCombined {
		t.Errorf("Action = %q, want combined", dec.Action)
	}
	if dec.RedirectURL != "/cart" {
		t.Errorf("RedirectURL = %q, want /cart", dec.RedirectURL)
	}
	if len(cart.items) != 2 {
		t.Fatalf("cart has %d lines, want 2", len(cart.items))
	}
	w := cart.items[1]
	if w.VariantID != 900 {
		t.Errorf("warranty variant = %d, want 900", w.VariantID)
	}
	if !model.IsWarrantyProps(w.Properties) {
		t.Errorf("warranty line missing marker: %v", w.Properties)
	}
	if model.ParentVariant(w.Properties) != 111 {
		t.Errorf("Parent = %v, want 111", w.Properties)
	}
	if len(events.published) != 1 || events.published[0].Type != "protection_added" {
		t.Errorf("events = %v, want one protection_added", events.published)
	}
	if events.published[0].Payload["product_id"] != int64(123) {
		t.Errorf("event payload = %v, want product_id 123", events.published[0].Payload)
	}
}

func TestHandleAddDuplicateSuppressed(t *testing.T) {
	selector := &fakeSelector{variantID: 900}
	e := newTestEngine(selector, &fakeEvents{}, model.PlacementConfig{ProductPage: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Select("acme-tv", 2, 4999)
	cart := &fakeCart{pendingTitle: map[int64]string{111: "Acme TV", 900: "Protection Plan"}}

	// Same shopper action echoing through two interception hooks
	if _, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceSubmitClick)); err != nil {
		t.Fatalf("first HandleAdd: %v", err)
	}
	dec, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFormSubmit))
	if err != nil {
		t.Fatalf("second HandleAdd: %v", err)
	}

	if dec.Action != ActionDuplicate {
		t.Errorf("Action = %q, want duplicate", dec.Action)
	}
	if cart.addCalls != 1 {
		t.Errorf("addCalls = %d, want exactly one mutation", cart.addCalls)
	}
	if selector.calls != 1 {
		t.Errorf("selector calls = %d, want 1", selector.calls)
	}
}

func TestHandleAddSelectorFailureFailsOpen(t *testing.T) {
	selector := &fakeSelector{err: errors.New("pricing down")}
	e := newTestEngine(selector, &fakeEvents{}, model.PlacementConfig{ProductPage: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Select("acme-tv", 2, 4999)
	cart := &fakeCart{}

	dec, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFetch))
	if err != nil {
		t.Fatalf("HandleAdd must fail open, got %v", err)
	}
	if dec.Action != ActionPassthrough {
		t.Errorf("Action = %q, want passthrough", dec.Action)
	}
	if len(cart.items) != 1 {
		t.Errorf("cart = %v, want only the product line", cart.items)
	}

	// Guard must be released so the next attempt can attach the warranty
	selector.err = nil
	selector.variantID = 900
	cart2 := &fakeCart{pendingTitle: map[int64]string{111: "Acme TV", 900: "Protection Plan"}}
	dec, err = e.HandleAdd(context.Background(), st, cart2, testProduct(), addEvent(bus.SourceFetch))
	if err != nil {
		t.Fatalf("retry HandleAdd: %v", err)
	}
	if dec.Action != ActionCombined {
		t.Errorf("retry Action = %q, want combined (guard not released)", dec.Action)
	}
}

func TestHandleAddCombinedFailureFallsBackToPlain(t *testing.T) {
	selector := &fakeSelector{variantID: 900}
	e := newTestEngine(selector, &fakeEvents{}, model.PlacementConfig{ProductPage: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Select("acme-tv", 2, 4999)
	cart := &fakeCart{addErr: errors.New("storefront 500")}

	_, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFetch))
	// Both the combined add and the plain fallback hit the same failing
	// endpoint; the error surfaces but two attempts were made
	if err == nil {
		t.Error("expected error when every add attempt fails")
	}
	if cart.addCalls != 2 {
		t.Errorf("addCalls = %d, want combined attempt plus plain fallback", cart.addCalls)
	}
}

func TestHandleAddModalDefers(t *testing.T) {
	e := newTestEngine(&fakeSelector{variantID: 900}, &fakeEvents{}, model.PlacementConfig{OfferModal: true})
	cart := &fakeCart{}

	dec, err := e.HandleAdd(context.Background(), session.NewMemoryStore(), cart,
		testProduct(), addEvent(bus.SourceFormSubmit))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionOfferPending {
		t.Errorf("Action = %q, want offer_pending", dec.Action)
	}
	if dec.Offer == nil || dec.Offer.Placement != model.PlacementOfferModal {
		t.Errorf("Offer = %+v, want modal offer payload", dec.Offer)
	}
	if cart.addCalls != 0 {
		t.Error("cart mutated while the offer was pending")
	}
}

func TestHandleAddModalResumeProceeds(t *testing.T) {
	e := newTestEngine(&fakeSelector{variantID: 900}, &fakeEvents{}, model.PlacementConfig{OfferModal: true})
	cart := &fakeCart{}

	dec, err := e.HandleAdd(context.Background(), session.NewMemoryStore(), cart,
		testProduct(), addEvent(bus.SourceModalResume))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionPassthrough {
		t.Errorf("Action = %q, want passthrough after modal decline path", dec.Action)
	}
	if cart.addCalls != 1 {
		t.Errorf("addCalls = %d, want 1", cart.addCalls)
	}
}

func TestHandleAddDeclinedSkipsModal(t *testing.T) {
	e := newTestEngine(&fakeSelector{variantID: 900}, &fakeEvents{}, model.PlacementConfig{OfferModal: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Decline("acme-tv")
	cart := &fakeCart{}

	dec, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFormSubmit))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionPassthrough {
		t.Errorf("Action = %q, want passthrough for declined product", dec.Action)
	}
}

func TestHandleAddWaitsForSettle(t *testing.T) {
	selector := &fakeSelector{variantID: 900}
	e := newTestEngine(selector, &fakeEvents{}, model.PlacementConfig{ProductPage: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Select("acme-tv", 2, 4999)
	// Lines stay priceless and untitled for the first two reads
	cart := &fakeCart{
		settleAfter:  2,
		pendingTitle: map[int64]string{111: "Acme TV", 900: "Protection Plan"},
	}

	dec, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFetch))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionCombined {
		t.Errorf("Action = %q, want combined", dec.Action)
	}
	if dec.Cart == nil {
		t.Fatal("decision carries no cart")
	}
	var warrantySettled bool
	for _, item := range dec.Cart.Items {
		if item.VariantID == 900 && item.FinalPrice > 0 && item.Title != "" {
			warrantySettled = true
		}
	}
	if !warrantySettled {
		t.Errorf("returned cart not settled: %+v", dec.Cart.Items)
	}
	if cart.getCalls < 3 {
		t.Errorf("getCalls = %d, want polling past the unsettled reads", cart.getCalls)
	}
}

func TestHandleAddSettleToleratesReadFailures(t *testing.T) {
	selector := &fakeSelector{variantID: 900}
	e := newTestEngine(selector, &fakeEvents{}, model.PlacementConfig{ProductPage: true})

	st := session.NewMemoryStore()
	offer.NewTracker(st).Select("acme-tv", 2, 4999)
	// First two cart reads fail; the poll must keep going
	cart := &fakeCart{
		failReads:    2,
		pendingTitle: map[int64]string{111: "Acme TV", 900: "Protection Plan"},
	}

	dec, err := e.HandleAdd(context.Background(), st, cart, testProduct(), addEvent(bus.SourceFetch))
	if err != nil {
		t.Fatalf("HandleAdd: %v", err)
	}
	if dec.Action != ActionCombined {
		t.Errorf("Action = %q, want combined", dec.Action)
	}
	if dec.Cart == nil {
		t.Fatal("decision carries no cart")
	}
	var warrantySettled bool
	for _, item := range dec.Cart.Items {
		if item.VariantID == 900 && item.FinalPrice > 0 && item.Title != "" {
			warrantySettled = true
		}
	}
	if !warrantySettled {
		t.Errorf("returned cart not settled: %+v", dec.Cart.Items)
	}
}

func TestReconcileNow(t *testing.T) {
	e := newTestEngine(&fakeSelector{}, &fakeEvents{}, model.PlacementConfig{ProductPage: true})
	cart := &fakeCart{
		settleAfter: 0,
		items: []shopify.CartItem{
			{Key: "w", VariantID: 900, Quantity: 1, Price: 4999, Title: "Protection Plan",
				Properties: shopify.Properties(model.WarrantyProperties(2, 4999, 111))},
		},
	}

	removed, err := e.ReconcileNow(context.Background(), cart)
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestReconcileRequestedDebounces(t *testing.T) {
	e := newTestEngine(&fakeSelector{}, &fakeEvents{}, model.PlacementConfig{ProductPage: true})

	cart := &fakeCart{}
	factoryCalls := 0
	for i := 0; i < 4; i++ {
		e.ReconcileRequested("sess-1", func() CartAPI {
			factoryCalls++
			return cart
		})
	}

	time.Sleep(100 * time.Millisecond)
	if factoryCalls != 1 {
		t.Errorf("factory called %d times, want 1 (burst must coalesce)", factoryCalls)
	}
}
