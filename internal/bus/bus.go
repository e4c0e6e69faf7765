// Package bus funnels "add-to-cart observed" events from the several
// interception adapters (form submit, submit-control click, fetch, XHR,
// programmatic submit — each tagged by the embed on the forwarded request)
// into one internal stream. Business logic lives in a single subscriber;
// the adapters only construct events. De-duplication happens at the
// subscriber through Guard, so the same user action echoing through two
// mechanisms cannot add a warranty line twice.
package bus

import (
	"context"
	"sync"
	"time"
)

// Source identifies which interception mechanism observed the add.
type Source string

const (
	SourceFormSubmit   Source = "form_submit"
	SourceSubmitClick  Source = "submit_click"
	SourceFetch        Source = "fetch"
	SourceXHR          Source = "xhr"
	SourceProgrammatic Source = "programmatic"
	SourceModalResume  Source = "modal_resume"
)

// ParseSource maps the embed's source tag to a Source, defaulting to
// form_submit for untagged (oldest-revision) traffic.
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceSubmitClick, SourceFetch, SourceXHR, SourceProgrammatic, SourceModalResume:
		return Source(s)
	default:
		return SourceFormSubmit
	}
}

// Event is one observed native add-to-cart action.
type Event struct {
	Source       Source
	SessionToken string
	VariantID    int64
	Quantity     int
	Properties   map[string]string
	ObservedAt   time.Time
}

// Sink receives every published event. Sinks must not block; slow work
// belongs in a goroutine on the sink side.
type Sink func(ctx context.Context, evt Event)

// Bus fans observed events out to registered sinks. Publishing is
// synchronous and in registration order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Notify registers a sink for all future events.
func (b *Bus) Notify(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish delivers evt to every sink.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.ObservedAt.IsZero() {
		evt.ObservedAt = time.Now()
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink(ctx, evt)
	}
}

// === Idempotency guard ===

// Guard replaces the embed script's page-global "already added" flag. Once
// armed for a session, further arm attempts within the TTL fail, so the
// native add echoing through a second hook does not trigger another
// combined add. Entries expire after the TTL rather than being cleared
// explicitly, which keeps later genuine adds from wedging.
type Guard struct {
	mu    sync.Mutex
	ttl   time.Duration
	armed map[string]time.Time
	now   func() time.Time
}

// DefaultGuardTTL matches the embed's auto-clear window.
const DefaultGuardTTL = 3 * time.Second

// NewGuard creates a guard with the given TTL (DefaultGuardTTL when zero).
func NewGuard(ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &Guard{
		ttl:   ttl,
		armed: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Arm attempts to acquire the guard for key. Returns true when acquired,
// false when the key is already armed and unexpired (a duplicate).
func (g *Guard) Arm(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.armed[key]; ok && now.Sub(at) < g.ttl {
		return false
	}
	g.armed[key] = now

	// Lazy sweep of expired entries; the map only grows with active sessions
	for k, at := range g.armed {
		if now.Sub(at) >= g.ttl {
			delete(g.armed, k)
		}
	}
	return true
}

// Armed reports whether key currently holds the guard.
func (g *Guard) Armed(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.armed[key]
	return ok && g.now().Sub(at) < g.ttl
}

// Release clears the guard for key before the TTL elapses. Used when a
// combined add fails outright and the shopper should be able to retry
// immediately.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.armed, key)
}
