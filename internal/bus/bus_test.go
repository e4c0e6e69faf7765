package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOutInOrder(t *testing.T) {
	b := New()
	var got []string
	b.Notify(func(ctx context.Context, evt Event) { got = append(got, "first") })
	b.Notify(func(ctx context.Context, evt Event) { got = append(got, "second") })

	b.Publish(context.Background(), Event{Source: SourceFetch, VariantID: 100})

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("sink order = %v, want [first second]", got)
	}
}

func TestPublishStampsObservedAt(t *testing.T) {
	b := New()
	var seen Event
	b.Notify(func(ctx context.Context, evt Event) { seen = evt })

	b.Publish(context.Background(), Event{Source: SourceXHR})

	if seen.ObservedAt.IsZero() {
		t.Error("ObservedAt not stamped on publish")
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in   string
		want Source
	}{
		{"fetch", SourceFetch},
		{"xhr", SourceXHR},
		{"submit_click", SourceSubmitClick},
		{"programmatic", SourceProgrammatic},
		{"modal_resume", SourceModalResume},
		{"", SourceFormSubmit},
		{"something-else", SourceFormSubmit},
	}
	for _, tt := range tests {
		if got := ParseSource(tt.in); got != tt.want {
			t.Errorf("ParseSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGuardDeduplicates(t *testing.T) {
	g := NewGuard(time.Minute)

	if !g.Arm("sess-1") {
		t.Fatal("first Arm failed")
	}
	// Same action echoing through a second hook
	if g.Arm("sess-1") {
		t.Error("duplicate Arm succeeded within TTL")
	}
	// Other sessions are independent
	if !g.Arm("sess-2") {
		t.Error("Arm for unrelated session failed")
	}
}

func TestGuardExpires(t *testing.T) {
	g := NewGuard(100 * time.Millisecond)
	current := time.Unix(1000, 0)
	g.now = func() time.Time { return current }

	if !g.Arm("sess-1") {
		t.Fatal("first Arm failed")
	}
	if !g.Armed("sess-1") {
		t.Error("guard not armed after Arm")
	}

	// Advance past the TTL: a later genuine add must not be wedged
	current = current.Add(150 * time.Millisecond)
	if g.Armed("sess-1") {
		t.Error("guard still armed after TTL")
	}
	if !g.Arm("sess-1") {
		t.Error("Arm failed after TTL expiry")
	}
}

func TestGuardRelease(t *testing.T) {
	g := NewGuard(time.Minute)
	g.Arm("sess-1")
	g.Release("sess-1")

	if g.Armed("sess-1") {
		t.Error("guard armed after Release")
	}
	if !g.Arm("sess-1") {
		t.Error("Arm failed after Release")
	}
}
