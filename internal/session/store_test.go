package session

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTokenIdempotentCreate(t *testing.T) {
	s := NewMemoryStore()

	tok := Token(s)
	if !strings.HasPrefix(tok, "session_") {
		t.Errorf("Token() = %q, want session_ prefix", tok)
	}

	// Second call must return the persisted token, not mint a new one
	if again := Token(s); again != tok {
		t.Errorf("Token() second call = %q, want %q", again, tok)
	}
}

func TestNewTokenShape(t *testing.T) {
	tok := NewToken()
	parts := strings.Split(tok, "_")
	if len(parts) != 3 || parts[0] != "session" {
		t.Fatalf("NewToken() = %q, want session_<rand>_<millis>", tok)
	}
	if len(parts[1]) != 9 {
		t.Errorf("random body length = %d, want 9", len(parts[1]))
	}
}

func TestDeclineFlags(t *testing.T) {
	s := NewMemoryStore()

	if IsDeclined(s, "acme-tv") {
		t.Error("fresh store reports declined")
	}

	if err := SetDeclined(s, "acme-tv"); err != nil {
		t.Fatalf("SetDeclined: %v", err)
	}
	if !IsDeclined(s, "acme-tv") {
		t.Error("decline flag not persisted")
	}
	if IsDeclined(s, "other-product") {
		t.Error("decline flag leaked across products")
	}

	if err := ClearDeclined(s, "acme-tv"); err != nil {
		t.Fatalf("ClearDeclined: %v", err)
	}
	if IsDeclined(s, "acme-tv") {
		t.Error("decline flag survived clear")
	}
}

func TestDeclinedKey(t *testing.T) {
	if got := DeclinedKey("acme-tv"); got != "fp_declined:acme-tv" {
		t.Errorf("DeclinedKey = %q, want fp_declined:acme-tv", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	tok := Token(s)

	// Reopen and verify persistence
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reopen: %v", err)
	}
	if v, ok := reopened.Get("k"); !ok || v != "v" {
		t.Errorf("Get(k) = %q,%v after reopen", v, ok)
	}
	if Token(reopened) != tok {
		t.Error("session token not stable across reopen")
	}

	if err := reopened.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := reopened.Get("k"); ok {
		t.Error("key survived delete")
	}
}
