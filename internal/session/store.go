// Package session persists per-shopper state: the anonymous session token
// and per-product decline flags. It is the server-side analog of the embed
// script's local storage and makes no network calls.
package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenKey is the fixed key the session token is stored under.
const TokenKey = "flex_warranty_session"

// declinedPrefix namespaces per-product decline flags.
const declinedPrefix = "fp_declined:"

// Store is a small key-value persistence interface. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// === In-memory store ===

// MemoryStore keeps values in a map. Used in tests and as the cache layer
// of FileStore.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// === File-backed store ===

// FileStore persists the map as a JSON file, one file per shopper session
// scope. Writes go through a temp file rename so a crash never leaves a
// truncated state file.
type FileStore struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

// NewFileStore loads (or initializes) a store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, m: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session store: %w", err)
	}
	if err := json.Unmarshal(data, &s.m); err != nil {
		// Corrupt state is discarded, not fatal: the shopper just loses
		// decline flags and gets a fresh token.
		s.m = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return s.flushLocked()
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := json.Marshal(s.m)
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// === Session token ===

// tokenAlphabet matches the embed script's base36 random token body.
const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Token returns the shopper's session token, creating and persisting one on
// first use. Tokens are never rotated and never expire.
// Format: session_<9 base36 chars>_<unix millis>.
func Token(s Store) string {
	if tok, ok := s.Get(TokenKey); ok && tok != "" {
		return tok
	}
	tok := NewToken()
	s.Set(TokenKey, tok)
	return tok
}

// NewToken generates a fresh session token without persisting it.
func NewToken() string {
	body := make([]byte, 9)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range body {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure leaves a deterministic but still unique-enough
			// fallback; the token is an opaque correlation id, not a secret.
			body[i] = tokenAlphabet[(i*7+13)%len(tokenAlphabet)]
			continue
		}
		body[i] = tokenAlphabet[n.Int64()]
	}
	return fmt.Sprintf("session_%s_%d", body, time.Now().UnixMilli())
}

// === Decline flags ===

// DeclinedKey builds the per-product decline flag key.
func DeclinedKey(productKey string) string {
	return declinedPrefix + productKey
}

// IsDeclined reports whether the shopper has declined the offer for the
// product.
func IsDeclined(s Store, productKey string) bool {
	v, ok := s.Get(DeclinedKey(productKey))
	return ok && v == "true"
}

// SetDeclined persists the decline flag for the product.
func SetDeclined(s Store, productKey string) error {
	return s.Set(DeclinedKey(productKey), "true")
}

// ClearDeclined removes the decline flag for the product. A fresh plan
// selection always clears the flag.
func ClearDeclined(s Store, productKey string) error {
	return s.Delete(DeclinedKey(productKey))
}
