package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
)

// Manager hands out one Store per shopper. With a directory configured,
// stores are file-backed and survive restarts; otherwise they live in
// memory for the process lifetime.
type Manager struct {
	dir string

	mu     sync.Mutex
	stores map[string]Store
}

// NewManager creates a manager. dir may be empty for in-memory stores.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, stores: make(map[string]Store)}
}

// sessionIDPattern constrains ids to what NewSessionID generates. Anything
// else is rejected before it can become a file path component.
var sessionIDPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// NewSessionID mints a fresh opaque shopper id for the session cookie.
func NewSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ValidSessionID reports whether id is a well-formed session id.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// For returns the store for the shopper id, creating it on first use.
func (m *Manager) For(id string) (Store, error) {
	if !ValidSessionID(id) {
		return nil, fmt.Errorf("malformed session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[id]; ok {
		return s, nil
	}

	var s Store
	if m.dir == "" {
		s = NewMemoryStore()
	} else {
		fs, err := NewFileStore(filepath.Join(m.dir, id+".json"))
		if err != nil {
			return nil, err
		}
		s = fs
	}
	m.stores[id] = s
	return s, nil
}
