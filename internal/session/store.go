// Package session owns the client's workflow session: the durable thread
// identity, the streamed agent thoughts, and the state machine that sequences
// start, resume, and generate calls.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/logmapper/internal/mapping"
)

// appNamespace is the fixed root key the session state lives under.
const appNamespace = "logmapper"

// Namespace is the persisted session state. It is overwritten, not merged, on
// each new workflow start and cleared by an explicit reset or logout.
type Namespace struct {
	ThreadID       string        `json:"thread_id,omitempty"`
	ProductName    string        `json:"product_name,omitempty"`
	ProductLogName string        `json:"product_log_name,omitempty"`
	UDMEventType   string        `json:"udm_event_type,omitempty"`
	StartedAt      string        `json:"started_at,omitempty"`
	Rows           []mapping.Row `json:"rows,omitempty"`
	AccessToken    string        `json:"access_token,omitempty"`
	TokenType      string        `json:"token_type,omitempty"`
}

// Store is a file-backed key/value namespace. All writes are whole-namespace
// read-modify-write under a process-local lock; the state machine's
// single-outstanding-call discipline serializes cross-call access.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the namespace, returning an empty one when the file is missing.
func (s *Store) Load() (*Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Namespace, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Namespace{}, nil
		}
		return nil, fmt.Errorf("read session store: %w", err)
	}
	var root map[string]*Namespace
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse session store: %w", err)
	}
	ns := root[appNamespace]
	if ns == nil {
		ns = &Namespace{}
	}
	return ns, nil
}

func (s *Store) save(ns *Namespace) error {
	root := map[string]*Namespace{appNamespace: ns}
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}

// Update applies fn to the namespace under a read-modify-write cycle.
func (s *Store) Update(fn func(*Namespace)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.load()
	if err != nil {
		return err
	}
	fn(ns)
	return s.save(ns)
}

// Replace overwrites the namespace wholesale.
func (s *Store) Replace(ns Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(&ns)
}

// ThreadID returns the persisted thread identity, "" when none.
func (s *Store) ThreadID() (string, error) {
	ns, err := s.Load()
	if err != nil {
		return "", err
	}
	return ns.ThreadID, nil
}

// Clear removes all persisted session state.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session store: %w", err)
	}
	return nil
}
