// Package tokenstore is the default JSON-backed implementation of the
// issued-token store spec.md §3/§6 treats as an external collaborator: the
// core only consumes a validate(value)->bool / touch(value) interface.
package tokenstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IssuedToken is an opaque bearer string this gateway hands to downstream
// clients, per spec.md §3.
type IssuedToken struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// Store persists issued tokens atomically to a single JSON document,
// grounded on the same store.go temp-file+rename discipline used for
// account credentials (C1).
type Store struct {
	path string

	mu     sync.Mutex
	tokens map[string]*IssuedToken // keyed by value
}

// Open loads (or creates) the token store backed by path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, tokens: make(map[string]*IssuedToken)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open token store %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var list []*IssuedToken
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse token store %s: %w", path, err)
	}
	for _, t := range list {
		s.tokens[t.Value] = t
	}
	return s, nil
}

func (s *Store) persist() error {
	list := make([]*IssuedToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token store dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Issue mints a new opaque 32-char random token under the given name.
func (s *Store) Issue(name string) (*IssuedToken, error) {
	value, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("generate token value: %w", err)
	}
	t := &IssuedToken{
		ID:        uuid.NewString(),
		Name:      name,
		Value:     value,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.tokens[t.Value] = t
	err = s.persist()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Validate reports whether value names a currently issued token.
func (s *Store) Validate(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[value]
	return ok
}

// Touch records that value was just used, persisting the new LastUsed.
func (s *Store) Touch(value string) {
	s.mu.Lock()
	t, ok := s.tokens[value]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.LastUsed = time.Now()
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		_ = err // best-effort; a missed touch is not fatal to request handling
	}
}

// Revoke removes a token by value.
func (s *Store) Revoke(value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[value]; !ok {
		return false, nil
	}
	delete(s.tokens, value)
	return true, s.persist()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
