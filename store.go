package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the durable account-credential store (spec component C1). It
// persists a single JSON document atomically on every mutation, grounded on
// the teacher's saveSession/loadSession discipline in auth.go, generalized
// from one file per account to one document for the whole fleet.
type Store struct {
	path string

	mu       sync.Mutex
	accounts map[string]*AccountState
}

// OpenStore loads (or creates) the credential store backed by path.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, accounts: make(map[string]*AccountState)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open account store %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var list []*AccountState
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse account store %s: %w", path, err)
	}
	for _, a := range list {
		s.accounts[a.Username] = a
	}
	return s, nil
}

// persist rewrites the whole document atomically: write to a temp file in
// the same directory, then rename over the target. Must be called with mu held.
func (s *Store) persist() error {
	list := make([]*AccountState, 0, len(s.accounts))
	for _, a := range s.accounts {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal account store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp store file: %w", err)
	}
	return nil
}

// Add idempotently imports credentials by username; existing usernames are
// left untouched. Returns the number of newly added records.
func (s *Store) Add(records []Credential) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, c := range records {
		if _, exists := s.accounts[c.Username]; exists {
			continue
		}
		s.accounts[c.Username] = newAccountState(c)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.persist(); err != nil {
		return added, err
	}
	return added, nil
}

// Delete removes an account from the store. Returns false if it did not exist.
func (s *Store) Delete(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; !ok {
		return false, nil
	}
	delete(s.accounts, username)
	if err := s.persist(); err != nil {
		return true, err
	}
	return true, nil
}

// Snapshot returns a defensive-copy list of all account states.
func (s *Store) Snapshot() []AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AccountState, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Get returns a defensive copy of one account, or false if it does not exist.
func (s *Store) Get(username string) (AccountState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return AccountState{}, false
	}
	return a.Clone(), true
}

// Update loads the account, applies mutate under the store lock, and
// persists the result. mutate receives a pointer into the live map so
// field writes are visible immediately to the next Get/Snapshot.
func (s *Store) Update(username string, mutate func(*AccountState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return fmt.Errorf("update: unknown account %s", username)
	}
	mutate(a)
	return s.persist()
}

// ResetAllFailed clears failed_login/token_state/rate-limit/last_failed_at
// on every account (spec.md reset_failed()). Reset monotonicity: every
// account ends with failed_login=false, token_state=unknown.
func (s *Store) ResetAllFailed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		a.FailedLogin = false
		a.TokenState = TokenUnknown
		a.RateLimitedUntil = nil
		a.LastFailedAt = nil
	}
	return s.persist()
}

// candidatesForWarmup returns accounts eligible for warm-up, sorted
// ascending by LastUsed with nil (never used) sorted first.
func (s *Store) candidatesForWarmup() []*AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*AccountState
	for _, a := range s.accounts {
		if a.FailedLogin {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastUsed, out[j].LastUsed
		if li == nil && lj == nil {
			return out[i].Username < out[j].Username
		}
		if li == nil {
			return true
		}
		if lj == nil {
			return false
		}
		if li.Equal(*lj) {
			return out[i].Username < out[j].Username
		}
		return li.Before(*lj)
	})
	return out
}
