package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*Pool, *Store) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)
	p := NewPool(store, nil, LoginDeps{}, 3)
	return p, store
}

func seedActive(p *Pool, store *Store, usernames ...string) {
	for _, u := range usernames {
		_, _ = store.Add([]Credential{{Username: u}})
		p.active = append(p.active, &Session{Username: u})
	}
	p.openGate()
}

func TestPoolNext_RoundRobin(t *testing.T) {
	p, store := newTestPool(t)
	seedActive(p, store, "alice", "bob", "carol")

	ctx := context.Background()
	var order []string
	for i := 0; i < 6; i++ {
		sess, err := p.Next(ctx)
		require.NoError(t, err)
		order = append(order, sess.Username)
	}
	require.Equal(t, []string{"alice", "bob", "carol", "alice", "bob", "carol"}, order)
}

func TestPoolNext_SkipsRateLimited(t *testing.T) {
	p, store := newTestPool(t)
	seedActive(p, store, "alice", "bob")

	future := time.Now().Add(time.Hour)
	p.MarkRateLimited("alice", &future)

	sess, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bob", sess.Username)

	sess, err = p.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bob", sess.Username)
}

func TestPoolNext_ClearsExpiredRateLimit(t *testing.T) {
	p, store := newTestPool(t)
	seedActive(p, store, "alice")

	past := time.Now().Add(-time.Minute)
	p.MarkRateLimited("alice", &past)

	sess, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", sess.Username)

	acc, ok := store.Get("alice")
	require.True(t, ok)
	require.Nil(t, acc.RateLimitedUntil)
}

func TestPoolNext_AllRateLimitedReturnsPoolEmpty(t *testing.T) {
	p, store := newTestPool(t)
	seedActive(p, store, "alice", "bob")

	future := time.Now().Add(time.Hour)
	p.MarkRateLimited("alice", &future)
	p.MarkRateLimited("bob", &future)

	_, err := p.Next(context.Background())
	require.True(t, errors.Is(err, ErrPoolEmpty))
}

func TestPoolNext_EmptyPoolReturnsPoolEmpty(t *testing.T) {
	p, _ := newTestPool(t)
	p.openGate()

	_, err := p.Next(context.Background())
	require.True(t, errors.Is(err, ErrPoolEmpty))
}

func TestPoolNext_BlocksUntilReady(t *testing.T) {
	p, store := newTestPool(t)
	_, _ = store.Add([]Credential{{Username: "alice"}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolMarkFailed_RemovesFromActiveSet(t *testing.T) {
	p, store := newTestPool(t)
	seedActive(p, store, "alice", "bob")

	p.MarkFailed("alice")

	require.Equal(t, 1, p.ActiveCount())
	acc, ok := store.Get("alice")
	require.True(t, ok)
	require.True(t, acc.FailedLogin)
	require.Equal(t, TokenFailed, acc.TokenState)
}

func TestPoolResetFailed_ClearsBookkeeping(t *testing.T) {
	p, store := newTestPool(t)
	_, _ = store.Add([]Credential{{Username: "alice"}})
	now := time.Now()
	_ = store.Update("alice", func(a *AccountState) {
		a.FailedLogin = true
		a.TokenState = TokenFailed
		a.LastFailedAt = &now
	})

	require.NoError(t, p.ResetFailed())

	acc, ok := store.Get("alice")
	require.True(t, ok)
	require.False(t, acc.FailedLogin)
	require.Equal(t, TokenUnknown, acc.TokenState)
	require.Nil(t, acc.LastFailedAt)
}

func TestParseProxyList(t *testing.T) {
	raw := "proxy1.example:8080\n# a comment\n\nproxy2.example:8080"
	got := parseProxyList(raw)
	require.Equal(t, []string{"proxy1.example:8080", "proxy2.example:8080"}, got)
}

func TestParseProxyList_Empty(t *testing.T) {
	require.Nil(t, parseProxyList(""))
}
