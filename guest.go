package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
)

// guestTokenTTL is how long an acquired guest token is trusted before a
// lazy refresh is forced.
const guestTokenTTL = 3 * time.Hour

// guestAcquireTimeout bounds one whole acquisition (every retry attempt and
// backoff wait included), per spec §5.
const guestAcquireTimeout = 10 * time.Second

// guestToken is the in-memory GuestToken record (spec.md §3); never persisted.
type guestToken struct {
	value      string
	acquiredAt time.Time
}

func (g guestToken) expired() bool {
	return g.value == "" || time.Since(g.acquiredAt) > guestTokenTTL
}

// GuestAuthenticator acquires and refreshes the anonymous guest token used
// for the login flow and unauthenticated reads, grounded on the teacher's
// getGuestToken/acquireGuestToken in auth.go.
type GuestAuthenticator struct {
	transport *Transport
	client    transportClient

	mu            sync.Mutex
	current       guestToken
	rateLimitedAt time.Time
}

// NewGuestAuthenticator wires a guest authenticator against the shared
// anonymous transport client.
func NewGuestAuthenticator(transport *Transport) *GuestAuthenticator {
	return &GuestAuthenticator{transport: transport, client: transport.shared}
}

// Acquire returns a usable guest token, refreshing it if absent, expired, or
// previously marked rate-limited.
func (g *GuestAuthenticator) Acquire(ctx context.Context) (string, error) {
	g.mu.Lock()
	usable := !g.current.expired() && time.Now().After(g.rateLimitedAt)
	tok := g.current.value
	g.mu.Unlock()
	if usable {
		return tok, nil
	}
	return g.refresh(ctx)
}

// MarkRateLimited records that the current guest token hit a 429 so the
// next Acquire forces a refresh.
func (g *GuestAuthenticator) MarkRateLimited(until time.Time) {
	g.mu.Lock()
	g.rateLimitedAt = until
	g.mu.Unlock()
}

// Invalidate drops the cached token, forcing reacquisition on next Acquire.
func (g *GuestAuthenticator) Invalidate() {
	g.mu.Lock()
	g.current = guestToken{}
	g.mu.Unlock()
}

// refresh fetches a fresh guest token with the teacher's 3-attempt
// exponential backoff, bounded by guestAcquireTimeout.
func (g *GuestAuthenticator) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, guestAcquireTimeout)
	defer cancel()

	backoff := stealth.BackoffConfig{
		InitialWait: 2 * time.Second,
		MaxWait:     60 * time.Second,
		Multiplier:  2.0,
		JitterPct:   0.3,
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff.Duration(attempt)):
			}
		}
		token, err := g.activate(ctx)
		if err == nil {
			g.mu.Lock()
			g.current = guestToken{value: token, acquiredAt: time.Now()}
			g.rateLimitedAt = time.Time{}
			g.mu.Unlock()
			return token, nil
		}
		lastErr = err
		slog.Warn("guest token acquisition failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return "", fmt.Errorf("acquire guest token after 3 attempts: %w", lastErr)
}

// activate POSTs the upstream's guest-activation endpoint with only the
// well-known bearer token, per spec §4.3.
func (g *GuestAuthenticator) activate(ctx context.Context) (string, error) {
	headers := map[string]string{
		"authorization": "Bearer " + BearerToken,
		"content-type":  "application/json",
		"user-agent":    defaultUserAgent,
	}
	body, _, status, err := g.transport.Do(ctx, g.client, "POST", twitterAPIURL+"/1.1/guest/activate.json", headers, nil)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", fmt.Errorf("guest token: HTTP %d", status)
	}
	var resp struct {
		GuestToken string `json:"guest_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadUpstream, err)
	}
	if resp.GuestToken == "" {
		return "", fmt.Errorf("empty guest token in response")
	}
	return resp.GuestToken, nil
}
