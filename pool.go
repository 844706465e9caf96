package gateway

import (
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// poolTargetSize is the default warm-pool target P.
const poolTargetSize = 5

// arkoseWaitOnFailure is the pause before trying the next warm-up candidate
// after a login failure whose error mentions Arkose, per spec.md §4.6 step 5.
const arkoseWaitOnFailure = 5 * time.Second

// Session is the in-memory handle bundling a logged-in account's cookie
// jar, tokens, and assigned proxy (spec.md's ActiveSession). Rate-limiting
// skips a Session but never destroys it; only mark_failed/delete do.
type Session struct {
	Username  string
	AuthToken string
	CT0       string
	Proxy     string
	UserAgent string

	client transportClient
}

// InstallHeaders sets bearer auth, the destination-scoped cookie header,
// CSRF token, and the upstream's active-user/language markers, grounded on
// the teacher's twitterHeaders pattern in headers.go (C5).
func (s *Session) InstallHeaders(headers map[string]string, destURL string) {
	for k, v := range sessionHeaders(s.AuthToken, s.CT0, s.UserAgent) {
		headers[k] = v
	}
	cookie := ""
	if u, err := url.Parse(destURL); err == nil {
		cookie = cookieHeaderForDomain(s.AuthToken, s.CT0, u.Hostname())
	}
	if cookie != "" {
		headers["cookie"] = cookie
	} else {
		delete(headers, "cookie")
	}
}

// cookieHeaderForDomain serializes the two cookies the upstream needs,
// scoped to api.twitter.com/x.com style hosts. The jar itself may carry
// more cookies (picked up from Set-Cookie responses); this helper only
// guarantees the two the login flow and GraphQL calls depend on.
func cookieHeaderForDomain(authToken, ct0, host string) string {
	if !strings.Contains(host, "twitter.com") && !strings.Contains(host, "x.com") {
		return ""
	}
	return "auth_token=" + authToken + "; ct0=" + ct0
}

// Pool is the warm account pool (C6), implemented directly against
// spec.md's contract rather than delegated to the teacher's generic
// go-stealth/pool.Pool[T] (see DESIGN.md).
type Pool struct {
	store     *Store
	transport *Transport
	loginDeps LoginDeps
	targetSize int

	mu      sync.Mutex
	active  []*Session
	nextIdx int

	ready    chan struct{}
	gateOpen bool

	initGroup singleflight.Group
}

// NewPool wires a pool against its durable store and login collaborators.
func NewPool(store *Store, transport *Transport, loginDeps LoginDeps, targetSize int) *Pool {
	if targetSize <= 0 {
		targetSize = poolTargetSize
	}
	p := &Pool{
		store:      store,
		transport:  transport,
		loginDeps:  loginDeps,
		targetSize: targetSize,
		ready:      make(chan struct{}),
	}
	return p
}

// Initialize runs (or awaits an in-flight) warm-up. Concurrent callers
// coalesce into at most one in-flight initialization via singleflight,
// matching spec.md's "late callers await the existing one".
func (p *Pool) Initialize(ctx context.Context) error {
	_, err, _ := p.initGroup.Do("initialize", func() (any, error) {
		return nil, p.warmUp(ctx)
	})
	return err
}

func (p *Pool) warmUp(ctx context.Context) error {
	if p.transport == nil {
		p.openGate()
		return nil
	}

	candidates := p.store.candidatesForWarmup()

	p.mu.Lock()
	haveActive := len(p.active)
	p.mu.Unlock()

	proxyList := parseProxyList(os.Getenv("PROXY_LIST"))
	proxyURI := os.Getenv("PROXY_URI")

	for _, cand := range candidates {
		if haveActive >= p.targetSize {
			break
		}
		if p.hasActive(cand.Username) {
			continue
		}

		proxy := cand.AssignedProxy
		if proxy == "" {
			proxy = assignProxy(proxyList, proxyURI)
			if proxy != "" {
				_ = p.store.Update(cand.Username, func(a *AccountState) { a.AssignedProxy = proxy })
			}
		}
		if err := p.transport.BindProxy(cand.Username, proxy); err != nil {
			slog.Warn("pool: bind proxy failed", slog.String("user", cand.Username), slog.Any("error", err))
		}
		client := p.transport.ClientFor(cand.Username)

		sess, err := p.loginAccount(ctx, cand, client, proxy)
		if err != nil {
			wait := time.Duration(0)
			if strings.Contains(err.Error(), "Arkose") {
				wait = arkoseWaitOnFailure
			}
			now := time.Now()
			_ = p.store.Update(cand.Username, func(a *AccountState) {
				a.FailedLogin = true
				a.TokenState = TokenFailed
				a.LastFailedAt = &now
			})
			slog.Warn("pool: warm-up login failed", slog.String("user", cand.Username), slog.Any("error", err))
			if wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
			continue
		}

		now := time.Now()
		_ = p.store.Update(cand.Username, func(a *AccountState) {
			a.AuthToken = sess.AuthToken
			a.TokenState = TokenWorking
			a.FailedLogin = false
			a.LastUsed = &now
		})

		p.mu.Lock()
		p.active = append(p.active, sess)
		haveActive = len(p.active)
		p.mu.Unlock()
	}

	p.openGate()
	return nil
}

func (p *Pool) loginAccount(ctx context.Context, cand *AccountState, client transportClient, proxy string) (*Session, error) {
	if cand.AuthToken != "" {
		ct0, err := runLoginWithToken(ctx, p.transport, client, cand.Credential)
		if err == nil {
			return &Session{Username: cand.Username, AuthToken: cand.AuthToken, CT0: ct0, Proxy: proxy, client: client}, nil
		}
		slog.Debug("pool: login_with_token failed, falling back to interactive login", slog.String("user", cand.Username), slog.Any("error", err))
	}

	authToken, ct0, err := runLoginFlow(ctx, p.loginDeps, client, cand.Credential)
	if err != nil {
		return nil, err
	}
	return &Session{Username: cand.Username, AuthToken: authToken, CT0: ct0, Proxy: proxy, client: client}, nil
}

func (p *Pool) hasActive(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.active {
		if s.Username == username {
			return true
		}
	}
	return false
}

// gate returns the current readiness channel under the pool mutex, so
// reopenGate's channel swap can never race with a concurrent Next read.
func (p *Pool) gate() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Pool) openGate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.gateOpen {
		p.gateOpen = true
		close(p.ready)
	}
}

// reopenGate makes the readiness gate reusable for the next replenishment,
// per spec.md's "the gate remains reusable" requirement.
func (p *Pool) reopenGate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gateOpen {
		p.ready = make(chan struct{})
		p.gateOpen = false
	}
}

// Next returns the next usable session via round-robin dispatch from a
// rotating start index, skipping rate-limited sessions and clearing
// expired rate-limits, per spec.md §4.6.
func (p *Pool) Next(ctx context.Context) (*Session, error) {
	select {
	case <-p.gate():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.active)
	if n == 0 {
		return nil, ErrPoolEmpty
	}

	for i := 0; i < n; i++ {
		idx := (p.nextIdx + i) % n
		sess := p.active[idx]

		rateLimited, ok := p.store.Get(sess.Username)
		if ok && rateLimited.RateLimitedUntil != nil {
			if time.Now().Before(*rateLimited.RateLimitedUntil) {
				continue
			}
			_ = p.store.Update(sess.Username, func(a *AccountState) { a.RateLimitedUntil = nil })
		}

		p.nextIdx = (idx + 1) % n
		now := time.Now()
		_ = p.store.Update(sess.Username, func(a *AccountState) { a.LastUsed = &now })
		return sess, nil
	}
	return nil, ErrPoolEmpty
}

// ActiveCount returns the number of sessions currently in the warm pool.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// MarkRateLimited sets or clears an account's rate_limited_until while
// retaining its session in the active set (spec.md §4.6).
func (p *Pool) MarkRateLimited(username string, until *time.Time) {
	_ = p.store.Update(username, func(a *AccountState) { a.RateLimitedUntil = until })
}

// MarkFailed drops an account from the active set and schedules async
// replenishment.
func (p *Pool) MarkFailed(username string) {
	now := time.Now()
	_ = p.store.Update(username, func(a *AccountState) {
		a.FailedLogin = true
		a.TokenState = TokenFailed
		a.LastFailedAt = &now
	})
	p.removeActive(username)
	p.replenishAsync()
}

// Delete removes an account from both the store and the active set, then
// schedules async replenishment.
func (p *Pool) Delete(username string) error {
	if _, err := p.store.Delete(username); err != nil {
		return err
	}
	p.removeActive(username)
	p.replenishAsync()
	return nil
}

// ResetFailed clears failure/rate-limit bookkeeping on every account,
// reassigns proxies if a list exists, and triggers full re-initialization.
func (p *Pool) ResetFailed() error {
	if err := p.store.ResetAllFailed(); err != nil {
		return err
	}
	if proxyList := parseProxyList(os.Getenv("PROXY_LIST")); len(proxyList) > 0 {
		for _, acc := range p.store.Snapshot() {
			proxy := assignProxy(proxyList, "")
			_ = p.store.Update(acc.Username, func(a *AccountState) { a.AssignedProxy = proxy })
		}
	}
	p.mu.Lock()
	p.active = nil
	p.nextIdx = 0
	p.mu.Unlock()
	p.reopenGate()
	p.replenishAsync()
	return nil
}

func (p *Pool) removeActive(username string) {
	p.mu.Lock()
	out := p.active[:0]
	for _, s := range p.active {
		if s.Username != username {
			out = append(out, s)
		}
	}
	p.active = out
	empty := len(p.active) == 0
	p.mu.Unlock()

	if empty {
		p.reopenGate()
	}
}

func (p *Pool) replenishAsync() {
	go func() {
		if err := p.Initialize(context.Background()); err != nil {
			slog.Warn("pool: replenishment failed", slog.Any("error", err))
		}
	}()
}

// parseProxyList splits a PROXY_LIST env value into newline-separated
// entries, skipping blanks and #-comments.
func parseProxyList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// assignProxy picks uniformly at random from list if non-empty, else falls
// back to the single PROXY_URI value.
func assignProxy(list []string, single string) string {
	if len(list) > 0 {
		return list[rand.Intn(len(list))]
	}
	return single
}
