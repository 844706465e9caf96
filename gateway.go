package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scrapegw/core/captcha"
	"github.com/scrapegw/core/internal/imap"
	"github.com/scrapegw/core/internal/tokenstore"
	"github.com/scrapegw/core/xtid"
)

// TokenValidator is the narrow interface the gateway consumes from the
// issued-token store spec.md §3/§6 treats as an external collaborator. The
// default implementation is internal/tokenstore.Store; an HTTP ingress
// wires its own.
type TokenValidator interface {
	Validate(value string) bool
	Touch(value string)
}

// Gateway is the process-wide facade wiring the Design Notes' "explicit
// dependencies" replacement for the source's global singletons: one Store,
// one Pool, one Authenticator, one Adapters set, injected at boot rather
// than reached for as package-level state.
type Gateway struct {
	Store   *Store
	Tokens  *tokenstore.Store
	Pool    *Pool
	Auth    *Authenticator
	Adapter *Adapters

	validator TokenValidator
	cfg       Config
}

// Open wires a complete Gateway from Config: durable stores, the shared
// transport, the xtid/captcha/imap collaborators, the warm pool, the
// rotating authenticator, and the endpoint adapters. It does not block on
// pool warm-up; call EnsureInitialized or rely on the background warm-up
// a process driver starts separately (spec.md §5, "launched eagerly at
// process start as a background task").
func Open(cfg Config) (*Gateway, error) {
	store, err := OpenStore(cfg.AccountsStatePath)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}
	tokens, err := tokenstore.Open(cfg.TokenDBPath)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	xtidMgr := xtid.NewManager()
	if err := xtidMgr.Initialize(); err != nil {
		slog.Warn("xtid: init failed, x-client-transaction-id will be missing", slog.Any("error", err))
	}

	transport, err := NewTransport(xtidMgr, cfg.ProxyURI, cfg.HTTPCallTimeout)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	guestAuth := NewGuestAuthenticator(transport)

	var captchaSolver captcha.Solver
	if cfg.CapsolverAPIKey != "" {
		captchaSolver = captcha.NewCapsolver(cfg.CapsolverAPIKey)
	}
	var imapFetcher imap.CodeFetcher
	if cfg.IMAPHost != "" {
		imapFetcher = imap.NewClient(cfg.IMAPHost)
	}

	loginDeps := LoginDeps{
		Transport:     transport,
		GuestAuth:     guestAuth,
		CaptchaSolver: captchaSolver,
		IMAPFetcher:   imapFetcher,
	}

	pool := NewPool(store, transport, loginDeps, cfg.PoolSize)
	auth := NewAuthenticator(pool, transport, cfg.RequestIdleTimeout)
	adapters := NewAdapters(auth)

	return &Gateway{
		Store:     store,
		Tokens:    tokens,
		Pool:      pool,
		Auth:      auth,
		Adapter:   adapters,
		validator: tokens,
		cfg:       cfg,
	}, nil
}

// Authorize checks a downstream bearer token against the TokenValidator
// boundary (spec.md §3/§6) and records its use. Returns false for missing
// or invalid tokens; an HTTP ingress maps that to a 401.
func (g *Gateway) Authorize(value string) bool {
	if value == "" || !g.validator.Validate(value) {
		return false
	}
	g.validator.Touch(value)
	return true
}

// EnsureInitialized is the idempotent, await-coalesced warm-up entry point
// spec.md §5 calls out ("ensure_initialized is idempotent and
// await-coalesced"). Safe to call concurrently from multiple downstream
// requests; they all await the same in-flight warm-up.
func (g *Gateway) EnsureInitialized(ctx context.Context) error {
	return g.Pool.Initialize(ctx)
}

// IsLoggedIn reports whether the warm pool currently has at least one
// active session, per spec.md §4.7.
func (g *Gateway) IsLoggedIn() bool {
	return g.Auth.IsLoggedIn()
}

// ImportAccounts parses newline-separated account records in the given
// format string and adds them to the durable store idempotently by
// username, per spec.md §6's bulk-import endpoint contract. Returns the
// count of newly added records.
func (g *Gateway) ImportAccounts(format, raw string) (int, error) {
	records, err := ParseAccountRecords(format, raw)
	if err != nil {
		return 0, err
	}
	return g.Store.Add(records)
}

// ForceRotation reinitializes the pool, the admin "force pool rotation"
// operation spec.md §6 names (POST /api/accounts/login). It does not wait
// for completion; replenishment runs in the background like any other
// pool initialization.
func (g *Gateway) ForceRotation() {
	go func() {
		if err := g.Pool.Initialize(context.Background()); err != nil {
			slog.Warn("gateway: forced rotation failed", slog.Any("error", err))
		}
	}()
}

// ResetFailedAccounts clears every account's failure/rate-limit
// bookkeeping and triggers a full re-initialization, per spec.md §4.6
// reset_failed().
func (g *Gateway) ResetFailedAccounts() error {
	return g.Pool.ResetFailed()
}

// DeleteAccount removes an account from the store and the active pool,
// per spec.md §4.6 delete(username).
func (g *Gateway) DeleteAccount(username string) error {
	return g.Pool.Delete(username)
}
