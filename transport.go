package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
)

// transportClient is the subset of *stealth.BrowserClient the gateway
// depends on, narrowed so tests can substitute a fake transport.
// ClearCookie mirrors GetCookieValue's (rawURL, name) shape to let the
// login flow scrub a specific cookie from the client's jar before a fresh
// onboarding attempt (spec.md §4.4).
type transportClient interface {
	DoWithHeaderOrder(method, urlStr string, headers map[string]string, body io.Reader, order []string) ([]byte, map[string]string, int, error)
	GetCookieValue(rawURL, name string) string
	ClearCookie(rawURL, name string)
}

// Transport wraps one *stealth.BrowserClient per session (proxy-bound) plus
// the shared guest/anonymous client, grounded on the teacher's
// clientForAccount/doRequest split in client.go. No implicit retry lives
// here; retry is the Rotating Authenticator's job (C7).
type Transport struct {
	shared      *stealth.BrowserClient
	xtid        TransactionIDProvider
	perUser     map[string]*stealth.BrowserClient
	callTimeout time.Duration
}

// TransactionIDProvider generates an opaque X-Client-Transaction-Id header
// value for a request. It is the swappable boundary for the xtid
// collaborator (Design Note: two incompatible upstream algorithms exist;
// this core only specifies the interface).
type TransactionIDProvider interface {
	GenerateID(method, path string) (string, error)
}

// NewTransport builds the shared anonymous client used for guest-token and
// unauthenticated requests. callTimeout bounds every individual outbound
// call Do makes (spec.md §5, "configurable, default 60s"); zero/negative
// falls back to httpCallTimeoutDefault.
func NewTransport(xtid TransactionIDProvider, proxy string, callTimeout time.Duration) (*Transport, error) {
	if callTimeout <= 0 {
		callTimeout = httpCallTimeoutDefault
	}
	opts := []stealth.ClientOption{stealth.WithHeaderOrder(upstreamHeaderOrder)}
	if proxy != "" {
		opts = append(opts, stealth.WithProxy(proxy))
	}
	bc, err := stealth.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("stealth client: %w", err)
	}
	return &Transport{shared: bc, xtid: xtid, perUser: make(map[string]*stealth.BrowserClient), callTimeout: callTimeout}, nil
}

// ClientFor returns the per-account proxied client if one has been bound,
// otherwise the shared client.
func (t *Transport) ClientFor(username string) transportClient {
	if bc, ok := t.perUser[username]; ok {
		return bc
	}
	return t.shared
}

// BindProxy creates and remembers a dedicated client for an account's
// sticky proxy assignment.
func (t *Transport) BindProxy(username, proxy string) error {
	if proxy == "" {
		return nil
	}
	bc, err := stealth.NewClient(
		stealth.WithProxy(proxy),
		stealth.WithHeaderOrder(upstreamHeaderOrder),
	)
	if err != nil {
		return fmt.Errorf("per-account client for %s: %w", username, err)
	}
	t.perUser[username] = bc
	return nil
}

// Do issues one HTTP call, attaching an X-Client-Transaction-Id header when
// the collaborator can produce one (tolerant of its errors, per spec), and
// bounding the call by t.callTimeout. *stealth.BrowserClient's
// DoWithHeaderOrder has no ctx parameter of its own (the teacher's
// doGET/doPOST in request.go only select on ctx.Done() around their sleeps,
// never around the underlying doRequest call), so Do races the blocking
// call against ctx in a goroutine the way the teacher never needed to.
func (t *Transport) Do(ctx context.Context, client transportClient, method, urlStr string, headers map[string]string, body io.Reader) ([]byte, map[string]string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	if t.xtid != nil {
		path := urlStr
		if u, err := url.Parse(urlStr); err == nil {
			path = u.Path
		}
		if txID, err := t.xtid.GenerateID(method, path); err == nil {
			headers["x-client-transaction-id"] = txID
		} else {
			slog.Debug("xtid: failed to generate transaction id", slog.Any("error", err))
		}
	}

	type result struct {
		body    []byte
		headers map[string]string
		status  int
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		b, h, s, err := client.DoWithHeaderOrder(method, urlStr, headers, body, upstreamHeaderOrder)
		resultCh <- result{body: b, headers: h, status: s, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.body, r.headers, r.status, r.err
	case <-ctx.Done():
		return nil, nil, 0, ctx.Err()
	}
}
