package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"
)

// Authenticator is the Rotating Authenticator (C7): it exposes the same
// fetch(request) -> response shape as the underlying transport but retries
// across the warm pool's sessions, classifying failures the way spec.md
// §4.7 prescribes. Grounded on the teacher's doGET/doPOST retry loop in
// request.go, retargeted at gateway.Pool instead of go-stealth/pool.
type Authenticator struct {
	pool        *Pool
	transport   *Transport
	idleTimeout time.Duration
}

// NewAuthenticator wires a rotating authenticator against a warm pool and
// its transport. idleTimeout bounds an entire Fetch call, including every
// rotation across sessions (spec.md §5, "configurable, default 255s");
// zero/negative falls back to requestIdleTimeoutDefault.
func NewAuthenticator(pool *Pool, transport *Transport, idleTimeout time.Duration) *Authenticator {
	if idleTimeout <= 0 {
		idleTimeout = requestIdleTimeoutDefault
	}
	return &Authenticator{pool: pool, transport: transport, idleTimeout: idleTimeout}
}

// IsLoggedIn reports whether the warm pool currently has at least one
// active session.
func (a *Authenticator) IsLoggedIn() bool {
	return a.pool.ActiveCount() >= 1
}

// Fetch issues one logical request, rotating across sessions on rate
// limits, auth failures, and transient upstream conditions until success
// or exhaustion. body is buffered so it can be replayed across retries.
func (a *Authenticator) Fetch(ctx context.Context, method, url string, headers map[string]string, body []byte) ([]byte, map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.idleTimeout)
	defer cancel()

	maxRetries := a.pool.ActiveCount()
	if maxRetries < 1 {
		maxRetries = 1
	}

	tried := make(map[string]bool)
	attempts := 0
	// consecutiveStale counts back-to-back Next() dispatches that landed on
	// an already-tried username (e.g. every other active session is
	// rate-limited and Next keeps round-robining back to the one session
	// still in rotation). Once a full revolution turns up no new username,
	// further spinning can't make progress, so bail instead of looping
	// forever.
	consecutiveStale := 0

	for attempts < maxRetries {
		sess, err := a.pool.Next(ctx)
		if err != nil {
			slog.Warn("authenticator: no session available", slog.String("url", url), slog.Any("error", err))
			break
		}
		if tried[sess.Username] {
			consecutiveStale++
			if consecutiveStale >= maxRetries {
				break
			}
			continue
		}
		consecutiveStale = 0
		tried[sess.Username] = true
		attempts++

		reqHeaders := make(map[string]string, len(headers)+8)
		for k, v := range headers {
			reqHeaders[k] = v
		}
		sess.InstallHeaders(reqHeaders, url)

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		respBody, respHeaders, status, err := a.transport.Do(ctx, sess.client, method, url, reqHeaders, reader)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// Downstream cancellation/deadline, not an account fault: don't
				// disqualify the session, just unwind (spec.md §5).
				return nil, nil, ctxErr
			}
			slog.Warn("authenticator: network error", slog.String("user", sess.Username), slog.Any("error", err))
			a.pool.MarkFailed(sess.Username)
			continue
		}

		switch {
		case status >= 200 && status < 300:
			class := classifyError(respBody, respHeaders)
			switch class {
			case errNone:
				return respBody, respHeaders, nil
			case errInternal:
				if hasResponseData(respBody) {
					slog.Debug("internal error code with usable data, treating as success", slog.String("url", url))
					return respBody, respHeaders, nil
				}
				slog.Warn("internal error code without data, retrying", slog.String("url", url))
				continue
			case errCSRF, errAuthExpired, errBanned, errSuspended, errLocked, errAccessDenied, errBlocked, errNotAuthorized:
				slog.Warn("authenticator: session rejected by upstream", slog.String("user", sess.Username), slog.Int("class", int(class)))
				a.pool.MarkFailed(sess.Username)
				continue
			default:
				return respBody, respHeaders, nil
			}

		case status == 429:
			reset := parseRateLimitReset(respHeaders["x-rate-limit-reset"])
			a.pool.MarkRateLimited(sess.Username, &reset)
			continue

		case status == 401 || status == 403:
			a.pool.MarkFailed(sess.Username)
			continue

		default:
			slog.Warn("authenticator: non-success response", slog.String("url", url), slog.Int("status", status), slog.String("body", truncateBytes(respBody, 300)))
			continue
		}
	}

	return nil, nil, &ExhaustedAccountsError{URL: url, Attempts: attempts}
}

// hasResponseData reports whether a JSON body contains a non-null "data"
// field, grounded on the teacher's hasResponseData in request.go.
func hasResponseData(body []byte) bool {
	var probe struct {
		Data any `json:"data"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Data != nil
}
