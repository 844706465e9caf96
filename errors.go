package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// errorClass categorizes an upstream error response for targeted handling.
// These are an enrichment layered under the primary 2xx/429/401/403 table:
// a 200 body carrying one of these codes is treated as the corresponding
// 401/403-equivalent condition, except errInternal, which is retried on
// another session without marking the account (or returned as success when
// the body still carries data).
type errorClass int

const (
	errNone          errorClass = iota
	errBanned                   // 88 — rate limit abuse
	errSuspended                // 64 — account suspended
	errLocked                   // 326 — account locked (captcha needed)
	errCSRF                     // 353 — csrf token mismatch
	errAuthExpired              // 32 — could not authenticate
	errBlocked                  // 161 — blocked from performing action
	errNotAuthorized            // 179, 219 — not authorized
	errInternal                 // 131 — upstream internal error
	errAccessDenied              // literal access-control-denied message
)

const accessControlDeniedText = "Authorization: Denied by access control"

// classifyError inspects a response body for known upstream error codes, and
// separately for the single recognized access-control-denied message text
// (Design Note: other errors[] contents are not treated as account failures).
func classifyError(body []byte, _ map[string]string) errorClass {
	var errResp struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &errResp) != nil || len(errResp.Errors) == 0 {
		return errNone
	}

	for _, e := range errResp.Errors {
		if strings.Contains(e.Message, accessControlDeniedText) {
			return errAccessDenied
		}
		switch e.Code {
		case 88:
			return errBanned
		case 64:
			return errSuspended
		case 326:
			return errLocked
		case 353:
			return errCSRF
		case 32:
			return errAuthExpired
		case 161:
			return errBlocked
		case 179, 219:
			return errNotAuthorized
		case 131:
			return errInternal
		}
	}
	return errNone
}

// parseRateLimitReset parses the x-rate-limit-reset unix timestamp header.
// Falls back to 5 minutes from now if missing or invalid, per spec.
func parseRateLimitReset(v string) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(ts, 0)
	}
	return time.Now().Add(5 * time.Minute)
}
