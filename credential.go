package gateway

import "time"

// tokenState is the last observed liveness of an account's session cookie.
type tokenState string

const (
	// TokenUnknown means the account has never been logged in.
	TokenUnknown tokenState = "unknown"
	// TokenWorking means the last login or probe succeeded.
	TokenWorking tokenState = "working"
	// TokenFailed means the account's session is known dead.
	TokenFailed tokenState = "failed"
)

// Credential is immutable after import: the raw fields needed to log an
// account into the upstream.
type Credential struct {
	Username        string
	Password        string
	Email           string
	EmailPassword   string
	AuthToken       string // pre-seeded session cookie, optional
	TwoFactorSecret string // base32 TOTP secret, optional
}

// AccountState is the mutable, persisted record for one account. It wraps a
// Credential plus the runtime bookkeeping the pool and authenticator need.
type AccountState struct {
	Credential

	TokenState       tokenState
	FailedLogin      bool
	LastUsed         *time.Time
	LastFailedAt     *time.Time
	RateLimitedUntil *time.Time
	AssignedProxy    string
}

// Clone returns a deep-enough copy for safe external use (Snapshot/List).
func (s AccountState) Clone() AccountState {
	out := s
	if s.LastUsed != nil {
		t := *s.LastUsed
		out.LastUsed = &t
	}
	if s.LastFailedAt != nil {
		t := *s.LastFailedAt
		out.LastFailedAt = &t
	}
	if s.RateLimitedUntil != nil {
		t := *s.RateLimitedUntil
		out.RateLimitedUntil = &t
	}
	return out
}

// newAccountState creates a fresh AccountState for a newly imported credential.
func newAccountState(c Credential) *AccountState {
	return &AccountState{
		Credential:  c,
		TokenState:  TokenUnknown,
		FailedLogin: false,
	}
}
