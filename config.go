package gateway

import (
	"os"
	"strconv"
	"time"
)

// defaultPoolSize is the default warm-pool target P when Config.PoolSize
// is unset.
const defaultPoolSize = poolTargetSize

// httpCallTimeoutDefault is the per-call HTTP transport timeout, per
// spec.md §5 ("configurable, default 60s").
const httpCallTimeoutDefault = 60 * time.Second

// requestIdleTimeoutDefault is the top-level request idle timeout, per
// spec.md §5 (255s).
const requestIdleTimeoutDefault = 255 * time.Second

// Config holds the environment-driven settings for one gateway instance,
// grounded on the teacher's ClientConfig/defaults() in config.go,
// generalized from a programmatic struct to the env-var names spec.md §6
// prescribes (this core is configured by the process environment, matching
// the source's deployment model).
type Config struct {
	// AccountsStatePath is ACCOUNTS_STATE_PATH: the credential store's JSON
	// document path.
	AccountsStatePath string
	// TokenDBPath is TOKEN_DB_PATH: the issued-token store's JSON document
	// path.
	TokenDBPath string
	// AdminPassword is ADMIN_PASSWORD, checked by the external admin-UI
	// collaborator; the core only carries it through for that collaborator
	// to read.
	AdminPassword string
	// ProxyURI is PROXY_URI: the single fallback proxy.
	ProxyURI string
	// ProxyList is the parsed, comment-stripped PROXY_LIST.
	ProxyList []string

	// PoolSize is the warm-pool target P.
	PoolSize int

	// HTTPCallTimeout bounds one outbound upstream HTTP call.
	HTTPCallTimeout time.Duration
	// RequestIdleTimeout bounds a whole downstream request end-to-end.
	RequestIdleTimeout time.Duration

	// IMAPHost is the address (host:port) of the IMAP server used to fetch
	// 2FA/email-verification codes, or "" to disable that collaborator.
	IMAPHost string
	// CapsolverAPIKey enables the Capsolver CAPTCHA-solving collaborator
	// when non-empty.
	CapsolverAPIKey string

	// TracingEndpoint and TracingAuth configure the external telemetry
	// emitter collaborator; the core only threads them through.
	TracingEndpoint string
	TracingAuth     string
}

// LoadConfig reads Config from the process environment, grounded on the
// teacher's defaults() pattern: zero/empty env values fall back to the
// documented defaults rather than erroring.
func LoadConfig() Config {
	cfg := Config{
		AccountsStatePath: os.Getenv("ACCOUNTS_STATE_PATH"),
		TokenDBPath:       os.Getenv("TOKEN_DB_PATH"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		ProxyURI:          os.Getenv("PROXY_URI"),
		ProxyList:         parseProxyList(os.Getenv("PROXY_LIST")),
		IMAPHost:          os.Getenv("IMAP_HOST"),
		CapsolverAPIKey:   os.Getenv("CAPSOLVER_API_KEY"),
		TracingEndpoint:   os.Getenv("TRACING_ENDPOINT"),
		TracingAuth:       os.Getenv("TRACING_AUTH"),
	}
	cfg.defaults()
	return cfg
}

// defaults fills in zero-value config fields with sensible defaults,
// mirroring the teacher's ClientConfig.defaults().
func (cfg *Config) defaults() {
	if cfg.AccountsStatePath == "" {
		cfg.AccountsStatePath = "./data/accounts.json"
	}
	if cfg.TokenDBPath == "" {
		cfg.TokenDBPath = "./data/tokens.json"
	}
	if cfg.PoolSize <= 0 {
		if n, err := strconv.Atoi(os.Getenv("POOL_SIZE")); err == nil && n > 0 {
			cfg.PoolSize = n
		} else {
			cfg.PoolSize = defaultPoolSize
		}
	}
	if cfg.HTTPCallTimeout <= 0 {
		cfg.HTTPCallTimeout = httpCallTimeoutDefault
	}
	if cfg.RequestIdleTimeout <= 0 {
		cfg.RequestIdleTimeout = requestIdleTimeoutDefault
	}
}
