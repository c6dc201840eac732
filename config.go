package resilientcall

import "time"

// Config holds the client-wide defaults for the resilient call layer.
// Per-call CallOptions override the retry/cache fields.
type Config struct {
	// TimeoutMs bounds each individual network attempt. Default 30000.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	// MaxRetries is the number of retries after the initial attempt.
	// Default 3; negative disables retries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// BaseRetryDelayMs seeds the exponential backoff. Default 1000.
	BaseRetryDelayMs int `json:"base_retry_delay_ms,omitempty" yaml:"base_retry_delay_ms,omitempty"`
	// MaxRetryDelayMs caps the backoff before jitter. Default 10000.
	MaxRetryDelayMs int `json:"max_retry_delay_ms,omitempty" yaml:"max_retry_delay_ms,omitempty"`

	// RetryStatuses overrides the set of HTTP statuses that are retried.
	// Empty means the default policy: 429 and any 5xx.
	RetryStatuses []int `json:"retry_statuses,omitempty" yaml:"retry_statuses,omitempty"`
	// RetryAllStatuses retries every non-2xx status regardless of
	// RetryStatuses.
	RetryAllStatuses bool `json:"retry_all_statuses,omitempty" yaml:"retry_all_statuses,omitempty"`

	// UserAgent is sent on every outbound request. Default "resilientcall".
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	// Cache configures the TTL response cache.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
	// Breaker configures the per-origin circuit breakers.
	Breaker BreakerConfig `json:"breaker,omitempty" yaml:"breaker,omitempty"`
	// Auth optionally configures OAuth2 client-credentials authentication
	// for outbound calls.
	Auth *AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// CacheConfig configures the TTL response cache.
type CacheConfig struct {
	// DefaultTTLMs is the TTL applied when a call does not override it.
	// Default 300000 (5 minutes).
	DefaultTTLMs int `json:"default_ttl_ms,omitempty" yaml:"default_ttl_ms,omitempty"`
	// MaxEntries bounds the cache; 0 means unbounded. When set, the least
	// recently used entry is evicted on overflow.
	MaxEntries int `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
}

// BreakerConfig configures the per-origin circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a closed
	// circuit. Default 5.
	FailureThreshold int `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	// SuccessThreshold is the probe-success count that closes a half-open
	// circuit. Default 1.
	SuccessThreshold int `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	// ResetTimeoutMs is how long an open circuit waits before admitting
	// recovery probes. Default 30000.
	ResetTimeoutMs int `json:"reset_timeout_ms,omitempty" yaml:"reset_timeout_ms,omitempty"`
	// HalfOpenProbes bounds concurrent recovery probes. Default 1.
	HalfOpenProbes int `json:"half_open_probes,omitempty" yaml:"half_open_probes,omitempty"`
}

// AuthConfig configures OAuth2 client-credentials token acquisition. When
// set, every outbound call carries a bearer token from the token source.
type AuthConfig struct {
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Documented defaults, applied by withDefaults.
const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultBaseRetryDelay = time.Second
	defaultMaxRetryDelay  = 10 * time.Second
	defaultCacheTTL       = 5 * time.Minute
	defaultUserAgent      = "resilientcall"
)

func (c Config) withDefaults() Config {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = int(defaultTimeout / time.Millisecond)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseRetryDelayMs <= 0 {
		c.BaseRetryDelayMs = int(defaultBaseRetryDelay / time.Millisecond)
	}
	if c.MaxRetryDelayMs <= 0 {
		c.MaxRetryDelayMs = int(defaultMaxRetryDelay / time.Millisecond)
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Cache.DefaultTTLMs <= 0 {
		c.Cache.DefaultTTLMs = int(defaultCacheTTL / time.Millisecond)
	}
	return c
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
