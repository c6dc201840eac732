package resilientcall

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseMode selects how a response body is decoded into Result.Payload.
type ParseMode string

const (
	// ParseRaw leaves the payload as []byte.
	ParseRaw ParseMode = "raw"
	// ParseText decodes the payload as a string.
	ParseText ParseMode = "text"
	// ParseJSON decodes the payload as JSON into any. A decode failure is a
	// PARSE_ERROR.
	ParseJSON ParseMode = "json"
)

// Request describes one outbound call.
type Request struct {
	// URL is the absolute target URL.
	URL string
	// Method defaults to GET.
	Method string
	// Headers are merged over the client defaults (Accept: application/json
	// and the configured User-Agent).
	Headers map[string]string
	// Body is the request body: []byte and string are sent as-is, anything
	// else is JSON-encoded.
	Body any
	// Schema, when set together with ParseJSON, validates the decoded payload.
	// A violation is classified as PARSE_ERROR.
	Schema *jsonschema.Schema
	// Options override the client defaults for this call. Nil uses defaults.
	Options *CallOptions
}

// CallOptions are the per-call knobs. Zero values fall back to the client
// Config; pointer fields distinguish "unset" from "off".
type CallOptions struct {
	// Timeout bounds each individual attempt, not the whole call.
	Timeout time.Duration
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means "use the client default"; negative disables retries.
	MaxRetries int
	// BaseRetryDelay seeds the exponential backoff.
	BaseRetryDelay time.Duration
	// MaxRetryDelay caps the backoff before jitter.
	MaxRetryDelay time.Duration
	// UseCache serves idempotent calls from the TTL cache and stores their
	// responses on success.
	UseCache bool
	// CacheTTL overrides the cache default TTL for this call.
	CacheTTL time.Duration
	// BypassCircuitBreaker skips the breaker check (the outcome is still
	// recorded).
	BypassCircuitBreaker bool
	// ParseMode defaults to ParseRaw.
	ParseMode ParseMode
}

// Result is the success outcome of a call.
type Result struct {
	// Payload is the decoded response body, per ParseMode.
	Payload any `json:"payload"`
	// Status is the HTTP status code (0 for cache hits).
	Status int `json:"status,omitempty"`
	// Header holds the response headers (nil for cache hits).
	Header http.Header `json:"-"`
	// FromCache is true when the call was served from the TTL cache with no
	// network involvement.
	FromCache bool `json:"served_from_cache"`
	// Attempts is the number of network attempts used (0 for cache hits).
	Attempts int `json:"attempts_used"`
	// CircuitState is the origin's breaker state after the call.
	CircuitState string `json:"circuit_state"`
}

// normalizedMethod returns the request method, defaulting to GET.
func (r Request) normalizedMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// idempotent reports whether the method is safe to serve from cache.
func (r Request) idempotent() bool {
	switch r.normalizedMethod() {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Fingerprint derives the deterministic cache key: method + URL with query
// parameters in sorted order, hashed so keys stay bounded. It is exported so
// operational tooling can invalidate specific entries.
func (r Request) Fingerprint() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parsing request URL: %w", err)
	}

	params := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.normalizedMethod())
	b.WriteByte('\n')
	b.WriteString(u.Scheme + "://" + u.Host + u.EscapedPath())
	for _, k := range keys {
		vals := params[k]
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteByte('\n')
			b.WriteString(k + "=" + v)
		}
	}

	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:]), nil
}

// origin extracts the scheme+host(+port) circuit-breaker key. Default ports
// are elided and the host is lowercased.
func (r Request) origin() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parsing request URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("request URL must be absolute: %q", r.URL)
	}

	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return u.Scheme + "://" + host, nil
}
