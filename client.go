// Package resilientcall wraps outbound HTTP calls with a TTL response cache,
// per-origin circuit breakers, bounded retries with exponential backoff and
// jitter, per-attempt timeouts, and structured error classification.
//
// The Client type is the main entry point: create one with New and issue
// calls with Do. Every failure surfaces as a *CallError carrying one of the
// seven ErrorKind values — callers never see a raw transport error, and a
// single bad origin cannot destabilize the caller's control flow.
//
// Cache and circuit-breaker instances are owned by the Client; construct one
// per process and share it. Nothing in this package uses process-global
// mutable state.
package resilientcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wbigno/resilientcall/internal/cache"
	"github.com/wbigno/resilientcall/internal/circuitbreaker"
	"github.com/wbigno/resilientcall/internal/logging"
	"github.com/wbigno/resilientcall/internal/metrics"
)

// EventHookFunc is called asynchronously after each completed or failed call.
// Hooks receive the call context (for trace IDs), an event subject, and a
// data map describing the outcome.
type EventHookFunc func(ctx context.Context, subject string, data map[string]any)

// Event subject constants used when invoking hooks.
const (
	SubjectCallCompleted = "call.completed"
	SubjectCallFailed    = "call.failed"
)

// Client is the resilient call orchestrator. It owns the response cache and
// the per-origin circuit breakers; callers share one Client per process.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	httpClient *http.Client
	cache      cache.Cache
	breakers   *circuitbreaker.Registry
	hooks      []EventHookFunc
}

// New creates a Client from cfg. Zero-valued fields take documented defaults;
// an invalid config is rejected.
func New(cfg Config) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.withDefaults()

	httpClient := &http.Client{}
	if cfg.Auth != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		httpClient = cc.Client(context.Background())
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      cache.NewMemory(cfg.Cache.MaxEntries, ms(cfg.Cache.DefaultTTLMs)),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Settings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			ResetTimeout:     ms(cfg.Breaker.ResetTimeoutMs),
			HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
		}),
	}, nil
}

// AddHook registers an EventHookFunc invoked asynchronously on each completed
// or failed call. Multiple hooks may be registered; all are invoked for every
// event.
func (c *Client) AddHook(fn EventHookFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// GetConfig returns a copy of the current configuration.
func (c *Client) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// ReloadConfig validates and applies a new configuration. The cache and all
// circuit breakers are rebuilt, so previously tracked origins start closed.
func (c *Client) ReloadConfig(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.withDefaults()

	httpClient := &http.Client{}
	if cfg.Auth != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		httpClient = cc.Client(context.Background())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.httpClient = httpClient
	c.cache = cache.NewMemory(cfg.Cache.MaxEntries, ms(cfg.Cache.DefaultTTLMs))
	c.breakers = circuitbreaker.NewRegistry(circuitbreaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     ms(cfg.Breaker.ResetTimeoutMs),
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
	})
	return nil
}

// Do performs one resilient call. On success the error is nil; on failure the
// error is always a *CallError and the Result is nil.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	origin, err := req.origin()
	if err != nil {
		return nil, newCallError(KindUnknown, "invalid request URL", map[string]any{"url": req.URL}, err)
	}

	opts := c.resolveOptions(req.Options)

	c.mu.RLock()
	store := c.cache
	breakers := c.breakers
	c.mu.RUnlock()

	// Step 1: cache lookup. A hit short-circuits everything — no circuit or
	// network involvement.
	cacheable := opts.UseCache && req.idempotent()
	var key string
	if cacheable {
		key, err = req.Fingerprint()
		if err != nil {
			cacheable = false
		} else if payload, ok := store.Get(key); ok {
			metrics.CacheHits.Inc()
			metrics.CallsTotal.WithLabelValues(origin, "cached").Inc()
			log.Debug("call served from cache", "origin", origin, "url", req.URL)

			res := &Result{
				Payload:      payload,
				FromCache:    true,
				CircuitState: breakers.State(origin).String(),
			}
			c.publishEvent(ctx, SubjectCallCompleted, c.eventData(ctx, req, origin, res, nil, start))
			return res, nil
		}
		metrics.CacheMisses.Inc()
	}

	// Step 2: circuit admission. An open circuit fails fast — no attempt,
	// no retry.
	if !opts.BypassCircuitBreaker && !breakers.Allow(origin) {
		snap := breakers.Snapshot(origin)
		metrics.CircuitBreakerState.WithLabelValues(origin).Set(float64(snap.State))
		metrics.CallErrors.WithLabelValues(origin, string(KindCircuitOpen)).Inc()
		metrics.CallsTotal.WithLabelValues(origin, "error").Inc()

		details := map[string]any{
			"circuitKey": origin,
			"state":      snap.State.String(),
		}
		if !snap.WillRetryAt.IsZero() {
			details["willRetryAt"] = snap.WillRetryAt.UTC().Format(time.RFC3339)
		}
		cerr := newCallError(KindCircuitOpen, "circuit breaker rejected call to "+origin, details, circuitbreaker.ErrCircuitOpen)

		log.Warn("call rejected by circuit breaker", "origin", origin, "state", snap.State.String())
		c.publishEvent(ctx, SubjectCallFailed, c.eventData(ctx, req, origin, nil, cerr, start))
		return nil, cerr
	}

	// Step 3: retry loop, attempt index 0..maxRetries inclusive.
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr *CallError
	attempts := 0
loop:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt-1, opts.BaseRetryDelay, opts.MaxRetryDelay)
			select {
			case <-ctx.Done():
				lastErr = newCallError(KindAborted, "call cancelled during backoff", nil, ctx.Err())
				break loop
			case <-time.After(delay):
			}
			metrics.RetriesTotal.WithLabelValues(origin).Inc()
			log.Info("retrying call", "origin", origin, "attempt", attempt+1, "backoff_ms", delay.Milliseconds())
		}

		attempts++
		payload, status, header, cerr := c.attempt(ctx, req, opts)
		if cerr == nil {
			breakers.RecordSuccess(origin)
			state := breakers.State(origin)
			metrics.CircuitBreakerState.WithLabelValues(origin).Set(float64(state))
			metrics.CallsTotal.WithLabelValues(origin, "success").Inc()
			metrics.CallDuration.WithLabelValues(origin).Observe(time.Since(start).Seconds())

			if cacheable {
				store.Set(key, payload, opts.CacheTTL)
			}

			res := &Result{
				Payload:      payload,
				Status:       status,
				Header:       header,
				Attempts:     attempts,
				CircuitState: state.String(),
			}

			log.Info("call completed",
				"origin", origin,
				"method", req.normalizedMethod(),
				"status", status,
				"attempts", attempts,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			c.publishEvent(ctx, SubjectCallCompleted, c.eventData(ctx, req, origin, res, nil, start))
			return res, nil
		}

		// Caller cancellation says nothing about the origin's health, so it
		// does not count against the circuit.
		if cerr.Kind != KindAborted {
			breakers.RecordFailure(origin)
			metrics.CircuitBreakerState.WithLabelValues(origin).Set(float64(breakers.State(origin)))
		}
		lastErr = cerr

		if !cerr.Retryable() || !c.statusRetryable(cerr) {
			break loop
		}
	}

	// An abandoned half-open probe must hand its slot back; otherwise the
	// circuit would stay at probe capacity and reject every later call.
	if lastErr.Kind == KindAborted && !opts.BypassCircuitBreaker {
		breakers.ReleaseProbe(origin)
	}

	metrics.CallErrors.WithLabelValues(origin, string(lastErr.Kind)).Inc()
	metrics.CallsTotal.WithLabelValues(origin, "error").Inc()
	metrics.CallDuration.WithLabelValues(origin).Observe(time.Since(start).Seconds())

	log.Error("call failed",
		"origin", origin,
		"method", req.normalizedMethod(),
		"kind", string(lastErr.Kind),
		"attempts", attempts,
		"latency_ms", time.Since(start).Milliseconds(),
		"error", lastErr.Message,
	)
	c.publishEvent(ctx, SubjectCallFailed, c.eventData(ctx, req, origin, nil, lastErr, start))
	return nil, lastErr
}

// attempt performs a single timed network attempt and classifies its outcome.
func (c *Client) attempt(ctx context.Context, req Request, opts CallOptions) (any, int, http.Header, *CallError) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var bodyReader io.Reader
	sendJSON := false
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	case string:
		bodyReader = bytes.NewReader([]byte(b))
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, 0, nil, newCallError(KindUnknown, "encoding request body", nil, err)
		}
		bodyReader = bytes.NewReader(encoded)
		sendJSON = true
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.normalizedMethod(), req.URL, bodyReader)
	if err != nil {
		return nil, 0, nil, newCallError(KindUnknown, "building request", nil, err)
	}

	c.mu.RLock()
	userAgent := c.cfg.UserAgent
	httpClient := c.httpClient
	c.mu.RUnlock()

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if sendJSON {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, nil, classifyTransport(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, classifyTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, resp.Header, newCallError(
			KindHTTPError,
			fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, req.URL),
			map[string]any{"status": resp.StatusCode, "statusText": http.StatusText(resp.StatusCode)},
			nil,
		)
	}

	payload, cerr := decodePayload(body, opts.ParseMode, req.Schema)
	if cerr != nil {
		return nil, resp.StatusCode, resp.Header, cerr
	}
	return payload, resp.StatusCode, resp.Header, nil
}

// classifyTransport maps a transport-level error onto the error taxonomy.
// Cancellation of the caller's context is ABORTED; a per-attempt deadline is
// TIMEOUT; anything the net package recognizes is NETWORK.
func classifyTransport(ctx context.Context, err error) *CallError {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return newCallError(KindAborted, "call cancelled", nil, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newCallError(KindTimeout, "attempt exceeded timeout", nil, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newCallError(KindTimeout, "attempt exceeded timeout", nil, err)
		}
		return newCallError(KindNetwork, "connection failed", nil, err)
	}
	return newCallError(KindUnknown, "unclassified transport failure", nil, err)
}

// decodePayload decodes body per mode. schema is applied only in JSON mode.
func decodePayload(body []byte, mode ParseMode, schema *jsonschema.Schema) (any, *CallError) {
	switch mode {
	case ParseText:
		return string(body), nil
	case ParseJSON:
		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, newCallError(KindParseError, "decoding response body", nil, err)
		}
		if schema != nil {
			if err := schema.Validate(payload); err != nil {
				return nil, newCallError(KindParseError, "response failed schema validation", nil, err)
			}
		}
		return payload, nil
	default:
		return body, nil
	}
}

// statusRetryable reports whether an HTTP_ERROR failure should be retried.
// Non-HTTP failures are always considered retryable here (the kind-level
// check already ran).
func (c *Client) statusRetryable(cerr *CallError) bool {
	if cerr.Kind != KindHTTPError {
		return true
	}
	status, _ := cerr.Details["status"].(int)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.RetryAllStatuses {
		return true
	}
	if len(c.cfg.RetryStatuses) > 0 {
		for _, s := range c.cfg.RetryStatuses {
			if s == status {
				return true
			}
		}
		return false
	}
	// Default policy: retry 429 and any 5xx; other 4xx are terminal.
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// resolveOptions merges per-call options over the client defaults.
func (c *Client) resolveOptions(o *CallOptions) CallOptions {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	opts := CallOptions{
		Timeout:        ms(cfg.TimeoutMs),
		MaxRetries:     cfg.MaxRetries,
		BaseRetryDelay: ms(cfg.BaseRetryDelayMs),
		MaxRetryDelay:  ms(cfg.MaxRetryDelayMs),
		ParseMode:      ParseRaw,
	}
	if o == nil {
		return opts
	}

	if o.Timeout > 0 {
		opts.Timeout = o.Timeout
	}
	if o.MaxRetries != 0 {
		opts.MaxRetries = o.MaxRetries
	}
	if o.BaseRetryDelay > 0 {
		opts.BaseRetryDelay = o.BaseRetryDelay
	}
	if o.MaxRetryDelay > 0 {
		opts.MaxRetryDelay = o.MaxRetryDelay
	}
	if o.ParseMode != "" {
		opts.ParseMode = o.ParseMode
	}
	opts.UseCache = o.UseCache
	opts.CacheTTL = o.CacheTTL
	opts.BypassCircuitBreaker = o.BypassCircuitBreaker
	return opts
}

// eventData builds the hook payload for one call outcome.
func (c *Client) eventData(ctx context.Context, req Request, origin string, res *Result, cerr *CallError, start time.Time) map[string]any {
	data := map[string]any{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"origin":     origin,
		"method":     req.normalizedMethod(),
		"url":        req.URL,
		"latency_ms": time.Since(start).Milliseconds(),
		"timestamp":  time.Now().UTC(),
	}
	if res != nil {
		data["status"] = res.Status
		data["attempts"] = res.Attempts
		data["from_cache"] = res.FromCache
	}
	if cerr != nil {
		data["kind"] = string(cerr.Kind)
		data["error"] = cerr.Message
	}
	return data
}

// publishEvent calls all registered hooks asynchronously.
func (c *Client) publishEvent(ctx context.Context, subject string, data map[string]any) {
	c.mu.RLock()
	hooks := make([]EventHookFunc, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()

	for _, h := range hooks {
		fn := h
		go fn(ctx, subject, data)
	}
}
