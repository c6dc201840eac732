package resilientcall

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 2000
	}
	if cfg.BaseRetryDelayMs == 0 {
		cfg.BaseRetryDelayMs = 1
	}
	if cfg.MaxRetryDelayMs == 0 {
		cfg.MaxRetryDelayMs = 5
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	res, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/data",
		Options: &CallOptions{ParseMode: ParseJSON},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.FromCache {
		t.Error("expected fresh response")
	}
	payload := res.Payload.(map[string]any)
	if payload["x"].(float64) != 1 {
		t.Errorf("unexpected payload: %v", res.Payload)
	}
	if res.CircuitState != "closed" {
		t.Errorf("expected closed circuit, got %s", res.CircuitState)
	}
}

func TestDo_CacheHitAvoidsNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	req := Request{
		URL:     srv.URL + "/data",
		Options: &CallOptions{ParseMode: ParseJSON, UseCache: true},
	}

	first, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.FromCache {
		t.Fatal("first call must not be served from cache")
	}

	second, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.FromCache {
		t.Fatal("expected second call served from cache")
	}
	if second.Attempts != 0 {
		t.Errorf("cache hit must use zero attempts, got %d", second.Attempts)
	}
	if hits.Load() != 1 {
		t.Errorf("expected exactly one network hit, got %d", hits.Load())
	}
}

func TestDo_CacheBypassedForNonIdempotent(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	req := Request{
		URL:     srv.URL + "/jobs",
		Method:  http.MethodPost,
		Body:    map[string]string{"task": "analyze"},
		Options: &CallOptions{UseCache: true},
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Do(context.Background(), req); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("POST must bypass cache, got %d hits", hits.Load())
	}
}

func TestDo_RetryExhaustion(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	_, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/data",
		Options: &CallOptions{MaxRetries: 3},
	})
	if err == nil {
		t.Fatal("expected failure")
	}

	var cerr *CallError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CallError, got %T", err)
	}
	if cerr.Kind != KindHTTPError {
		t.Errorf("expected HTTP_ERROR, got %s", cerr.Kind)
	}
	if cerr.Details["status"] != http.StatusServiceUnavailable {
		t.Errorf("unexpected details: %v", cerr.Details)
	}
	// Initial attempt + 3 retries.
	if hits.Load() != 4 {
		t.Errorf("expected 4 attempts, got %d", hits.Load())
	}
}

func TestDo_EventualSuccessResetsFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	res, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/data",
		Options: &CallOptions{MaxRetries: 2, ParseMode: ParseJSON},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}

	stats := c.CircuitStats()
	for origin, snap := range stats.Origins {
		if snap.Failures != 0 {
			t.Errorf("expected failures reset for %s, got %d", origin, snap.Failures)
		}
	}
}

func TestDo_ClientErrorNotRetriedByDefault(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	_, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/missing",
		Options: &CallOptions{MaxRetries: 3},
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if hits.Load() != 1 {
		t.Errorf("404 must not be retried by default, got %d attempts", hits.Load())
	}
}

func TestDo_RetryAllStatusesOverride(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{RetryAllStatuses: true})
	_, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/missing",
		Options: &CallOptions{MaxRetries: 2},
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts with retry-all, got %d", hits.Load())
	}
}

func TestDo_CircuitOpensAndFailsFast(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Breaker: BreakerConfig{FailureThreshold: 5, ResetTimeoutMs: 60000}})
	req := Request{URL: srv.URL + "/data", Options: &CallOptions{MaxRetries: -1}}

	for i := 0; i < 5; i++ {
		if _, err := c.Do(context.Background(), req); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	before := hits.Load()

	_, err := c.Do(context.Background(), req)
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("expected errors.Is(err, ErrCircuitOpen)")
	}
	if cerr.Details["willRetryAt"] == nil {
		t.Error("expected willRetryAt in details")
	}
	if hits.Load() != before {
		t.Error("open circuit must not generate network attempts")
	}
}

func TestDo_BypassCircuitBreaker(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Breaker: BreakerConfig{FailureThreshold: 2, ResetTimeoutMs: 60000}})
	req := Request{URL: srv.URL + "/data", Options: &CallOptions{MaxRetries: -1}}
	for i := 0; i < 2; i++ {
		_, _ = c.Do(context.Background(), req)
	}
	if c.CircuitState(mustOrigin(t, req)) != "open" {
		t.Fatal("expected circuit open")
	}

	before := hits.Load()
	req.Options = &CallOptions{MaxRetries: -1, BypassCircuitBreaker: true}
	_, err := c.Do(context.Background(), req)
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindHTTPError {
		t.Fatalf("expected HTTP_ERROR through bypass, got %v", err)
	}
	if hits.Load() != before+1 {
		t.Error("bypass must reach the network")
	}
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	_, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/slow",
		Options: &CallOptions{Timeout: 20 * time.Millisecond, MaxRetries: -1},
	})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	c := newTestClient(t, Config{})
	_, err := c.Do(context.Background(), Request{
		URL:     url + "/data",
		Options: &CallOptions{MaxRetries: -1},
	})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindNetwork {
		t.Fatalf("expected NETWORK, got %v", err)
	}
}

func TestDo_ParseError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	_, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/data",
		Options: &CallOptions{ParseMode: ParseJSON, MaxRetries: 1},
	})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindParseError {
		t.Fatalf("expected PARSE_ERROR, got %v", err)
	}
	// Parse failures count against the retry budget.
	if hits.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestDo_SchemaValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/bad" {
			_, _ = w.Write([]byte(`{"name":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"name":"x"}`))
	}))
	defer srv.Close()

	schema := jsonschema.MustCompileString("payload.json", `{"type":"object","required":["id"]}`)
	c := newTestClient(t, Config{})

	_, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/bad",
		Schema:  schema,
		Options: &CallOptions{ParseMode: ParseJSON, MaxRetries: -1},
	})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindParseError {
		t.Fatalf("expected PARSE_ERROR on schema violation, got %v", err)
	}

	res, err := c.Do(context.Background(), Request{
		URL:     srv.URL + "/good",
		Schema:  schema,
		Options: &CallOptions{ParseMode: ParseJSON},
	})
	if err != nil {
		t.Fatalf("conforming payload: %v", err)
	}
	if res.Payload.(map[string]any)["id"].(float64) != 7 {
		t.Errorf("unexpected payload: %v", res.Payload)
	}
}

func TestDo_AuthBearerToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth atomic.Value
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`ok`))
	}))
	defer target.Close()

	c := newTestClient(t, Config{Auth: &AuthConfig{
		TokenURL:     tokenSrv.URL + "/oauth/token",
		ClientID:     "svc",
		ClientSecret: "hunter2",
	}})
	if _, err := c.Do(context.Background(), Request{URL: target.URL + "/data"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got, _ := gotAuth.Load().(string); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", got)
	}
}

func TestDo_Aborted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(t, Config{})
	_, err := c.Do(ctx, Request{URL: srv.URL + "/slow", Options: &CallOptions{MaxRetries: 3}})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindAborted {
		t.Fatalf("expected ABORTED, got %v", err)
	}
}

func TestDo_AbortedProbeFreesHalfOpenSlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`ok`))
		default:
			_, _ = w.Write([]byte(`ok`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Breaker: BreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 20}})

	// Open the circuit, then wait past the reset timeout into half-open.
	if _, err := c.Do(context.Background(), Request{URL: srv.URL + "/down", Options: &CallOptions{MaxRetries: -1}}); err == nil {
		t.Fatal("expected failure")
	}
	time.Sleep(50 * time.Millisecond)

	// Cancel the admitted probe mid-attempt.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Do(ctx, Request{URL: srv.URL + "/slow", Options: &CallOptions{MaxRetries: -1}})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindAborted {
		t.Fatalf("expected ABORTED, got %v", err)
	}

	// The abandoned probe must not keep the slot: the next call to the
	// recovered origin is admitted and closes the circuit.
	res, err := c.Do(context.Background(), Request{URL: srv.URL + "/ok", Options: &CallOptions{MaxRetries: -1}})
	if err != nil {
		t.Fatalf("expected recovery probe admitted, got %v", err)
	}
	if res.CircuitState != "closed" {
		t.Errorf("expected circuit closed after probe success, got %s", res.CircuitState)
	}
}

func TestDo_InvalidURL(t *testing.T) {
	c := newTestClient(t, Config{})
	_, err := c.Do(context.Background(), Request{URL: "not-a-url"})
	var cerr *CallError
	if !errors.As(err, &cerr) || cerr.Kind != KindUnknown {
		t.Fatalf("expected UNKNOWN for relative URL, got %v", err)
	}
}

func TestClient_AdminSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"x":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{})
	req := Request{URL: srv.URL + "/data", Options: &CallOptions{UseCache: true}}
	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatalf("call: %v", err)
	}

	if stats := c.CacheStats(); stats.Valid != 1 || stats.Total != 1 {
		t.Errorf("unexpected cache stats: %+v", stats)
	}

	key, err := req.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	c.InvalidateCache(key)
	if stats := c.CacheStats(); stats.Total != 0 {
		t.Errorf("expected empty cache after invalidate, got %+v", stats)
	}

	stats := c.CircuitStats()
	if stats.Closed != 1 || stats.Open != 0 {
		t.Errorf("unexpected circuit stats: %+v", stats)
	}

	c.ResetCircuits()
	c.ClearCache()
}

func TestClient_ReloadConfig(t *testing.T) {
	c := newTestClient(t, Config{})
	if err := c.ReloadConfig(Config{TimeoutMs: -1}); err == nil {
		t.Fatal("expected invalid config rejected")
	}
	if err := c.ReloadConfig(Config{MaxRetries: 1}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := c.GetConfig().MaxRetries; got != 1 {
		t.Errorf("expected reloaded max retries 1, got %d", got)
	}
}

func TestClient_Hooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	events := make(chan string, 1)
	c := newTestClient(t, Config{})
	c.AddHook(func(_ context.Context, subject string, _ map[string]any) {
		events <- subject
	})

	if _, err := c.Do(context.Background(), Request{URL: srv.URL}); err != nil {
		t.Fatalf("call: %v", err)
	}

	select {
	case subject := <-events:
		if subject != SubjectCallCompleted {
			t.Errorf("unexpected subject %q", subject)
		}
	case <-time.After(time.Second):
		t.Fatal("expected hook invocation")
	}
}

func mustOrigin(t *testing.T, req Request) string {
	t.Helper()
	origin, err := req.origin()
	if err != nil {
		t.Fatalf("origin: %v", err)
	}
	return origin
}
