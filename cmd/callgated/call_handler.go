package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wbigno/resilientcall"
	"github.com/wbigno/resilientcall/internal/calllog"
)

// callRequest is the wire shape of POST /v1/call.
type callRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Options *callOptions      `json:"options,omitempty"`
}

type callOptions struct {
	TimeoutMs            int    `json:"timeout_ms,omitempty"`
	MaxRetries           int    `json:"max_retries,omitempty"`
	BaseRetryDelayMs     int    `json:"base_retry_delay_ms,omitempty"`
	MaxRetryDelayMs      int    `json:"max_retry_delay_ms,omitempty"`
	UseCache             bool   `json:"use_cache,omitempty"`
	CacheTTLMs           int    `json:"cache_ttl_ms,omitempty"`
	BypassCircuitBreaker bool   `json:"bypass_circuit_breaker,omitempty"`
	ParseMode            string `json:"parse_mode,omitempty"`
}

func callHandler(client *resilientcall.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body callRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, map[string]any{
				"kind":    "UNKNOWN",
				"message": "invalid request body: " + err.Error(),
			})
			return
		}
		if body.URL == "" {
			writeJSONError(w, http.StatusBadRequest, map[string]any{
				"kind":    "UNKNOWN",
				"message": "url is required",
			})
			return
		}

		req := resilientcall.Request{
			URL:     body.URL,
			Method:  body.Method,
			Headers: body.Headers,
		}
		if len(body.Body) > 0 {
			req.Body = []byte(body.Body)
		}
		if body.Options != nil {
			req.Options = &resilientcall.CallOptions{
				Timeout:              time.Duration(body.Options.TimeoutMs) * time.Millisecond,
				MaxRetries:           body.Options.MaxRetries,
				BaseRetryDelay:       time.Duration(body.Options.BaseRetryDelayMs) * time.Millisecond,
				MaxRetryDelay:        time.Duration(body.Options.MaxRetryDelayMs) * time.Millisecond,
				UseCache:             body.Options.UseCache,
				CacheTTL:             time.Duration(body.Options.CacheTTLMs) * time.Millisecond,
				BypassCircuitBreaker: body.Options.BypassCircuitBreaker,
				ParseMode:            resilientcall.ParseMode(body.Options.ParseMode),
			}
		}

		res, err := client.Do(r.Context(), req)
		if err != nil {
			var cerr *resilientcall.CallError
			if errors.As(err, &cerr) {
				writeJSONError(w, statusForKind(cerr.Kind), cerr)
				return
			}
			writeJSONError(w, http.StatusInternalServerError, map[string]any{
				"kind":    "UNKNOWN",
				"message": err.Error(),
			})
			return
		}

		// Raw payloads arrive as []byte; re-wrap so JSON encoding doesn't
		// base64 them silently.
		if raw, ok := res.Payload.([]byte); ok {
			res.Payload = string(raw)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}
}

// statusForKind maps a call failure onto the status the service answers with.
func statusForKind(kind resilientcall.ErrorKind) int {
	switch kind {
	case resilientcall.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case resilientcall.KindTimeout:
		return http.StatusGatewayTimeout
	case resilientcall.KindNetwork, resilientcall.KindHTTPError, resilientcall.KindParseError:
		return http.StatusBadGateway
	case resilientcall.KindAborted:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": detail})
}

// logWriterHook converts call events into persisted call-log entries.
func logWriterHook(writer calllog.Writer) resilientcall.EventHookFunc {
	return func(ctx context.Context, subject string, data map[string]any) {
		entry := calllog.Entry{
			TraceID:   str(data["trace_id"]),
			Origin:    str(data["origin"]),
			Method:    str(data["method"]),
			URL:       str(data["url"]),
			CreatedAt: time.Now().UTC(),
		}
		if v, ok := data["latency_ms"].(int64); ok {
			entry.LatencyMS = v
		}
		if v, ok := data["attempts"].(int); ok {
			entry.Attempts = v
		}
		if v, ok := data["status"].(int); ok {
			entry.Status = v
		}
		if v, ok := data["from_cache"].(bool); ok {
			entry.FromCache = v
		}

		switch subject {
		case resilientcall.SubjectCallFailed:
			entry.Outcome = str(data["kind"])
			entry.ErrorMessage = str(data["error"])
		default:
			entry.Outcome = "success"
			if entry.FromCache {
				entry.Outcome = "cached"
			}
		}

		// Hooks run outside the request lifecycle; don't let a dead store
		// block or crash anything.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = writer.Write(writeCtx, entry)
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
