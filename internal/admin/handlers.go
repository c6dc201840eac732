// Package admin provides the HTTP handlers for the operational API: circuit
// inspection and reset, cache inspection and invalidation, call-log queries,
// runtime config updates, and a metrics summary. All routes are protected by
// bearer-token authentication via AuthMiddleware.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wbigno/resilientcall"
	"github.com/wbigno/resilientcall/internal/calllog"
)

// ClientAdmin is the subset of client operations the admin API drives.
type ClientAdmin interface {
	CacheStats() resilientcall.CacheStats
	InvalidateCache(key string)
	ClearCache()
	CircuitSnapshot(origin string) resilientcall.CircuitSnapshot
	CircuitStats() resilientcall.CircuitStats
	ResetCircuit(origin string)
	ResetCircuits()
	GetConfig() resilientcall.Config
	ReloadConfig(cfg resilientcall.Config) error
}

// Handlers holds dependencies for the admin HTTP handlers. Logs may be nil
// when call-log storage is not enabled.
type Handlers struct {
	Client ClientAdmin
	Logs   calllog.Reader

	historyMu     sync.Mutex
	configHistory []ConfigHistoryEntry
}

// ConfigHistoryEntry captures a runtime config update snapshot.
type ConfigHistoryEntry struct {
	Version   int                  `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Config    resilientcall.Config `json:"config"`
}

const metricPrefix = "resilientcall_"

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.healthCheck)

	r.Get("/circuits", h.listCircuits)
	r.Post("/circuits/reset", h.resetCircuits)

	r.Get("/cache", h.cacheStats)
	r.Delete("/cache", h.clearCache)
	r.Delete("/cache/{key}", h.invalidateCache)

	r.Get("/logs", h.listLogs)

	r.Get("/config", h.getConfig)
	r.Put("/config", h.updateConfig)
	r.Get("/config/history", h.getConfigHistory)

	r.Get("/stats", h.metricsSummary)

	return r
}

func (h *Handlers) healthCheck(w http.ResponseWriter, _ *http.Request) {
	stats := h.Client.CircuitStats()
	status := "healthy"
	if stats.Open > 0 {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"circuits": map[string]int{
			"closed":    stats.Closed,
			"open":      stats.Open,
			"half_open": stats.HalfOpen,
		},
	})
}

// listCircuits returns every tracked circuit, or one circuit when the
// origin query parameter is set.
func (h *Handlers) listCircuits(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if origin := r.URL.Query().Get("origin"); origin != "" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"origin":  origin,
			"circuit": h.Client.CircuitSnapshot(origin),
		})
		return
	}

	stats := h.Client.CircuitStats()
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": stats.Origins,
		"summary": map[string]int{
			"total":     len(stats.Origins),
			"closed":    stats.Closed,
			"open":      stats.Open,
			"half_open": stats.HalfOpen,
		},
	})
}

// resetCircuits forces circuits back to closed: one origin when the origin
// query parameter is set, all of them otherwise.
func (h *Handlers) resetCircuits(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin != "" {
		h.Client.ResetCircuit(origin)
	} else {
		h.Client.ResetCircuits()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "reset",
		"origin": origin,
	})
}

func (h *Handlers) cacheStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Client.CacheStats())
}

func (h *Handlers) clearCache(w http.ResponseWriter, _ *http.Request) {
	h.Client.ClearCache()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
}

func (h *Handlers) invalidateCache(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "cache key is required", "invalid_request_error", "invalid_request")
		return
	}
	h.Client.InvalidateCache(key)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "call log storage is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error", "invalid_request")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer", "invalid_request_error", "invalid_request")
			return
		}
		offset = parsed
	}

	query := calllog.Query{
		Limit:   limit,
		Offset:  offset,
		Origin:  r.URL.Query().Get("origin"),
		Outcome: r.URL.Query().Get("outcome"),
	}

	entries, err := h.Logs.List(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list call logs", "server_error", "internal_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": entries,
		"summary": map[string]interface{}{
			"returned_entries": len(entries),
		},
		"filters": map[string]interface{}{
			"limit":   limit,
			"offset":  offset,
			"origin":  query.Origin,
			"outcome": query.Outcome,
		},
	})
}

func (h *Handlers) getConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Client.GetConfig())
}

func (h *Handlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg resilientcall.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}

	if err := h.Client.ReloadConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_config")
		return
	}

	h.historyMu.Lock()
	h.configHistory = append(h.configHistory, ConfigHistoryEntry{
		Version:   len(h.configHistory) + 1,
		UpdatedAt: time.Now().UTC(),
		Config:    cfg,
	})
	h.historyMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

func (h *Handlers) getConfigHistory(w http.ResponseWriter, _ *http.Request) {
	h.historyMu.Lock()
	history := make([]ConfigHistoryEntry, len(h.configHistory))
	copy(history, h.configHistory)
	h.historyMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": history,
		"summary": map[string]interface{}{
			"total_versions": len(history),
		},
	})
}

// metricsSummary reads the registered collectors and returns the call-layer
// families as plain JSON, so operators get counters without scraping the
// Prometheus endpoint.
func (h *Handlers) metricsSummary(w http.ResponseWriter, _ *http.Request) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to gather metrics", "server_error", "internal_error")
		return
	}

	summary := make(map[string]interface{})
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), metricPrefix) {
			continue
		}
		summary[mf.GetName()] = flattenFamily(mf)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// flattenFamily converts one metric family into label-set → value entries.
func flattenFamily(mf *dto.MetricFamily) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		entry := make(map[string]interface{})
		for _, lp := range m.GetLabel() {
			entry[lp.GetName()] = lp.GetValue()
		}
		switch {
		case m.GetCounter() != nil:
			entry["value"] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			entry["value"] = m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			entry["count"] = m.GetHistogram().GetSampleCount()
			entry["sum"] = m.GetHistogram().GetSampleSum()
		}
		out = append(out, entry)
	}
	return out
}
