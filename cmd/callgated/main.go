package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wbigno/resilientcall"
	"github.com/wbigno/resilientcall/internal/admin"
	"github.com/wbigno/resilientcall/internal/calllog"
	"github.com/wbigno/resilientcall/internal/logging"
	"github.com/wbigno/resilientcall/internal/ratelimit"
	"github.com/wbigno/resilientcall/internal/version"
)

func main() {
	// Load and validate config if CALLGATE_CONFIG is set.
	cfg := resilientcall.Config{}
	if cfgPath := os.Getenv("CALLGATE_CONFIG"); cfgPath != "" {
		loaded, err := resilientcall.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
		log.Printf("Config loaded: timeout=%dms, max_retries=%d", cfg.TimeoutMs, cfg.MaxRetries)
	}

	client, err := resilientcall.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create call client: %v", err)
	}

	// Call-log persistence. Without a configured driver, writes are discarded.
	var logWriter calllog.Writer = calllog.NoopWriter{}
	var logReader calllog.Reader
	if driver := os.Getenv("CALLGATE_LOG_DRIVER"); driver != "" {
		store, err := newLogStore(driver, os.Getenv("CALLGATE_LOG_DSN"))
		if err != nil {
			log.Fatalf("Failed to open call log store: %v", err)
		}
		defer func() { _ = store.Close() }()
		logWriter = store
		logReader = store
		log.Printf("Call log storage enabled: driver=%s", driver)
	}
	client.AddHook(logWriterHook(logWriter))

	adminToken := os.Getenv("CALLGATE_ADMIN_TOKEN")
	if adminToken == "" {
		log.Println("Warning: CALLGATE_ADMIN_TOKEN not set; admin API disabled")
	}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	rateLimit := 0.0
	if raw := os.Getenv("CALLGATE_RATE_LIMIT"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			log.Fatalf("Invalid CALLGATE_RATE_LIMIT: %q", raw)
		}
		rateLimit = parsed
	}

	r := newRouter(client, logReader, adminToken, corsOrigins, rateLimit)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("callgated %s listening on %s", version.Short(), addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

func newLogStore(driver, dsn string) (*calllog.SQLStore, error) {
	if driver == "postgres" {
		return calllog.NewPostgresStore(dsn)
	}
	return calllog.NewSQLiteStore(dsn)
}

// newRouter builds the HTTP router.
func newRouter(client *resilientcall.Client, logs calllog.Reader, adminToken string, corsOrigins []string, rateLimit float64) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(corsOrigins...))
	if rateLimit > 0 {
		r.Use(ratelimit.Middleware(ratelimit.NewStore(rateLimit, rateLimit*2)))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	if adminToken != "" {
		adminHandlers := &admin.Handlers{Client: client, Logs: logs}
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.AuthMiddleware(adminToken))
			r.Mount("/", adminHandlers.Routes())
		})
	}

	r.Post("/v1/call", callHandler(client))

	return r
}
