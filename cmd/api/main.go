// Package main implements the dealscout API server: the HTTP entry point in
// front of the search aggregation pipeline. It checks the quota gate first
// and only invokes the aggregator for allowed requests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealscout/dealscout/engine/aggregate"
	"github.com/dealscout/dealscout/engine/config"
	"github.com/dealscout/dealscout/engine/enhance"
	"github.com/dealscout/dealscout/engine/fetch"
	"github.com/dealscout/dealscout/engine/listing"
	"github.com/dealscout/dealscout/engine/quota"
	"github.com/dealscout/dealscout/engine/sources"
	"github.com/dealscout/dealscout/pkg/events"
	"github.com/dealscout/dealscout/pkg/metrics"
	"github.com/dealscout/dealscout/pkg/mid"
	"github.com/dealscout/dealscout/pkg/resilience"
	"github.com/shopspring/decimal"
)

const sessionCookie = "ds_session"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Shared page-fetch proxy client ---
	pages := fetch.New(fetch.Config{
		BaseURL:           cfg.Proxy.BaseURL,
		APIKey:            cfg.Proxy.APIKey,
		BaseDelay:         time.Duration(cfg.Proxy.BaseDelayMS) * time.Millisecond,
		RateLimitDelay:    time.Duration(cfg.Proxy.RateLimitDelayMS) * time.Millisecond,
		RequestsPerSecond: cfg.Proxy.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Proxy.TimeoutSec) * time.Second,
	}, logger)

	// --- Sources, each behind its own circuit breaker ---
	srcs := []sources.Source{
		sources.Guarded(sources.NewEBay(sources.EBayConfig{
			Token:    cfg.EBay.Token,
			MarketID: cfg.EBay.MarketID,
		}, logger), resilience.NewBreaker(resilience.DefaultBreakerOpts)),
		sources.Guarded(sources.NewGumtree(pages, cfg.Search.Location, logger),
			resilience.NewBreaker(resilience.DefaultBreakerOpts)),
		sources.Guarded(sources.NewVinted(pages, logger),
			resilience.NewBreaker(resilience.DefaultBreakerOpts)),
	}

	// --- Query enhancer, rate limited for cost control ---
	enhancer := enhance.New(enhance.Options{
		BaseURL:  cfg.Enhancer.BaseURL,
		Model:    cfg.Enhancer.Model,
		MaxTerms: cfg.Enhancer.MaxTerms,
	}, resilience.NewLimiter(resilience.LimiterOpts{
		Rate:  cfg.Enhancer.CallsPerMinute / 60,
		Burst: 5,
	}), logger)

	agg := aggregate.New(enhancer, srcs, aggregate.Options{
		MaxPhrases:  cfg.Search.MaxPhrases,
		MaxResults:  cfg.Search.MaxResults,
		PhraseDelay: cfg.PhraseDelay(),
		Weights:     cfg.Search.Weights,
	}, reg, logger)

	gate := quota.New(cfg.Quota.DailyLimit)

	// --- Optional NATS audit events ---
	pub, err := events.NewPublisher(cfg.NATSURL)
	if err != nil {
		// Audit events are best-effort; run without them.
		logger.Warn("nats connect failed, audit events disabled", "err", err)
	}
	defer pub.Close()

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/search", handleSearch(agg, gate, pub, reg, cfg.Server.AdminToken, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.OTel("dealscout-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Term     string  `json:"term"`
	Location string  `json:"location,omitempty"`
	Currency string  `json:"currency,omitempty"`
	MinPrice float64 `json:"min_price,omitempty"`
	MaxPrice float64 `json:"max_price,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Listings  []listing.Listing `json:"listings"`
	Count     int               `json:"count"`
	Remaining any               `json:"remaining"`
	ResetAt   time.Time         `json:"reset_at"`
}

func handleSearch(agg *aggregate.Aggregator, gate *quota.Gate, pub *events.Publisher,
	reg *metrics.Registry, adminToken string, logger *slog.Logger) http.HandlerFunc {

	rejections := reg.Counter("dealscout_quota_rejections_total", "Requests rejected by the quota gate.")

	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Term == "" {
			http.Error(w, `{"error":"term is required"}`, http.StatusBadRequest)
			return
		}

		identity := callerIdentity(r)
		privileged := adminToken != "" && r.Header.Get("X-Admin-Token") == adminToken

		// Quota gate first; rejection never reaches the aggregator.
		dec := gate.CheckAndConsume(identity, privileged)
		if !dec.Allowed {
			rejections.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":     "daily search limit reached",
				"remaining": 0,
				"reset_at":  dec.ResetAt,
			})
			return
		}

		start := time.Now()
		results, err := agg.Search(r.Context(), aggregate.Params{
			Term:     req.Term,
			Location: req.Location,
			Currency: req.Currency,
			MinPrice: decimal.NewFromFloat(req.MinPrice),
			MaxPrice: decimal.NewFromFloat(req.MaxPrice),
		})
		if err != nil {
			if errors.Is(err, aggregate.ErrEmptyTerm) || errors.Is(err, aggregate.ErrUnknownCurrency) {
				http.Error(w, `{"error":"invalid search parameters"}`, http.StatusBadRequest)
				return
			}
			// Full detail stays server-side; the caller gets a generic failure.
			logger.Error("search failed", "term", req.Term, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		if err := pub.SearchCompleted(r.Context(), events.SearchCompleted{
			RequestID: mid.RequestIDFrom(r.Context()),
			Term:      req.Term,
			Currency:  req.Currency,
			Results:   len(results),
			Duration:  time.Since(start),
			At:        time.Now().UTC(),
		}); err != nil {
			logger.Warn("audit event publish failed", "err", err)
		}

		if results == nil {
			// Zero results is a valid outcome; encode [] rather than null.
			results = []listing.Listing{}
		}
		var remaining any = dec.Remaining
		if dec.Unlimited {
			remaining = "unlimited"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResponse{
			Listings:  results,
			Count:     len(results),
			Remaining: remaining,
			ResetAt:   dec.ResetAt,
		})
	}
}

// callerIdentity picks the quota identity: session cookie when present,
// remote IP otherwise.
func callerIdentity(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
