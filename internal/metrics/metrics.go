// Package metrics exposes Prometheus metrics and the /healthz probe
// for the tracker daemon.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	PricingPasses   prometheus.Counter
	PricingPassDur  prometheus.Histogram
	PositionsValued prometheus.Gauge

	FeedRequests     *prometheus.CounterVec // labels: endpoint
	FeedErrors       *prometheus.CounterVec // labels: endpoint
	FeedAuthRenewals prometheus.Counter
	ChainCacheHits   prometheus.Counter

	CloseRefreshes prometheus.Counter

	WSClients   prometheus.Gauge
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		PricingPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_pricing_passes_total",
			Help: "Total pricing passes completed",
		}),
		PricingPassDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_pricing_pass_duration_seconds",
			Help:    "Pricing pass latency (feed fetch + valuation)",
			Buckets: prometheus.DefBuckets,
		}),
		PositionsValued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_positions_valued",
			Help: "Positions valued in the most recent pass",
		}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_feed_requests_total",
			Help: "Feed HTTP requests (by endpoint)",
		}, []string{"endpoint"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_feed_errors_total",
			Help: "Feed HTTP failures (by endpoint)",
		}, []string{"endpoint"}),
		FeedAuthRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_feed_auth_renewals_total",
			Help: "Cookie+crumb session renewals",
		}),
		ChainCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_chain_cache_hits_total",
			Help: "Option chain fetches served from cache",
		}),
		CloseRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_close_refreshes_total",
			Help: "Bulk previous-close refreshes completed",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.PricingPasses,
		m.PricingPassDur,
		m.PositionsValued,
		m.FeedRequests,
		m.FeedErrors,
		m.FeedAuthRenewals,
		m.ChainCacheHits,
		m.CloseRefreshes,
		m.WSClients,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the daemon's health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	RedisFallback  bool // running on the in-memory close cache
	SQLiteOK       bool
	LastPassAt     time.Time

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisFallback(v bool) {
	h.mu.Lock()
	h.RedisFallback = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPassAt(t time.Time) {
	h.mu.Lock()
	h.LastPassAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if !h.RedisConnected && !h.RedisFallback {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	passAge := ""
	if !h.LastPassAt.IsZero() {
		passAge = time.Since(h.LastPassAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastPassAt      string  `json:"last_pass_at"`
		PassAge         string  `json:"pass_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisFallback   bool    `json:"redis_fallback"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastPassAt:      h.LastPassAt.Format(time.RFC3339),
		PassAge:         passAge,
		RedisConnected:  h.RedisConnected,
		RedisFallback:   h.RedisFallback,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
