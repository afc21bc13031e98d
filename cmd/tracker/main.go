// Command tracker is the option position tracker daemon: it polls the
// quote feed for every stored position, computes gain/loss, and serves
// the results over REST and WebSocket.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optionledger/config"
	"optionledger/internal/feed"
	"optionledger/internal/gateway"
	"optionledger/internal/logger"
	"optionledger/internal/metrics"
	"optionledger/internal/tracker"

	"optionledger/internal/model"
	"optionledger/internal/store/memory"
	redisstore "optionledger/internal/store/redis"
	"optionledger/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	logger.Init("tracker", slog.LevelInfo)

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// Positions live in SQLite; without them there is nothing to do.
	positions, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[tracker] position store: %v", err)
	}
	defer positions.Close()

	// Closing prices prefer Redis but degrade to memory: pricing must
	// keep working when Redis is down, baselines just won't survive a
	// restart.
	var (
		closes model.ClosingPriceStore
		rdb    *goredis.Client
	)
	if rcache, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		log.Printf("[tracker] WARNING: redis unavailable (%v), using in-memory close cache", err)
		closes = memory.New()
		health.SetRedisFallback(true)
	} else {
		closes = rcache
		rdb = rcache.Client()
		defer rcache.Close()
	}

	session := feed.NewSession(feed.SessionConfig{
		BaseURL: cfg.FeedBaseURL,
		Timeout: cfg.FeedTimeout,
	})
	session.OnRenewal = m.FeedAuthRenewals.Inc
	source := feed.New(feed.Config{
		Session:     session,
		Concurrency: cfg.FeedConcurrency,
	})
	source.OnRequest = func(endpoint string) { m.FeedRequests.WithLabelValues(endpoint).Inc() }
	source.OnError = func(endpoint string) { m.FeedErrors.WithLabelValues(endpoint).Inc() }
	source.OnChainCacheHit = m.ChainCacheHits.Inc

	tr := tracker.New(positions, closes, source, tracker.Config{
		PollInterval: cfg.PollInterval,
		HistorySize:  cfg.HistorySize,
	})
	tr.OnPass = func(dur time.Duration, valued int) {
		m.PricingPasses.Inc()
		m.PricingPassDur.Observe(dur.Seconds())
		m.PositionsValued.Set(float64(valued))
		health.SetLastPassAt(time.Now())
		if u, ok := tr.Latest(); ok {
			state := 0.0
			if u.MarketOpen {
				state = 1.0
			}
			m.MarketState.Set(state)
		}
	}
	tr.OnCacheRefresh = m.CloseRefreshes.Inc

	hub := gateway.NewHub()
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }
	api := &gateway.API{Store: positions, Tracker: tr, Hub: hub}
	apiSrv := &http.Server{Addr: cfg.ListenAddr, Handler: api.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go tr.Run(ctx)

	updates, unsub := tr.Subscribe()
	defer unsub()
	go hub.Run(ctx, updates)

	health.StartLivenessChecker(ctx, rdb, positions.DB(), 15*time.Second)
	msrv := metrics.NewServer(cfg.MetricsAddr, health)
	msrv.Start()

	go func() {
		log.Printf("[tracker] api listening on %s", cfg.ListenAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[tracker] api server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[tracker] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiSrv.Shutdown(shutdownCtx)
	msrv.Stop(shutdownCtx)
}
