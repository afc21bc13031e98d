// Command refreshcloses is a one-shot bulk refresh of the closing-price
// cache for every stored position. Useful from cron, or to warm the
// cache before first launch.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"optionledger/config"
	"optionledger/internal/feed"
	"optionledger/internal/model"
	redisstore "optionledger/internal/store/redis"
	"optionledger/internal/store/sqlite"

	"github.com/joho/godotenv"
)

func main() {
	force := flag.Bool("force", false, "refresh even if the cache is still fresh")
	flag.Parse()

	godotenv.Load()
	cfg := config.Load()

	positions, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[refreshcloses] position store: %v", err)
	}
	defer positions.Close()

	closes, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[refreshcloses] close cache: %v", err)
	}
	defer closes.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := time.Now()
	last, err := closes.LastRefresh(ctx)
	if err != nil {
		log.Fatalf("[refreshcloses] last refresh: %v", err)
	}
	if !*force && !model.NeedsRefresh(last, now) {
		log.Printf("[refreshcloses] cache refreshed %s ago, nothing to do (use -force to override)",
			now.Sub(last).Round(time.Minute))
		return
	}

	list, err := positions.List(ctx)
	if err != nil {
		log.Fatalf("[refreshcloses] list positions: %v", err)
	}
	if len(list) == 0 {
		log.Println("[refreshcloses] no positions stored")
		return
	}

	source := feed.New(feed.Config{
		Session: feed.NewSession(feed.SessionConfig{
			BaseURL: cfg.FeedBaseURL,
			Timeout: cfg.FeedTimeout,
		}),
		Concurrency: cfg.FeedConcurrency,
	})

	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ContractID()
	}
	fetched := source.BatchFetchPreviousClose(ctx, ids)
	for id, price := range fetched {
		if err := closes.Set(ctx, id, price); err != nil {
			log.Printf("[refreshcloses] write %s: %v", id, err)
		}
	}
	if err := closes.MarkRefreshed(ctx, now); err != nil {
		log.Fatalf("[refreshcloses] mark refreshed: %v", err)
	}

	log.Printf("[refreshcloses] refreshed %d/%d previous closes", len(fetched), len(ids))
}
