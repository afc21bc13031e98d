// Package redis persists the closing-price cache in a Redis hash so
// baselines survive restarts and are shared by the tracker daemon and
// the one-shot refresh tool.
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	closesKey    = "closes"              // hash: contract id → close price
	refreshedKey = "closes:refreshed_at" // unix seconds of last bulk refresh
)

// Config configures the Redis closing-price store.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// CloseCache implements model.ClosingPriceStore on Redis.
type CloseCache struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (c *CloseCache) Client() *goredis.Client { return c.client }

// New creates a CloseCache and pings the server.
func New(cfg Config) (*CloseCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &CloseCache{client: client}, nil
}

func (c *CloseCache) Get(ctx context.Context, contractID string) (float64, bool, error) {
	val, err := c.client.HGet(ctx, closesKey, contractID).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis HGET %s: %w", contractID, err)
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis HGET %s: bad value %q", contractID, val)
	}
	return price, true, nil
}

func (c *CloseCache) GetAll(ctx context.Context) (map[string]float64, error) {
	vals, err := c.client.HGetAll(ctx, closesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}
	out := make(map[string]float64, len(vals))
	for id, v := range vals {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Printf("[redis] skipping bad close for %s: %q", id, v)
			continue
		}
		out[id] = price
	}
	return out, nil
}

func (c *CloseCache) Set(ctx context.Context, contractID string, price float64) error {
	if err := c.client.HSet(ctx, closesKey, contractID, strconv.FormatFloat(price, 'f', -1, 64)).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", contractID, err)
	}
	return nil
}

func (c *CloseCache) LastRefresh(ctx context.Context) (time.Time, error) {
	val, err := c.client.Get(ctx, refreshedKey).Result()
	if err == goredis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis GET %s: %w", refreshedKey, err)
	}
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis GET %s: bad value %q", refreshedKey, val)
	}
	return time.Unix(sec, 0), nil
}

func (c *CloseCache) MarkRefreshed(ctx context.Context, at time.Time) error {
	if err := c.client.Set(ctx, refreshedKey, strconv.FormatInt(at.Unix(), 10), 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", refreshedKey, err)
	}
	return nil
}

// Close closes the Redis client.
func (c *CloseCache) Close() error {
	return c.client.Close()
}
