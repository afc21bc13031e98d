// Package memory is an in-process closing-price store. The tracker
// falls back to it when Redis is unreachable so pricing keeps working;
// baselines just don't survive a restart.
package memory

import (
	"context"
	"sync"
	"time"
)

// CloseCache implements model.ClosingPriceStore in memory.
type CloseCache struct {
	mu        sync.RWMutex
	closes    map[string]float64
	refreshed time.Time
}

func New() *CloseCache {
	return &CloseCache{closes: make(map[string]float64)}
}

func (c *CloseCache) Get(_ context.Context, contractID string) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.closes[contractID]
	return price, ok, nil
}

func (c *CloseCache) GetAll(_ context.Context) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.closes))
	for id, price := range c.closes {
		out[id] = price
	}
	return out, nil
}

func (c *CloseCache) Set(_ context.Context, contractID string, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes[contractID] = price
	return nil
}

func (c *CloseCache) LastRefresh(_ context.Context) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed, nil
}

func (c *CloseCache) MarkRefreshed(_ context.Context, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshed = at
	return nil
}
