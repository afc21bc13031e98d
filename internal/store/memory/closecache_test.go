package memory

import (
	"context"
	"testing"
	"time"

	"optionledger/internal/model"
)

func TestCloseCache(t *testing.T) {
	ctx := context.Background()
	c := New()

	if _, ok, _ := c.Get(ctx, "AMD260320P00160000"); ok {
		t.Error("empty cache must miss")
	}

	if err := c.Set(ctx, "AMD260320P00160000", 4.75); err != nil {
		t.Fatal(err)
	}
	// Idempotent upsert.
	if err := c.Set(ctx, "AMD260320P00160000", 4.75); err != nil {
		t.Fatal(err)
	}

	price, ok, err := c.Get(ctx, "AMD260320P00160000")
	if err != nil || !ok || price != 4.75 {
		t.Errorf("get = %v/%v/%v, want 4.75/true/nil", price, ok, err)
	}

	c.Set(ctx, "RCL270115C00057500", 2.10)
	all, err := c.GetAll(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("getall = %v/%v, want 2 entries", all, err)
	}

	// GetAll hands out a copy, not the live map.
	all["AMD260320P00160000"] = 99
	if price, _, _ := c.Get(ctx, "AMD260320P00160000"); price != 4.75 {
		t.Error("mutating the GetAll result leaked into the store")
	}
}

func TestCloseCache_RefreshTracking(t *testing.T) {
	ctx := context.Background()
	c := New()

	last, err := c.LastRefresh(ctx)
	if err != nil || !last.IsZero() {
		t.Errorf("fresh store LastRefresh = %v/%v, want zero", last, err)
	}
	if !model.NeedsRefresh(last, time.Now()) {
		t.Error("zero last refresh must need a refresh")
	}

	at := time.Now()
	if err := c.MarkRefreshed(ctx, at); err != nil {
		t.Fatal(err)
	}
	last, _ = c.LastRefresh(ctx)
	if !last.Equal(at) {
		t.Errorf("LastRefresh = %v, want %v", last, at)
	}
	if model.NeedsRefresh(last, at.Add(time.Hour)) {
		t.Error("one hour after a refresh must not need another")
	}
	if !model.NeedsRefresh(last, at.Add(21*time.Hour)) {
		t.Error("21h after a refresh must need another")
	}
}
