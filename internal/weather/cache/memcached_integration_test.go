//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/pocketscreen/mobile-services/internal/weather/models"
)

// TestMemcachedCache_GetSet_Integration verifies that MemcachedCache successfully
// stores and retrieves values when memcached server is available.
func TestMemcachedCache_GetSet_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Hour)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	val := models.Reading{Location: "seattle", Temperature: 12.5}
	if err := c.Set(ctx, "seattle", val, time.Minute); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	got, ok, err := c.Get(ctx, "seattle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Location != val.Location || got.Temperature != val.Temperature {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestMemcachedCache_Get_Miss_Integration verifies that MemcachedCache returns
// ok=false when requested key does not exist in memcached.
func TestMemcachedCache_Get_Miss_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Hour)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	_, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Skipf("Get failed (memcached may not be running): %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestMemcachedCache_GetStale_Integration verifies that an entry past its TTL
// but inside the stale window is a miss for Get and a hit for GetStale.
func TestMemcachedCache_GetStale_Integration(t *testing.T) {
	c, err := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2, time.Hour)
	if err != nil {
		t.Fatalf("NewMemcachedCache() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	val := models.Reading{Location: "boston", Temperature: 4.5}
	if err := c.Set(ctx, "boston", val, 50*time.Millisecond); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	_, ok, err := c.Get(ctx, "boston")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}

	got, ok, err := c.GetStale(ctx, "boston")
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if !ok {
		t.Fatal("GetStale() ok = false, want true inside stale window")
	}
	if got.Temperature != val.Temperature {
		t.Errorf("GetStale() = %+v, want %+v", got, val)
	}
}
