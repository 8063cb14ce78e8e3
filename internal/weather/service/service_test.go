package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pocketscreen/mobile-services/internal/weather/client"
	"github.com/pocketscreen/mobile-services/internal/weather/models"
)

type mockClient struct {
	mu      sync.Mutex
	reading models.Reading
	err     error
	delay   time.Duration
	calls   int
}

func (m *mockClient) CurrentConditions(ctx context.Context, location string) (models.Reading, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return models.Reading{}, m.err
	}
	return m.reading, nil
}

func (m *mockClient) ValidateKey(ctx context.Context) error {
	return nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockCache struct {
	mu        sync.Mutex
	data      map[string]models.Reading
	staleData map[string]models.Reading // expired entries still inside the stale window
	err       error
}

func (m *mockCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Reading{}, false, m.err
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string) (models.Reading, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Reading{}, false, m.err
	}
	if m.staleData != nil {
		if stale, ok := m.staleData[key]; ok {
			return stale, true, nil
		}
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string]models.Reading)
	}
	m.data[key] = value
	return nil
}

// TestWeatherService_Lookup_CacheHit verifies that Lookup returns cached data
// when a cache entry exists for the requested location, avoiding an upstream call.
func TestWeatherService_Lookup_CacheHit(t *testing.T) {
	// Arrange: Set up a cache with pre-populated data for "seattle"
	cached := models.Reading{
		Location:    "Seattle",
		Temperature: 15.5,
		Conditions:  "Cloudy",
		Humidity:    75,
		WindSpeed:   5.2,
		Timestamp:   time.Now(),
	}

	mockCache := &mockCache{
		data: map[string]models.Reading{
			"seattle": cached,
		},
	}
	mockClient := &mockClient{}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	// Act: Request conditions for a location that exists in cache
	got, err := svc.Lookup(context.Background(), "seattle")

	// Assert: Verify cache hit returns data without an upstream call
	if err != nil {
		t.Fatalf("Lookup() error = %v, want nil", err)
	}
	if got.Location != cached.Location {
		t.Errorf("Lookup().Location = %q, want %q", got.Location, cached.Location)
	}
	if got.Temperature != cached.Temperature {
		t.Errorf("Lookup().Temperature = %v, want %v", got.Temperature, cached.Temperature)
	}
	if mockClient.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0 on cache hit", mockClient.callCount())
	}
}

// TestWeatherService_Lookup_NormalizesQuery verifies that differently-formatted
// queries for the same place resolve to one cache entry: mixed-case names hit
// the lowercase key, and GPS fixes hit the rounded canonical coordinate key.
func TestWeatherService_Lookup_NormalizesQuery(t *testing.T) {
	cached := models.Reading{Location: "Seattle", Temperature: 15.5, Timestamp: time.Now()}
	mockCache := &mockCache{
		data: map[string]models.Reading{
			"seattle": cached,
		},
	}
	mockCache.data["47.6062,-122.3321"] = models.Reading{Location: "Seattle", Temperature: 14.0, Timestamp: time.Now()}
	mockClient := &mockClient{}
	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	tests := []struct {
		name  string
		query string
	}{
		{"mixed case with spaces", "  SeAtTlE  "},
		{"exact coordinates", "47.6062,-122.3321"},
		{"nearby GPS fix rounds to same key", "47.60624, -122.33214"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Lookup(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v, want nil", tt.query, err)
			}
		})
	}

	if mockClient.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0 (all queries should hit cache)", mockClient.callCount())
	}
}

// TestWeatherService_Lookup_CacheMiss_UpstreamSuccess verifies that Lookup fetches
// from upstream when cache misses, populates the cache with the result, and returns the data.
func TestWeatherService_Lookup_CacheMiss_UpstreamSuccess(t *testing.T) {
	// Arrange: Set up empty cache and mock client with upstream data
	upstream := models.Reading{
		Location:    "Portland",
		Temperature: 18.3,
		Conditions:  "Sunny",
		Humidity:    60,
		WindSpeed:   3.1,
		Timestamp:   time.Now(),
	}

	mockClient := &mockClient{reading: upstream}
	mockCache := &mockCache{
		data: make(map[string]models.Reading),
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	// Act: Request conditions for a location not in cache
	got, err := svc.Lookup(context.Background(), "portland")

	// Assert: Verify upstream fetch succeeds and cache is populated
	if err != nil {
		t.Fatalf("Lookup() error = %v, want nil", err)
	}
	if got.Location != upstream.Location {
		t.Errorf("Lookup().Location = %q, want %q", got.Location, upstream.Location)
	}

	// Verify cache was populated under the normalized key
	cached, ok, _ := mockCache.Get(context.Background(), "portland")
	if !ok {
		t.Error("Cache was not populated after upstream fetch")
	}
	if cached.Location != upstream.Location {
		t.Errorf("Cached location = %q, want %q", cached.Location, upstream.Location)
	}
}

// TestWeatherService_Lookup_UpstreamFailure verifies that Lookup propagates
// upstream errors when cache misses and upstream fetch fails with nothing stale.
func TestWeatherService_Lookup_UpstreamFailure(t *testing.T) {
	mockClient := &mockClient{
		err: errors.New("upstream error"),
	}
	mockCache := &mockCache{
		data: make(map[string]models.Reading),
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	_, err := svc.Lookup(context.Background(), "seattle")
	if err == nil {
		t.Fatal("Lookup() error = nil, want error")
	}
	if !errors.Is(err, mockClient.err) && err.Error() == "" {
		t.Errorf("Lookup() error = %v, want upstream error", err)
	}
}

// TestWeatherService_Lookup_CacheGetError verifies that Lookup falls back to upstream
// when cache read fails, ensuring cache errors are non-fatal.
func TestWeatherService_Lookup_CacheGetError(t *testing.T) {
	mockCache := &mockCache{
		err: errors.New("cache error"),
	}
	mockClient := &mockClient{
		reading: models.Reading{Location: "Seattle"},
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	got, err := svc.Lookup(context.Background(), "seattle")
	if err != nil {
		t.Fatalf("Lookup() error = %v, want nil (should fallback to upstream)", err)
	}
	if got.Location != "Seattle" {
		t.Errorf("Lookup().Location = %q, want Seattle", got.Location)
	}
}

// TestWeatherService_Lookup_StaleFallback verifies that an expired entry inside
// the cache's stale window is served with Stale set when the upstream fails.
func TestWeatherService_Lookup_StaleFallback(t *testing.T) {
	staleData := models.Reading{
		Location:    "Seattle",
		Temperature: 10.0,
		Conditions:  "Clear",
		Humidity:    60,
		WindSpeed:   3.0,
		Timestamp:   time.Now().Add(-30 * time.Minute), // 30 min old
	}

	mockCache := &mockCache{
		staleData: map[string]models.Reading{
			"seattle": staleData,
		},
	}
	mockClient := &mockClient{
		err: client.ErrUpstreamFailure,
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	got, err := svc.Lookup(context.Background(), "seattle")
	if err != nil {
		t.Fatalf("Lookup() error = %v, want nil (stale cache served)", err)
	}
	if !got.Stale {
		t.Error("Lookup().Stale = false, want true")
	}
	if got.Location != staleData.Location {
		t.Errorf("Lookup().Location = %q, want %q", got.Location, staleData.Location)
	}
}

// TestWeatherService_Lookup_NoStaleForCallerErrors verifies that caller errors
// (unknown location, bad key) propagate even when a stale entry exists.
func TestWeatherService_Lookup_NoStaleForCallerErrors(t *testing.T) {
	staleData := models.Reading{
		Location:  "Seattle",
		Timestamp: time.Now().Add(-30 * time.Minute),
	}

	mockCache := &mockCache{
		staleData: map[string]models.Reading{
			"seattle": staleData,
		},
	}
	mockClient := &mockClient{
		err: client.ErrLocationNotFound,
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	_, err := svc.Lookup(context.Background(), "seattle")
	if err == nil {
		t.Fatal("Lookup() error = nil, want error (stale must not mask caller errors)")
	}
	if !errors.Is(err, client.ErrLocationNotFound) {
		t.Errorf("Lookup() error = %v, want ErrLocationNotFound", err)
	}
}

// TestWeatherService_Lookup_StaleUnavailable verifies that the upstream error
// propagates when nothing is inside the stale window.
func TestWeatherService_Lookup_StaleUnavailable(t *testing.T) {
	mockCache := &mockCache{
		data: make(map[string]models.Reading),
	}
	mockClient := &mockClient{
		err: client.ErrUpstreamFailure,
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, false, 0)

	_, err := svc.Lookup(context.Background(), "seattle")
	if err == nil {
		t.Fatal("Lookup() error = nil, want error (nothing stale to serve)")
	}
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("Lookup() error = %v, want ErrUpstreamFailure", err)
	}
}

// TestWeatherService_Lookup_Coalescing verifies that concurrent lookups for the
// same key trigger a single upstream call when coalescing is enabled.
func TestWeatherService_Lookup_Coalescing(t *testing.T) {
	upstream := models.Reading{Location: "Seattle", Temperature: 12.0, Timestamp: time.Now()}
	mockClient := &mockClient{reading: upstream, delay: 50 * time.Millisecond}
	mockCache := &mockCache{
		data: make(map[string]models.Reading),
	}

	svc := NewWeatherService(mockClient, mockCache, 5*time.Minute, true, 5*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.Lookup(context.Background(), "seattle")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Lookup() request %d error = %v, want nil", i, err)
		}
	}

	// All lookups raced past the empty cache, so coalescing is the only thing
	// keeping this at one upstream call.
	if got := mockClient.callCount(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (coalescing failed)", got)
	}
}
