package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/weather/cache"
	"github.com/pocketscreen/mobile-services/internal/weather/client"
	"github.com/pocketscreen/mobile-services/internal/weather/location"
	"github.com/pocketscreen/mobile-services/internal/weather/models"
	"github.com/pocketscreen/mobile-services/internal/weather/observability"
	"github.com/pocketscreen/mobile-services/internal/webapi"
)

// WeatherService orchestrates current-conditions retrieval using cache-aside
// with upstream fallback. City names and GPS coordinates share one path: the
// query is normalized into a canonical cache key before anything else, so
// "Seattle " and "seattle" (or two nearby GPS fixes) resolve to the same entry.
type WeatherService struct {
	client    client.Client
	cache     cache.Cache
	ttl       time.Duration
	coalescer *requestCoalescer // optional, nil if disabled
}

// NewWeatherService creates a new WeatherService with the provided dependencies.
// ttl specifies the cache expiration duration for readings. coalesceEnabled and
// coalesceTimeout configure request coalescing (disabled if timeout 0). Stale
// fallback is governed by the cache's own stale window.
func NewWeatherService(client client.Client, cache cache.Cache, ttl time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *WeatherService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &WeatherService{
		client:    client,
		cache:     cache,
		ttl:       ttl,
		coalescer: coalescer,
	}
}

// Lookup retrieves current conditions for the query (city name or "lat,lon")
// using cache-aside. Checks cache first, falls back to the upstream provider
// on a miss, and populates cache on success. When the upstream fails, an
// expired entry still inside the cache's stale window is served with the
// Stale flag set instead of an error.
func (s *WeatherService) Lookup(ctx context.Context, query string) (models.Reading, error) {
	key := location.Normalize(query)
	start := time.Now()
	logger := webapi.Logger(ctx)
	observability.LookupsTotal.Inc()

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("location", key))
			logger.Debug("conditions served", zap.String("location", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	observability.CacheMissesTotal.Inc()
	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("location", key))
	}

	// Coalesce concurrent upstream calls for the same key when enabled.
	var data models.Reading
	var coalesced bool
	var upstreamErr error
	if s.coalescer != nil {
		data, coalesced, upstreamErr = s.coalescer.GetOrDo(ctx, key, func() (models.Reading, error) {
			return s.client.CurrentConditions(ctx, key)
		})
		if coalesced {
			observability.CoalescedLookupsTotal.Inc()
		}
	} else {
		data, upstreamErr = s.client.CurrentConditions(ctx, key)
	}
	if upstreamErr != nil {
		// An unknown location or a bad key is a caller problem, not an
		// upstream outage; stale data would mask it.
		if s.servableFromStale(upstreamErr) {
			stale, ok, staleErr := s.cache.GetStale(ctx, key)
			if staleErr == nil && ok {
				staleAge := time.Since(stale.Timestamp)
				observability.StaleServesTotal.Inc()
				stale.Stale = true
				if logger != nil {
					logger.Info("serving stale cache", zap.String("location", key), zap.Duration("age", staleAge))
				}
				return stale, nil
			}
		}
		return models.Reading{}, fmt.Errorf("fetch conditions for %s: %w", key, upstreamErr)
	}

	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		if logger != nil {
			logger.Warn("cache set failed", zap.String("location", key), zap.Error(setErr))
		}
	}
	if logger != nil {
		logger.Debug("conditions served", zap.String("location", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return data, nil
}

// servableFromStale reports whether the upstream error is the kind of failure
// a stale cache entry may paper over.
func (s *WeatherService) servableFromStale(err error) bool {
	return !client.IsCallerError(err)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
