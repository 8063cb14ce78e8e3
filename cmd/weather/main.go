package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pocketscreen/mobile-services/internal/circuitbreaker"
	"github.com/pocketscreen/mobile-services/internal/logging"
	"github.com/pocketscreen/mobile-services/internal/weather/api"
	"github.com/pocketscreen/mobile-services/internal/weather/cache"
	"github.com/pocketscreen/mobile-services/internal/weather/client"
	"github.com/pocketscreen/mobile-services/internal/weather/config"
	"github.com/pocketscreen/mobile-services/internal/weather/health"
	"github.com/pocketscreen/mobile-services/internal/weather/observability"
	"github.com/pocketscreen/mobile-services/internal/weather/service"
	"github.com/pocketscreen/mobile-services/internal/webapi"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New("weather-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewWeatherAPIClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "weather_api",
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String())
			observability.SetCircuitBreakerState("weather_api", float64(to))
		},
	})
	weatherClient.SetCircuitBreaker(cb)
	observability.SetCircuitBreakerState("weather_api", float64(circuitbreaker.StateClosed))
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
		zap.Duration("timeout", cfg.BreakerTimeout))

	var cacheBackend cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleTTL)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheBackend = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheBackend = cache.NewInMemoryCache(cfg.StaleTTL)
		logger.Info("cache backend: in_memory")
	}
	weatherService := service.NewWeatherService(weatherClient, cacheBackend, cfg.CacheTTL, cfg.CoalescingEnabled, cfg.CoalescingTimeout)

	retention := cfg.OverloadWindow
	if cfg.DegradedWindow > retention {
		retention = cfg.DegradedWindow
	}
	if cfg.IdleWindow > retention {
		retention = cfg.IdleWindow
	}
	tracker := health.NewTracker(retention)
	monitor := health.NewMonitor(health.Config{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadDenialPct:      cfg.OverloadDenialPct,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}, tracker)
	observability.RegisterWindowGauges(cfg.OverloadWindow, tracker.RequestCount, tracker.DenialCount)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	apiConfig := api.Config{
		LocationMinLength: cfg.LocationMinLength,
		LocationMaxLength: cfg.LocationMaxLength,
	}
	if memcacheCloser != nil {
		apiConfig.CachePing = memcacheCloser.Ping
	}
	handler := api.NewHandler(weatherService, weatherClient, monitor, apiConfig, logger)

	if len(cfg.WarmLocations) > 0 {
		warmer := cache.NewCacheWarmer(weatherService, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.WarmLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.WarmLocations, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(webapi.CorrelationIDMiddleware(logger))
	router.Use(webapi.MetricsMiddleware(observability.HTTPObserver()))
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(webapi.RateLimitMiddleware(limiter, func() {
		tracker.RecordDenied()
		observability.RateLimitDeniedTotal.Inc()
	}))
	weatherRouter.Use(webapi.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("/{location}", handler.GetWeather).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", webapi.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer waitCancel()
	if err := webapi.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", webapi.InFlightCount()))
	}

	if err := logging.Flush(context.Background(), logger); err != nil {
		logger.Error("log flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
