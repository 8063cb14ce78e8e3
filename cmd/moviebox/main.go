package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/logging"
	"github.com/pocketscreen/mobile-services/internal/moviebox/api"
	"github.com/pocketscreen/mobile-services/internal/moviebox/catalog"
	"github.com/pocketscreen/mobile-services/internal/moviebox/config"
	"github.com/pocketscreen/mobile-services/internal/moviebox/feed"
	"github.com/pocketscreen/mobile-services/internal/moviebox/observability"
	"github.com/pocketscreen/mobile-services/internal/moviebox/service"
	"github.com/pocketscreen/mobile-services/internal/webapi"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New("moviebox-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var store catalog.Store
	switch cfg.StoreBackend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			logger.Fatal("sqlite data dir", zap.Error(err))
		}
		s, err := catalog.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite store", zap.Error(err))
		}
		store = s
		logger.Info("store backend: sqlite", zap.String("path", cfg.SQLitePath))
	case "postgres":
		s, err := catalog.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres store", zap.Error(err))
		}
		store = s
		logger.Info("store backend: postgres")
	default:
		store = catalog.NewMemoryStore()
		logger.Info("store backend: memory")
	}

	changeFeed := feed.New(cfg.FeedBufferSize)
	movieService := service.NewMovieService(store, changeFeed, cfg.NoteMaxLength)
	handler := api.NewHandler(movieService, store, api.Config{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	router := mux.NewRouter()
	router.Use(webapi.CorrelationIDMiddleware(logger))
	router.Use(webapi.MetricsMiddleware(observability.HTTPObserver()))
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	if cfg.WebsocketEnabled {
		hub := feed.NewHub(changeFeed, movieService.List, logger)
		go hub.Run(ctx)
		router.HandleFunc("/ws", hub.HandleConnection)
		logger.Info("websocket feed enabled")
	}

	var kafkaSink *feed.KafkaSink
	kafkaDone := make(chan struct{})
	if cfg.KafkaEnabled {
		sink, err := feed.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, changeFeed, logger)
		if err != nil {
			logger.Fatal("kafka sink", zap.Error(err))
		}
		kafkaSink = sink
		go func() {
			kafkaSink.Run(ctx)
			close(kafkaDone)
		}()
		logger.Info("kafka sink enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	movieRouter := router.PathPrefix("/movies").Subrouter()
	movieRouter.Use(webapi.TimeoutMiddleware(cfg.RequestTimeout))
	movieRouter.HandleFunc("", handler.ListMovies).Methods("GET")
	movieRouter.HandleFunc("", handler.CreateMovie).Methods("POST")
	movieRouter.HandleFunc("/{id}", handler.GetMovie).Methods("GET")
	movieRouter.HandleFunc("/{id}", handler.UpdateMovie).Methods("PUT")
	movieRouter.HandleFunc("/{id}", handler.DeleteMovie).Methods("DELETE")
	movieRouter.HandleFunc("/{id}/favorite", handler.ToggleFavorite).Methods("POST")
	movieRouter.HandleFunc("/{id}/watched", handler.ToggleWatched).Methods("POST")
	movieRouter.HandleFunc("/{id}/rating", handler.SetRating).Methods("PUT")
	movieRouter.HandleFunc("/{id}/note", handler.SetNote).Methods("PUT")

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

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if kafkaSink != nil {
		// Run exits on ctx cancellation; wait for it before closing the
		// producer so no event is written to a closed input channel.
		<-kafkaDone
		if err := kafkaSink.Close(); err != nil {
			logger.Error("kafka close", zap.Error(err))
		}
	}

	if err := store.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}

	if err := logging.Flush(context.Background(), logger); err != nil {
		logger.Error("log flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
