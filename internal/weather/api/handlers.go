package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/weather/client"
	"github.com/pocketscreen/mobile-services/internal/weather/health"
	"github.com/pocketscreen/mobile-services/internal/weather/location"
	"github.com/pocketscreen/mobile-services/internal/weather/models"
	"github.com/pocketscreen/mobile-services/internal/webapi"
)

// LookupService is the slice of the weather service the handlers depend on.
type LookupService interface {
	Lookup(ctx context.Context, query string) (models.Reading, error)
}

// Config holds handler-level settings.
type Config struct {
	LocationMinLength int
	LocationMaxLength int
	Version           string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service LookupService
	client  client.Client
	monitor *health.Monitor
	cfg     Config
	logger  *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(service LookupService, weatherClient client.Client, monitor *health.Monitor, cfg Config, logger *zap.Logger) *Handler {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Handler{
		service: service,
		client:  weatherClient,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
	}
}

// GetWeather handles GET /weather/{location}. The location is either a place
// name or a "lat,lon" coordinate pair.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	query, err := location.Validate(mux.Vars(r)["location"], h.cfg.LocationMinLength, h.cfg.LocationMaxLength)
	if err != nil {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	if _, err := location.ParseCoordinates(query); err != nil && errors.Is(err, location.ErrCoordinatesOutOfRange) {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	reading, err := h.service.Lookup(r.Context(), query)
	if err != nil {
		if errors.Is(err, client.ErrLocationNotFound) {
			// The upstream answered; an unknown location is not a service fault.
			h.monitor.Tracker().RecordSuccess()
			webapi.WriteError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "no such location: "+query)
			return
		}
		h.monitor.Tracker().RecordError()
		webapi.WriteError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
		if logger := webapi.Logger(r.Context()); logger != nil {
			logger.Debug("upstream error", zap.Error(err))
		}
		return
	}
	h.monitor.Tracker().RecordSuccess()
	webapi.WriteJSON(w, http.StatusOK, reading)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.Evaluate(r.Context(), h.client.ValidateKey)
	h.monitor.LogTransition(h.logger, result)

	checks := make(map[string]string)
	if result.Status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.cfg.CachePing != nil {
		if h.cfg.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.Status,
		"service":   "weather-service",
		"version":   h.cfg.Version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.Reason != "" {
		resp["detail"] = result.Reason
	}
	webapi.WriteJSON(w, result.StatusCode, resp)
}
