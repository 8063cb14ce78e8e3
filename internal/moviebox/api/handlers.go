package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/moviebox/catalog"
	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
	"github.com/pocketscreen/mobile-services/internal/moviebox/service"
	"github.com/pocketscreen/mobile-services/internal/webapi"
)

// CatalogService is the slice of the movie service the handlers depend on.
type CatalogService interface {
	List(ctx context.Context) ([]models.Movie, error)
	Get(ctx context.Context, id int64) (models.Movie, error)
	Add(ctx context.Context, movie models.Movie) (models.Movie, error)
	Update(ctx context.Context, movie models.Movie) (models.Movie, error)
	Remove(ctx context.Context, id int64) error
	ToggleFavorite(ctx context.Context, id int64) (models.Movie, error)
	ToggleWatched(ctx context.Context, id int64) (models.Movie, error)
	SetRating(ctx context.Context, id int64, rating int) (models.Movie, error)
	SetNote(ctx context.Context, id int64, note string) (models.Movie, error)
}

// StorePinger reports store reachability for the health endpoint.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Config holds handler-level settings.
type Config struct {
	Version string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service CatalogService
	pinger  StorePinger
	cfg     Config
}

// NewHandler returns a new Handler.
func NewHandler(catalogService CatalogService, pinger StorePinger, cfg Config) *Handler {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Handler{
		service: catalogService,
		pinger:  pinger,
		cfg:     cfg,
	}
}

type ratingRequest struct {
	Rating int `json:"rating"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// ListMovies handles GET /movies. Returns a snapshot of the whole catalog.
func (h *Handler) ListMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := h.service.List(r.Context())
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	if movies == nil {
		movies = []models.Movie{}
	}
	webapi.WriteJSON(w, http.StatusOK, movies)
}

// CreateMovie handles POST /movies. The stored record (with assigned ID)
// comes back with 201.
func (h *Handler) CreateMovie(w http.ResponseWriter, r *http.Request) {
	var movie models.Movie
	if err := json.NewDecoder(r.Body).Decode(&movie); err != nil {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON movie")
		return
	}

	stored, err := h.service.Add(r.Context(), movie)
	if err != nil {
		if isValidationError(err) {
			webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_MOVIE", err.Error())
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}
	webapi.WriteJSON(w, http.StatusCreated, stored)
}

// GetMovie handles GET /movies/{id}.
func (h *Handler) GetMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}
	movie, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	webapi.WriteJSON(w, http.StatusOK, movie)
}

// UpdateMovie handles PUT /movies/{id}. The stored record is replaced
// wholesale with the request body; the path ID wins over any ID in the body.
func (h *Handler) UpdateMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}
	var movie models.Movie
	if err := json.NewDecoder(r.Body).Decode(&movie); err != nil {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON movie")
		return
	}
	movie.ID = id

	updated, err := h.service.Update(r.Context(), movie)
	if err != nil {
		if isValidationError(err) {
			webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_MOVIE", err.Error())
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}
	webapi.WriteJSON(w, http.StatusOK, updated)
}

// DeleteMovie handles DELETE /movies/{id}.
func (h *Handler) DeleteMovie(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), id); err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleFavorite handles POST /movies/{id}/favorite. Flips the flag and
// returns the updated record.
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleFavorite)
}

// ToggleWatched handles POST /movies/{id}/watched.
func (h *Handler) ToggleWatched(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ToggleWatched)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, flip func(context.Context, int64) (models.Movie, error)) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}
	movie, err := flip(r.Context(), id)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	webapi.WriteJSON(w, http.StatusOK, movie)
}

// SetRating handles PUT /movies/{id}/rating with body {"rating": n}.
// Ratings run 1-5; zero clears the rating.
func (h *Handler) SetRating(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_BODY", `request body must be JSON {"rating": n}`)
		return
	}

	movie, err := h.service.SetRating(r.Context(), id, req.Rating)
	if err != nil {
		if errors.Is(err, models.ErrRatingOutOfRange) {
			webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_RATING", err.Error())
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}
	webapi.WriteJSON(w, http.StatusOK, movie)
}

// SetNote handles PUT /movies/{id}/note with body {"note": "..."}.
func (h *Handler) SetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := movieID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_BODY", `request body must be JSON {"note": "..."}`)
		return
	}

	movie, err := h.service.SetNote(r.Context(), id, req.Note)
	if err != nil {
		if errors.Is(err, service.ErrNoteTooLong) {
			webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		h.writeCatalogError(w, r, err)
		return
	}
	webapi.WriteJSON(w, http.StatusOK, movie)
}

// GetHealth handles GET /health. The store ping is the only dependency check.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	statusCode := http.StatusOK
	detail := ""

	if err := h.pinger.Ping(r.Context()); err != nil {
		checks["store"] = "unhealthy"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
		detail = "store_unreachable"
	} else {
		checks["store"] = "healthy"
	}

	resp := map[string]interface{}{
		"status":    status,
		"service":   "moviebox-service",
		"version":   h.cfg.Version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if detail != "" {
		resp["detail"] = detail
	}
	webapi.WriteJSON(w, statusCode, resp)
}

// movieID extracts the {id} path variable. On a malformed ID it writes the
// 400 response itself and reports false.
func movieID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		webapi.WriteError(w, r, http.StatusBadRequest, "INVALID_ID", "movie id must be an integer")
		return 0, false
	}
	return id, true
}

func isValidationError(err error) bool {
	return errors.Is(err, models.ErrTitleRequired) ||
		errors.Is(err, models.ErrRatingOutOfRange) ||
		errors.Is(err, service.ErrNoteTooLong)
}

// writeCatalogError maps the catalog sentinels onto the error envelope;
// anything else is an infrastructure fault reported as 503.
func (h *Handler) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		webapi.WriteError(w, r, http.StatusNotFound, "MOVIE_NOT_FOUND", "no such movie")
	case errors.Is(err, catalog.ErrDuplicateID):
		webapi.WriteError(w, r, http.StatusConflict, "DUPLICATE_MOVIE", "a movie with that id already exists")
	default:
		webapi.WriteError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Unable to access the movie catalog")
		if logger := webapi.Logger(r.Context()); logger != nil {
			logger.Debug("store error", zap.Error(err))
		}
	}
}
