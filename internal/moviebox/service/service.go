package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/moviebox/catalog"
	"github.com/pocketscreen/mobile-services/internal/moviebox/feed"
	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
	"github.com/pocketscreen/mobile-services/internal/moviebox/observability"
	"github.com/pocketscreen/mobile-services/internal/webapi"
)

// ErrNoteTooLong indicates a note above the configured length cap.
var ErrNoteTooLong = errors.New("note exceeds maximum length")

// MovieService owns catalog mutations. Partial mutations (toggles, rating,
// note) follow read-modify-replace: fetch the record, change one field, and
// replace the stored record wholesale. Every successful mutation publishes
// exactly one feed event.
type MovieService struct {
	store         catalog.Store
	feed          *feed.Feed
	noteMaxLength int
}

// NewMovieService creates the service. noteMaxLength caps SetNote in runes;
// zero or negative disables the cap.
func NewMovieService(store catalog.Store, f *feed.Feed, noteMaxLength int) *MovieService {
	return &MovieService{
		store:         store,
		feed:          f,
		noteMaxLength: noteMaxLength,
	}
}

// List returns the whole catalog.
func (s *MovieService) List(ctx context.Context) ([]models.Movie, error) {
	return s.store.List(ctx)
}

// Get returns one movie by ID.
func (s *MovieService) Get(ctx context.Context, id int64) (models.Movie, error) {
	return s.store.Get(ctx, id)
}

// Add validates and stores a new movie, then announces it on the feed.
func (s *MovieService) Add(ctx context.Context, movie models.Movie) (models.Movie, error) {
	if err := movie.Validate(); err != nil {
		return models.Movie{}, err
	}
	if err := s.checkNote(movie.Note); err != nil {
		return models.Movie{}, err
	}

	added, err := s.store.Add(ctx, movie)
	if err != nil {
		recordStoreFailure("add", err)
		return models.Movie{}, err
	}
	s.record(ctx, "add", feed.EventMovieAdded, added)
	return added, nil
}

// Update replaces the stored record wholesale with the given one.
func (s *MovieService) Update(ctx context.Context, movie models.Movie) (models.Movie, error) {
	if err := movie.Validate(); err != nil {
		return models.Movie{}, err
	}
	if err := s.checkNote(movie.Note); err != nil {
		return models.Movie{}, err
	}

	if err := s.store.Replace(ctx, movie); err != nil {
		recordStoreFailure("update", err)
		return models.Movie{}, err
	}
	s.record(ctx, "update", feed.EventMovieUpdated, movie)
	return movie, nil
}

// Remove deletes a movie. The removal event carries the last stored record.
func (s *MovieService) Remove(ctx context.Context, id int64) error {
	movie, err := s.store.Get(ctx, id)
	if err != nil {
		recordStoreFailure("remove", err)
		return err
	}
	if err := s.store.Remove(ctx, id); err != nil {
		recordStoreFailure("remove", err)
		return err
	}
	s.record(ctx, "remove", feed.EventMovieRemoved, movie)
	return nil
}

// ToggleFavorite flips the favorite flag of one movie, touching nothing else.
func (s *MovieService) ToggleFavorite(ctx context.Context, id int64) (models.Movie, error) {
	return s.mutate(ctx, id, "toggle_favorite", func(m *models.Movie) {
		m.Favorite = !m.Favorite
	})
}

// ToggleWatched flips the watched flag of one movie, touching nothing else.
func (s *MovieService) ToggleWatched(ctx context.Context, id int64) (models.Movie, error) {
	return s.mutate(ctx, id, "toggle_watched", func(m *models.Movie) {
		m.Watched = !m.Watched
	})
}

// SetRating sets the 1-5 rating. Zero clears it. An out-of-range rating is
// rejected before the record is read, so nothing is touched.
func (s *MovieService) SetRating(ctx context.Context, id int64, rating int) (models.Movie, error) {
	if rating != 0 && (rating < models.MinRating || rating > models.MaxRating) {
		return models.Movie{}, models.ErrRatingOutOfRange
	}
	return s.mutate(ctx, id, "set_rating", func(m *models.Movie) {
		m.Rating = rating
	})
}

// SetNote replaces the note text, subject to the length cap.
func (s *MovieService) SetNote(ctx context.Context, id int64, note string) (models.Movie, error) {
	if err := s.checkNote(note); err != nil {
		return models.Movie{}, err
	}
	return s.mutate(ctx, id, "set_note", func(m *models.Movie) {
		m.Note = note
	})
}

// mutate runs one read-modify-replace cycle and publishes the update event.
func (s *MovieService) mutate(ctx context.Context, id int64, op string, change func(*models.Movie)) (models.Movie, error) {
	movie, err := s.store.Get(ctx, id)
	if err != nil {
		recordStoreFailure(op, err)
		return models.Movie{}, err
	}

	change(&movie)

	if err := s.store.Replace(ctx, movie); err != nil {
		recordStoreFailure(op, err)
		return models.Movie{}, err
	}
	s.record(ctx, op, feed.EventMovieUpdated, movie)
	return movie, nil
}

func (s *MovieService) checkNote(note string) error {
	if s.noteMaxLength > 0 && utf8.RuneCountInString(note) > s.noteMaxLength {
		return fmt.Errorf("%w: %d > %d characters", ErrNoteTooLong, utf8.RuneCountInString(note), s.noteMaxLength)
	}
	return nil
}

// record counts the mutation and publishes its single feed event.
func (s *MovieService) record(ctx context.Context, op, eventType string, movie models.Movie) {
	observability.MovieMutationsTotal.WithLabelValues(op).Inc()
	event := s.feed.Publish(eventType, movie)
	if logger := webapi.Logger(ctx); logger != nil {
		logger.Debug("catalog mutated",
			zap.String("operation", op),
			zap.Int64("movie_id", movie.ID),
			zap.Uint64("seq", event.Seq))
	}
}

// recordStoreFailure counts infrastructure failures; domain outcomes like a
// missing or duplicate ID are not store faults.
func recordStoreFailure(op string, err error) {
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrDuplicateID) {
		return
	}
	observability.StoreErrorsTotal.WithLabelValues(op).Inc()
}
