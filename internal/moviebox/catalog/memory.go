package catalog

import (
	"context"
	"sync"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
)

// MemoryStore keeps the catalog in an in-memory slice guarded by an RWMutex.
// Lookups scan linearly; the catalog is a personal list, not a large table,
// so a scan beats the bookkeeping of an index. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	movies []models.Movie
	nextID int64
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// List returns a copy of the catalog in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]models.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Movie, len(s.movies))
	copy(out, s.movies)
	return out, nil
}

// Get returns the movie with the given ID, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id int64) (models.Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.movies {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Movie{}, ErrNotFound
}

// Add inserts a movie. A zero ID gets the next sequential ID; an explicit ID
// must not collide with an existing record.
func (s *MemoryStore) Add(ctx context.Context, movie models.Movie) (models.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if movie.ID == 0 {
		movie.ID = s.nextID
		s.nextID++
	} else {
		for _, m := range s.movies {
			if m.ID == movie.ID {
				return models.Movie{}, ErrDuplicateID
			}
		}
		// Keep assigned IDs ahead of any explicit one.
		if movie.ID >= s.nextID {
			s.nextID = movie.ID + 1
		}
	}

	s.movies = append(s.movies, movie)
	return movie, nil
}

// Replace overwrites the record whose ID matches movie.ID in place, keeping
// its position in the list.
func (s *MemoryStore) Replace(ctx context.Context, movie models.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.movies {
		if s.movies[i].ID == movie.ID {
			s.movies[i] = movie
			return nil
		}
	}
	return ErrNotFound
}

// Remove deletes the movie with the given ID.
func (s *MemoryStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.movies {
		if s.movies[i].ID == id {
			s.movies = append(s.movies[:i], s.movies[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
