package catalog

import (
	"context"
	"errors"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
)

var (
	// ErrNotFound indicates the requested movie ID is not in the catalog.
	ErrNotFound = errors.New("movie not found")
	// ErrDuplicateID indicates an Add with an ID the catalog already holds.
	ErrDuplicateID = errors.New("movie id already exists")
)

// Store is the catalog persistence interface. All mutations are wholesale:
// Replace swaps the stored record for the given ID with the new value, so
// callers follow a read-modify-replace cycle. Reads return copies; mutating
// a returned Movie never touches the store.
type Store interface {
	// List returns every movie in insertion order.
	List(ctx context.Context) ([]models.Movie, error)
	// Get returns the movie with the given ID, or ErrNotFound.
	Get(ctx context.Context, id int64) (models.Movie, error)
	// Add inserts a movie. A zero ID is assigned by the store; a non-zero
	// ID that already exists yields ErrDuplicateID. Returns the stored record.
	Add(ctx context.Context, movie models.Movie) (models.Movie, error)
	// Replace overwrites the record whose ID matches movie.ID, or ErrNotFound.
	Replace(ctx context.Context, movie models.Movie) error
	// Remove deletes the movie with the given ID, or ErrNotFound.
	Remove(ctx context.Context, id int64) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases store resources.
	Close() error
}
