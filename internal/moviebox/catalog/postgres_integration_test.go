//go:build integration
// +build integration

package catalog

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Skipf("NewPostgresStore() failed (postgres may not be running): %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestPostgresStore_CRUD_Integration runs the full catalog cycle against a
// real PostgreSQL instance.
func TestPostgresStore_CRUD_Integration(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, models.Movie{
		Title:    "Heat",
		Note:     "rewatch the diner scene",
		Rating:   5,
		Favorite: true,
	})
	if err != nil {
		t.Fatalf("Add() err = %v", err)
	}
	if added.ID == 0 {
		t.Fatal("Add() left ID zero, want assigned ID")
	}
	defer store.Remove(ctx, added.ID)

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if got != added {
		t.Errorf("Get() = %+v, want %+v", got, added)
	}

	_, err = store.Add(ctx, models.Movie{ID: added.ID, Title: "Alien"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Add() duplicate err = %v, want ErrDuplicateID", err)
	}

	replacement := models.Movie{ID: added.ID, Title: "Heat (Director's Cut)"}
	if err := store.Replace(ctx, replacement); err != nil {
		t.Fatalf("Replace() err = %v", err)
	}
	got, err = store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get() after replace err = %v", err)
	}
	if got != replacement {
		t.Errorf("Get() after replace = %+v, want %+v", got, replacement)
	}

	if err := store.Remove(ctx, added.ID); err != nil {
		t.Fatalf("Remove() err = %v", err)
	}
	if _, err := store.Get(ctx, added.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after remove err = %v, want ErrNotFound", err)
	}
}

// TestPostgresStore_CanceledContext_Integration verifies operations fail fast
// when the caller's context is already canceled.
func TestPostgresStore_CanceledContext_Integration(t *testing.T) {
	store := newTestPostgresStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.List(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("List() err = %v, want context.Canceled", err)
	}
	if _, err := store.Add(ctx, models.Movie{Title: "Heat"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Add() err = %v, want context.Canceled", err)
	}
}
