package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
)

func seedMovies(t *testing.T, store Store, titles ...string) []models.Movie {
	t.Helper()
	ctx := context.Background()
	out := make([]models.Movie, 0, len(titles))
	for _, title := range titles {
		m, err := store.Add(ctx, models.Movie{Title: title})
		if err != nil {
			t.Fatalf("Add(%q) err = %v", title, err)
		}
		out = append(out, m)
	}
	return out
}

func TestMemoryStore_AddAssignsSequentialIDs(t *testing.T) {
	store := NewMemoryStore()
	movies := seedMovies(t, store, "Heat", "Alien", "Ronin")

	for i, m := range movies {
		if want := int64(i + 1); m.ID != want {
			t.Errorf("movie %q ID = %d, want %d", m.Title, m.ID, want)
		}
	}
}

// TestMemoryStore_AddExplicitIDAdvancesSequence verifies that an Add with an
// explicit ID moves the auto-assign sequence past it, so a later zero-ID Add
// cannot collide.
func TestMemoryStore_AddExplicitIDAdvancesSequence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Add(ctx, models.Movie{ID: 10, Title: "Heat"}); err != nil {
		t.Fatalf("Add() err = %v", err)
	}
	m, err := store.Add(ctx, models.Movie{Title: "Alien"})
	if err != nil {
		t.Fatalf("Add() err = %v", err)
	}
	if m.ID != 11 {
		t.Errorf("auto-assigned ID = %d, want 11", m.ID)
	}
}

func TestMemoryStore_AddDuplicateID(t *testing.T) {
	store := NewMemoryStore()
	seedMovies(t, store, "Heat")

	_, err := store.Add(context.Background(), models.Movie{ID: 1, Title: "Alien"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Add() err = %v, want ErrDuplicateID", err)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() err = %v, want ErrNotFound", err)
	}
}

// TestMemoryStore_ListReturnsCopy verifies that mutating the returned slice
// does not leak into the catalog.
func TestMemoryStore_ListReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	seedMovies(t, store, "Heat")
	ctx := context.Background()

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	listed[0].Title = "Tampered"
	listed[0].Favorite = true

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if got.Title != "Heat" || got.Favorite {
		t.Errorf("stored movie mutated through List copy: %+v", got)
	}
}

// TestMemoryStore_ReplaceWholesale verifies that Replace overwrites every
// field of the stored record, including fields going back to zero values.
func TestMemoryStore_ReplaceWholesale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	added, err := store.Add(ctx, models.Movie{
		Title:    "Heat",
		Overview: "A heist crew and a detective circle each other.",
		Note:     "rewatch the diner scene",
		Rating:   5,
		Favorite: true,
		Watched:  true,
	})
	if err != nil {
		t.Fatalf("Add() err = %v", err)
	}

	replacement := models.Movie{ID: added.ID, Title: "Heat (Director's Cut)"}
	if err := store.Replace(ctx, replacement); err != nil {
		t.Fatalf("Replace() err = %v", err)
	}

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if got != replacement {
		t.Errorf("Get() = %+v, want %+v", got, replacement)
	}
}

// TestMemoryStore_ReplaceUnknownIDLeavesCatalogUntouched verifies that a
// Replace against a missing ID reports ErrNotFound without mutating anything.
func TestMemoryStore_ReplaceUnknownIDLeavesCatalogUntouched(t *testing.T) {
	store := NewMemoryStore()
	seedMovies(t, store, "Heat", "Alien")
	ctx := context.Background()

	before, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}

	err = store.Replace(ctx, models.Movie{ID: 99, Title: "Ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Replace() err = %v, want ErrNotFound", err)
	}

	after, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("catalog size changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("movie %d changed: %+v -> %+v", before[i].ID, before[i], after[i])
		}
	}
}

// TestMemoryStore_ReplaceKeepsPosition verifies that a replaced record stays
// at its original index in the list.
func TestMemoryStore_ReplaceKeepsPosition(t *testing.T) {
	store := NewMemoryStore()
	movies := seedMovies(t, store, "Heat", "Alien", "Ronin")
	ctx := context.Background()

	middle := movies[1]
	middle.Watched = true
	if err := store.Replace(ctx, middle); err != nil {
		t.Fatalf("Replace() err = %v", err)
	}

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if listed[1].ID != middle.ID || !listed[1].Watched {
		t.Errorf("list[1] = %+v, want replaced record in place", listed[1])
	}
}

// TestMemoryStore_ToggleFlipsExactlyOne runs the read-modify-replace cycle a
// toggle performs and asserts exactly one record's flag flipped while every
// other record stayed identical.
func TestMemoryStore_ToggleFlipsExactlyOne(t *testing.T) {
	store := NewMemoryStore()
	movies := seedMovies(t, store, "Heat", "Alien", "Ronin", "Sneakers", "Contact")
	ctx := context.Background()

	before, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}

	target := movies[2]
	toggled := target
	toggled.Favorite = !toggled.Favorite
	if err := store.Replace(ctx, toggled); err != nil {
		t.Fatalf("Replace() err = %v", err)
	}

	after, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("catalog size changed: %d -> %d", len(before), len(after))
	}

	changed := 0
	for i := range after {
		if after[i] == before[i] {
			continue
		}
		changed++
		if after[i].ID != target.ID {
			t.Errorf("unexpected record changed: %+v -> %+v", before[i], after[i])
		}
		want := before[i]
		want.Favorite = !want.Favorite
		if after[i] != want {
			t.Errorf("toggle changed more than the flag: %+v -> %+v", before[i], after[i])
		}
	}
	if changed != 1 {
		t.Errorf("changed records = %d, want exactly 1", changed)
	}
}

func TestMemoryStore_Remove(t *testing.T) {
	store := NewMemoryStore()
	movies := seedMovies(t, store, "Heat", "Alien")
	ctx := context.Background()

	if err := store.Remove(ctx, movies[0].ID); err != nil {
		t.Fatalf("Remove() err = %v", err)
	}

	if _, err := store.Get(ctx, movies[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after remove err = %v, want ErrNotFound", err)
	}
	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != movies[1].ID {
		t.Errorf("List() = %+v, want only %q left", listed, movies[1].Title)
	}
}

func TestMemoryStore_RemoveNotFound(t *testing.T) {
	store := NewMemoryStore()
	err := store.Remove(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove() err = %v, want ErrNotFound", err)
	}
}

// TestMemoryStore_ConcurrentAccess exercises mixed reads and writes under the
// race detector.
func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m, err := store.Add(ctx, models.Movie{Title: fmt.Sprintf("movie-%d-%d", n, j)})
				if err != nil {
					t.Errorf("Add() err = %v", err)
					return
				}
				m.Watched = true
				if err := store.Replace(ctx, m); err != nil {
					t.Errorf("Replace() err = %v", err)
					return
				}
				if _, err := store.List(ctx); err != nil {
					t.Errorf("List() err = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if len(listed) != 200 {
		t.Errorf("List() len = %d, want 200", len(listed))
	}
}
