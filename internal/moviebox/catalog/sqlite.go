package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore persists the catalog in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path, creating the file and schema
// when they do not exist yet.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS movies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			poster_url TEXT NOT NULL DEFAULT '',
			overview TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL DEFAULT 0,
			favorite INTEGER NOT NULL DEFAULT 0,
			watched INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create movies table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// List returns every movie ordered by ID, which matches insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]models.Movie, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, poster_url, overview, note, rating, favorite, watched
		FROM movies ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query movies: %w", err)
	}
	defer rows.Close()

	var movies []models.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movie row: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movie rows: %w", err)
	}
	return movies, nil
}

// Get returns the movie with the given ID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (models.Movie, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, poster_url, overview, note, rating, favorite, watched
		FROM movies WHERE id = ?
	`, id)
	m, err := scanMovie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Movie{}, ErrNotFound
	}
	if err != nil {
		return models.Movie{}, fmt.Errorf("query movie %d: %w", id, err)
	}
	return m, nil
}

// Add inserts a movie. A zero ID lets SQLite assign the next rowid; an
// explicit ID is checked for collision inside a transaction so concurrent
// adds cannot slip past the check.
func (s *SQLiteStore) Add(ctx context.Context, movie models.Movie) (models.Movie, error) {
	if movie.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO movies (title, poster_url, overview, note, rating, favorite, watched)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, movie.Title, movie.PosterURL, movie.Overview, movie.Note, movie.Rating,
			boolToInt(movie.Favorite), boolToInt(movie.Watched))
		if err != nil {
			return models.Movie{}, fmt.Errorf("insert movie: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return models.Movie{}, fmt.Errorf("read inserted id: %w", err)
		}
		movie.ID = id
		return movie, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Movie{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM movies WHERE id = ?`, movie.ID).Scan(&count); err != nil {
		return models.Movie{}, fmt.Errorf("check movie %d: %w", movie.ID, err)
	}
	if count > 0 {
		return models.Movie{}, ErrDuplicateID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO movies (id, title, poster_url, overview, note, rating, favorite, watched)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, movie.ID, movie.Title, movie.PosterURL, movie.Overview, movie.Note, movie.Rating,
		boolToInt(movie.Favorite), boolToInt(movie.Watched)); err != nil {
		return models.Movie{}, fmt.Errorf("insert movie %d: %w", movie.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Movie{}, fmt.Errorf("commit insert: %w", err)
	}
	return movie, nil
}

// Replace overwrites every mutable column of the record with movie.ID.
func (s *SQLiteStore) Replace(ctx context.Context, movie models.Movie) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE movies
		SET title = ?, poster_url = ?, overview = ?, note = ?, rating = ?, favorite = ?, watched = ?
		WHERE id = ?
	`, movie.Title, movie.PosterURL, movie.Overview, movie.Note, movie.Rating,
		boolToInt(movie.Favorite), boolToInt(movie.Watched), movie.ID)
	if err != nil {
		return fmt.Errorf("update movie %d: %w", movie.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the movie with the given ID.
func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM movies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete movie %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner lets scanMovie work with both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovie(row rowScanner) (models.Movie, error) {
	var m models.Movie
	var favorite, watched int
	if err := row.Scan(&m.ID, &m.Title, &m.PosterURL, &m.Overview, &m.Note,
		&m.Rating, &favorite, &watched); err != nil {
		return models.Movie{}, err
	}
	// SQLite stores booleans as integers.
	m.Favorite = favorite != 0
	m.Watched = watched != 0
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
