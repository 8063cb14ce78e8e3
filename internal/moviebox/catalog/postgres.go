package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
)

// movieRecord is the GORM mapping for a catalog entry.
type movieRecord struct {
	ID        int64 `gorm:"primaryKey"`
	Title     string
	PosterURL string
	Overview  string
	Note      string
	Rating    int
	Favorite  bool
	Watched   bool
}

func (movieRecord) TableName() string { return "movies" }

func toRecord(m models.Movie) movieRecord {
	return movieRecord{
		ID:        m.ID,
		Title:     m.Title,
		PosterURL: m.PosterURL,
		Overview:  m.Overview,
		Note:      m.Note,
		Rating:    m.Rating,
		Favorite:  m.Favorite,
		Watched:   m.Watched,
	}
}

func (r movieRecord) toMovie() models.Movie {
	return models.Movie{
		ID:        r.ID,
		Title:     r.Title,
		PosterURL: r.PosterURL,
		Overview:  r.Overview,
		Note:      r.Note,
		Rating:    r.Rating,
		Favorite:  r.Favorite,
		Watched:   r.Watched,
	}
}

// PostgresStore persists the catalog in PostgreSQL through GORM.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to PostgreSQL and migrates the movies table.
// TranslateError maps driver-specific failures onto gorm's sentinel errors
// so duplicate keys can be detected portably.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&movieRecord{}); err != nil {
		return nil, fmt.Errorf("migrate movies table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// List returns every movie ordered by ID.
func (s *PostgresStore) List(ctx context.Context) ([]models.Movie, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var records []movieRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	movies := make([]models.Movie, len(records))
	for i, r := range records {
		movies[i] = r.toMovie()
	}
	return movies, nil
}

// Get returns the movie with the given ID, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id int64) (models.Movie, error) {
	select {
	case <-ctx.Done():
		return models.Movie{}, ctx.Err()
	default:
	}

	var record movieRecord
	err := s.db.WithContext(ctx).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Movie{}, ErrNotFound
	}
	if err != nil {
		return models.Movie{}, fmt.Errorf("get movie %d: %w", id, err)
	}
	return record.toMovie(), nil
}

// Add inserts a movie. A zero ID is assigned by the database sequence.
func (s *PostgresStore) Add(ctx context.Context, movie models.Movie) (models.Movie, error) {
	select {
	case <-ctx.Done():
		return models.Movie{}, ctx.Err()
	default:
	}

	record := toRecord(movie)
	err := s.db.WithContext(ctx).Create(&record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.Movie{}, ErrDuplicateID
	}
	if err != nil {
		return models.Movie{}, fmt.Errorf("insert movie: %w", err)
	}
	movie.ID = record.ID
	return movie, nil
}

// Replace overwrites every mutable column of the record with movie.ID.
// The explicit Select forces zero values through, which a bare struct
// update would skip.
func (s *PostgresStore) Replace(ctx context.Context, movie models.Movie) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	res := s.db.WithContext(ctx).Model(&movieRecord{ID: movie.ID}).
		Select("title", "poster_url", "overview", "note", "rating", "favorite", "watched").
		Updates(toRecord(movie))
	if res.Error != nil {
		return fmt.Errorf("update movie %d: %w", movie.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the movie with the given ID.
func (s *PostgresStore) Remove(ctx context.Context, id int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	res := s.db.WithContext(ctx).Delete(&movieRecord{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete movie %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	return sqlDB.Close()
}
