package models

import "errors"

// Rating bounds for a rated movie. Zero means unrated.
const (
	MinRating = 1
	MaxRating = 5
)

var (
	// ErrTitleRequired indicates a movie submitted without a title.
	ErrTitleRequired = errors.New("movie title is required")
	// ErrRatingOutOfRange indicates a rating outside the 1-5 scale.
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
)

// Movie is one catalog entry. Mutations replace the whole record, so a
// Movie value travels through the system as an immutable snapshot.
type Movie struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	PosterURL string `json:"posterUrl,omitempty"`
	Overview  string `json:"overview,omitempty"`
	Note      string `json:"note,omitempty"`
	Rating    int    `json:"rating"` // 0 = unrated, otherwise 1-5
	Favorite  bool   `json:"favorite"`
	Watched   bool   `json:"watched"`
}

// Validate checks the fields a caller controls. ID is assigned by the
// catalog and is not validated here.
func (m Movie) Validate() error {
	if m.Title == "" {
		return ErrTitleRequired
	}
	if m.Rating != 0 && (m.Rating < MinRating || m.Rating > MaxRating) {
		return ErrRatingOutOfRange
	}
	return nil
}
