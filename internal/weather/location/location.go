package location

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ErrNotCoordinates is returned by ParseCoordinates when the input is not a
// "lat,lon" pair at all; callers treat such input as a place name.
var ErrNotCoordinates = errors.New("not a coordinate pair")

// ErrCoordinatesOutOfRange is returned when a coordinate pair parses but lies
// outside latitude ±90 / longitude ±180.
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// Coordinates is a GPS fix as received from the caller.
type Coordinates struct {
	Lat float64
	Lon float64
}

// String renders the canonical "lat,lon" form with four decimals (~11 m),
// which is what cache keys and upstream queries use. Nearby GPS fixes
// therefore collapse onto one key.
func (c Coordinates) String() string {
	return strconv.FormatFloat(round4(c.Lat), 'f', 4, 64) + "," + strconv.FormatFloat(round4(c.Lon), 'f', 4, 64)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// ParseCoordinates parses a "lat,lon" pair. Returns ErrNotCoordinates when the
// input does not have two numeric comma-separated fields, and
// ErrCoordinatesOutOfRange when it does but the values are not on the globe.
func ParseCoordinates(input string) (Coordinates, error) {
	parts := strings.Split(strings.TrimSpace(input), ",")
	if len(parts) != 2 {
		return Coordinates{}, ErrNotCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinates{}, ErrNotCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinates{}, ErrNotCoordinates
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinates{}, ErrCoordinatesOutOfRange
	}
	return Coordinates{Lat: lat, Lon: lon}, nil
}

// Normalize returns the canonical form of a location input: coordinate pairs
// become the rounded "lat,lon" string, everything else is trimmed and
// lowercased. The result is used for cache keys and upstream queries so the
// same place always resolves to the same entry.
func Normalize(input string) string {
	if c, err := ParseCoordinates(input); err == nil {
		return c.String()
	}
	return strings.ToLower(strings.TrimSpace(input))
}

// Validate trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space,
// comma, period, hyphen. Period is allowed because coordinate pairs share
// this path. Returns the trimmed string or an error suitable for 400
// INVALID_LOCATION responses. Normalization is left to Normalize.
func Validate(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// isAllowedRune returns true for letters (Unicode), digits, space, comma,
// period, hyphen.
func isAllowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '.', '-':
		return true
	}
	return false
}
