package models

import "time"

// Reading is one point-in-time set of current conditions for a location,
// mapped from the provider response and replaced wholesale on every fetch.
type Reading struct {
	Location    string    `json:"location"`
	Temperature float64   `json:"temperature"` // °C
	FeelsLike   float64   `json:"feelsLike"`   // °C
	Humidity    int       `json:"humidity"`    // percent
	WindSpeed   float64   `json:"windSpeed"`   // km/h
	Pressure    float64   `json:"pressure"`    // millibars
	Visibility  float64   `json:"visibility"`  // km
	UVIndex     float64   `json:"uvIndex"`
	Conditions  string    `json:"conditions"`
	Icon        string    `json:"icon"`
	Timestamp   time.Time `json:"timestamp"`
	Stale       bool      `json:"stale,omitempty"` // Indicates data served from stale cache
}
