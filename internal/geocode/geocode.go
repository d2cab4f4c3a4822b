// Package geocode resolves city names to coordinates through the Google
// Geocoding API. It backs city registrations that omit latitude and
// longitude; an API key is required.
package geocode

import (
	"fmt"

	"github.com/kelvins/geocoder"
)

// Google is a weather.Geocoder backed by the Google Geocoding API.
type Google struct{}

// New configures the geocoder with the given API key.
func New(apiKey string) *Google {
	geocoder.ApiKey = apiKey
	return &Google{}
}

// Locate resolves a city name to coordinates.
func (g *Google) Locate(city string) (float64, float64, error) {
	loc, err := geocoder.Geocoding(geocoder.Address{City: city})
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding %s: %w", city, err)
	}
	return loc.Latitude, loc.Longitude, nil
}
