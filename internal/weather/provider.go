package weather

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProviderUnavailable is returned when the forecast provider answers
	// with a non-2xx status or cannot be reached.
	ErrProviderUnavailable = errors.New("forecast provider unavailable")

	// ErrMalformedResponse is returned when the provider payload cannot be
	// decoded or its parallel series are inconsistent.
	ErrMalformedResponse = errors.New("malformed forecast response")

	// ErrNetworkTimeout is returned when the provider call exceeds the
	// caller's timeout.
	ErrNetworkTimeout = errors.New("forecast request timed out")

	// ErrCityNotTracked is returned when a lookup names a city that is not
	// in the registry for the requested scope.
	ErrCityNotTracked = errors.New("city is not tracked")

	// ErrUserNotFound is returned when a request references an unknown user.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidParameters is returned when the requested weather parameter
	// list filters down to nothing.
	ErrInvalidParameters = errors.New("invalid weather parameters")

	// ErrNoDataForTimestamp is returned when no stored sample matches the
	// lookup timestamp exactly.
	ErrNoDataForTimestamp = errors.New("no weather data for timestamp")

	// ErrCoordinatesRequired is returned when a city registration omits
	// coordinates and no geocoder is configured to resolve them.
	ErrCoordinatesRequired = errors.New("latitude and longitude are required")

	// ErrNotFound is returned by Store implementations when a row does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps persistence failures. Fatal to the current
	// operation; no partial state has been committed.
	ErrStoreUnavailable = errors.New("weather store unavailable")
)

// ForecastProvider abstracts the external forecast source. Implementations
// issue exactly one network call per invocation; retry policy, if any,
// belongs to the caller.
type ForecastProvider interface {
	// FetchDay fetches the sub-hourly forecast series for one local day.
	FetchDay(ctx context.Context, lat, lon float64, day time.Time) (Series, error)

	// Current fetches current conditions at the given coordinates.
	Current(ctx context.Context, lat, lon float64) (Reading, error)
}

// Store is the contract the persistent store must satisfy.
type Store interface {
	CreateUser(ctx context.Context, name string) (User, bool, error)
	GetUser(ctx context.Context, id string) (User, error)

	CreateCity(ctx context.Context, city City) (City, error)
	FindCity(ctx context.Context, name string, ownerID *string) (City, error)
	FindCitiesByName(ctx context.Context, name string) ([]City, error)
	ListCities(ctx context.Context, ownerID *string) ([]City, error)
	ListAllCities(ctx context.Context) ([]City, error)

	// ReplaceDaySamples atomically swaps the full sample set for (city, day).
	ReplaceDaySamples(ctx context.Context, cityID string, day time.Time, samples []Sample) error

	// FindSample returns the sample at the exact timestamp projected to the
	// given fields.
	FindSample(ctx context.Context, cityID string, ts time.Time, fields []Field) (map[Field]*float64, error)
}

// Geocoder resolves a city name to coordinates. Optional; registration
// falls back to it only when the request carries no coordinates.
type Geocoder interface {
	Locate(city string) (lat, lon float64, err error)
}
