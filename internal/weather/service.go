package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	dayLayout        = "2006-01-02"
	timeOfDayLayout  = "15:04:05"
	lookupTimeLayout = "2006-01-02 15:04:05"
)

// Service orchestrates the refresh pipeline and lookups over the store.
type Service struct {
	store    Store
	provider ForecastProvider
	geo      Geocoder

	now func() time.Time
}

// NewService creates a new Service. geo may be nil when no geocoder is
// configured; registrations must then carry coordinates.
func NewService(st Store, provider ForecastProvider, geo Geocoder) *Service {
	return &Service{
		store:    st,
		provider: provider,
		geo:      geo,
		now:      time.Now,
	}
}

// RegisterUser creates a user by name or returns the existing one.
func (s *Service) RegisterUser(ctx context.Context, name string) (User, bool, error) {
	return s.store.CreateUser(ctx, name)
}

// RegisterCityInput is a city registration request. Coordinates may be
// omitted only when a geocoder is configured.
type RegisterCityInput struct {
	Name      string
	Latitude  *float64
	Longitude *float64
	OwnerID   *string
}

// RegisterCityResult reports the outcome of a registration, including
// whether the synchronous scoped refresh succeeded. A failed refresh does
// not roll the city back.
type RegisterCityResult struct {
	City       City
	Created    bool
	Refreshed  bool
	RefreshErr error
}

// RegisterCity adds a city to the owner's list (global when OwnerID is
// nil) and runs a scoped refresh for it. Registering an already tracked
// (name, owner) pair returns the existing city without touching the
// provider.
func (s *Service) RegisterCity(ctx context.Context, in RegisterCityInput) (RegisterCityResult, error) {
	if in.OwnerID != nil {
		if _, err := s.store.GetUser(ctx, *in.OwnerID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return RegisterCityResult{}, fmt.Errorf("%w: %s", ErrUserNotFound, *in.OwnerID)
			}
			return RegisterCityResult{}, err
		}
	}

	existing, err := s.store.FindCity(ctx, in.Name, in.OwnerID)
	if err == nil {
		return RegisterCityResult{City: existing, Created: false}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return RegisterCityResult{}, err
	}

	lat, lon, err := s.resolveCoordinates(in)
	if err != nil {
		return RegisterCityResult{}, err
	}

	city, err := s.store.CreateCity(ctx, City{
		Name:      in.Name,
		Latitude:  lat,
		Longitude: lon,
		OwnerID:   in.OwnerID,
	})
	if err != nil {
		return RegisterCityResult{}, err
	}

	result := RegisterCityResult{City: city, Created: true}

	// Scoped refresh reported back to the caller; the city stays tracked
	// even when the first fetch fails (the scheduler catches up later).
	if err := s.RefreshCity(ctx, in.Name); err != nil {
		log.Printf("refresh after registering %s failed: %v", in.Name, err)
		result.RefreshErr = err
		return result, nil
	}

	result.Refreshed = true
	return result, nil
}

func (s *Service) resolveCoordinates(in RegisterCityInput) (float64, float64, error) {
	if in.Latitude != nil && in.Longitude != nil {
		return *in.Latitude, *in.Longitude, nil
	}
	if s.geo == nil {
		return 0, 0, ErrCoordinatesRequired
	}
	lat, lon, err := s.geo.Locate(in.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %s: %w", in.Name, err)
	}
	return lat, lon, nil
}

// ListCities returns the cities in the owner's scope (global when nil).
func (s *Service) ListCities(ctx context.Context, ownerID *string) ([]City, error) {
	if ownerID != nil {
		if _, err := s.store.GetUser(ctx, *ownerID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUserNotFound, *ownerID)
			}
			return nil, err
		}
	}
	return s.store.ListCities(ctx, ownerID)
}

// RefreshCity refreshes today's samples for every tracked city with the
// given name. An unknown name completes as a no-op. Provider and store
// failures propagate to the caller.
func (s *Service) RefreshCity(ctx context.Context, name string) error {
	cities, err := s.store.FindCitiesByName(ctx, name)
	if err != nil {
		return err
	}

	for _, city := range cities {
		if err := s.refreshOne(ctx, city); err != nil {
			return err
		}
	}
	return nil
}

// RefreshAll refreshes today's samples for every tracked city. Failures
// are isolated per city: one city's provider or store error is logged and
// the batch moves on.
func (s *Service) RefreshAll(ctx context.Context) error {
	cities, err := s.store.ListAllCities(ctx)
	if err != nil {
		return err
	}

	for _, city := range cities {
		if err := s.refreshOne(ctx, city); err != nil {
			log.Printf("refresh failed for %s: %v", city.Name, err)
		}
	}
	return nil
}

// refreshOne fetches today's forecast series for one city and replaces
// the day's stored samples. Replace-not-append keeps the job idempotent.
func (s *Service) refreshOne(ctx context.Context, city City) error {
	day := s.now()

	series, err := s.provider.FetchDay(ctx, city.Latitude, city.Longitude, day)
	if err != nil {
		return fmt.Errorf("fetch forecast for %s: %w", city.Name, err)
	}

	samples := zipSeries(series)

	if err := s.store.ReplaceDaySamples(ctx, city.ID, day, samples); err != nil {
		return fmt.Errorf("store samples for %s: %w", city.Name, err)
	}
	return nil
}

// zipSeries turns the provider's parallel per-variable sequences into
// per-timestamp sample records. The client has already validated that all
// sequences are index-aligned and of equal length.
func zipSeries(series Series) []Sample {
	samples := make([]Sample, len(series.Times))
	for i, ts := range series.Times {
		samples[i] = Sample{
			Timestamp:       ts,
			Temperature:     series.Values[FieldTemperature][i],
			SurfacePressure: series.Values[FieldSurfacePressure][i],
			WindSpeed:       series.Values[FieldWindSpeed][i],
			Precipitation:   series.Values[FieldPrecipitation][i],
		}
	}
	return samples
}

// LookupInput is a point-in-time weather query for a tracked city.
type LookupInput struct {
	CityName  string
	OwnerID   *string
	TimeOfDay string   // HH:MM:SS, combined with the current local date
	Params    []string // nil or empty means all fields
}

// FieldValue pairs a requested parameter name with its stored value,
// preserving request order. Value is nil when the provider reported no
// value for that field at the matched timestamp.
type FieldValue struct {
	Name  string
	Value *float64
}

// Lookup resolves a (city, time-of-day, parameter subset) query against
// the stored series with exact timestamp matching.
func (s *Service) Lookup(ctx context.Context, in LookupInput) ([]FieldValue, error) {
	if in.OwnerID != nil {
		if _, err := s.store.GetUser(ctx, *in.OwnerID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUserNotFound, *in.OwnerID)
			}
			return nil, err
		}
	}

	city, err := s.store.FindCity(ctx, in.CityName, in.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCityNotTracked, in.CityName)
		}
		return nil, err
	}

	fields := FilterFields(in.Params)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, in.Params)
	}

	tod, err := time.Parse(timeOfDayLayout, in.TimeOfDay)
	if err != nil {
		return nil, fmt.Errorf("%w: time must be HH:MM:SS", ErrInvalidParameters)
	}

	ts, err := time.Parse(lookupTimeLayout,
		fmt.Sprintf("%s %s", s.now().Format(dayLayout), tod.Format(timeOfDayLayout)))
	if err != nil {
		return nil, fmt.Errorf("compose lookup timestamp: %w", err)
	}

	values, err := s.store.FindSample(ctx, city.ID, ts, fields)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s at %s", ErrNoDataForTimestamp, in.CityName, ts.Format(lookupTimeLayout))
		}
		return nil, err
	}

	out := make([]FieldValue, len(fields))
	for i, f := range fields {
		out[i] = FieldValue{Name: string(f), Value: values[f]}
	}
	return out, nil
}

// Current fetches live conditions for arbitrary coordinates straight from
// the provider, bypassing the store.
func (s *Service) Current(ctx context.Context, lat, lon float64) (Reading, error) {
	return s.provider.Current(ctx, lat, lon)
}
