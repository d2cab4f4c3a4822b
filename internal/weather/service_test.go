package weather

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeStore is an in-memory Store capturing calls for assertions.
type fakeStore struct {
	users  map[string]User
	cities []City
	nextID int

	replaced   map[string][]Sample // latest batch per city id
	replaceErr error

	sample     map[Field]*float64
	sampleErr  error
	lastFields []Field
	lastTS     time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]User),
		replaced: make(map[string][]Sample),
		sample:   make(map[Field]*float64),
	}
}

func (s *fakeStore) addUser(name string) User {
	u := User{ID: fmt.Sprintf("user-%d", len(s.users)+1), Name: name}
	s.users[u.ID] = u
	return u
}

func (s *fakeStore) addCity(name string, lat, lon float64, owner *string) City {
	s.nextID++
	c := City{ID: fmt.Sprintf("city-%d", s.nextID), Name: name, Latitude: lat, Longitude: lon, OwnerID: owner}
	s.cities = append(s.cities, c)
	return c
}

func (s *fakeStore) CreateUser(ctx context.Context, name string) (User, bool, error) {
	for _, u := range s.users {
		if u.Name == name {
			return u, false, nil
		}
	}
	return s.addUser(name), true, nil
}

func (s *fakeStore) GetUser(ctx context.Context, id string) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) CreateCity(ctx context.Context, city City) (City, error) {
	return s.addCity(city.Name, city.Latitude, city.Longitude, city.OwnerID), nil
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *fakeStore) FindCity(ctx context.Context, name string, ownerID *string) (City, error) {
	for _, c := range s.cities {
		if c.Name == name && sameOwner(c.OwnerID, ownerID) {
			return c, nil
		}
	}
	return City{}, ErrNotFound
}

func (s *fakeStore) FindCitiesByName(ctx context.Context, name string) ([]City, error) {
	var out []City
	for _, c := range s.cities {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) ListCities(ctx context.Context, ownerID *string) ([]City, error) {
	var out []City
	for _, c := range s.cities {
		if sameOwner(c.OwnerID, ownerID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAllCities(ctx context.Context) ([]City, error) {
	return s.cities, nil
}

func (s *fakeStore) ReplaceDaySamples(ctx context.Context, cityID string, day time.Time, samples []Sample) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaced[cityID] = samples
	return nil
}

func (s *fakeStore) FindSample(ctx context.Context, cityID string, ts time.Time, fields []Field) (map[Field]*float64, error) {
	s.lastFields = fields
	s.lastTS = ts
	if s.sampleErr != nil {
		return nil, s.sampleErr
	}
	out := make(map[Field]*float64, len(fields))
	for _, f := range fields {
		out[f] = s.sample[f]
	}
	return out, nil
}

// fakeProvider serves a canned series and can fail per latitude.
type fakeProvider struct {
	series  Series
	failFor map[float64]error
	calls   int
}

func (p *fakeProvider) FetchDay(ctx context.Context, lat, lon float64, day time.Time) (Series, error) {
	p.calls++
	if err := p.failFor[lat]; err != nil {
		return Series{}, err
	}
	return p.series, nil
}

func (p *fakeProvider) Current(ctx context.Context, lat, lon float64) (Reading, error) {
	return Reading{}, nil
}

func f(v float64) *float64 { return &v }

func testSeries() Series {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return Series{
		Times: []time.Time{base, base.Add(15 * time.Minute)},
		Values: map[Field][]*float64{
			FieldTemperature:     {f(1.5), f(1.7)},
			FieldSurfacePressure: {f(1000), nil},
			FieldWindSpeed:       {f(3), f(3.5)},
			FieldPrecipitation:   {f(0), f(0.2)},
		},
	}
}

func TestRefreshAllIsolatesPerCityFailures(t *testing.T) {
	st := newFakeStore()
	a := st.addCity("A", 1, 1, nil)
	b := st.addCity("B", 2, 2, nil)
	c := st.addCity("C", 3, 3, nil)

	provider := &fakeProvider{
		series:  testSeries(),
		failFor: map[float64]error{2: ErrProviderUnavailable},
	}
	svc := NewService(st, provider, nil)

	if err := svc.RefreshAll(context.Background()); err != nil {
		t.Fatalf("all-cities refresh must not propagate per-city errors, got %v", err)
	}

	if provider.calls != 3 {
		t.Fatalf("expected exactly one forecast request per city, got %d", provider.calls)
	}
	if _, ok := st.replaced[a.ID]; !ok {
		t.Fatal("city A was not refreshed")
	}
	if _, ok := st.replaced[c.ID]; !ok {
		t.Fatal("city C was not refreshed despite B failing")
	}
	if _, ok := st.replaced[b.ID]; ok {
		t.Fatal("failed city B must not reach the store")
	}
}

func TestRefreshCityUnknownNameIsNoOp(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{series: testSeries()}
	svc := NewService(st, provider, nil)

	if err := svc.RefreshCity(context.Background(), "Atlantis"); err != nil {
		t.Fatalf("unknown scoped refresh target must be a no-op, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("no-op refresh issued %d provider calls", provider.calls)
	}
}

func TestRefreshCityPropagatesProviderError(t *testing.T) {
	st := newFakeStore()
	st.addCity("D", 4, 4, nil)

	provider := &fakeProvider{failFor: map[float64]error{4: ErrNetworkTimeout}}
	svc := NewService(st, provider, nil)

	err := svc.RefreshCity(context.Background(), "D")
	if !errors.Is(err, ErrNetworkTimeout) {
		t.Fatalf("scoped refresh must surface the provider failure, got %v", err)
	}
}

func TestRefreshCityPropagatesStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.addCity("E", 5, 5, nil)
	st.replaceErr = ErrStoreUnavailable

	svc := NewService(st, &fakeProvider{series: testSeries()}, nil)

	err := svc.RefreshCity(context.Background(), "E")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
}

func TestRefreshZipsParallelSeriesByIndex(t *testing.T) {
	st := newFakeStore()
	city := st.addCity("F", 6, 6, nil)

	svc := NewService(st, &fakeProvider{series: testSeries()}, nil)

	if err := svc.RefreshCity(context.Background(), "F"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	samples := st.replaced[city.ID]
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if got := samples[0].Temperature; got == nil || *got != 1.5 {
		t.Fatalf("samples[0].Temperature = %v, want 1.5", got)
	}
	if samples[1].SurfacePressure != nil {
		t.Fatalf("samples[1].SurfacePressure = %v, want nil (provider omitted it)", samples[1].SurfacePressure)
	}
	if got := samples[1].Precipitation; got == nil || *got != 0.2 {
		t.Fatalf("samples[1].Precipitation = %v, want 0.2", got)
	}
	if !samples[1].Timestamp.Equal(samples[0].Timestamp.Add(15 * time.Minute)) {
		t.Fatalf("timestamps not aligned with the provider series: %v, %v", samples[0].Timestamp, samples[1].Timestamp)
	}
}

func TestRegisterCityExistingSkipsProvider(t *testing.T) {
	st := newFakeStore()
	existing := st.addCity("Moscow", 55.7558, 37.6173, nil)

	provider := &fakeProvider{series: testSeries()}
	svc := NewService(st, provider, nil)

	result, err := svc.RegisterCity(context.Background(), RegisterCityInput{
		Name: "Moscow", Latitude: f(55.7558), Longitude: f(37.6173),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.Created {
		t.Fatal("duplicate registration must not create a new row")
	}
	if result.City.ID != existing.ID {
		t.Fatalf("expected existing city %s, got %s", existing.ID, result.City.ID)
	}
	if provider.calls != 0 {
		t.Fatalf("duplicate registration issued %d provider calls", provider.calls)
	}
}

func TestRegisterCityDegradesWhenRefreshFails(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{failFor: map[float64]error{55.7558: ErrProviderUnavailable}}
	svc := NewService(st, provider, nil)

	result, err := svc.RegisterCity(context.Background(), RegisterCityInput{
		Name: "Moscow", Latitude: f(55.7558), Longitude: f(37.6173),
	})
	if err != nil {
		t.Fatalf("registration must survive a failed refresh, got %v", err)
	}
	if !result.Created {
		t.Fatal("city must still be created")
	}
	if result.Refreshed {
		t.Fatal("refresh flag must report the failure")
	}
	if !errors.Is(result.RefreshErr, ErrProviderUnavailable) {
		t.Fatalf("refresh error detail missing, got %v", result.RefreshErr)
	}
	if len(st.cities) != 1 {
		t.Fatalf("expected the city row to be kept, have %d rows", len(st.cities))
	}
}

func TestRegisterCityUnknownOwner(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, &fakeProvider{series: testSeries()}, nil)

	owner := "ghost"
	_, err := svc.RegisterCity(context.Background(), RegisterCityInput{
		Name: "Moscow", Latitude: f(55.7558), Longitude: f(37.6173), OwnerID: &owner,
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRegisterCityRequiresCoordinatesWithoutGeocoder(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, &fakeProvider{series: testSeries()}, nil)

	_, err := svc.RegisterCity(context.Background(), RegisterCityInput{Name: "Moscow"})
	if !errors.Is(err, ErrCoordinatesRequired) {
		t.Fatalf("expected ErrCoordinatesRequired, got %v", err)
	}
}

type staticGeocoder struct {
	lat, lon float64
}

func (g staticGeocoder) Locate(city string) (float64, float64, error) {
	return g.lat, g.lon, nil
}

func TestRegisterCityGeocodesMissingCoordinates(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, &fakeProvider{series: testSeries()}, staticGeocoder{lat: 48.85, lon: 2.35})

	result, err := svc.RegisterCity(context.Background(), RegisterCityInput{Name: "Paris"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.City.Latitude != 48.85 || result.City.Longitude != 2.35 {
		t.Fatalf("geocoded coordinates not used: %+v", result.City)
	}
}

func TestLookupRejectsAllUnknownParams(t *testing.T) {
	st := newFakeStore()
	st.addCity("G", 7, 7, nil)
	svc := NewService(st, &fakeProvider{}, nil)

	_, err := svc.Lookup(context.Background(), LookupInput{
		CityName: "G", TimeOfDay: "10:00:00", Params: []string{"bogus"},
	})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
}

func TestLookupDropsUnknownParams(t *testing.T) {
	st := newFakeStore()
	st.addCity("H", 8, 8, nil)
	st.sample[FieldTemperature] = f(21)
	svc := NewService(st, &fakeProvider{}, nil)

	values, err := svc.Lookup(context.Background(), LookupInput{
		CityName: "H", TimeOfDay: "10:00:00", Params: []string{"temperature", "bogus"},
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(values) != 1 || values[0].Name != "temperature" {
		t.Fatalf("expected only temperature, got %+v", values)
	}
	if len(st.lastFields) != 1 || st.lastFields[0] != FieldTemperature {
		t.Fatalf("unknown parameter reached the store: %v", st.lastFields)
	}
}

func TestLookupDefaultsToAllFields(t *testing.T) {
	st := newFakeStore()
	st.addCity("I", 9, 9, nil)
	svc := NewService(st, &fakeProvider{}, nil)

	values, err := svc.Lookup(context.Background(), LookupInput{CityName: "I", TimeOfDay: "10:00:00"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("expected all four fields by default, got %d", len(values))
	}
}

func TestLookupComposesCurrentDateWithTimeOfDay(t *testing.T) {
	st := newFakeStore()
	st.addCity("J", 10, 10, nil)
	svc := NewService(st, &fakeProvider{}, nil)
	svc.now = func() time.Time {
		return time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	}

	if _, err := svc.Lookup(context.Background(), LookupInput{CityName: "J", TimeOfDay: "10:00:00"}); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	want := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	if !st.lastTS.Equal(want) {
		t.Fatalf("lookup timestamp = %v, want %v", st.lastTS, want)
	}
}

func TestLookupCityNotTracked(t *testing.T) {
	st := newFakeStore()
	svc := NewService(st, &fakeProvider{}, nil)

	_, err := svc.Lookup(context.Background(), LookupInput{CityName: "Nowhere", TimeOfDay: "10:00:00"})
	if !errors.Is(err, ErrCityNotTracked) {
		t.Fatalf("expected ErrCityNotTracked, got %v", err)
	}
}

func TestLookupNoDataForTimestamp(t *testing.T) {
	st := newFakeStore()
	st.addCity("K", 11, 11, nil)
	st.sampleErr = ErrNotFound
	svc := NewService(st, &fakeProvider{}, nil)

	_, err := svc.Lookup(context.Background(), LookupInput{CityName: "K", TimeOfDay: "10:00:00"})
	if !errors.Is(err, ErrNoDataForTimestamp) {
		t.Fatalf("expected ErrNoDataForTimestamp, got %v", err)
	}
}

func TestLookupUnknownOwnerScope(t *testing.T) {
	st := newFakeStore()
	st.addCity("L", 12, 12, nil)
	svc := NewService(st, &fakeProvider{}, nil)

	owner := "ghost"
	_, err := svc.Lookup(context.Background(), LookupInput{CityName: "L", OwnerID: &owner, TimeOfDay: "10:00:00"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
