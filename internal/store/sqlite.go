package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ikozhura/weather-tracker/internal/weather"
)

const (
	tsLayout  = "2006-01-02 15:04:05"
	dayLayout = "2006-01-02"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS cities (
	id        TEXT PRIMARY KEY,
	city_name TEXT NOT NULL,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	user_id   TEXT REFERENCES users(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS cities_name_owner
	ON cities(city_name, ifnull(user_id, ''));

CREATE TABLE IF NOT EXISTS weather_samples (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	city_id          TEXT NOT NULL REFERENCES cities(id),
	timestamp        TEXT NOT NULL,
	temperature      REAL,
	surface_pressure REAL,
	wind_speed       REAL CHECK (wind_speed IS NULL OR wind_speed >= 0),
	precipitation    REAL CHECK (precipitation IS NULL OR precipitation >= 0)
);

CREATE INDEX IF NOT EXISTS weather_samples_city_ts
	ON weather_samples(city_id, timestamp);
`

// SQLiteStore persists users, cities and weather samples in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	// SQLite allows a single writer; one connection keeps us clear of
	// SQLITE_BUSY and makes :memory: databases usable in tests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser registers a user by name or returns the existing one.
// The second result reports whether a new row was created.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string) (weather.User, bool, error) {
	var u weather.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE name = ?`, name).Scan(&u.ID, &u.Name)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return weather.User{}, false, fmt.Errorf("%w: select user: %v", weather.ErrStoreUnavailable, err)
	}

	u = weather.User{ID: uuid.NewString(), Name: name}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, u.ID, u.Name); err != nil {
		return weather.User{}, false, fmt.Errorf("%w: insert user: %v", weather.ErrStoreUnavailable, err)
	}
	return u, true, nil
}

// GetUser returns the user with the given id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (weather.User, error) {
	var u weather.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.User{}, weather.ErrNotFound
	}
	if err != nil {
		return weather.User{}, fmt.Errorf("%w: select user: %v", weather.ErrStoreUnavailable, err)
	}
	return u, nil
}

// CreateCity inserts a city row. The caller is expected to have checked
// the (name, owner) pair for uniqueness; a violation surfaces as an error.
func (s *SQLiteStore) CreateCity(ctx context.Context, city weather.City) (weather.City, error) {
	if city.ID == "" {
		city.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cities (id, city_name, latitude, longitude, user_id) VALUES (?, ?, ?, ?, ?)`,
		city.ID, city.Name, city.Latitude, city.Longitude, ownerValue(city.OwnerID))
	if err != nil {
		return weather.City{}, fmt.Errorf("%w: insert city: %v", weather.ErrStoreUnavailable, err)
	}
	return city, nil
}

// FindCity returns the city with the given name in the owner's scope.
// A nil ownerID means the shared global list; global and nonexistent
// owners are never collapsed.
func (s *SQLiteStore) FindCity(ctx context.Context, name string, ownerID *string) (weather.City, error) {
	var row *sql.Row
	if ownerID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, city_name, latitude, longitude, user_id FROM cities WHERE city_name = ? AND user_id IS NULL`, name)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, city_name, latitude, longitude, user_id FROM cities WHERE city_name = ? AND user_id = ?`, name, *ownerID)
	}

	city, err := scanCity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.City{}, weather.ErrNotFound
	}
	if err != nil {
		return weather.City{}, fmt.Errorf("%w: select city: %v", weather.ErrStoreUnavailable, err)
	}
	return city, nil
}

// FindCitiesByName returns every tracked city with the given name,
// regardless of owner scope. Used by the scoped refresh.
func (s *SQLiteStore) FindCitiesByName(ctx context.Context, name string) ([]weather.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, city_name, latitude, longitude, user_id FROM cities WHERE city_name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: select cities: %v", weather.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectCities(rows)
}

// ListCities returns the cities in the owner's scope (global when nil).
func (s *SQLiteStore) ListCities(ctx context.Context, ownerID *string) ([]weather.City, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, city_name, latitude, longitude, user_id FROM cities WHERE user_id IS NULL`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, city_name, latitude, longitude, user_id FROM cities WHERE user_id = ?`, *ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select cities: %v", weather.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectCities(rows)
}

// ListAllCities returns every tracked city across all scopes. Used by the
// all-cities refresh.
func (s *SQLiteStore) ListAllCities(ctx context.Context) ([]weather.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, city_name, latitude, longitude, user_id FROM cities`)
	if err != nil {
		return nil, fmt.Errorf("%w: select cities: %v", weather.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectCities(rows)
}

// ReplaceDaySamples deletes all samples for (city, day) and inserts the
// new set in a single transaction. A concurrent reader observes either
// the old set or the new set, never a mix.
func (s *SQLiteStore) ReplaceDaySamples(ctx context.Context, cityID string, day time.Time, samples []weather.Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", weather.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM weather_samples WHERE city_id = ? AND DATE(timestamp) = ?`,
		cityID, day.Format(dayLayout)); err != nil {
		return fmt.Errorf("%w: delete day samples: %v", weather.ErrStoreUnavailable, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO weather_samples (city_id, timestamp, temperature, surface_pressure, wind_speed, precipitation)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", weather.ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx,
			cityID, sample.Timestamp.Format(tsLayout),
			sample.Temperature, sample.SurfacePressure, sample.WindSpeed, sample.Precipitation); err != nil {
			return fmt.Errorf("%w: insert sample: %v", weather.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", weather.ErrStoreUnavailable, err)
	}
	return nil
}

// FindSample returns the sample at the exact timestamp, projected to the
// requested fields. Fields must come from the closed weather.Field set;
// they are interpolated into the column list directly.
func (s *SQLiteStore) FindSample(ctx context.Context, cityID string, ts time.Time, fields []weather.Field) (map[weather.Field]*float64, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields requested", weather.ErrStoreUnavailable)
	}

	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = string(f)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM weather_samples WHERE city_id = ? AND timestamp = ?`,
		strings.Join(cols, ", "))

	dest := make([]sql.NullFloat64, len(fields))
	ptrs := make([]interface{}, len(fields))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	err := s.db.QueryRowContext(ctx, query, cityID, ts.Format(tsLayout)).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, weather.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select sample: %v", weather.ErrStoreUnavailable, err)
	}

	out := make(map[weather.Field]*float64, len(fields))
	for i, f := range fields {
		if dest[i].Valid {
			v := dest[i].Float64
			out[f] = &v
		} else {
			out[f] = nil
		}
	}
	return out, nil
}

// ListDaySamples returns all samples for (city, day) ordered by timestamp.
func (s *SQLiteStore) ListDaySamples(ctx context.Context, cityID string, day time.Time) ([]weather.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, temperature, surface_pressure, wind_speed, precipitation
		 FROM weather_samples WHERE city_id = ? AND DATE(timestamp) = ? ORDER BY timestamp`,
		cityID, day.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("%w: select day samples: %v", weather.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []weather.Sample
	for rows.Next() {
		var (
			sample weather.Sample
			raw    string
		)
		if err := rows.Scan(&raw, &sample.Temperature, &sample.SurfacePressure, &sample.WindSpeed, &sample.Precipitation); err != nil {
			return nil, fmt.Errorf("%w: scan sample: %v", weather.ErrStoreUnavailable, err)
		}
		ts, err := time.Parse(tsLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: parse timestamp %q: %v", weather.ErrStoreUnavailable, raw, err)
		}
		sample.Timestamp = ts
		out = append(out, sample)
	}
	return out, rows.Err()
}

func ownerValue(ownerID *string) interface{} {
	if ownerID == nil {
		return nil
	}
	return *ownerID
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCity(row rowScanner) (weather.City, error) {
	var (
		city  weather.City
		owner sql.NullString
	)
	if err := row.Scan(&city.ID, &city.Name, &city.Latitude, &city.Longitude, &owner); err != nil {
		return weather.City{}, err
	}
	if owner.Valid {
		city.OwnerID = &owner.String
	}
	return city, nil
}

func collectCities(rows *sql.Rows) ([]weather.City, error) {
	var out []weather.City
	for rows.Next() {
		city, err := scanCity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan city: %v", weather.ErrStoreUnavailable, err)
		}
		out = append(out, city)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate cities: %v", weather.ErrStoreUnavailable, err)
	}
	return out, nil
}
