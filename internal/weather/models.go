package weather

import (
	"time"
)

// Field identifies one of the weather variables we track per sample.
// Query parameters are validated against this closed set; raw strings
// never reach the storage layer.
type Field string

const (
	FieldTemperature     Field = "temperature"
	FieldSurfacePressure Field = "surface_pressure"
	FieldWindSpeed       Field = "wind_speed"
	FieldPrecipitation   Field = "precipitation"
)

// KnownFields returns all tracked weather fields in canonical order.
func KnownFields() []Field {
	return []Field{FieldTemperature, FieldSurfacePressure, FieldWindSpeed, FieldPrecipitation}
}

// FilterFields keeps only the known field names from the requested list,
// preserving request order. A nil or empty request means all fields.
func FilterFields(requested []string) []Field {
	if len(requested) == 0 {
		return KnownFields()
	}

	known := make(map[Field]bool, 4)
	for _, f := range KnownFields() {
		known[f] = true
	}

	var out []Field
	for _, name := range requested {
		if known[Field(name)] {
			out = append(out, Field(name))
		}
	}
	return out
}

// User is a registered user that may own a city list.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// City is a tracked location. OwnerID is nil for cities on the shared
// global list; (Name, OwnerID) is unique within its scope.
type City struct {
	ID        string  `json:"city_id"`
	Name      string  `json:"city_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	OwnerID   *string `json:"user_id,omitempty"`
}

// Sample is one provider time slot for a city. Every value may be nil
// when the provider reported nothing for that variable.
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	Temperature     *float64  `json:"temperature"`
	SurfacePressure *float64  `json:"surface_pressure"`
	WindSpeed       *float64  `json:"wind_speed"`
	Precipitation   *float64  `json:"precipitation"`
}

// Value returns the sample's value for a field.
func (s Sample) Value(f Field) *float64 {
	switch f {
	case FieldTemperature:
		return s.Temperature
	case FieldSurfacePressure:
		return s.SurfacePressure
	case FieldWindSpeed:
		return s.WindSpeed
	case FieldPrecipitation:
		return s.Precipitation
	}
	return nil
}

// Series is a set of parallel per-variable sequences as returned by the
// forecast provider. Each Values entry has the same length as Times and
// is aligned with it by index.
type Series struct {
	Times  []time.Time
	Values map[Field][]*float64
}

// Reading is a single point-in-time observation, used by the current
// conditions passthrough.
type Reading struct {
	Temperature     *float64 `json:"temperature"`
	SurfacePressure *float64 `json:"surface_pressure"`
	WindSpeed       *float64 `json:"wind_speed"`
}
