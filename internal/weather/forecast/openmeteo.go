package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ikozhura/weather-tracker/internal/weather"
)

const (
	// DefaultBaseURL is the Open-Meteo forecast endpoint.
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

	dayLayout  = "2006-01-02"
	slotLayout = "2006-01-02T15:04"
)

// minutelyVariables is the variable list requested at the provider's
// finest sub-hourly resolution.
const minutelyVariables = "temperature_2m,surface_pressure,wind_speed_10m,precipitation"

// currentVariables is the variable list for the current conditions call.
const currentVariables = "temperature_2m,surface_pressure,wind_speed_10m"

// Client talks to Open-Meteo. It performs exactly one network call per
// invocation and never retries; the circuit breaker only fails fast when
// the provider has been misbehaving.
type Client struct {
	baseURL    string
	httpClient *http.Client
	circuit    *gobreaker.CircuitBreaker
}

// NewClient creates an Open-Meteo client around the given HTTP client.
// The caller owns the timeout policy via the client or request context.
// baseURL may be empty to use the public endpoint.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		circuit:    cb,
	}
}

// FetchDay fetches the 15-minute forecast series for one local day at the
// given coordinates.
func (c *Client) FetchDay(ctx context.Context, lat, lon float64, day time.Time) (weather.Series, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	values.Set("minutely_15", minutelyVariables)
	values.Set("start_date", day.Format(dayLayout))
	values.Set("end_date", day.Format(dayLayout))

	body, err := c.get(ctx, values)
	if err != nil {
		return weather.Series{}, err
	}
	defer body.Close()

	var payload struct {
		Minutely15 struct {
			Time            []string   `json:"time"`
			Temperature2M   []*float64 `json:"temperature_2m"`
			SurfacePressure []*float64 `json:"surface_pressure"`
			WindSpeed10M    []*float64 `json:"wind_speed_10m"`
			Precipitation   []*float64 `json:"precipitation"`
		} `json:"minutely_15"`
	}

	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return weather.Series{}, fmt.Errorf("%w: %v", weather.ErrMalformedResponse, err)
	}

	m := payload.Minutely15
	if len(m.Time) == 0 {
		return weather.Series{}, fmt.Errorf("%w: missing minutely_15 block", weather.ErrMalformedResponse)
	}

	series := weather.Series{
		Times: make([]time.Time, 0, len(m.Time)),
		Values: map[weather.Field][]*float64{
			weather.FieldTemperature:     m.Temperature2M,
			weather.FieldSurfacePressure: m.SurfacePressure,
			weather.FieldWindSpeed:       m.WindSpeed10M,
			weather.FieldPrecipitation:   m.Precipitation,
		},
	}

	for _, slot := range m.Time {
		ts, err := time.Parse(slotLayout, slot)
		if err != nil {
			return weather.Series{}, fmt.Errorf("%w: bad time slot %q", weather.ErrMalformedResponse, slot)
		}
		series.Times = append(series.Times, ts)
	}

	// The provider guarantees index-aligned series of equal length; anything
	// else is a malformed payload.
	for field, vals := range series.Values {
		if len(vals) != len(series.Times) {
			return weather.Series{}, fmt.Errorf("%w: %s series has %d values for %d time slots",
				weather.ErrMalformedResponse, field, len(vals), len(series.Times))
		}
	}

	return series, nil
}

// Current fetches current conditions at the given coordinates.
func (c *Client) Current(ctx context.Context, lat, lon float64) (weather.Reading, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	values.Set("current", currentVariables)

	body, err := c.get(ctx, values)
	if err != nil {
		return weather.Reading{}, err
	}
	defer body.Close()

	var payload struct {
		Current *struct {
			Temperature2M   *float64 `json:"temperature_2m"`
			SurfacePressure *float64 `json:"surface_pressure"`
			WindSpeed10M    *float64 `json:"wind_speed_10m"`
		} `json:"current"`
	}

	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return weather.Reading{}, fmt.Errorf("%w: %v", weather.ErrMalformedResponse, err)
	}
	if payload.Current == nil {
		return weather.Reading{}, fmt.Errorf("%w: missing current block", weather.ErrMalformedResponse)
	}

	return weather.Reading{
		Temperature:     payload.Current.Temperature2M,
		SurfacePressure: payload.Current.SurfacePressure,
		WindSpeed:       payload.Current.WindSpeed10M,
	}, nil
}

// get issues the single outbound request through the circuit breaker and
// returns the response body on a 2xx status.
func (c *Client) get(ctx context.Context, values url.Values) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s?%s", c.baseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, execErr := c.httpClient.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status %d", weather.ErrProviderUnavailable, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp.Body, nil
}

// classify maps transport-level failures onto the typed error taxonomy.
func classify(err error) error {
	if errors.Is(err, weather.ErrProviderUnavailable) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", weather.ErrNetworkTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", weather.ErrNetworkTimeout, err)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker: %v", weather.ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", weather.ErrProviderUnavailable, err)
}
