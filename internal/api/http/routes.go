package httpapi

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ikozhura/weather-tracker/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	users := app.Group("/users")

	users.Post("/register", func(c *fiber.Ctx) error {
		name := c.Query("name")
		if name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name query parameter is required")
		}

		user, created, err := service.RegisterUser(c.Context(), name)
		if err != nil {
			return apiError(err)
		}

		status := fiber.StatusOK
		message := "user already exists"
		if created {
			status = fiber.StatusCreated
			message = "user registered"
		}
		return c.Status(status).JSON(fiber.Map{
			"message": message,
			"id":      user.ID,
		})
	})

	cities := app.Group("/cities")

	cities.Post("/add_city", func(c *fiber.Ctx) error {
		var req addCityRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		result, err := service.RegisterCity(c.Context(), weather.RegisterCityInput{
			Name:      req.CityName,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			OwnerID:   ownerFromQuery(c),
		})
		if err != nil {
			return apiError(err)
		}

		if !result.Created {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"message": "city is already tracked",
				"city":    result.City,
			})
		}

		resp := fiber.Map{
			"message":   "city added",
			"city":      result.City,
			"refreshed": result.Refreshed,
		}
		if result.RefreshErr != nil {
			resp["message"] = "city added, but the initial weather refresh failed"
			resp["refresh_error"] = result.RefreshErr.Error()
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	// Static route first so it is not captured by :city_name.
	cities.Get("/cities", func(c *fiber.Ctx) error {
		list, err := service.ListCities(c.Context(), ownerFromQuery(c))
		if err != nil {
			return apiError(err)
		}
		if list == nil {
			list = []weather.City{}
		}
		return c.JSON(fiber.Map{"cities": list})
	})

	cities.Get("/:city_name", func(c *fiber.Ctx) error {
		timeOfDay := c.Query("time")
		if timeOfDay == "" {
			return fiber.NewError(fiber.StatusBadRequest, "time query parameter is required (HH:MM:SS)")
		}

		values, err := service.Lookup(c.Context(), weather.LookupInput{
			CityName:  c.Params("city_name"),
			OwnerID:   ownerFromQuery(c),
			TimeOfDay: timeOfDay,
			Params:    weatherParams(c),
		})
		if err != nil {
			return apiError(err)
		}

		resp := fiber.Map{}
		for _, v := range values {
			resp[v.Name] = v.Value
		}
		return c.JSON(resp)
	})

	app.Get("/weather/current", func(c *fiber.Ctx) error {
		lat, err := queryFloat(c, "latitude")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		lon, err := queryFloat(c, "longitude")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reading, err := service.Current(c.Context(), lat, lon)
		if err != nil {
			return apiError(err)
		}
		return c.JSON(reading)
	})
}

// addCityRequest is the body of POST /cities/add_city. Coordinates travel
// together; both may be omitted when a geocoder is configured.
type addCityRequest struct {
	CityName  string   `json:"city_name" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required_with=Longitude,omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,gte=-180,lte=180"`
}

// ownerFromQuery reads the optional user_id scope. Absence means the
// shared global list, which is distinct from any owner.
func ownerFromQuery(c *fiber.Ctx) *string {
	if v := c.Query("user_id"); v != "" {
		return &v
	}
	return nil
}

// weatherParams collects the requested parameter names from repeated
// weather_params query values, splitting comma-separated lists.
func weatherParams(c *fiber.Ctx) []string {
	var out []string
	for _, raw := range c.Context().QueryArgs().PeekMulti("weather_params") {
		for _, name := range strings.Split(string(raw), ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func queryFloat(c *fiber.Ctx, key string) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, errors.New(key + " query parameter is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(key + " must be a number")
	}
	return v, nil
}

// apiError maps typed service failures to HTTP statuses.
func apiError(err error) error {
	switch {
	case errors.Is(err, weather.ErrUserNotFound),
		errors.Is(err, weather.ErrCityNotTracked),
		errors.Is(err, weather.ErrNoDataForTimestamp),
		errors.Is(err, weather.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, weather.ErrInvalidParameters),
		errors.Is(err, weather.ErrCoordinatesRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrProviderUnavailable),
		errors.Is(err, weather.ErrNetworkTimeout),
		errors.Is(err, weather.ErrMalformedResponse):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
