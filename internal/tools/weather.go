package tools

import (
	"context"
	"fmt"

	"github.com/loopwork-ai/mcp-weather/internal/weather"
	"github.com/loopwork-ai/mcp-weather/mcp"
)

// Forecaster resolves a city name and fetches its forecast.
// *weather.Client implements it.
type Forecaster interface {
	Geocode(ctx context.Context, name string) ([]weather.Location, error)
	Forecast(ctx context.Context, latitude, longitude float64) (weather.Forecast, error)
}

var _ Forecaster = (*weather.Client)(nil)

// WeatherInput is the argument object of the get-weather tool.
type WeatherInput struct {
	City string `json:"city" jsonschema:"The name of the city to get the weather for"`
}

// NewWeatherTool returns the get-weather tool backed by f.
//
// An unknown city is a normal text result. Upstream failures are returned as
// errors, which the registry reports as tool errors.
func NewWeatherTool(f Forecaster) (*mcp.Tool, error) {
	if f == nil {
		return nil, fmt.Errorf("get-weather: forecaster is nil")
	}

	return mcp.NewTool("get-weather", "Tool to get the weather for a city", "Tool to get the weather for a city",
		func(ctx context.Context, in WeatherInput) (*mcp.CallToolResult, any, error) {
			locations, err := f.Geocode(ctx, in.City)
			if err != nil {
				return nil, nil, err
			}
			if len(locations) == 0 {
				return mcp.TextResult(fmt.Sprintf("City %s not found.", in.City)), nil, nil
			}

			best := locations[0]
			forecast, err := f.Forecast(ctx, best.Latitude, best.Longitude)
			if err != nil {
				return nil, nil, err
			}

			text, err := mcp.JSONText(forecast, "  ")
			if err != nil {
				return nil, nil, fmt.Errorf("encoding forecast: %w", err)
			}
			res := mcp.TextResult(text)
			res.StructuredContent = forecast
			return res, nil, nil
		})
}
