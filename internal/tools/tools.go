// Package tools holds the tools served by mcp-weather.
package tools

import (
	"github.com/loopwork-ai/mcp-weather/mcp"
)

// Register adds every tool to registry.
func Register(registry *mcp.Registry, f Forecaster) error {
	echo, err := NewEchoTool()
	if err != nil {
		return err
	}
	if err := registry.Register(echo); err != nil {
		return err
	}

	getWeather, err := NewWeatherTool(f)
	if err != nil {
		return err
	}
	return registry.Register(getWeather)
}
