package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default upstream endpoints
const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com"
	DefaultForecastURL  = "https://api.open-meteo.com"
)

// Config represents the configuration for the weather server
type Config struct {
	// Host is the interface to listen on. Empty means all interfaces.
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`

	// MaxBodyBytes bounds a single POST body on /mcp
	MaxBodyBytes int64 `yaml:"maxBodyBytes" toml:"maxBodyBytes"`

	// ToolTimeout bounds a single tool call. Zero disables the bound.
	ToolTimeout time.Duration `yaml:"toolTimeout" toml:"toolTimeout"`

	// ShutdownTimeout bounds graceful shutdown after a signal
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`

	Weather WeatherConfig `yaml:"weather" toml:"weather"`

	LogLevel  string `yaml:"logLevel" toml:"logLevel"`
	LogFormat string `yaml:"logFormat" toml:"logFormat"`
}

// WeatherConfig configures the Open-Meteo client
type WeatherConfig struct {
	GeocodingURL string `yaml:"geocodingURL" toml:"geocodingURL"`
	ForecastURL  string `yaml:"forecastURL" toml:"forecastURL"`

	// APIKey is optional; the public endpoints work without one.
	// It may be a 1Password reference (op://vault/item/field).
	APIKey string `yaml:"apiKey" toml:"apiKey"`

	UserAgent string        `yaml:"userAgent" toml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	Retries   int           `yaml:"retries" toml:"retries"`
	// RPS caps upstream requests per second during retries. Zero means no cap.
	RPS int `yaml:"rps" toml:"rps"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Port:            3000,
		MaxBodyBytes:    4 << 20,
		ToolTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Weather: WeatherConfig{
			GeocodingURL: DefaultGeocodingURL,
			ForecastURL:  DefaultForecastURL,
			UserAgent:    "mcp-weather",
			Timeout:      10 * time.Second,
			Retries:      3,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadFile loads configuration from a file, choosing the format by
// extension. .toml files are read as TOML; anything else as YAML, which
// also accepts JSON. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(f)
	}
	return Load(f)
}

// Load loads YAML or JSON configuration from an io.Reader on top of the defaults
func Load(r io.Reader) (*Config, error) {
	config := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading config data: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return config, nil
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return config, nil
}

// LoadTOML loads TOML configuration from an io.Reader on top of the defaults
func LoadTOML(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.NewDecoder(r).Decode(config); err != nil {
		return nil, fmt.Errorf("error parsing TOML config: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.Getenv. Malformed numbers are reported rather than ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		} else {
			c.Port = port
		}
	}
	if v := getenv("MCP_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MCP_MAX_BODY_BYTES: %w", err))
		} else {
			c.MaxBodyBytes = n
		}
	}
	if v := getenv("GEOCODING_URL"); v != "" {
		c.Weather.GeocodingURL = v
	}
	if v := getenv("FORECAST_URL"); v != "" {
		c.Weather.ForecastURL = v
	}
	if v := getenv("OPEN_METEO_API_KEY"); v != "" {
		c.Weather.APIKey = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}

	return errors.Join(errs...)
}

// Validate checks that the configuration can be served
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("maxBodyBytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.ToolTimeout < 0 {
		return fmt.Errorf("toolTimeout must not be negative, got %s", c.ToolTimeout)
	}
	if c.Weather.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Weather.Retries)
	}
	if c.Weather.RPS < 0 {
		return fmt.Errorf("rps must not be negative, got %d", c.Weather.RPS)
	}
	for name, raw := range map[string]string{
		"geocodingURL": c.Weather.GeocodingURL,
		"forecastURL":  c.Weather.ForecastURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("logFormat must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level parses LogLevel
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	return level, nil
}
