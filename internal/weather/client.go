// Package weather is a small client for the Open-Meteo geocoding and
// forecast APIs.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	geocodingPath = "/v1/search"
	forecastPath  = "/v1/forecast"

	// HourlyVariables are requested for every forecast.
	HourlyVariables = "temperature_2m"
	// CurrentVariables are requested for every forecast.
	CurrentVariables = "temperature_2m,relative_humidity_2m,wind_speed_10m,precipitation,rain,showers,cloud_cover,apparent_temperature"

	// maxErrorBody bounds how much of an error response is kept for the
	// error message.
	maxErrorBody = 512
)

// Location is one geocoding match
type Location struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Admin1      string  `json:"admin1,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

// Forecast is the forecast payload exactly as returned by the API.
type Forecast map[string]any

// StatusError is returned for a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to Open-Meteo
type Client struct {
	client       *http.Client
	geocodingURL string
	forecastURL  string
	apiKey       string
	logger       *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithHTTPClient sets the HTTP client used for upstream requests
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		c.client = client
		return nil
	}
}

// WithGeocodingURL sets the geocoding API base URL
func WithGeocodingURL(base string) ClientOption {
	return func(c *Client) error {
		u, err := parseBaseURL(base)
		if err != nil {
			return fmt.Errorf("geocoding URL: %w", err)
		}
		c.geocodingURL = u
		return nil
	}
}

// WithForecastURL sets the forecast API base URL
func WithForecastURL(base string) ClientOption {
	return func(c *Client) error {
		u, err := parseBaseURL(base)
		if err != nil {
			return fmt.Errorf("forecast URL: %w", err)
		}
		c.forecastURL = u
		return nil
	}
}

// WithAPIKey sets the key sent to the commercial API. The free API needs none.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewClient creates a Client for the public Open-Meteo endpoints unless
// overridden by options.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		client:       http.DefaultClient,
		geocodingURL: "https://geocoding-api.open-meteo.com",
		forecastURL:  "https://api.open-meteo.com",
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Geocode returns up to ten locations matching name, best match first.
// No match is not an error: the slice is empty.
func (c *Client) Geocode(ctx context.Context, name string) ([]Location, error) {
	query := url.Values{}
	query.Set("name", name)
	query.Set("count", "10")
	query.Set("language", "en")
	query.Set("format", "json")

	var body struct {
		Results []Location `json:"results"`
	}
	if err := c.get(ctx, c.geocodingURL+geocodingPath, query, &body); err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", name, err)
	}
	return body.Results, nil
}

// Forecast returns current conditions and hourly temperatures for a
// coordinate.
func (c *Client) Forecast(ctx context.Context, latitude, longitude float64) (Forecast, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	query.Set("hourly", HourlyVariables)
	query.Set("current", CurrentVariables)

	var forecast Forecast
	if err := c.get(ctx, c.forecastURL+forecastPath, query, &forecast); err != nil {
		return nil, fmt.Errorf("forecast for %v,%v: %w", latitude, longitude, err)
	}
	if forecast == nil {
		return nil, errors.New("forecast response was empty")
	}
	return forecast, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, v any) error {
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	c.logger.Debug("upstream request", "endpoint", endpoint)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func parseBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
