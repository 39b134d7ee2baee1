package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/mcp-weather/internal"
)

func serveFile(t *testing.T, path string) http.HandlerFunc {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]ClientOption{
		WithHTTPClient(srv.Client()),
		WithGeocodingURL(srv.URL),
		WithForecastURL(srv.URL + "/"),
	}, opts...)
	client, err := NewClient(opts...)
	require.NoError(t, err)
	return client
}

func TestClient_Geocode(t *testing.T) {
	var query map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		serveFile(t, "testdata/amsterdam_geocode.json")(w, r)
	})

	client := newTestClient(t, mux)
	locations, err := client.Geocode(context.Background(), "Amsterdam & Co")
	require.NoError(t, err)
	require.Len(t, locations, 1)

	assert.Equal(t, "Amsterdam", locations[0].Name)
	assert.InDelta(t, 52.37403, locations[0].Latitude, 1e-9)
	assert.InDelta(t, 4.88969, locations[0].Longitude, 1e-9)
	assert.Equal(t, "Netherlands", locations[0].Country)

	assert.Equal(t, map[string]string{
		"name":     "Amsterdam & Co",
		"count":    "10",
		"language": "en",
		"format":   "json",
	}, query)
}

func TestClient_GeocodeNoResults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "absent results", body: `{"generationtime_ms":0.5}`},
		{name: "empty results", body: `{"results":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			locations, err := client.Geocode(context.Background(), "Atlantis")
			require.NoError(t, err)
			assert.Empty(t, locations)
		})
	}
}

func TestClient_Forecast(t *testing.T) {
	var got http.Header
	var rawQuery map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header
		rawQuery = r.URL.Query()
		serveFile(t, "testdata/amsterdam_forecast.json")(w, r)
	})

	client := newTestClient(t, mux, WithAPIKey("secret"))
	forecast, err := client.Forecast(context.Background(), 52.37403, 4.88969)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []string{"52.37403"}, rawQuery["latitude"])
	assert.Equal(t, []string{"4.88969"}, rawQuery["longitude"])
	assert.Equal(t, []string{HourlyVariables}, rawQuery["hourly"])
	assert.Equal(t, []string{CurrentVariables}, rawQuery["current"])
	assert.Equal(t, []string{"secret"}, rawQuery["apikey"])

	assert.Contains(t, forecast, "current")
	assert.Contains(t, forecast, "hourly")
	current := forecast["current"].(map[string]any)
	assert.InDelta(t, 13.4, current["temperature_2m"], 1e-9)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":true,"reason":"Parameter count must be positive"}`, http.StatusBadRequest)
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
				assert.Contains(t, statusErr.Body, "Parameter count")
			},
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>`))
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "decoding")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)

			_, err := client.Geocode(context.Background(), "Amsterdam")
			require.Error(t, err)
			tt.check(t, err)

			_, err = client.Forecast(context.Background(), 1, 2)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_ServerErrorAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":true,"reason":"upstream overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	httpClient := internal.NewHTTPClient(internal.ClientOptions{
		Retries:      2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})
	client, err := NewClient(WithHTTPClient(httpClient), WithForecastURL(srv.URL))
	require.NoError(t, err)

	_, err = client.Forecast(context.Background(), 52.37, 4.89)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "upstream overloaded")
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Canceled(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Geocode(ctx, "Amsterdam")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(WithGeocodingURL("not a url"))
	assert.Error(t, err)

	_, err = NewClient(WithHTTPClient(nil))
	assert.Error(t, err)
}
