package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/mcp-weather/internal/config"
)

func parseServeFlags(t *testing.T, args ...string) (*cobra.Command, *serveFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	flags := &serveFlags{}
	addServeFlags(cmd, flags)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, flags
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nmaxBodyBytes: 1000\nweather:\n  retries: 5\n"), 0o644))

	env := map[string]string{"PORT": "5000", "MCP_MAX_BODY_BYTES": "2000"}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		name      string
		args      []string
		getenv    func(string) string
		wantPort  int
		wantBody  int64
		wantLevel string
	}{
		{
			name:      "file over defaults",
			args:      []string{"--config", path},
			getenv:    func(string) string { return "" },
			wantPort:  4000,
			wantBody:  1000,
			wantLevel: "info",
		},
		{
			name:      "env over file",
			args:      []string{"--config", path},
			getenv:    getenv,
			wantPort:  5000,
			wantBody:  2000,
			wantLevel: "info",
		},
		{
			name:      "flags over env",
			args:      []string{"--config", path, "--port", "6000", "--max-body", "3000", "-v"},
			getenv:    getenv,
			wantPort:  6000,
			wantBody:  3000,
			wantLevel: "debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, flags := parseServeFlags(t, tt.args...)
			cfg, err := loadConfig(cmd, flags, tt.getenv)
			require.NoError(t, err)

			assert.Equal(t, tt.wantPort, cfg.Port)
			assert.Equal(t, tt.wantBody, cfg.MaxBodyBytes)
			assert.Equal(t, 5, cfg.Weather.Retries)
			assert.Equal(t, tt.wantLevel, cfg.LogLevel)
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cmd, flags := parseServeFlags(t, "--port", "99999")
	_, err := loadConfig(cmd, flags, func(string) string { return "" })
	assert.Error(t, err)

	cmd, flags = parseServeFlags(t)
	_, err = loadConfig(cmd, flags, func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	})
	assert.Error(t, err)
}

func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "mcp-weather/"))
		w.Write([]byte(`{"results":[{"name":"Amsterdam","latitude":52.37,"longitude":4.89}]}`))
	})
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{"temperature_2m":13.4},"hourly":{"temperature_2m":[10.9]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func startServer(t *testing.T) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	upstream := fakeUpstream(t)

	cfg := config.DefaultConfig()
	cfg.Weather.GeocodingURL = upstream.URL
	cfg.Weather.ForecastURL = upstream.URL
	cfg.Weather.Retries = 0
	cfg.ShutdownTimeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	return "http://" + ln.Addr().String(), cancel, done
}

func TestServe(t *testing.T) {
	base, cancel, done := startServer(t)

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Post(base+"/mcp", "application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get-weather","arguments":{"city":"Amsterdam"}}}`))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Result struct {
			StructuredContent map[string]any `json:"structuredContent"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Result.StructuredContent, "current")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--port", fmt.Sprint(ln.Addr().(*net.TCPAddr).Port)})
	cmd.SetOut(io.Discard)
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error listening")
}

func TestProbe(t *testing.T) {
	color.NoColor = true
	base, cancel, done := startServer(t)
	defer func() {
		cancel()
		<-done
	}()

	var out bytes.Buffer
	require.Eventually(t, func() bool {
		out.Reset()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return probe(ctx, &out, base+"/mcp", "echo", map[string]any{"message": "hi"}) == nil
	}, 5*time.Second, 50*time.Millisecond)

	text := out.String()
	assert.Contains(t, text, "mcp-weather")
	assert.Contains(t, text, "Tools:    2")
	assert.Contains(t, text, "get-weather")
	assert.Contains(t, text, "Tool echo: hi")
}
