package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loopwork-ai/mcp-weather/internal"
	"github.com/loopwork-ai/mcp-weather/internal/config"
	"github.com/loopwork-ai/mcp-weather/internal/dispatch"
	"github.com/loopwork-ai/mcp-weather/internal/tools"
	"github.com/loopwork-ai/mcp-weather/internal/weather"
	"github.com/loopwork-ai/mcp-weather/mcp"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const instructions = "Use get-weather to look up current conditions and an hourly temperature forecast for a city by name. Use echo to check connectivity."

// serveFlags holds command line overrides. A flag only applies when set.
type serveFlags struct {
	configPath  string
	port        int
	verbose     bool
	retries     int
	rps         int
	timeout     time.Duration
	toolTimeout time.Duration
	maxBody     int64
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "mcp-weather",
		Short: "A stateless MCP server with echo and weather tools",
		Long: `mcp-weather serves the Model Context Protocol over streamable HTTP at /mcp.

Every HTTP request is handled by its own short-lived transport, so no session
state is kept between requests. Tools:
- echo: returns the message it is given
- get-weather: current conditions and hourly temperatures from Open-Meteo

Configuration is read from defaults, then --config (YAML, JSON or TOML),
then environment variables (PORT, MCP_MAX_BODY_BYTES, GEOCODING_URL,
FORECAST_URL, OPEN_METEO_API_KEY, LOG_LEVEL, LOG_FORMAT), then flags.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags, os.Getenv)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			ln, err := net.Listen("tcp", cfg.Addr())
			if err != nil {
				return fmt.Errorf("error listening on %s: %w", cfg.Addr(), err)
			}
			return serve(ctx, ln, cfg, logger)
		},
	}

	addServeFlags(cmd, &flags)
	cmd.AddCommand(newProbeCmd())
	cmd.Version = fmt.Sprintf("%s (commit: %s, built at: %s)", version, commit, date)
	return cmd
}

func addServeFlags(cmd *cobra.Command, flags *serveFlags) {
	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML, JSON or TOML config file")
	f.IntVarP(&flags.port, "port", "p", 3000, "Port to listen on")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging to stderr")
	f.IntVar(&flags.retries, "retries", 3, "Maximum number of retries for failed upstream requests")
	f.IntVarP(&flags.rps, "rps", "r", 0, "Maximum upstream requests per second (0 for no limit)")
	f.DurationVar(&flags.timeout, "timeout", 10*time.Second, "Upstream HTTP request timeout")
	f.DurationVar(&flags.toolTimeout, "tool-timeout", 30*time.Second, "Maximum duration of a single tool call (0 for no limit)")
	f.Int64Var(&flags.maxBody, "max-body", mcp.DefaultMaxBodyBytes, "Maximum request body size in bytes")
}

// loadConfig layers defaults, the config file, the environment and flags,
// in that order.
func loadConfig(cmd *cobra.Command, flags *serveFlags, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}

	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port = flags.port
	}
	if f.Changed("retries") {
		cfg.Weather.Retries = flags.retries
	}
	if f.Changed("rps") {
		cfg.Weather.RPS = flags.rps
	}
	if f.Changed("timeout") {
		cfg.Weather.Timeout = flags.timeout
	}
	if f.Changed("tool-timeout") {
		cfg.ToolTimeout = flags.toolTimeout
	}
	if f.Changed("max-body") {
		cfg.MaxBodyBytes = flags.maxBody
	}
	if flags.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// newServer builds the protocol server and its tools.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mcp.Server, error) {
	apiKey, err := internal.ResolveSetting(ctx, "OPEN_METEO_API_KEY", cfg.Weather.APIKey)
	if err != nil {
		return nil, err
	}

	client := internal.NewHTTPClient(internal.ClientOptions{
		Retries:   cfg.Weather.Retries,
		RPS:       cfg.Weather.RPS,
		Timeout:   cfg.Weather.Timeout,
		UserAgent: fmt.Sprintf("%s/%s", cfg.Weather.UserAgent, version),
		Logger:    logger,
	})

	forecaster, err := weather.NewClient(
		weather.WithHTTPClient(client),
		weather.WithGeocodingURL(cfg.Weather.GeocodingURL),
		weather.WithForecastURL(cfg.Weather.ForecastURL),
		weather.WithAPIKey(apiKey),
		weather.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating weather client: %w", err)
	}

	registry := mcp.NewRegistry()
	if err := tools.Register(registry, forecaster); err != nil {
		return nil, fmt.Errorf("error registering tools: %w", err)
	}

	return mcp.NewServer(registry,
		mcp.WithLogger(logger),
		mcp.WithImplementation("mcp-weather", version),
		mcp.WithInstructions(instructions),
		mcp.WithToolTimeout(cfg.ToolTimeout),
	)
}

// serve runs the HTTP server on ln until ctx is canceled, then shuts it down
// gracefully.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger) error {
	defer ln.Close()

	server, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Handler: dispatch.NewRouter(server, dispatch.Options{
			MaxBodyBytes: cfg.MaxBodyBytes,
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		port := ln.Addr().(*net.TCPAddr).Port
		logger.Info("MCP Stateless Streamable HTTP Server listening",
			"url", fmt.Sprintf("http://localhost:%d%s", port, dispatch.Path),
			"tools", server.Registry().Len(),
			"version", version,
		)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error serving HTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
