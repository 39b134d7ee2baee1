// Package dispatch routes HTTP requests on /mcp to a fresh transport bound to
// the shared protocol server.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loopwork-ai/mcp-weather/jsonrpc"
	"github.com/loopwork-ai/mcp-weather/mcp"
)

// Path is where the MCP endpoint is mounted.
const Path = "/mcp"

// Server is the protocol server shared by every request.
type Server interface {
	Connect(t *mcp.HTTPTransport) error
	Registry() *mcp.Registry
}

var _ Server = (*mcp.Server)(nil)

// Options configures the router
type Options struct {
	// MaxBodyBytes bounds request bodies. Zero means mcp.DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type dispatcher struct {
	server    Server
	transport mcp.TransportOptions
	logger    *slog.Logger
}

// NewRouter creates the router with all routes and middleware.
func NewRouter(server Server, opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = mcp.DefaultMaxBodyBytes
	}

	d := &dispatcher{
		server: server,
		transport: mcp.TransportOptions{
			SessionIDMode: mcp.SessionIDNone,
			ResponseMode:  mcp.ResponseBufferedJSON,
			MaxBodyBytes:  maxBody,
			Logger:        logger,
		},
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))
	r.Use(middleware.RequestSize(maxBody))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, POST")
		writeEnvelope(w, http.StatusMethodNotAllowed, jsonrpc.Errorf(jsonrpc.ErrServer, "Method not allowed."))
	})

	r.Get("/healthz", d.health)
	r.Get(Path, d.handleGet)
	r.Post(Path, d.handlePost)

	return r
}

func (d *dispatcher) handleGet(w http.ResponseWriter, r *http.Request) {
	d.serve(w, r)
}

func (d *dispatcher) handlePost(w http.ResponseWriter, r *http.Request) {
	d.serve(w, r)
}

// serve runs one request through its own transport.
func (d *dispatcher) serve(w http.ResponseWriter, r *http.Request) {
	sw := wrap(w)
	logger := d.logger.With("request_id", RequestIDFrom(r.Context()))
	if err := d.bridge(sw, r, logger); err != nil {
		fail(sw, err, logger)
	}
}

func (d *dispatcher) bridge(w http.ResponseWriter, r *http.Request, logger *slog.Logger) error {
	opts := d.transport
	opts.Logger = logger
	transport, err := mcp.NewHTTPTransport(opts)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	// The transport dies with the connection, whichever way the handler
	// returns.
	stop := context.AfterFunc(r.Context(), func() {
		_ = transport.Close()
	})
	defer stop()
	defer transport.Close()

	if err := d.server.Connect(transport); err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}
	if err := transport.HandleRequest(w, r); err != nil {
		return fmt.Errorf("handling request: %w", err)
	}
	return nil
}

func (d *dispatcher) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"tools":  d.server.Registry().Len(),
	})
}

// fail reports err to the client as an internal error if nothing has been
// sent yet, and otherwise only logs it.
func fail(sw *statusWriter, err error, logger *slog.Logger) {
	if sw.wroteHeader {
		logger.Error("request failed after response started", "status", sw.status, "error", err)
		return
	}
	logger.Error("request failed", "error", err)
	writeEnvelope(sw, http.StatusInternalServerError, jsonrpc.Errorf(jsonrpc.ErrInternal, "Internal server error"))
}

func writeEnvelope(w http.ResponseWriter, status int, rpcErr *jsonrpc.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(jsonrpc.NullID, rpcErr))
}
