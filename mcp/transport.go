package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/loopwork-ai/mcp-weather/jsonrpc"
)

// SessionIDMode selects how a transport assigns session identity.
type SessionIDMode int

const (
	// SessionIDNone never issues or expects an Mcp-Session-Id. Every
	// exchange is self-contained.
	SessionIDNone SessionIDMode = iota
)

// ResponseMode selects how a transport writes results.
type ResponseMode int

const (
	// ResponseBufferedJSON collects every response before writing headers
	// and sends them as a single application/json body.
	ResponseBufferedJSON ResponseMode = iota
)

// DefaultMaxBodyBytes bounds the request body when TransportOptions leaves
// MaxBodyBytes unset.
const DefaultMaxBodyBytes int64 = 4 << 20

var (
	// ErrTransportClosed is returned when a transport is used after Close.
	ErrTransportClosed = errors.New("transport is closed")
	// ErrTransportUsed is returned when HandleRequest is called a second time.
	ErrTransportUsed = errors.New("transport has already handled a request")
	// ErrAlreadyBound is returned when a transport is connected twice.
	ErrAlreadyBound = errors.New("transport is already bound to a server")
	// ErrNotBound is returned when HandleRequest is called before Connect.
	ErrNotBound = errors.New("transport is not bound to a server")
	// ErrUnsupportedOption is returned by NewHTTPTransport for option values
	// it does not implement.
	ErrUnsupportedOption = errors.New("unsupported transport option")
)

// TransportOptions configures an HTTPTransport.
type TransportOptions struct {
	SessionIDMode SessionIDMode
	ResponseMode  ResponseMode
	// MaxBodyBytes bounds the request body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type transportState int32

const (
	stateNew transportState = iota
	stateBound
	stateHandling
	stateDone
	stateClosed
)

// HTTPTransport bridges one HTTP request/response pair to one protocol
// exchange.
//
// A transport is created for a single request, handles at most one payload,
// and is then inert. It is never shared between requests, which keeps the
// JSON-RPC ids chosen by one client from ever meeting those of another.
type HTTPTransport struct {
	id      ulid.ULID
	opts    TransportOptions
	logger  *slog.Logger
	handler jsonrpc.Handler

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// NewHTTPTransport creates an unbound transport.
func NewHTTPTransport(opts TransportOptions) (*HTTPTransport, error) {
	if opts.SessionIDMode != SessionIDNone {
		return nil, fmt.Errorf("%w: session id mode %d", ErrUnsupportedOption, opts.SessionIDMode)
	}
	if opts.ResponseMode != ResponseBufferedJSON {
		return nil, fmt.Errorf("%w: response mode %d", ErrUnsupportedOption, opts.ResponseMode)
	}
	if opts.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("%w: negative body limit", ErrUnsupportedOption)
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &HTTPTransport{
		id:   ulid.Make(),
		opts: opts,
		done: make(chan struct{}),
	}
	t.logger = logger.With("transport", t.id.String())
	return t, nil
}

// ID identifies the transport in logs. It is not a session id and is never
// sent to the client.
func (t *HTTPTransport) ID() string {
	return t.id.String()
}

// Done is closed when the transport is closed.
func (t *HTTPTransport) Done() <-chan struct{} {
	return t.done
}

// Closed reports whether Close has been called.
func (t *HTTPTransport) Closed() bool {
	return transportState(t.state.Load()) == stateClosed
}

func (t *HTTPTransport) bind(h jsonrpc.Handler) error {
	if h == nil {
		return errors.New("handler is nil")
	}
	if t.state.CompareAndSwap(int32(stateNew), int32(stateBound)) {
		t.handler = h
		return nil
	}
	if t.Closed() {
		return ErrTransportClosed
	}
	return ErrAlreadyBound
}

// Close releases the transport. It is safe to call more than once and from
// any goroutine; only the first call has an effect.
//
// Closing does not interrupt a request that is being handled: tool calls run
// to completion and their result is discarded if it can no longer be
// written.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() {
		prev := transportState(t.state.Swap(int32(stateClosed)))
		close(t.done)
		t.logger.Debug("transport closed", "state", prev.String())
	})
	return nil
}

// HandleRequest interprets r as one MCP exchange and writes the response to w.
//
// It may be called once. It returns an error only for failures that could
// not be turned into a protocol response; the caller decides whether an
// error envelope can still be written.
func (t *HTTPTransport) HandleRequest(w http.ResponseWriter, r *http.Request) error {
	if !t.state.CompareAndSwap(int32(stateBound), int32(stateHandling)) {
		switch transportState(t.state.Load()) {
		case stateClosed:
			return ErrTransportClosed
		case stateNew:
			return ErrNotBound
		default:
			return ErrTransportUsed
		}
	}
	defer t.state.CompareAndSwap(int32(stateHandling), int32(stateDone))

	switch r.Method {
	case http.MethodPost:
		return t.handlePost(w, r)
	case http.MethodGet:
		return t.handleGet(w, r)
	default:
		w.Header().Set("Allow", http.MethodPost)
		return writeError(w, http.StatusMethodNotAllowed, jsonrpc.NullID, jsonrpc.Errorf(jsonrpc.ErrServer, "Method not allowed."))
	}
}

// handleGet answers requests for the standalone server-to-client event
// stream, which buffered JSON mode does not provide.
func (t *HTTPTransport) handleGet(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Allow", http.MethodPost)
	return writeError(w, http.StatusMethodNotAllowed, jsonrpc.NullID,
		jsonrpc.Errorf(jsonrpc.ErrServer, "Method not allowed: this server does not offer an SSE stream"))
}

func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) error {
	if !acceptsJSON(r.Header.Values("Accept")) {
		return writeError(w, http.StatusNotAcceptable, jsonrpc.NullID,
			jsonrpc.Errorf(jsonrpc.ErrServer, "Not Acceptable: Client must accept application/json"))
	}

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		return writeError(w, http.StatusUnsupportedMediaType, jsonrpc.NullID,
			jsonrpc.Errorf(jsonrpc.ErrServer, "Unsupported Media Type: Content-Type must be application/json"))
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return writeError(w, http.StatusRequestEntityTooLarge, jsonrpc.NullID,
				jsonrpc.Errorf(jsonrpc.ErrInvalidRequest, "Request body exceeds %d bytes", tooLarge.Limit))
		}
		return fmt.Errorf("reading request body: %w", err)
	}

	msgs, batch, err := jsonrpc.Decode(body)
	if err != nil {
		return writeError(w, http.StatusBadRequest, jsonrpc.NullID, jsonrpc.NewError(jsonrpc.ErrParse, err.Error()))
	}

	hasInitialize := false
	for _, msg := range msgs {
		if msg.Method == MethodInitialize {
			hasInitialize = true
		}
	}
	if hasInitialize && len(msgs) > 1 {
		return writeError(w, http.StatusBadRequest, jsonrpc.NullID,
			jsonrpc.Errorf(jsonrpc.ErrInvalidRequest, "Invalid Request: initialize must not be part of a batch"))
	}
	if v := r.Header.Get(HeaderProtocolVersion); v != "" && !hasInitialize && !IsSupportedProtocolVersion(v) {
		return writeError(w, http.StatusBadRequest, jsonrpc.NullID,
			jsonrpc.Errorf(jsonrpc.ErrServer, "Bad Request: unsupported %s %q", HeaderProtocolVersion, v))
	}

	// Handlers are detached from the client connection: a disconnect closes
	// the transport but does not cancel work already in flight.
	ctx := context.WithoutCancel(r.Context())

	responses := make([]*jsonrpc.Response, len(msgs))
	g := new(errgroup.Group)
	for i, msg := range msgs {
		if msg.IsResponse() {
			// We never send server-to-client requests, so there is nothing
			// to correlate a response with.
			t.logger.Debug("ignoring response message", "id", msg.ResponseID().GoString())
			continue
		}
		g.Go(func() error {
			responses[i] = t.handler.Handle(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*jsonrpc.Response, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, resp)
		}
	}

	if t.Closed() {
		t.logger.Debug("discarding responses: client went away", "responses", len(out))
		return nil
	}

	if len(out) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return nil
	}
	if batch {
		return writeJSON(w, http.StatusOK, out)
	}
	return writeJSON(w, http.StatusOK, out[0])
}

// acceptsJSON reports whether the Accept header values admit application/json.
// A missing header accepts anything.
func acceptsJSON(values []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			switch mediaType {
			case "application/json", "application/*", "*/*":
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, id jsonrpc.ID, rpcErr *jsonrpc.Error) error {
	return writeJSON(w, status, jsonrpc.NewErrorResponse(id, rpcErr))
}

func (s transportState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateBound:
		return "bound"
	case stateHandling:
		return "handling"
	case stateDone:
		return "done"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("transportState(%d)", int32(s))
	}
}
