package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loopwork-ai/mcp-weather/jsonrpc"
)

// Server answers MCP requests from a frozen tool registry.
//
// A Server keeps no per-client state: the same instance is shared by every
// transport, and each Handle call depends only on its request.
type Server struct {
	info         *Implementation
	instructions string
	registry     *Registry
	toolTimeout  time.Duration
	logger       *slog.Logger
}

var _ jsonrpc.Handler = (*Server)(nil)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithImplementation sets the name and version reported by initialize.
func WithImplementation(name, version string) ServerOption {
	return func(s *Server) {
		s.info = &Implementation{Name: name, Version: version}
	}
}

// WithInstructions sets the usage hint returned by initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithToolTimeout bounds each tool call. Zero means no bound.
func WithToolTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.toolTimeout = d
	}
}

// NewServer creates a Server over registry and freezes the registry: no tool
// can be added once a server exists.
func NewServer(registry *Registry, opts ...ServerOption) (*Server, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}

	s := &Server{
		info:     &Implementation{Name: "mcp-weather", Version: "dev"},
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	registry.Freeze()
	return s, nil
}

// Registry returns the server's tool registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Connect binds a per-request transport to the server. It only attaches the
// server as the transport's handler.
func (s *Server) Connect(t *HTTPTransport) error {
	return t.bind(s)
}

// Handle processes a single JSON-RPC message and returns its response, or nil
// for a notification.
func (s *Server) Handle(ctx context.Context, request jsonrpc.Request) *jsonrpc.Response {
	if request.IsNotification() {
		s.handleNotification(request)
		return nil
	}

	id := request.ResponseID()
	if rpcErr := request.Validate(); rpcErr != nil {
		return jsonrpc.NewErrorResponse(id, rpcErr)
	}

	var (
		result any
		err    error
	)
	switch request.Method {
	case MethodInitialize:
		result, err = s.handleInitialize(request)
	case MethodPing:
		result = map[string]any{}
	case MethodToolsList:
		result = s.handleToolsList()
	case MethodToolsCall:
		result, err = s.handleToolsCall(ctx, request)
	default:
		err = jsonrpc.NewError(jsonrpc.ErrMethodNotFound, map[string]any{"method": request.Method})
	}

	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			s.logger.Error("unexpected error handling request", "method", request.Method, "error", err)
			rpcErr = jsonrpc.NewError(jsonrpc.ErrInternal, nil)
		}
		return jsonrpc.NewErrorResponse(id, rpcErr)
	}
	return jsonrpc.NewResponse(id, result, nil)
}

func (s *Server) handleNotification(request jsonrpc.Request) {
	if !strings.HasPrefix(request.Method, notificationPrefix) {
		s.logger.Warn("received notification for non-notification method", "method", request.Method)
		return
	}
	s.logger.Debug("accepted notification", "method", request.Method)
}

func (s *Server) handleInitialize(request jsonrpc.Request) (*mcpsdk.InitializeResult, error) {
	var params struct {
		ProtocolVersion string          `json:"protocolVersion"`
		ClientInfo      *Implementation `json:"clientInfo"`
	}
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "invalid initialize params: %v", err)
		}
	}

	version := negotiateProtocolVersion(params.ProtocolVersion)
	attrs := []any{"requested", params.ProtocolVersion, "negotiated", version}
	if params.ClientInfo != nil {
		attrs = append(attrs, "client", params.ClientInfo.Name, "client_version", params.ClientInfo.Version)
	}
	s.logger.Debug("initialize", attrs...)

	return &mcpsdk.InitializeResult{
		ProtocolVersion: version,
		Capabilities: &mcpsdk.ServerCapabilities{
			Tools: &mcpsdk.ToolCapabilities{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handleToolsList() *mcpsdk.ListToolsResult {
	tools := s.registry.List()
	infos := make([]*ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = t.Info()
	}
	return &mcpsdk.ListToolsResult{Tools: infos}
}

func (s *Server) handleToolsCall(ctx context.Context, request jsonrpc.Request) (*CallToolResult, error) {
	var params mcpsdk.CallToolParamsRaw
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "invalid tools/call params: %v", err)
	}
	if params.Name == "" {
		return nil, jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "tool name is required")
	}

	if s.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.toolTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.registry.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Debug("tool call rejected", "tool", params.Name, "error", err)
		return nil, err
	}

	if res.IsError {
		s.logger.Warn("tool call failed", "tool", params.Name, "duration", time.Since(start), "error", resultText(res))
	} else {
		s.logger.Debug("tool call complete", "tool", params.Name, "duration", time.Since(start))
	}
	return res, nil
}

func resultText(res *CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
