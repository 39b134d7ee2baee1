package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/loopwork-ai/mcp-weather/jsonrpc"
)

var (
	// ErrDuplicateTool is returned by Register for a name already taken.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
	// ErrToolNotFound is wrapped by the protocol error Invoke returns for an
	// unknown tool name.
	ErrToolNotFound = errors.New("tool not found")
)

// Registry maps tool names to tools.
//
// Registration happens during startup only. Freeze ends that phase; from then
// on the registry is read-only and safe for concurrent use without locking.
type Registry struct {
	tools  map[string]*Tool
	frozen atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds t under its name. It must not be called concurrently or after
// Freeze.
func (r *Registry) Register(t *Tool) error {
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if t == nil {
		return errors.New("tool is nil")
	}
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name)
	}
	if err := t.resolve(); err != nil {
		return err
	}
	r.tools[t.Name] = t
	return nil
}

// Freeze ends the registration phase. It is idempotent.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	tools := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// Invoke validates args and calls the named tool.
//
// Protocol failures (unknown tool, invalid arguments, output that violates
// the output schema) are returned as *jsonrpc.Error. Handler failures,
// including panics, are returned as a result with IsError set.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "unknown tool %q", name).
			WithData(map[string]any{"tool": name}).
			Wrap(ErrToolNotFound)
	}

	if rpcErr := tool.validateInput(args); rpcErr != nil {
		return nil, rpcErr
	}

	res, err := tool.call(ctx, args)
	if err != nil {
		return ErrorResult(err), nil
	}

	if err := tool.validateOutput(res.StructuredContent); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.ErrInternal, "tool %q returned invalid structured content: %v", name, err)
	}
	return res, nil
}
