package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loopwork-ai/mcp-weather/jsonrpc"
)

// ToolHandler executes a tool call. args has already been validated against
// the tool's InputSchema when the handler runs.
//
// A returned error is reported to the caller as a tool-scoped error result,
// not as a JSON-RPC error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*CallToolResult, error)

// TypedToolHandler is a ToolHandler that receives decoded input.
//
// If the returned result is nil, one is built from out: its JSON becomes the
// text content and, when Out is not `any`, out becomes the structured content.
type TypedToolHandler[In, Out any] func(ctx context.Context, in In) (*CallToolResult, Out, error)

// Tool is a registry entry: a named, schema-validated callable.
// A Tool must not be modified after it is registered.
type Tool struct {
	Name        string
	Title       string
	Description string

	// InputSchema must describe an object. A nil schema accepts any object.
	InputSchema *jsonschema.Schema
	// OutputSchema, if set, constrains StructuredContent.
	OutputSchema *jsonschema.Schema

	Handler ToolHandler

	input      *jsonschema.Resolved
	properties map[string]*jsonschema.Resolved
	additional *jsonschema.Resolved
	output     *jsonschema.Resolved
}

// NewTool creates a Tool whose input and output schemas are inferred from In
// and Out. Use `any` for Out when the tool has no structured output.
func NewTool[In, Out any](name, title, description string, h TypedToolHandler[In, Out]) (*Tool, error) {
	input, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("inferring input schema for %q: %w", name, err)
	}
	// Unknown argument keys are ignored when decoding into In.
	input.AdditionalProperties = nil

	var output *jsonschema.Schema
	structured := reflect.TypeFor[Out]() != reflect.TypeFor[any]()
	if structured {
		output, err = jsonschema.For[Out](nil)
		if err != nil {
			return nil, fmt.Errorf("inferring output schema for %q: %w", name, err)
		}
	}

	handler := func(ctx context.Context, args json.RawMessage) (*CallToolResult, error) {
		var in In
		if !isEmptyJSON(args) {
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
		}

		res, out, err := h(ctx, in)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &CallToolResult{}
			if structured {
				res.StructuredContent = out
			}
		}
		if len(res.Content) == 0 && res.StructuredContent != nil {
			text, err := JSONText(res.StructuredContent, "")
			if err != nil {
				return nil, fmt.Errorf("encoding structured content: %w", err)
			}
			res.Content = []Content{&TextContent{Text: text}}
		}
		return res, nil
	}

	return &Tool{
		Name:         name,
		Title:        title,
		Description:  description,
		InputSchema:  input,
		OutputSchema: output,
		Handler:      handler,
	}, nil
}

// Info returns the tool as advertised by tools/list.
func (t *Tool) Info() *ToolInfo {
	info := &ToolInfo{
		Name:        t.Name,
		Title:       t.Title,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
	if t.OutputSchema != nil {
		info.OutputSchema = t.OutputSchema
	}
	return info
}

// resolve prepares the schemas for validation. Called once by Register.
func (t *Tool) resolve() error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if t.InputSchema == nil {
		t.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	if t.InputSchema.Type != "object" {
		return fmt.Errorf("tool %q: input schema must have type \"object\", got %q", t.Name, t.InputSchema.Type)
	}

	var err error
	if t.input, err = t.InputSchema.Resolve(nil); err != nil {
		return fmt.Errorf("tool %q: resolving input schema: %w", t.Name, err)
	}

	// Property schemas are resolved on their own so that a failed validation
	// can be traced back to the fields that caused it.
	t.properties = make(map[string]*jsonschema.Resolved, len(t.InputSchema.Properties))
	for name, prop := range t.InputSchema.Properties {
		rs, err := resolveCopy(prop)
		if err != nil {
			return fmt.Errorf("tool %q: resolving property %q: %w", t.Name, name, err)
		}
		t.properties[name] = rs
	}
	if t.InputSchema.AdditionalProperties != nil {
		if t.additional, err = resolveCopy(t.InputSchema.AdditionalProperties); err != nil {
			return fmt.Errorf("tool %q: resolving additionalProperties: %w", t.Name, err)
		}
	}

	if t.OutputSchema != nil {
		if t.OutputSchema.Type != "object" {
			return fmt.Errorf("tool %q: output schema must have type \"object\", got %q", t.Name, t.OutputSchema.Type)
		}
		if t.output, err = t.OutputSchema.Resolve(nil); err != nil {
			return fmt.Errorf("tool %q: resolving output schema: %w", t.Name, err)
		}
	}
	return nil
}

func resolveCopy(s *jsonschema.Schema) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var cp jsonschema.Schema
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return cp.Resolve(nil)
}

// validateInput checks raw arguments against the input schema.
func (t *Tool) validateInput(args json.RawMessage) *jsonrpc.Error {
	var v any = map[string]any{}
	if !isEmptyJSON(args) {
		if err := json.Unmarshal(args, &v); err != nil {
			return jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "invalid arguments for tool %q: %v", t.Name, err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "invalid arguments for tool %q: arguments must be an object", t.Name)
	}

	err := t.input.Validate(obj)
	if err == nil {
		return nil
	}

	fields := t.offendingFields(obj)
	msg := fmt.Sprintf("invalid arguments for tool %q", t.Name)
	if len(fields) > 0 {
		msg += fmt.Sprintf(" (fields: %s)", strings.Join(fields, ", "))
	}
	return jsonrpc.Errorf(jsonrpc.ErrInvalidParams, "%s: %v", msg, err).
		WithData(map[string]any{"fields": fields})
}

// offendingFields lists the top-level argument names that are missing or do
// not match their property schema.
func (t *Tool) offendingFields(obj map[string]any) []string {
	fields := []string{}
	for _, name := range t.InputSchema.Required {
		if _, ok := obj[name]; !ok {
			fields = append(fields, name)
		}
	}
	for name, val := range obj {
		if rs, ok := t.properties[name]; ok {
			if rs.Validate(val) != nil {
				fields = append(fields, name)
			}
			continue
		}
		if t.additional != nil && t.additional.Validate(val) != nil {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// validateOutput checks structured content against the output schema.
func (t *Tool) validateOutput(v any) error {
	if t.output == nil || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding structured content: %w", err)
	}
	var inst any
	if err := json.Unmarshal(data, &inst); err != nil {
		return fmt.Errorf("decoding structured content: %w", err)
	}
	return t.output.Validate(inst)
}

// call runs the handler, converting a panic into an error.
func (t *Tool) call(ctx context.Context, args json.RawMessage) (res *CallToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("tool %q panicked: %v", t.Name, p)
		}
	}()

	res, err = t.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []Content{}
	}
	return res, nil
}

func isEmptyJSON(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
