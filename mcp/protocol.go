package mcp

import (
	"bytes"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// LatestProtocolVersion is the newest Model Context Protocol revision this
// server speaks. It is returned from initialize when the client asks for a
// revision we do not know.
const LatestProtocolVersion = "2025-11-25"

// supportedProtocolVersions lists every revision accepted in the
// Mcp-Protocol-Version header and in initialize.
var supportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// IsSupportedProtocolVersion reports whether v is a revision we accept.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range supportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// negotiateProtocolVersion picks the revision to answer initialize with.
func negotiateProtocolVersion(requested string) string {
	if IsSupportedProtocolVersion(requested) {
		return requested
	}
	return LatestProtocolVersion
}

// HTTP headers defined by the streamable HTTP transport.
const (
	HeaderProtocolVersion = "Mcp-Protocol-Version"
	HeaderSessionID       = "Mcp-Session-Id"
)

// Method names
const (
	MethodInitialize  = "initialize"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodInitialized = "notifications/initialized"

	notificationPrefix = "notifications/"
)

// Wire types are shared with the official SDK so that any conforming client
// (including the SDK's own) decodes our results without translation.
type (
	// CallToolResult is the result of tools/call
	CallToolResult = mcpsdk.CallToolResult
	// Content is one block of a tool result
	Content = mcpsdk.Content
	// TextContent is a text block
	TextContent = mcpsdk.TextContent
	// Implementation names a client or server
	Implementation = mcpsdk.Implementation
	// ToolInfo is a tool as advertised by tools/list
	ToolInfo = mcpsdk.Tool
)

// TextResult creates a CallToolResult with a single text block.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{&TextContent{Text: text}},
	}
}

// JSONText encodes v as the text of a content block. Unlike json.Marshal it
// leaves <, > and & as written. A non-empty indent pretty-prints the output.
func JSONText(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// ErrorResult creates a tool-scoped error result. The call itself succeeds at
// the protocol level; the failure is reported to the caller in-band.
func ErrorResult(err error) *CallToolResult {
	return &CallToolResult{
		Content: []Content{&TextContent{Text: err.Error()}},
		IsError: true,
	}
}
