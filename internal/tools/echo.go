package tools

import (
	"context"

	"github.com/loopwork-ai/mcp-weather/mcp"
)

// EchoPrefix is prepended to every echoed message.
const EchoPrefix = "Tool echo: "

// EchoInput is the argument object of the echo tool.
type EchoInput struct {
	Message string `json:"message" jsonschema:"the message to echo back"`
}

// EchoOutput is the structured result of the echo tool.
type EchoOutput struct {
	Echo string `json:"echo"`
}

// Echo is the pure transform behind the echo tool.
func Echo(message string) EchoOutput {
	return EchoOutput{Echo: EchoPrefix + message}
}

// NewEchoTool returns the echo tool.
func NewEchoTool() (*mcp.Tool, error) {
	return mcp.NewTool("echo", "Echo Tool", "Echoes back the provided message",
		func(_ context.Context, in EchoInput) (*mcp.CallToolResult, EchoOutput, error) {
			return nil, Echo(in.Message), nil
		})
}
