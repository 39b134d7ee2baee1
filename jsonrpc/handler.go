package jsonrpc

import "context"

// Handler defines the interface for handling JSON-RPC requests.
// Handle returns nil for notifications.
type Handler interface {
	Handle(ctx context.Context, request Request) *Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, request Request) *Response

func (f HandlerFunc) Handle(ctx context.Context, request Request) *Response {
	return f(ctx, request)
}
