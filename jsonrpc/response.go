package jsonrpc

// Result is any JSON-marshalable value returned by a method
type Result any

// Response represents a JSON-RPC response object
type Response struct {
	Version string `json:"jsonrpc"`
	Result  Result `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      ID     `json:"id"`
}

// NewResponse creates a new Response object
func NewResponse(id ID, result Result, err *Error) *Response {
	return &Response{
		Version: Version,
		ID:      id,
		Result:  result,
		Error:   err,
	}
}

// NewErrorResponse creates a Response carrying only an error.
func NewErrorResponse(id ID, err *Error) *Response {
	return NewResponse(id, nil, err)
}
