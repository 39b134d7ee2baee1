package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only JSON-RPC version this package speaks.
const Version = "2.0"

// Request represents a JSON-RPC request or notification object.
//
// A nil ID marks a notification. A request with an explicit `"id": null`
// decodes to a non-nil ID whose IsNil reports true.
type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`

	// response is set when the decoded message was a response object sent by
	// the peer rather than a request.
	response bool
}

// NewRequest creates a new Request object
func NewRequest(method string, params json.RawMessage, id any) Request {
	req := Request{
		Version: Version,
		Method:  method,
		Params:  params,
	}
	if id != nil {
		v := MustID(id)
		req.ID = &v
	}
	return req
}

// NewNotification creates a Request without an ID.
func NewNotification(method string, params json.RawMessage) Request {
	return Request{
		Version: Version,
		Method:  method,
		Params:  params,
	}
}

// IsNotification reports whether the message expects no response.
func (r Request) IsNotification() bool {
	return r.ID == nil
}

// IsResponse reports whether the message was a response object.
func (r Request) IsResponse() bool {
	return r.response
}

// ResponseID returns the ID a response to r must carry.
func (r Request) ResponseID() ID {
	if r.ID == nil {
		return NullID
	}
	return *r.ID
}

// Validate checks the envelope fields required of every request.
func (r Request) Validate() *Error {
	if r.Version != Version {
		return Errorf(ErrInvalidRequest, "Invalid Request: jsonrpc must be %q", Version)
	}
	if r.Method == "" {
		return Errorf(ErrInvalidRequest, "Invalid Request: method is required")
	}
	return nil
}

// UnmarshalJSON distinguishes an absent id from an explicit null and flags
// response objects.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Request{
		Version:  raw.Version,
		Method:   raw.Method,
		Params:   raw.Params,
		response: raw.Method == "" && (raw.Result != nil || raw.Error != nil),
	}
	if raw.ID != nil {
		var id ID
		if err := id.UnmarshalJSON(raw.ID); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		r.ID = &id
	}
	return nil
}

// ErrEmptyBatch is returned by Decode for an empty JSON array.
var ErrEmptyBatch = errors.New("empty batch")

// Decode parses a single JSON-RPC message or a batch of messages.
// batch reports whether the payload was a JSON array.
func Decode(data []byte) (msgs []Request, batch bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, errors.New("empty payload")
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, true, err
		}
		if len(raws) == 0 {
			return nil, true, ErrEmptyBatch
		}
		msgs = make([]Request, len(raws))
		for i, raw := range raws {
			if err := decodeMessage(raw, &msgs[i]); err != nil {
				return nil, true, fmt.Errorf("message %d: %w", i, err)
			}
		}
		return msgs, true, nil
	}

	var msg Request
	if err := decodeMessage(data, &msg); err != nil {
		return nil, false, err
	}
	return []Request{msg}, false, nil
}

// decodeMessage unmarshals one message. Type errors are reported in JSON
// terms since their text ends up in responses.
func decodeMessage(data []byte, msg *Request) error {
	err := json.Unmarshal(data, msg)
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return err
	}
	if typeErr.Field != "" {
		return fmt.Errorf("field %q must not be a JSON %s", typeErr.Field, typeErr.Value)
	}
	return errors.New("not a JSON-RPC object")
}
