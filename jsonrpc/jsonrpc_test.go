package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
		isNil bool
	}{
		{name: "integer", input: `7`, want: int64(7)},
		{name: "integral float", input: `7.0`, want: int64(7)},
		{name: "fractional", input: `1.5`, want: 1.5},
		{name: "string", input: `"abc"`, want: "abc"},
		{name: "null", input: `null`, isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.input), &id))
			assert.Equal(t, tt.isNil, id.IsNil())
			if !tt.isNil {
				assert.Equal(t, tt.want, id.Value())
			}

			out, err := json.Marshal(id)
			require.NoError(t, err)
			if tt.isNil {
				assert.JSONEq(t, `null`, string(out))
			}
		})
	}
}

func TestID_RejectsObjects(t *testing.T) {
	var id ID
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &id))
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestID_Equal(t *testing.T) {
	assert.True(t, MustID(7).Equal(7))
	assert.True(t, MustID(7).Equal(float64(7)))
	assert.True(t, MustID("7").Equal("7"))
	assert.False(t, MustID("7").Equal(7))
	assert.False(t, MustID(7).Equal([]int{7}))
}

func TestRequest_Unmarshal(t *testing.T) {
	t.Run("request with id", func(t *testing.T) {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &req))
		assert.False(t, req.IsNotification())
		assert.False(t, req.IsResponse())
		assert.True(t, req.ResponseID().Equal(1))
		assert.Nil(t, req.Validate())
	})

	t.Run("notification", func(t *testing.T) {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &req))
		assert.True(t, req.IsNotification())
		assert.True(t, req.ResponseID().IsNil())
	})

	t.Run("explicit null id is a request", func(t *testing.T) {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":null,"method":"ping"}`), &req))
		assert.False(t, req.IsNotification())
		assert.True(t, req.ResponseID().IsNil())
	})

	t.Run("response object", func(t *testing.T) {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":3,"result":{}}`), &req))
		assert.True(t, req.IsResponse())
	})

	t.Run("invalid envelope", func(t *testing.T) {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`), &req))
		rpcErr := req.Validate()
		require.NotNil(t, rpcErr)
		assert.Equal(t, ErrInvalidRequest, rpcErr.Code)

		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1}`), &req))
		require.NotNil(t, req.Validate())
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLen   int
		wantBatch bool
		wantErr   bool
	}{
		{name: "single", input: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantLen: 1},
		{name: "batch", input: ` [{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"notifications/initialized"}]`, wantLen: 2, wantBatch: true},
		{name: "empty batch", input: `[]`, wantBatch: true, wantErr: true},
		{name: "empty payload", input: `   `, wantErr: true},
		{name: "malformed", input: `{"jsonrpc": "2.0" method}`, wantErr: true},
		{name: "bad id in batch", input: `[{"jsonrpc":"2.0","id":{},"method":"ping"}]`, wantBatch: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, batch, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, msgs, tt.wantLen)
			assert.Equal(t, tt.wantBatch, batch)
		})
	}
}

func TestDecode_ErrorMessages(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "number in batch", input: `[{"jsonrpc":"2.0","id":1,"method":"ping"},42]`, want: "message 1: not a JSON-RPC object"},
		{name: "string payload", input: `"ping"`, want: "not a JSON-RPC object"},
		{name: "wrong field type", input: `{"jsonrpc":"2.0","id":1,"method":5}`, want: `field "method" must not be a JSON number`},
		{name: "object id", input: `{"jsonrpc":"2.0","id":{},"method":"ping"}`, want: "invalid id: id must be string or number, got object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.NotContains(t, err.Error(), "Go value")
		})
	}
}

func TestResponse_Marshal(t *testing.T) {
	resp := NewErrorResponse(NullID, NewError(ErrInternal, nil))
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":null}`, string(out))

	resp = NewResponse(MustID("a"), map[string]any{}, nil)
	out, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{},"id":"a"}`, string(out))
}

func TestNewError(t *testing.T) {
	assert.Equal(t, "Method not found", NewError(ErrMethodNotFound, nil).Message)
	assert.Equal(t, "Server error", NewError(ErrorCode(-32050), nil).Message)
	assert.Equal(t, "Unknown error", NewError(ErrorCode(1), nil).Message)

	err := Errorf(ErrInvalidParams, "unknown tool %q", "x").WithData(map[string]any{"tool": "x"})
	assert.Equal(t, `unknown tool "x"`, err.Message)
	assert.Equal(t, "-32602: unknown tool \"x\"", err.Error())
	assert.NotNil(t, err.Data)
}
