package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRequest_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool, 1000)

	for range 1000 {
		req, err := BuildRequest("tools/list", nil)
		require.NoError(t, err)
		require.True(t, req.IsCall())

		key := Key(req.ID)
		require.False(t, seen[key], "duplicate id %s", key)

		seen[key] = true
	}
}

func TestNewID_IsStringULID(t *testing.T) {
	id := NewID()
	require.True(t, id.IsValid())

	raw, ok := id.Raw().(string)
	require.True(t, ok, "id is %T", id.Raw())
	require.Len(t, raw, 26)
	require.Equal(t, "s:"+raw, Key(id))
}

func TestMakeID_NumbersAndStringsAreDistinct(t *testing.T) {
	num, err := MakeID(float64(7))
	require.NoError(t, err)

	str, err := MakeID("7")
	require.NoError(t, err)

	require.Equal(t, "n:7", Key(num))
	require.Equal(t, "s:7", Key(str))

	_, err = MakeID(true)
	require.Error(t, err)
}

func TestBuildRequest_Wire(t *testing.T) {
	req, err := BuildRequest("tools/call", map[string]any{
		"name":      "ping",
		"arguments": map[string]any{},
	})
	require.NoError(t, err)

	line, err := Encode(req)
	require.NoError(t, err)
	require.NotContains(t, string(line), "\n")

	var wire map[string]any
	require.NoError(t, json.Unmarshal(line, &wire))
	require.Equal(t, "2.0", wire["jsonrpc"])
	require.Equal(t, "tools/call", wire["method"])
	require.IsType(t, "", wire["id"])

	params, ok := wire["params"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ping", params["name"])
}

func TestBuildNotification_HasNoID(t *testing.T) {
	notif, err := BuildNotification("notifications/initialized", nil)
	require.NoError(t, err)
	require.False(t, notif.IsCall())

	line, err := Encode(notif)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(line, &wire))
	require.NotContains(t, wire, "id")
	require.NotContains(t, wire, "params")
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		kind   Kind
		method string
		key    string
	}{
		{
			name:  "string id response",
			input: `{"jsonrpc":"2.0","id":"abc","result":{"tools":[]}}`,
			kind:  KindResponse,
			key:   "s:abc",
		},
		{
			name:  "numeric id response",
			input: `{"jsonrpc":"2.0","id":7,"result":{}}`,
			kind:  KindResponse,
			key:   "n:7",
		},
		{
			name:  "error response",
			input: `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"nope"}}`,
			kind:  KindErrorResponse,
			key:   "s:x",
		},
		{
			name:   "notification",
			input:  `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`,
			kind:   KindNotification,
			method: "notifications/message",
		},
		{
			name:   "null id is a notification",
			input:  `{"jsonrpc":"2.0","id":null,"method":"notifications/initialized"}`,
			kind:   KindNotification,
			method: "notifications/initialized",
		},
		{
			name:   "request",
			input:  `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			kind:   KindRequest,
			method: "ping",
			key:    "n:1",
		},
		{name: "not json", input: `hello from the server`, kind: KindMalformed},
		{name: "truncated", input: `{"jsonrpc":"2.0","id":`, kind: KindMalformed},
		{name: "wrong version", input: `{"jsonrpc":"1.0","id":1,"result":{}}`, kind: KindMalformed},
		{name: "response without id", input: `{"jsonrpc":"2.0","result":{}}`, kind: KindMalformed},
		{name: "empty", input: "   ", kind: KindMalformed},
		{name: "array", input: `[1,2,3]`, kind: KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ParseEnvelope([]byte(tt.input))

			require.Equal(t, tt.kind, env.Kind, "err: %v", env.Err)
			require.Equal(t, tt.method, env.Method)
			require.Equal(t, tt.key, Key(env.ID))

			if tt.kind == KindMalformed {
				require.Error(t, env.Err)
			}
		})
	}
}

func TestParseEnvelope_ErrorObject(t *testing.T) {
	env := ParseEnvelope([]byte(`{"jsonrpc":"2.0","id":"x","error":{"code":-32000,"message":"tool crashed"}}`))

	require.Equal(t, KindErrorResponse, env.Kind)
	require.NotNil(t, env.Error)
	require.Equal(t, int64(-32000), env.Error.Code)
	require.Equal(t, "tool crashed", env.Error.Message)
}

func TestBuildResultAndError_RoundTrip(t *testing.T) {
	req, err := BuildRequest("initialize", nil)
	require.NoError(t, err)

	resp, err := BuildResult(req.ID, map[string]any{"ok": true})
	require.NoError(t, err)

	line, err := Encode(resp)
	require.NoError(t, err)

	env := ParseEnvelope(line)
	require.Equal(t, KindResponse, env.Kind)
	require.Equal(t, Key(req.ID), Key(env.ID))
	require.JSONEq(t, `{"ok":true}`, string(env.Result))

	line, err = Encode(BuildError(req.ID, CodeMethodNotFound, "method not found: foo"))
	require.NoError(t, err)

	env = ParseEnvelope(line)
	require.Equal(t, KindErrorResponse, env.Kind)
	require.Equal(t, int64(CodeMethodNotFound), env.Error.Code)
}

func TestBuildResult_NilResultIsEmptyObject(t *testing.T) {
	resp, err := BuildResult(NewID(), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(resp.Result))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "response", KindResponse.String())
	require.Equal(t, "malformed", KindMalformed.String())
}
