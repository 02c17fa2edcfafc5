// Package jsonrpc builds and classifies JSON-RPC 2.0 envelopes for MCP.
//
// Encoding and decoding of the wire form is delegated to the official MCP Go
// SDK; this package adds request-id generation, envelope classification and
// a canonical correlation key for ids.
//
// Example usage:
//
//	req, err := jsonrpc.BuildRequest("tools/list", nil)
//	line, err := jsonrpc.Encode(req)
//
//	env := jsonrpc.ParseEnvelope(line)
//	switch env.Kind {
//	case jsonrpc.KindResponse, jsonrpc.KindErrorResponse:
//	    pending.Resolve(jsonrpc.Key(env.ID), env)
//	}
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/oklog/ulid/v2"
)

// Version is the JSON-RPC protocol version used by MCP.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = jsonrpc.CodeParseError
	CodeInvalidRequest = jsonrpc.CodeInvalidRequest
	CodeMethodNotFound = jsonrpc.CodeMethodNotFound
	CodeInvalidParams  = jsonrpc.CodeInvalidParams
	CodeInternalError  = jsonrpc.CodeInternalError
)

type (
	// ID is a JSON-RPC request id: a string, an integer, or absent.
	ID = jsonrpc.ID
	// Message is a decoded JSON-RPC message, either *Request or *Response.
	Message = jsonrpc.Message
	// Request is a call (valid ID) or a notification (zero ID).
	Request = jsonrpc.Request
	// Response is a reply to a call.
	Response = jsonrpc.Response
	// WireError is the error object carried by an error response.
	WireError = jsonrpc.Error
)

// Kind classifies a parsed envelope.
type Kind int

const (
	// KindMalformed is input that is not a valid JSON-RPC 2.0 envelope.
	KindMalformed Kind = iota
	// KindRequest is a call carrying a method and an id.
	KindRequest
	// KindNotification carries a method and no id.
	KindNotification
	// KindResponse is a successful reply.
	KindResponse
	// KindErrorResponse is a reply carrying an error object.
	KindErrorResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error_response"
	default:
		return "malformed"
	}
}

// Envelope is the classified form of one wire message.
type Envelope struct {
	Kind Kind

	// ID is valid for requests and responses.
	ID ID

	// Method and Params are set for requests and notifications.
	Method string
	Params json.RawMessage

	// Result is set for successful responses.
	Result json.RawMessage

	// Error is set for error responses.
	Error *WireError

	// Err is the decode failure for malformed input.
	Err error
}

// NewID returns a fresh, unique request id.
func NewID() ID {
	// MakeID only rejects values that are neither strings nor numbers.
	id, _ := jsonrpc.MakeID(ulid.Make().String())

	return id
}

// MakeID converts a decoded JSON value (string, float64 or nil) to an ID.
func MakeID(v any) (ID, error) {
	return jsonrpc.MakeID(v)
}

// BuildRequest creates a call with a fresh unique id.
func BuildRequest(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}

	return &Request{ID: NewID(), Method: method, Params: raw}, nil
}

// BuildNotification creates a message with no id. No response is expected.
func BuildNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}

	return &Request{Method: method, Params: raw}, nil
}

// BuildResult creates a successful response for id.
func BuildResult(id ID, result any) (*Response, error) {
	if result == nil {
		result = struct{}{}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return &Response{ID: id, Result: data}, nil
}

// BuildError creates an error response for id.
func BuildError(id ID, code int64, message string) *Response {
	return &Response{ID: id, Error: &WireError{Code: code, Message: message}}
}

// Encode serializes a message to its single-line wire form, without a
// trailing newline.
func Encode(msg Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// EncodeNullIDError encodes an error response with "id": null, used when
// the id of the offending message could not be read.
func EncodeNullIDError(code int64, message string) []byte {
	data, _ := json.Marshal(struct {
		Version string     `json:"jsonrpc"`
		ID      any        `json:"id"`
		Error   *WireError `json:"error"`
	}{Version: Version, Error: &WireError{Code: code, Message: message}})

	return data
}

// ParseEnvelope decodes and classifies one wire message. It never panics;
// anything that is not a JSON-RPC 2.0 envelope is returned as KindMalformed
// with Err describing the failure.
func ParseEnvelope(data []byte) (env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			env = Envelope{Kind: KindMalformed, Err: fmt.Errorf("decode panic: %v", r)}
		}
	}()

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{Kind: KindMalformed, Err: fmt.Errorf("empty message")}
	}

	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		return Envelope{Kind: KindMalformed, Err: err}
	}

	return Classify(msg)
}

// Classify converts a decoded message to an Envelope.
func Classify(msg Message) Envelope {
	switch m := msg.(type) {
	case *Request:
		if m.IsCall() {
			return Envelope{Kind: KindRequest, ID: m.ID, Method: m.Method, Params: m.Params}
		}

		return Envelope{Kind: KindNotification, Method: m.Method, Params: m.Params}

	case *Response:
		if m.Error != nil {
			return Envelope{Kind: KindErrorResponse, ID: m.ID, Error: toWireError(m.Error)}
		}

		return Envelope{Kind: KindResponse, ID: m.ID, Result: m.Result}

	default:
		return Envelope{Kind: KindMalformed, Err: fmt.Errorf("unknown message type %T", msg)}
	}
}

// Key returns a canonical correlation key for id. String and integer ids
// with the same text map to different keys.
func Key(id ID) string {
	switch v := id.Raw().(type) {
	case string:
		return "s:" + v
	case int64:
		return "n:" + strconv.FormatInt(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("?:%v", v)
	}
}

func toWireError(err error) *WireError {
	if we, ok := err.(*WireError); ok {
		return we
	}

	return &WireError{Code: CodeInternalError, Message: err.Error()}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}

	return json.Marshal(params)
}
