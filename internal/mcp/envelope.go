package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MethodInvoke is the only method the envelope carries.
const MethodInvoke = "invoke"

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Headers carrying invocation identity. They travel beside the envelope
// so the envelope shape stays fixed.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderCallerID  = "X-Caller-ID"
)

// RequestEnvelope is the wire form of an invocation.
type RequestEnvelope struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// ResponseEnvelope is the wire form of a tool reply. Exactly one of
// Result or Error is set in a well-formed envelope.
type ResponseEnvelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EncodeRequest serializes params into an invoke envelope. Nil params
// encode as an empty object.
func EncodeRequest(params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(RequestEnvelope{Method: MethodInvoke, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeRequest parses an invoke envelope on the tool side.
func DecodeRequest(body []byte) (map[string]any, error) {
	var env RequestEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Method != MethodInvoke {
		return nil, fmt.Errorf("unsupported method %q", env.Method)
	}
	if env.Params == nil {
		env.Params = map[string]any{}
	}
	return env.Params, nil
}

// SuccessEnvelope wraps result for the wire.
func SuccessEnvelope(result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return json.Marshal(ResponseEnvelope{Status: StatusSuccess, Result: raw})
}

// ErrorEnvelope wraps an application error message for the wire.
func ErrorEnvelope(message string) []byte {
	b, _ := json.Marshal(ResponseEnvelope{Status: StatusError, Error: message})
	return b
}

// errProtocol is wrapped by every envelope validation failure.
var errProtocol = errors.New("protocol violation")

// rawEnvelope keeps presence information that ResponseEnvelope loses.
type rawEnvelope struct {
	Status *string         `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeResponse validates a reply body. A returned error wraps
// errProtocol and describes what is wrong with the envelope. An explicit
// JSON null counts as absent.
func DecodeResponse(body []byte) (*ResponseEnvelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", errProtocol, err)
	}
	if raw.Status == nil {
		return nil, fmt.Errorf("%w: missing status", errProtocol)
	}

	hasResult, hasError := present(raw.Result), present(raw.Error)
	switch *raw.Status {
	case StatusSuccess:
		if !hasResult || hasError {
			return nil, fmt.Errorf("%w: success envelope must carry result and no error", errProtocol)
		}
		return &ResponseEnvelope{Status: StatusSuccess, Result: raw.Result}, nil
	case StatusError:
		if !hasError || hasResult {
			return nil, fmt.Errorf("%w: error envelope must carry error and no result", errProtocol)
		}
		var msg string
		if err := json.Unmarshal(raw.Error, &msg); err != nil {
			return nil, fmt.Errorf("%w: error field is not a string", errProtocol)
		}
		return &ResponseEnvelope{Status: StatusError, Error: msg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", errProtocol, *raw.Status)
	}
}

// resultType reads a string "type" field from an object payload.
func resultType(payload json.RawMessage) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// errorMessage extracts a human message from an HTTP error body: the
// envelope error, a FastAPI-style "detail", or the trimmed body itself.
func errorMessage(body []byte) string {
	var probe struct {
		Error  string `json:"error"`
		Detail any    `json:"detail"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		if probe.Error != "" {
			return probe.Error
		}
		if s, ok := probe.Detail.(string); ok && s != "" {
			return s
		}
	}
	return string(bytes.TrimSpace(body))
}
