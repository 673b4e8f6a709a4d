package mcp

import "encoding/json"

// Request is one logical tool invocation. All attempts share RequestID.
type Request struct {
	ToolName   string
	Parameters map[string]any
	RequestID  string
	CallerID   string
}

// Success is the payload of a successful invocation.
type Success struct {
	Payload    json.RawMessage `json:"payload"`
	ResultType string          `json:"result_type"`
	TimingMs   int64           `json:"timing_ms"`
}

// Failure describes why an invocation did not succeed.
type Failure struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
}

// Result is the outcome of an invocation. Exactly one of Success and
// Failure is non-nil.
type Result struct {
	Tool      string   `json:"tool"`
	RequestID string   `json:"request_id,omitempty"`
	Attempts  int      `json:"attempts"`
	Success   *Success `json:"success,omitempty"`
	Failure   *Failure `json:"failure,omitempty"`
}

// Failed builds a failure Result.
func Failed(tool, requestID string, attempts int, kind ErrorKind, message string) Result {
	return Result{
		Tool:      tool,
		RequestID: requestID,
		Attempts:  attempts,
		Failure:   &Failure{Kind: kind, Message: message},
	}
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Success != nil }

// Kind returns the failure kind, or "" for a success.
func (r Result) Kind() ErrorKind {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Kind
}

// Err returns the failure as an *InvokeError, or nil for a success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return &InvokeError{Kind: r.Failure.Kind, Tool: r.Tool, Message: r.Failure.Message}
}

// Outcome is a short label for logs and metrics: "success" or the
// failure kind.
func (r Result) Outcome() string {
	if r.OK() {
		return "success"
	}
	return string(r.Kind())
}

// Clone returns a deep copy.
func (r Result) Clone() Result {
	out := r
	if r.Success != nil {
		s := *r.Success
		s.Payload = append(json.RawMessage(nil), r.Success.Payload...)
		out.Success = &s
	}
	if r.Failure != nil {
		f := *r.Failure
		out.Failure = &f
	}
	return out
}
