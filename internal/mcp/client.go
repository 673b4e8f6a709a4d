package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ragent/internal/httpkit"
	"github.com/nugget/ragent/internal/registry"
)

// levelTrace matches config.LevelTrace without importing config.
const levelTrace = slog.Level(-8)

// Defaults for [Options] fields left zero.
const (
	DefaultAttemptTimeout = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 4 * time.Second
)

// Options configures a [Client].
type Options struct {
	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt. Each later
	// delay doubles, up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Transport Transport
	Clock     Clock
	Logger    *slog.Logger
}

// Client invokes tools. It holds no per-invocation state and is safe for
// concurrent use.
type Client struct {
	attemptTimeout time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	transport Transport
	clock     Clock
	logger    *slog.Logger
}

// NewClient creates a Client. Zero-valued options take the package
// defaults; a nil Transport means HTTP.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		attemptTimeout: opts.AttemptTimeout,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		transport:      opts.Transport,
		clock:          opts.Clock,
		logger:         logger,
	}
	if c.attemptTimeout <= 0 {
		c.attemptTimeout = DefaultAttemptTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = DefaultInitialBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = DefaultMaxBackoff
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(logger)
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	return c
}

// Backoff returns the delay before the given attempt number. Attempt 1
// has no delay; attempt N waits InitialBackoff·2^(N-2), capped at
// MaxBackoff.
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	d := c.initialBackoff
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

// Invoke runs one logical invocation of ep. It never returns an error:
// every outcome, including a passed deadline, is a [Result].
func (c *Client) Invoke(ctx context.Context, ep registry.ToolEndpoint, req Request) Result {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	tool := ep.Name
	if tool == "" {
		tool = req.ToolName
	}
	log := c.logger.With("tool", tool, "request_id", req.RequestID)

	if missing := missingParams(ep.RequestShape, req.Parameters); len(missing) > 0 {
		log.Warn("tool request incomplete, not sent", "missing", missing)
		return Failed(tool, req.RequestID, 0, KindApplicationError,
			fmt.Sprintf("missing required parameter(s): %s", strings.Join(missing, ", ")))
	}

	body, err := EncodeRequest(req.Parameters)
	if err != nil {
		// Unencodable parameters; nothing was sent.
		return Failed(tool, req.RequestID, 0, KindApplicationError, err.Error())
	}
	log.Log(ctx, levelTrace, "invoke envelope", "url", ep.URL, "json", string(body))

	call := Call{URL: ep.URL, RequestID: req.RequestID, CallerID: req.CallerID, Body: body}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.Backoff(attempt)
			log.Debug("backing off before retry", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return c.deadline(log, tool, req.RequestID, attempts, ctx.Err())
			case <-c.clock.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return c.deadline(log, tool, req.RequestID, attempts, err)
		}

		attempts = attempt
		reply, elapsed, err := c.attempt(ctx, call)
		if err != nil {
			if ctx.Err() != nil {
				return c.deadline(log, tool, req.RequestID, attempts, ctx.Err())
			}
			if !httpkit.IsTransient(err) {
				log.Warn("tool invocation failed", "attempt", attempt, "error", err)
				return Failed(tool, req.RequestID, attempts, KindUnreachable, err.Error())
			}
			lastErr = err
			continue
		}

		res := c.classify(ep, reply, elapsed)
		res.Tool, res.RequestID, res.Attempts = tool, req.RequestID, attempts
		log.Log(ctx, levelTrace, "invoke reply", "status", reply.StatusCode, "json", string(reply.Body))
		if res.OK() {
			log.Debug("tool invocation succeeded", "attempts", attempts, "timing_ms", res.Success.TimingMs)
		} else {
			log.Warn("tool invocation failed",
				"kind", res.Failure.Kind,
				"http_status", res.Failure.HTTPStatus,
				"message", res.Failure.Message,
			)
		}
		return res
	}

	msg := fmt.Sprintf("%d attempts failed", attempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	log.Warn("tool unreachable", "attempts", attempts, "error", lastErr)
	return Failed(tool, req.RequestID, attempts, KindUnreachable, msg)
}

// missingParams lists the required parameters that are absent or null.
func missingParams(shape registry.RequestShape, params map[string]any) []string {
	var missing []string
	for _, name := range shape.Required {
		if params[name] == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func (c *Client) attempt(ctx context.Context, call Call) (*Reply, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	start := c.clock.Now()
	reply, err := c.transport.Do(attemptCtx, call)
	elapsed := c.clock.Now().Sub(start)
	if err == nil && reply == nil {
		err = errors.New("transport returned no reply")
	}
	return reply, elapsed, err
}

// classify turns a reply into a Result without identity fields.
func (c *Client) classify(ep registry.ToolEndpoint, reply *Reply, elapsed time.Duration) Result {
	if reply.StatusCode < 200 || reply.StatusCode > 299 {
		return Result{Failure: &Failure{
			Kind:       KindApplicationError,
			Message:    errorMessage(reply.Body),
			HTTPStatus: reply.StatusCode,
		}}
	}

	env, err := DecodeResponse(reply.Body)
	if err != nil {
		return Result{Failure: &Failure{Kind: KindProtocolViolation, Message: err.Error(), HTTPStatus: reply.StatusCode}}
	}
	if env.Status == StatusError {
		return Result{Failure: &Failure{Kind: KindApplicationError, Message: env.Error, HTTPStatus: reply.StatusCode}}
	}

	rt := resultType(env.Result)
	if rt == "" {
		rt = ep.ResponseShape.ResultType
	}
	return Result{Success: &Success{
		Payload:    env.Result,
		ResultType: rt,
		TimingMs:   elapsed.Milliseconds(),
	}}
}

func (c *Client) deadline(log *slog.Logger, tool, requestID string, attempts int, cause error) Result {
	log.Warn("tool invocation abandoned", "attempts", attempts, "error", cause)
	msg := "deadline exceeded"
	if cause != nil {
		msg = cause.Error()
	}
	return Failed(tool, requestID, attempts, KindDeadlineExceeded, msg)
}
