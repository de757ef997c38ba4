package mcpserver

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/telemetry"
)

// Dispatch limits.
const (
	maxInFlightCalls = 64
	maxQueuedCalls   = 256
	toolCallDeadline = 30 * time.Second
)

// errTooManyRequests is returned when the queue is saturated.
var errTooManyRequests = errors.New("too many concurrent tool calls")

// dispatchLimiter bounds in-flight tool calls with a bounded wait queue.
type dispatchLimiter struct {
	slots  chan struct{}
	queued atomic.Int64
	max    int64
}

func newDispatchLimiter(inFlight, queue int) *dispatchLimiter {
	return &dispatchLimiter{
		slots: make(chan struct{}, inFlight),
		max:   int64(queue),
	}
}

// acquire blocks until a slot frees up, ctx ends, or the queue is full.
func (l *dispatchLimiter) acquire(ctx context.Context) error {
	if l.queued.Add(1) > l.max {
		l.queued.Add(-1)
		return errTooManyRequests
	}
	defer l.queued.Add(-1)
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *dispatchLimiter) release() {
	<-l.slots
}

// registerTool wires one typed handler through the dispatcher: backpressure,
// deadline, tracing, metrics, envelope coercion, and response shaping.
// deprecation is non-empty for legacy aliases and surfaces as metadata.
func registerTool[In any](s *Server, name, description, deprecation string, fn func(context.Context, In) (any, error)) {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		return s.dispatch(ctx, name, deprecation, func(ctx context.Context) (any, error) {
			return fn(ctx, in)
		})
	})
}

func (s *Server) dispatch(ctx context.Context, name, deprecation string, invoke func(context.Context) (any, error)) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	if err := s.limiter.acquire(ctx); err != nil {
		env := errEnvelope(err)
		if errors.Is(err, errTooManyRequests) {
			env.ErrorCode = CodeTooManyRequests
		}
		metrics.RecordToolCall(name, env.ErrorCode, time.Since(start))
		return envelopeResult(env, s.cfg.MaxResponseBytes)
	}
	defer s.limiter.release()

	metrics.InFlightToolCalls.Inc()
	defer metrics.InFlightToolCalls.Dec()

	ctx, cancel := context.WithTimeout(ctx, toolCallDeadline)
	defer cancel()

	ctx, span := telemetry.StartToolCallSpan(ctx, name)

	data, err := invoke(ctx)
	var env *Envelope
	status := "ok"
	if err != nil {
		env = errEnvelope(err)
		status = env.ErrorCode
		s.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.String("code", env.ErrorCode),
			zap.Error(err))
	} else {
		env = okEnvelope(data)
	}
	if deprecation != "" {
		if env.Metadata == nil {
			env.Metadata = map[string]any{}
		}
		env.Metadata["deprecation"] = deprecation
	}

	result, structured, shapeErr := envelopeResult(env, s.cfg.MaxResponseBytes)
	truncated := shapeErr == nil && result != nil && resultTruncated(result)

	metrics.RecordToolCall(name, status, time.Since(start))
	telemetry.EndToolCallSpan(span, status, truncated)
	return result, structured, shapeErr
}

// envelopeResult shapes the envelope and renders it as a text tool result.
func envelopeResult(env *Envelope, budget int) (*mcp.CallToolResult, any, error) {
	data, truncated, err := shapeResponse(env, budget)
	if err != nil {
		return nil, nil, err
	}
	if truncated {
		metrics.RecordTruncation()
	}
	res := textToolResult(string(data))
	if truncated {
		res.Meta = mcp.Meta{"truncated": true}
	}
	return res, nil, nil
}

func resultTruncated(res *mcp.CallToolResult) bool {
	if res == nil || res.Meta == nil {
		return false
	}
	t, _ := res.Meta["truncated"].(bool)
	return t
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
