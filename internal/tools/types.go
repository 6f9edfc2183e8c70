package tools

import (
	"fmt"
)

// ConnectionError marks a transport-level failure against the tool
// server. After the bounded connect retries are exhausted it becomes
// persistent until the caller explicitly re-triggers a connect.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tool server unreachable at %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ToolDescriptor describes one remote tool. Fetched once at connection
// setup and immutable for the session's duration.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any // Structural JSON schema: parameters, types, required subset
}

// InvocationRequest is one named tool call with its correlation id
type InvocationRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Failure describes a failed invocation in human-readable form
type Failure struct {
	Message string
	Cause   string
}

// InvocationResult is the uniform outcome shape for a tool invocation:
// either a success payload or a failure descriptor, never neither.
// Exactly one result exists per invocation request id.
type InvocationResult struct {
	ID      string
	Name    string
	Payload map[string]any
	Failure *Failure
}

// Succeeded reports whether the invocation produced a success payload
func (r InvocationResult) Succeeded() bool {
	return r.Failure == nil
}

// NewSuccess builds a success-shaped result
func NewSuccess(id, name string, payload map[string]any) InvocationResult {
	return InvocationResult{ID: id, Name: name, Payload: payload}
}

// NewFailure builds a failure-shaped result
func NewFailure(id, name, message string, cause error) InvocationResult {
	f := &Failure{Message: message}
	if cause != nil {
		f.Cause = cause.Error()
	}
	return InvocationResult{ID: id, Name: name, Failure: f}
}

// ResultBatch is a non-empty set of invocation results. The type cannot
// be constructed with zero entries: the upstream session treats a missing
// or empty tool-result response as a fatal malformed-response condition,
// so emptiness is rejected structurally rather than checked at the call
// site.
type ResultBatch struct {
	results []InvocationResult
}

// NewResultBatch builds a batch, rejecting empty input
func NewResultBatch(results []InvocationResult) (ResultBatch, error) {
	if len(results) == 0 {
		return ResultBatch{}, fmt.Errorf("tool result batch must contain at least one result")
	}
	out := make([]InvocationResult, len(results))
	copy(out, results)
	return ResultBatch{results: out}, nil
}

// BatchFor builds a complete batch for the given requests: every request
// id appears exactly once, with a synthesized placeholder failure
// substituted for any id missing from results. Requests must be
// non-empty.
func BatchFor(requests []InvocationRequest, results map[string]InvocationResult) (ResultBatch, error) {
	if len(requests) == 0 {
		return ResultBatch{}, fmt.Errorf("tool result batch must cover at least one request")
	}

	out := make([]InvocationResult, 0, len(requests))
	for _, req := range requests {
		if res, ok := results[req.ID]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, NewFailure(req.ID, req.Name,
			fmt.Sprintf("tool %q produced no result", req.Name), nil))
	}
	return ResultBatch{results: out}, nil
}

// Results returns the batch contents
func (b ResultBatch) Results() []InvocationResult {
	return b.results
}

// Len returns the number of results in the batch
func (b ResultBatch) Len() int {
	return len(b.results)
}
