// Package agentapi is the boundary to the remote agent-task API. It owns the
// wire envelopes and normalizes them into canonical structures; nothing
// outside this package branches on raw payload shape.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/takumin/cloudcase/internal/model"
)

// RemoteCallError covers any per-call failure at the API boundary: auth
// failure, network failure, or a malformed response. The core recovers it
// locally by failing the affected case; it never aborts the whole run.
type RemoteCallError struct {
	Action string
	Err    error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// StartTaskInput describes one case dispatch.
type StartTaskInput struct {
	RunName      string
	PodID        string
	Prompt       string
	SystemPrompt string
	Timeout      time.Duration
}

// StepInfo is one normalized poll response. Raw carries the unmodified step
// payload for diagnostics.
type StepInfo struct {
	Signal model.Signal
	Status string
	Raw    json.RawMessage
}

// CancelReceipt is the remote system's answer to a cancellation request.
// Accepted is true only when the call succeeded and carried a non-empty detail.
type CancelReceipt struct {
	Accepted bool
	Detail   string
}

// AgentResult is the normalized final result of a remote task. Optional fields
// are extracted opportunistically; their absence is never an error.
type AgentResult struct {
	Outcome              model.Outcome
	Content              string
	StructOutput         any
	Screenshots          []string
	OriginalDimensions   []int
	ScreenshotDimensions []int
	InTokens             *int
	OutTokens            *int
	VideoURL             string
	Raw                  json.RawMessage
}

// Client is the capability the orchestration core consumes. Implementations
// own transport and signing; the core owns scheduling and classification.
type Client interface {
	StartTask(ctx context.Context, in StartTaskInput) (runID string, err error)
	PollStep(ctx context.Context, runID string) (StepInfo, error)
	FetchResult(ctx context.Context, runID string, detailed bool) (AgentResult, error)
	CancelTask(ctx context.Context, runID string) (CancelReceipt, error)
}

// requestUserMarker converges a poll when it appears anywhere in the payload.
const requestUserMarker = "REQUEST_USER"

// SignalFromStep derives the convergence signal from a poll response. The
// detection is deliberately permissive: the remote system's step vocabulary is
// not fully enumerable, so besides the two known terminal statuses, the
// REQUEST_USER marker anywhere in the raw payload also counts. Kept as a
// single predicate so it can be tightened in one place.
func SignalFromStep(status string, raw json.RawMessage) model.Signal {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "FINISHED":
		return model.SignalFinished
	case requestUserMarker:
		return model.SignalRequestUser
	}
	if bytes.Contains(raw, []byte(requestUserMarker)) {
		return model.SignalRequestUser
	}
	return model.SignalNotConverged
}
