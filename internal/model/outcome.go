package model

import (
	"fmt"
	"strings"
)

// Status is the terminal classification of a case.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// ParseStatus normalizes a free-form status string. Only pass/fail/skip are
// accepted; anything else is rejected.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPass:
		return StatusPass, true
	case StatusFail:
		return StatusFail, true
	case StatusSkip:
		return StatusSkip, true
	}
	return "", false
}

// Outcome is the remote system's own completion code for an agent task.
type Outcome int

const (
	OutcomeNotCompleted Outcome = iota
	OutcomeSuccess
	OutcomeExecFailed
	OutcomeCompletedNoMessage
	OutcomeUserInterrupt
	OutcomeUserCancelled
	OutcomeUnknownError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotCompleted:
		return "not_completed"
	case OutcomeSuccess:
		return "success"
	case OutcomeExecFailed:
		return "exec_failed"
	case OutcomeCompletedNoMessage:
		return "completed_no_message"
	case OutcomeUserInterrupt:
		return "user_interrupt"
	case OutcomeUserCancelled:
		return "user_cancelled"
	case OutcomeUnknownError:
		return "unknown_error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// outcomeStatuses is the fixed outcome to status table. OutcomeNotCompleted has
// no entry: a non-final result after convergence is a classification anomaly
// handled by the engine.
var outcomeStatuses = map[Outcome]Status{
	OutcomeSuccess:            StatusPass,
	OutcomeCompletedNoMessage: StatusPass,
	OutcomeExecFailed:         StatusFail,
	OutcomeUserInterrupt:      StatusFail,
	OutcomeUserCancelled:      StatusSkip,
	OutcomeUnknownError:       StatusFail,
}

var outcomeReasons = map[Outcome]string{
	OutcomeExecFailed:    "task execution failed",
	OutcomeUserInterrupt: "task interrupted by user",
	OutcomeUserCancelled: "task cancelled by user",
	OutcomeUnknownError:  "task failed with unknown error",
}

// ClassifyOutcome maps a final outcome to its terminal status plus a default
// reason for non-pass statuses. ok is false for OutcomeNotCompleted and for
// codes outside the known range.
func ClassifyOutcome(o Outcome) (status Status, reason string, ok bool) {
	st, ok := outcomeStatuses[o]
	if !ok {
		return "", "", false
	}
	return st, outcomeReasons[o], true
}

// Signal is the convergence signal derived from a single poll response.
type Signal int

const (
	SignalNotConverged Signal = iota
	SignalFinished
	SignalRequestUser
)

func (s Signal) String() string {
	switch s {
	case SignalFinished:
		return "finished"
	case SignalRequestUser:
		return "request_user"
	default:
		return "not_converged"
	}
}

// Converged reports whether it is safe to fetch the final result.
func (s Signal) Converged() bool {
	return s == SignalFinished || s == SignalRequestUser
}

// EngineState is a phase of the per-case convergence state machine.
type EngineState string

const (
	StateEmpty       EngineState = "empty"
	StateDispatching EngineState = "dispatching"
	StatePolling     EngineState = "polling"
	StateConverged   EngineState = "converged"
	StateClassifying EngineState = "classifying"
	StateCancelling  EngineState = "cancelling"
	StateDone        EngineState = "done"
)

var validEngineTransitions = map[EngineState]map[EngineState]bool{
	StateEmpty: {
		StateDispatching: true,
		StateDone:        true, // empty content, skip without dispatch
	},
	StateDispatching: {
		StatePolling: true,
		StateDone:    true, // dispatch failure, fail
	},
	StatePolling: {
		StateConverged:  true,
		StateCancelling: true,
	},
	StateConverged: {
		StateClassifying: true,
	},
	StateClassifying: {
		StateDone:       true,
		StateCancelling: true,
	},
	StateCancelling: {
		StateDone: true,
	},
}

func ValidateEngineTransition(from, to EngineState) error {
	allowed, ok := validEngineTransitions[from]
	if !ok {
		return fmt.Errorf("cannot transition from terminal state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid engine transition: %q -> %q", from, to)
	}
	return nil
}
