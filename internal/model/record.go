package model

import "time"

// Meta is the session header written as the first line of the append log.
type Meta struct {
	CreatedAt  string `json:"created_at"`
	TotalCases int    `json:"total_cases"`
	CasesDir   string `json:"cases_dir"`
	Mode       string `json:"mode"`
}

// CancelSummary records the outcome of a best-effort task cancellation. It is
// diagnostic only and never blocks terminal-status assignment.
type CancelSummary struct {
	Requested bool   `json:"requested"`
	Accepted  bool   `json:"accepted"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Assessment is a structured pass/fail/skip verdict the case itself emitted,
// distinct from the remote system's completion outcome.
type Assessment struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Record is the persisted terminal result of one case. Records are append-only:
// a correction is a new record, never an in-place edit.
type Record struct {
	Case       string `json:"case"`
	Status     Status `json:"status"`
	Timestamp  string `json:"timestamp"`
	DurationMs int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
	Video      string `json:"video"`

	Screenshots          []string `json:"screenshot,omitempty"`
	InTokens             *int     `json:"in_tokens,omitempty"`
	OutTokens            *int     `json:"out_tokens,omitempty"`
	OriginalDimensions   []int    `json:"original_dimensions,omitempty"`
	ScreenshotDimensions []int    `json:"screenshot_dimensions,omitempty"`

	PodID string `json:"pod_id,omitempty"`
	RunID string `json:"run_id,omitempty"`

	TaskSignal  string         `json:"task_signal,omitempty"`
	Cancel      *CancelSummary `json:"cancel,omitempty"`
	Annotations []string       `json:"annotations,omitempty"`

	Content      string `json:"content,omitempty"`
	StructOutput any    `json:"struct_output,omitempty"`
}

// Timestamp format used in records and ledger file names.
const TimeLayout = time.RFC3339

func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}
