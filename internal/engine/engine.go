// Package engine drives a single case from dispatch to terminal record. Each
// case runs its own convergence loop; the engine never touches the ledger.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/takumin/cloudcase/internal/agentapi"
	"github.com/takumin/cloudcase/internal/cases"
	"github.com/takumin/cloudcase/internal/model"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// cancelGrace bounds the best-effort remote cancel after timeout or interrupt.
// The case context is already dead by then, so the cancel gets its own.
const cancelGrace = 10 * time.Second

type Options struct {
	PollInterval time.Duration
	CaseTimeout  time.Duration
	Detailed     bool
	SystemPrompt string
	LogLevel     string
}

// Engine runs cases against a remote client. Safe for concurrent use; each
// Run call is independent.
type Engine struct {
	client agentapi.Client
	opts   Options

	logger   *log.Logger
	logLevel LogLevel
}

func New(client agentapi.Client, opts Options, logger *log.Logger) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Duration(model.DefaultPollIntervalSec * float64(time.Second))
	}
	if opts.CaseTimeout <= 0 {
		opts.CaseTimeout = model.DefaultCaseTimeoutSec * time.Second
	}
	return &Engine{
		client:   client,
		opts:     opts,
		logger:   logger,
		logLevel: parseLogLevel(opts.LogLevel),
	}
}

// latch holds the one terminal record of a case. The first claim wins; the
// loser leaves an annotation instead of a second record.
type latch struct {
	mu    sync.Mutex
	done  bool
	rec   model.Record
	notes []string
}

func (l *latch) claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return false
	}
	l.done = true
	return true
}

func (l *latch) store(rec model.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec = rec
}

func (l *latch) annotate(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, fmt.Sprintf(format, args...))
}

func (l *latch) record() model.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.rec
	rec.Annotations = append(rec.Annotations, l.notes...)
	return rec
}

// Run executes one case on one pod and always returns a terminal record.
// Remote failures become fail records; only ctx cancellation cuts the case
// short, and even then a record with a cancel summary comes back.
func (e *Engine) Run(ctx context.Context, c cases.Case, podID string) model.Record {
	start := time.Now()
	base := model.Record{
		Case:      c.RelPath,
		Timestamp: model.Now(),
		PodID:     podID,
	}
	finish := func(rec model.Record) model.Record {
		rec.DurationMs = time.Since(start).Milliseconds()
		return rec
	}

	state := model.StateEmpty
	if c.Empty() {
		e.transition(&state, model.StateDone, c.RelPath)
		e.log(LogLevelInfo, "case_skip_empty case=%s", c.RelPath)
		base.Status = model.StatusSkip
		base.Reason = "empty case content"
		return base
	}
	e.transition(&state, model.StateDispatching, c.RelPath)

	e.log(LogLevelInfo, "case_dispatch case=%s pod=%s", c.RelPath, podID)
	runID, err := e.client.StartTask(ctx, agentapi.StartTaskInput{
		RunName:      c.Name,
		PodID:        podID,
		Prompt:       c.Content,
		SystemPrompt: e.opts.SystemPrompt,
		Timeout:      e.opts.CaseTimeout,
	})
	if err != nil {
		e.transition(&state, model.StateDone, c.RelPath)
		e.log(LogLevelError, "case_dispatch_failed case=%s pod=%s error=%v", c.RelPath, podID, err)
		base.Status = model.StatusFail
		base.Reason = fmt.Sprintf("dispatch failed: %v", err)
		return finish(base)
	}
	base.RunID = runID
	e.transition(&state, model.StatePolling, c.RelPath)

	caseCtx, release := context.WithTimeout(ctx, e.opts.CaseTimeout)
	defer release()

	l := &latch{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-caseCtx.Done()
		interrupted := ctx.Err() != nil
		if !interrupted && caseCtx.Err() != context.DeadlineExceeded {
			return // normal completion released the context
		}
		reason := "timeout waiting for task completion"
		if interrupted {
			reason = "interrupted before task completion"
		}
		if !l.claim() {
			l.annotate("cancellation skipped, result already settled (%s)", reason)
			return
		}
		e.log(LogLevelWarn, "case_cancel case=%s run=%s reason=%s", c.RelPath, runID, reason)
		rec := base
		rec.Status = model.StatusFail
		rec.Reason = reason
		rec.Cancel = e.cancelRemote(runID)
		l.store(rec)
	}()

	if rec, settled := e.runToResult(caseCtx, &state, c, runID, base); settled {
		if l.claim() {
			l.store(rec)
		} else {
			l.annotate("result %s arrived after cancellation", rec.Status)
		}
	}

	release()
	wg.Wait()
	return finish(l.record())
}

// runToResult walks the case through polling and classification. settled is
// false when the context died first and the cancellation path owns the record.
func (e *Engine) runToResult(ctx context.Context, state *model.EngineState, c cases.Case, runID string, base model.Record) (model.Record, bool) {
	signal, err := e.converge(ctx, runID)
	if err != nil {
		// Only context death ends the loop; the cancellation path owns it.
		return model.Record{}, false
	}
	e.transition(state, model.StateConverged, c.RelPath)
	e.log(LogLevelDebug, "case_converged case=%s run=%s signal=%s", c.RelPath, runID, signal)
	base.TaskSignal = signal.String()
	e.transition(state, model.StateClassifying, c.RelPath)

	res, status, reason, err := e.classify(ctx, runID)
	if err != nil {
		if ctx.Err() != nil {
			return model.Record{}, false
		}
		e.log(LogLevelError, "case_result_failed case=%s run=%s error=%v", c.RelPath, runID, err)
		base.Status = model.StatusFail
		base.Reason = fmt.Sprintf("fetch result failed: %v", err)
		return base, true
	}
	e.transition(state, model.StateDone, c.RelPath)
	e.log(LogLevelInfo, "case_done case=%s run=%s status=%s outcome=%s", c.RelPath, runID, status, res.Outcome)

	base.Status = status
	base.Reason = reason
	base.Video = res.VideoURL
	base.Screenshots = res.Screenshots
	base.InTokens = res.InTokens
	base.OutTokens = res.OutTokens
	base.OriginalDimensions = res.OriginalDimensions
	base.ScreenshotDimensions = res.ScreenshotDimensions
	if e.opts.Detailed {
		base.Content = res.Content
		base.StructOutput = res.StructOutput
	}
	return base, true
}

// converge polls until the run reports a terminal signal. The first poll is
// immediate; later polls wait out the interval. Poll call errors are treated
// as transient and logged; the per-case timeout is the backstop. Returns an
// error only when ctx dies.
func (e *Engine) converge(ctx context.Context, runID string) (model.Signal, error) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		step, err := e.client.PollStep(ctx, runID)
		switch {
		case err != nil && ctx.Err() != nil:
			return model.SignalNotConverged, ctx.Err()
		case err != nil:
			e.log(LogLevelWarn, "poll_error run=%s error=%v", runID, err)
		default:
			e.log(LogLevelDebug, "poll run=%s status=%s signal=%s", runID, step.Status, step.Signal)
			if step.Signal.Converged() {
				return step.Signal, nil
			}
		}
		select {
		case <-ctx.Done():
			return model.SignalNotConverged, ctx.Err()
		case <-ticker.C:
		}
	}
}

// classify fetches the final result and maps it to a terminal status. A
// not-yet-final outcome gets one grace refetch; if the result still is not
// final the case fails rather than looping forever. A self-reported verdict
// in the result overrides the outcome table.
func (e *Engine) classify(ctx context.Context, runID string) (agentapi.AgentResult, model.Status, string, error) {
	res, err := e.client.FetchResult(ctx, runID, e.opts.Detailed)
	if err != nil {
		return agentapi.AgentResult{}, "", "", err
	}
	if res.Outcome == model.OutcomeNotCompleted {
		select {
		case <-ctx.Done():
			return agentapi.AgentResult{}, "", "", ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}
		res, err = e.client.FetchResult(ctx, runID, e.opts.Detailed)
		if err != nil {
			return agentapi.AgentResult{}, "", "", err
		}
	}

	status, reason, ok := model.ClassifyOutcome(res.Outcome)
	if !ok {
		e.log(LogLevelWarn, "classify_not_final run=%s outcome=%s", runID, res.Outcome)
		return res, model.StatusFail, "result not finalized after convergence", nil
	}
	if a, found := agentapi.InferAssessment(res); found {
		e.log(LogLevelDebug, "self_assessment run=%s status=%s", runID, a.Status)
		status = a.Status
		if a.Reason != "" {
			reason = a.Reason
		}
	}
	if status != model.StatusPass && reason == "" {
		reason = fmt.Sprintf("self-assessment reported %s", status)
	}
	return res, status, reason, nil
}

// cancelRemote requests cancellation on a dedicated short-lived context and
// reports what the remote side answered. Never fails the record.
func (e *Engine) cancelRemote(runID string) *model.CancelSummary {
	ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	sum := &model.CancelSummary{Requested: true}
	receipt, err := e.client.CancelTask(ctx, runID)
	if err != nil {
		e.log(LogLevelWarn, "cancel_failed run=%s error=%v", runID, err)
		sum.Error = err.Error()
		return sum
	}
	sum.Accepted = receipt.Accepted
	sum.Detail = receipt.Detail
	e.log(LogLevelInfo, "cancel_done run=%s accepted=%t", runID, receipt.Accepted)
	return sum
}

func (e *Engine) transition(cur *model.EngineState, to model.EngineState, caseID string) {
	if err := model.ValidateEngineTransition(*cur, to); err != nil {
		e.log(LogLevelError, "state_transition_invalid case=%s error=%v", caseID, err)
	}
	*cur = to
	e.log(LogLevelDebug, "state case=%s state=%s", caseID, to)
}

func (e *Engine) log(level LogLevel, format string, args ...any) {
	if level < e.logLevel || e.logger == nil {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	e.logger.Printf("%s %s engine: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
