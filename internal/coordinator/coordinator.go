// Package coordinator schedules discovered cases across the configured pods
// and feeds every terminal record into the ledger.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takumin/cloudcase/internal/cases"
	"github.com/takumin/cloudcase/internal/events"
	"github.com/takumin/cloudcase/internal/ledger"
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

const (
	ModeAuto     = "auto"
	ModeSerial   = "serial"
	ModeParallel = "parallel"
)

// ResolveMode collapses auto into a concrete mode. Parallel execution only
// pays off with more than one pod.
func ResolveMode(mode string, pods int) string {
	if mode == ModeAuto {
		if pods > 1 {
			return ModeParallel
		}
		return ModeSerial
	}
	return mode
}

// Runner is the per-case execution capability, satisfied by engine.Engine.
type Runner interface {
	Run(ctx context.Context, c cases.Case, podID string) model.Record
}

// Summary counts terminal statuses for one run.
type Summary struct {
	Total int
	Pass  int
	Fail  int
	Skip  int
}

func (s *Summary) add(rec model.Record) {
	s.Total++
	switch rec.Status {
	case model.StatusPass:
		s.Pass++
	case model.StatusFail:
		s.Fail++
	case model.StatusSkip:
		s.Skip++
	}
}

// Coordinator fans cases out to pods. Serial mode preserves discovery order on
// a single pod; parallel mode lets each pod pull the next undispatched case.
type Coordinator struct {
	runner  Runner
	session *ledger.Session
	bus     *events.Bus
	pods    []string

	logger   *log.Logger
	logLevel LogLevel
}

func New(runner Runner, session *ledger.Session, bus *events.Bus, pods []string, logger *log.Logger, level string) *Coordinator {
	return &Coordinator{
		runner:   runner,
		session:  session,
		bus:      bus,
		pods:     pods,
		logger:   logger,
		logLevel: parseLogLevel(level),
	}
}

// Run executes every case and returns the tally. The only fatal error is a
// ledger append failure: once persistence is gone the run stops rather than
// producing results nobody can trust.
func (c *Coordinator) Run(ctx context.Context, mode string, list []cases.Case) (Summary, error) {
	mode = ResolveMode(mode, len(c.pods))
	c.log(LogLevelInfo, "run_start mode=%s cases=%d pods=%d", mode, len(list), len(c.pods))

	var summary Summary
	var err error
	if mode == ModeParallel && len(c.pods) > 1 {
		summary, err = c.runParallel(ctx, list)
	} else {
		summary, err = c.runSerial(ctx, list)
	}
	if err != nil {
		return summary, err
	}

	c.publish(events.EventRunCompleted, map[string]interface{}{
		"total": summary.Total,
		"pass":  summary.Pass,
		"fail":  summary.Fail,
		"skip":  summary.Skip,
	})
	c.log(LogLevelInfo, "run_done total=%d pass=%d fail=%d skip=%d",
		summary.Total, summary.Pass, summary.Fail, summary.Skip)
	return summary, nil
}

func (c *Coordinator) runSerial(ctx context.Context, list []cases.Case) (Summary, error) {
	var summary Summary
	pod := c.pods[0]
	for _, cs := range list {
		rec, err := c.runOne(ctx, cs, pod)
		if err != nil {
			return summary, err
		}
		summary.add(rec)
	}
	return summary, nil
}

func (c *Coordinator) runParallel(ctx context.Context, list []cases.Case) (Summary, error) {
	queue := make(chan cases.Case)
	recs := make(chan model.Record, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for _, cs := range list {
			select {
			case queue <- cs:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for _, pod := range c.pods {
		pod := pod
		g.Go(func() error {
			for cs := range queue {
				rec, err := c.runOne(gctx, cs, pod)
				if err != nil {
					return err
				}
				recs <- rec
			}
			return nil
		})
	}

	err := g.Wait()
	close(recs)
	var summary Summary
	for rec := range recs {
		summary.add(rec)
	}
	return summary, err
}

// runOne executes one case and persists its record before the pod moves on.
func (c *Coordinator) runOne(ctx context.Context, cs cases.Case, pod string) (model.Record, error) {
	c.publish(events.EventCaseStarted, map[string]interface{}{
		"case": cs.RelPath,
		"pod":  pod,
	})
	rec := c.runner.Run(ctx, cs, pod)
	if err := c.session.Append(rec); err != nil {
		c.log(LogLevelError, "append_failed case=%s error=%v", cs.RelPath, err)
		return rec, fmt.Errorf("persist record: %w", err)
	}
	c.publish(events.EventCaseFinished, map[string]interface{}{
		"case":        cs.RelPath,
		"pod":         pod,
		"status":      string(rec.Status),
		"reason":      rec.Reason,
		"duration_ms": rec.DurationMs,
	})
	return rec, nil
}

func (c *Coordinator) publish(t events.EventType, data map[string]interface{}) {
	if c.bus != nil {
		c.bus.Publish(t, data)
	}
}

func (c *Coordinator) log(level LogLevel, format string, args ...any) {
	if level < c.logLevel || c.logger == nil {
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
	c.logger.Printf("%s %s coordinator: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
