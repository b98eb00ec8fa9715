// Package ledger persists case results. Every terminal record is appended to
// a JSONL log as soon as it exists, so a crash mid-run loses at most the case
// in flight; a final pass renders the log into an ordered JSON snapshot.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/takumin/cloudcase/internal/model"
)

// WriteError indicates the append log could not be extended. Durability is the
// point of the log, so the caller treats this as fatal and aborts the run.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("append to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// metaLine is the first line of every log, wrapping the session header under
// a reserved key so it can never collide with a case record.
type metaLine struct {
	Meta *model.Meta `json:"__meta__"`
}

// Session is one open append log. Appends are serialized internally, so a
// parallel run shares a single session across pod workers.
type Session struct {
	mu   sync.Mutex
	f    *os.File
	path string
	meta model.Meta
}

// Open creates a fresh timestamped log under resultsDir and writes the
// session header as its first line.
func Open(resultsDir string, meta model.Meta) (*Session, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	name := time.Now().UTC().Format("20060102_150405") + ".jsonl"
	path := filepath.Join(resultsDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create result log: %w", err)
	}

	s := &Session{f: f, path: path, meta: meta}
	header, err := json.Marshal(metaLine{Meta: &meta})
	if err != nil {
		_ = f.Close()
		return nil, &WriteError{Path: path, Err: err}
	}
	if err := s.writeLine(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the location of the append log.
func (s *Session) Path() string { return s.path }

// Append durably adds one record. Each line is synced before Append returns,
// so a record that was reported persisted survives a crash.
func (s *Session) Append(rec model.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLine(line)
}

func (s *Session) writeLine(line []byte) error {
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	if err := s.f.Sync(); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Finalize reads the log back and writes the ordered snapshot next to it,
// sorted by the discovery order map. Records for cases missing from the map
// sort last, in log order. Returns the snapshot path.
func (s *Session) Finalize(order map[string]int) (string, error) {
	s.mu.Lock()
	if err := s.f.Sync(); err != nil {
		s.mu.Unlock()
		return "", &WriteError{Path: s.path, Err: err}
	}
	s.mu.Unlock()
	return Snapshot(s.path, order)
}

// Snapshot renders a JSONL log into its ordered JSON array form.
func Snapshot(logPath string, order map[string]int) (string, error) {
	_, records, err := ReadLog(logPath)
	if err != nil {
		return "", err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return orderOf(order, records[i].Case) < orderOf(order, records[j].Case)
	})

	content, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", err
	}
	snapPath := strings.TrimSuffix(logPath, filepath.Ext(logPath)) + ".json"
	if err := atomicWriteJSON(snapPath, content); err != nil {
		return "", err
	}
	return snapPath, nil
}

func orderOf(order map[string]int, caseID string) int {
	if idx, ok := order[caseID]; ok {
		return idx
	}
	return int(^uint(0) >> 1)
}

// Progress summarizes a log while the run may still be writing it.
type Progress struct {
	Meta model.Meta
	Done int
}

// ReadProgress counts completed cases in a possibly live log. Only lines
// terminated by a newline count; a partial trailing line from an in-flight
// append is ignored, never an error.
func ReadProgress(logPath string) (Progress, error) {
	meta, records, err := ReadLog(logPath)
	if err != nil {
		return Progress{}, err
	}
	return Progress{Meta: meta, Done: len(records)}, nil
}

// ReadLog parses a log into its header and records. Tolerant by design: a
// missing header yields a zero Meta, unparseable complete lines are skipped,
// and an unterminated trailing line is ignored.
func ReadLog(logPath string) (model.Meta, []model.Record, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return model.Meta{}, nil, fmt.Errorf("read result log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	// Without a trailing newline the last element is an in-flight fragment.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines = lines[:len(lines)-1]
	}

	var meta model.Meta
	var records []model.Record
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i == 0 {
			var ml metaLine
			if err := json.Unmarshal([]byte(line), &ml); err == nil && ml.Meta != nil {
				meta = *ml.Meta
				continue
			}
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return meta, records, nil
}

// LatestLog returns the newest .jsonl log under resultsDir, for commands that
// default to the current run.
func LatestLog(resultsDir string) (string, error) {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return "", fmt.Errorf("read results dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no result logs in %s", resultsDir)
	}
	sort.Strings(names)
	return filepath.Join(resultsDir, names[len(names)-1]), nil
}
