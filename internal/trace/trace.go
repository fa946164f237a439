// Package trace appends pipeline step events to a run's trace.jsonl. The
// trace is an append-only artifact: one JSON object per line, written in
// step order, never rewritten.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Statuses for a trace event.
const (
	StatusOK    = "ok"
	StatusWarn  = "warn"
	StatusError = "error"
)

// tsFormat renders UTC with microsecond precision and a literal Z.
const tsFormat = "2006-01-02T15:04:05.000000Z"

// ErrorInfo describes a failed step.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Event is one line of trace.jsonl.
type Event struct {
	TS         string     `json:"ts"`
	RunID      string     `json:"run_id"`
	Step       string     `json:"step"`
	Status     string     `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	InputsRef  []string   `json:"inputs_ref"`
	OutputsRef []string   `json:"outputs_ref"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// Logger appends events for one run.
type Logger struct {
	path  string
	runID string
	now   func() time.Time
}

// NewLogger returns a logger appending to path for the given run. The file
// is created on first emit.
func NewLogger(path, runID string) *Logger {
	return &Logger{path: path, runID: runID, now: time.Now}
}

// Emit appends one event. Nil ref slices serialize as empty arrays.
func (l *Logger) Emit(step, status string, durationMS int64, inputs, outputs []string, errInfo *ErrorInfo) error {
	if inputs == nil {
		inputs = []string{}
	}
	if outputs == nil {
		outputs = []string{}
	}
	ev := Event{
		TS:         l.now().UTC().Format(tsFormat),
		RunID:      l.runID,
		Step:       step,
		Status:     status,
		DurationMS: durationMS,
		InputsRef:  inputs,
		OutputsRef: outputs,
		Error:      errInfo,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling trace event: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending trace event: %w", err)
	}
	return nil
}

// Step runs fn and emits a timed event: ok on success, error with the
// failure message otherwise. The fn error is returned unchanged.
func (l *Logger) Step(step string, inputs, outputs []string, fn func() error) error {
	start := l.now()
	err := fn()
	duration := l.now().Sub(start).Milliseconds()
	if err != nil {
		l.Emit(step, StatusError, duration, inputs, outputs, &ErrorInfo{
			Kind:    "step_failed",
			Message: err.Error(),
		})
		return err
	}
	l.Emit(step, StatusOK, duration, inputs, outputs, nil)
	return nil
}
