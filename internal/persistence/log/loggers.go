package log

import (
	"path/filepath"
	"time"

	"iftsim.dev/internal/sim/cell"
)

const (
	StepsFile  = "steps.jsonl.zst"
	EventsFile = "events.jsonl.zst"
)

// StepLogger writes one JSONL entry per simulated step (compressed). It is a
// cell.StepSink.
type StepLogger struct{ w *JSONLZstdWriter }

func NewStepLogger(runDir string) *StepLogger {
	return &StepLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, StepsFile))}
}

func (l *StepLogger) WriteStep(v cell.StepRecord) error { return l.w.Write(v) }
func (l *StepLogger) Steps() int                        { return l.w.Lines() }
func (l *StepLogger) Path() string                      { return l.w.Path() }
func (l *StepLogger) Close() error                      { return l.w.Close() }

// ReadSteps streams a step log written by StepLogger.
func ReadSteps(path string, fn func(cell.StepRecord) error) error {
	return ReadJSONL(path, fn)
}

// Event is a run lifecycle entry.
type Event struct {
	Time  time.Time `json:"time"`
	Run   string    `json:"run"`
	Kind  string    `json:"kind"`
	Step  int       `json:"step"`
	Attrs any       `json:"attrs,omitempty"`
}

const (
	EventStarted  = "started"
	EventFinished = "finished"
	EventFailed   = "failed"
)

// EventLogger writes run lifecycle entries (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(runDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, EventsFile))}
}

func (l *EventLogger) WriteEvent(v Event) error {
	if v.Time.IsZero() {
		v.Time = time.Now().UTC()
	}
	return l.w.Write(v)
}
func (l *EventLogger) Close() error { return l.w.Close() }
