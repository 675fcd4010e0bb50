// Package logging wires the module's global logger, keeping the
// teacher's verbose/quiet level toggles (internal/util/log.go) but
// backing them with zerolog's structured, leveled output instead of
// a hand-rolled ANSI writer. It also carries an adapted version of the
// teacher's internal/report.EventLogger as a JSONL sink for mount
// lifecycle transitions.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-rendered zerolog.Logger. verbose maps to
// Debug, quiet to Warn, and the default is Info — the same three-way
// switch the teacher's SetVerbose/SetQuiet exposed.
func New(verbose, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case verbose:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.WarnLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, mirroring the
// teacher's report.NullLogger nil-safe no-op pattern.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// mountEventRecord is one JSONL row: a mountapi.Event flattened to the
// fields worth persisting, in the shape of the teacher's report.Event
// (timestamp/level/event narrowed to a single mount-status record).
type mountEventRecord struct {
	Timestamp time.Time `json:"ts"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// EventLog is a JSONL sink for mount lifecycle transitions, adapted
// from the teacher's report.EventLogger: an append-only file plus a
// json.Encoder guarded by a mutex, narrowed from the teacher's ten
// -event-type union down to mountapi's five-state Mounting/Mounted/
// Unmounting/Unmounted/Faulted lifecycle.
type EventLog struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewEventLog opens path for append, creating its parent directory if
// needed, and returns a sink ready for Log.
func NewEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{file: f, encoder: json.NewEncoder(f)}, nil
}

// Log appends one mount status transition. Nil-safe, mirroring the
// teacher's EventLogger.Log so callers can pass a nil *EventLog when
// no sink is configured without branching at every call site.
func (l *EventLog) Log(status, reason string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(mountEventRecord{Timestamp: time.Now(), Status: status, Reason: reason})
}

// Close closes the underlying file. Nil-safe.
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
