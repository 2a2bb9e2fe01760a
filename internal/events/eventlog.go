package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize caps the scan event log before rotation (10MB).
	DefaultMaxLogSize = 10 * 1024 * 1024
	logFileExtension  = ".jsonl"
)

// LogEntry is one progress event as persisted to the scan event log.
type LogEntry struct {
	Timestamp   time.Time      `json:"timestamp"`
	RunID       string         `json:"run_id"`
	EventType   string         `json:"event_type"`
	GlobalIndex *int           `json:"global_index,omitempty"`
	Mode        string         `json:"mode,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// EventLog appends progress events to a JSONL file, rotating when the file
// exceeds maxSize. It gives operators a replayable trace of what a scan did
// independent of the results store.
type EventLog struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	logPath     string
}

func NewEventLog(logPath string, maxSize int64) (*EventLog, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	l := &EventLog{logPath: logPath, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *EventLog) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat event log: %w", err)
	}
	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Append records one progress event for the given run.
func (l *EventLog) Append(runID string, e Event) error {
	entry := LogEntry{
		Timestamp: e.Timestamp,
		RunID:     runID,
		EventType: string(e.Type),
	}
	switch e.Type {
	case TypeInit:
		entry.Details = map[string]any{"total_rows": e.Init.TotalRows, "template": e.Init.Template}
	case TypeRow:
		idx := e.Row.GlobalIndex
		entry.GlobalIndex = &idx
		entry.Mode = string(e.Row.Mode)
	case TypeDone:
		counts := make(map[string]int, len(e.Done.Outputs))
		for mode, rows := range e.Done.Outputs {
			counts[string(mode)] = len(rows)
		}
		entry.Details = map[string]any{"row_counts": counts}
	case TypeError:
		entry.Details = map[string]any{"message": e.Fail.Message}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentSize+int64(len(line)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	n, err := l.file.Write(line)
	l.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// rotate renames the current file aside with a timestamp suffix and reopens
// a fresh one. Caller holds the mutex.
func (l *EventLog) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close event log for rotation: %w", err)
	}
	rotated := fmt.Sprintf("%s.%s%s",
		strings.TrimSuffix(l.logPath, logFileExtension),
		time.Now().UTC().Format("20060102T150405"),
		logFileExtension)
	if err := os.Rename(l.logPath, rotated); err != nil {
		return fmt.Errorf("rotate event log: %w", err)
	}
	return l.openLogFile()
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
