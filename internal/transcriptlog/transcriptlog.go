// Package transcriptlog appends every bot transcription to a JSONL file.
package transcriptlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxLogSize is the size at which the log rotates to <path>.1
const MaxLogSize = 8 * 1024 * 1024

// EntryType represents the type of log entry
type EntryType string

const (
	EntryTypeTranscription EntryType = "transcription"
	EntryTypeFailure       EntryType = "failure"
)

// Entry represents a single log line
type Entry struct {
	Timestamp string    `json:"timestamp"`
	Type      EntryType `json:"type"`
	RequestID string    `json:"request_id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Duration  float64   `json:"audio_seconds,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes entries with size-based rotation
type Logger struct {
	file     *os.File
	mu       sync.Mutex
	path     string
	maxSize  int64
	disabled bool
}

// New opens the log at path. An empty path disables logging.
func New(path string) (*Logger, error) {
	return newWithLimit(path, MaxLogSize)
}

func newWithLimit(path string, maxSize int64) (*Logger, error) {
	if path == "" {
		return &Logger{disabled: true}, nil
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		file:    file,
		path:    path,
		maxSize: maxSize,
	}

	if err := l.checkRotation(); err != nil {
		file.Close()
		return nil, err
	}

	return l, nil
}

// Path returns the active log file, empty when disabled.
func (l *Logger) Path() string {
	return l.path
}

// LogTranscription records a successful transcription.
func (l *Logger) LogTranscription(requestID string, chatID int64, audioSeconds float64, text string) error {
	return l.write(Entry{
		Type:      EntryTypeTranscription,
		RequestID: requestID,
		ChatID:    chatID,
		Text:      text,
		Duration:  audioSeconds,
	})
}

// LogFailure records a request that produced no transcript.
func (l *Logger) LogFailure(requestID string, chatID int64, kind string, err error) error {
	entry := Entry{
		Type:      EntryTypeFailure,
		RequestID: requestID,
		ChatID:    chatID,
		Kind:      kind,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return l.write(entry)
}

func (l *Logger) write(entry Entry) error {
	if l == nil || l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	return l.checkRotation()
}

// checkRotation moves the file to <path>.1 once it reaches maxSize
func (l *Logger) checkRotation() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rotated := l.path + ".1"
	os.Remove(rotated)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	l.file = file
	return nil
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil || l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
