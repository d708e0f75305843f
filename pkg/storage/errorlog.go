package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLog is the append-only record of requests that exhausted their retries.
// Each line reads "{timestamp} - {url} -- {error}".
type ErrorLog struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewErrorLog creates a log appending to path
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path, now: time.Now}
}

// Path returns the log location
func (l *ErrorLog) Path() string { return l.path }

// Append records one exhausted failure
func (l *ErrorLog) Append(url string, cause error) error {
	if l == nil {
		return nil
	}
	line := fmt.Sprintf("%s - %s -- %v\n", l.now().Format("2006-01-02T15:04:05"), url, cause)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create error log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to error log: %w", err)
	}
	return f.Close()
}
