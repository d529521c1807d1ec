// Package sinks provides the alert bus's built-in terminal consumers:
// file, email (stub), syslog, and Prometheus metrics.
package sinks

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

// FileSink appends one line per alert to a log file, flushing
// immediately after every write.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileSink opens path for appending, creating it if necessary.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open alert log %s: %w", path, err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Send writes "[ts] [Severity: S] [Type: T] message" and flushes.
func (s *FileSink) Send(a alertbus.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := fmt.Sprintf("[%s] [Severity: %d] [Type: %s] %s\n", a.Timestamp, a.Severity, a.Type, a.Message)
	if _, err := io.WriteString(s.f, line); err != nil {
		return
	}
	s.f.Sync()
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
