//go:build !windows

package sinks

import (
	"log/syslog"
	"sync"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

// SyslogSink forwards alerts to the local syslog daemon at a level
// derived from severity, mirroring the original's utils::writeSyslog.
type SyslogSink struct {
	mu     sync.Mutex
	writer *syslog.Writer
}

// NewSyslogSink dials the local syslog daemon under the given tag.
func NewSyslogSink(tag string) (*SyslogSink, error) {
	w, err := syslog.New(syslog.LOG_WARNING, tag)
	if err != nil {
		return nil, err
	}
	return &SyslogSink{writer: w}, nil
}

// Send maps severity 1..5 onto syslog levels and writes the message.
func (s *SyslogSink) Send(a alertbus.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := "[" + a.Type + "] " + a.Message
	switch {
	case a.Severity >= 5:
		s.writer.Crit(msg)
	case a.Severity == 4:
		s.writer.Err(msg)
	case a.Severity == 3:
		s.writer.Warning(msg)
	case a.Severity == 2:
		s.writer.Notice(msg)
	default:
		s.writer.Info(msg)
	}
}

// Close releases the underlying syslog connection.
func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
