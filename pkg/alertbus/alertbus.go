// Package alertbus implements the daemon's typed alert dispatch: a
// single synchronous bus that applies per-type enable/severity policy
// and fans accepted alerts out to every registered sink.
package alertbus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimestampLayout is the wall-clock format stamped on every Alert.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	minSeverity = 1
	maxSeverity = 5
)

// Alert is an immutable, classified, timestamped message produced by
// a detector and handed to every registered sink.
type Alert struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Severity  int    `json:"severity"`
}

// Sink is a terminal consumer of alerts. Send must be safe to call
// from any goroutine and must never call back into the bus that
// invoked it.
type Sink interface {
	Send(Alert)
}

// Bus is the shared, thread-safe alert dispatcher. The zero value is
// not usable; construct with New.
type Bus struct {
	mu       sync.Mutex
	sinks    map[string]Sink
	enabled  map[string]bool
	severity map[string]int
	now      func() time.Time
	log      *logrus.Logger
}

// New creates a Bus with the default policy: BRUTE_FORCE=5,
// FAILED_LOGIN=2, SUCCESS_LOGIN=1, ERROR=4, all enabled.
func New(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.New()
	}
	b := &Bus{
		sinks:    make(map[string]Sink),
		enabled:  make(map[string]bool),
		severity: make(map[string]int),
		now:      time.Now,
		log:      log,
	}
	for typ, sev := range map[string]int{
		"BRUTE_FORCE":   5,
		"FAILED_LOGIN":  2,
		"SUCCESS_LOGIN": 1,
		"ERROR":         4,
	} {
		b.severity[typ] = sev
		b.enabled[typ] = true
	}
	return b
}

// WithClock overrides the bus's wall clock. Intended for tests.
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// AddSink installs or replaces the sink registered under name.
func (b *Bus) AddSink(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[name] = sink
}

// RemoveSink unregisters name. A no-op if name was never registered.
func (b *Bus) RemoveSink(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, name)
}

// EnableType sets whether alerts of typ are dispatched at all.
func (b *Bus) EnableType(typ string, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled[typ] = enabled
}

// SetSeverity sets the severity attached to alerts of typ, clamped to
// [1,5].
func (b *Bus) SetSeverity(typ string, severity int) {
	if severity < minSeverity {
		severity = minSeverity
	}
	if severity > maxSeverity {
		severity = maxSeverity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.severity[typ] = severity
}

// Trigger constructs an Alert of the given type and fans it out to
// every registered sink. Disabled types return silently. The bus
// never fails: a sink that panics is caught and logged so that one
// bad sink cannot take down the producer's goroutine.
func (b *Bus) Trigger(typ, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if enabled, ok := b.enabled[typ]; ok && !enabled {
		return
	}

	severity := minSeverity
	if sev, ok := b.severity[typ]; ok {
		severity = sev
	}

	alert := Alert{
		Type:      typ,
		Message:   message,
		Timestamp: b.now().Format(TimestampLayout),
		Severity:  severity,
	}

	for name, sink := range b.sinks {
		b.dispatch(name, sink, alert)
	}
}

func (b *Bus) dispatch(name string, sink Sink, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{"sink": name, "panic": r}).Error("alert sink panicked")
		}
	}()
	sink.Send(alert)
}
