// Package logtail follows an authentication log in real time,
// classifies each line, and promotes repeated failed logins from a
// single source IP into a brute-force alert.
package logtail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

// EventType classifies a parsed authentication log line.
type EventType int

// Event kinds. parseLine tries invalid_user before failed_login,
// since the former is a stricter specialization of the latter; this
// order does not match the declaration order below.
const (
	EventUnknown EventType = iota
	EventFailedLogin
	EventInvalidUser
	EventSuccessfulLogin
	EventLogout
	EventBruteforceAttempt
)

// SSHEvent is the result of parsing a single log line.
type SSHEvent struct {
	Type       EventType
	Timestamp  string
	Username   string
	SourceIP   string
	RawMessage string
}

const (
	defaultBruteForceThreshold = 5
	defaultBruteForceWindow    = 300 * time.Second
	pollInterval               = 500 * time.Millisecond
)

func defaultPatterns() map[string]string {
	return map[string]string{
		"failed_login":      `(\w+\s+\d+\s+\d+:\d+:\d+).*sshd\[\d+\]: Failed password for (\S+) from (\d+\.\d+\.\d+\.\d+) port \d+`,
		"invalid_user":      `(\w+\s+\d+\s+\d+:\d+:\d+).*sshd\[\d+\]: Failed password for invalid user (\S+) from (\d+\.\d+\.\d+\.\d+) port \d+`,
		"successful_login":  `(\w+\s+\d+\s+\d+:\d+:\d+).*sshd\[\d+\]: Accepted password for (\S+) from (\d+\.\d+\.\d+\.\d+) port \d+`,
		"logout":            `(\w+\s+\d+\s+\d+:\d+:\d+).*sshd\[\d+\]: pam_unix\(sshd:session\): session closed for user (\S+)`,
	}
}

// Tailer follows log_path from end-of-file, classifies new lines, and
// maintains the per-source-IP brute-force window.
type Tailer struct {
	bus *alertbus.Bus
	log *logrus.Logger

	mu       sync.Mutex
	logPath  string
	patterns map[string]*regexp.Regexp
	rawSrc   map[string]string

	threshold int
	window    time.Duration

	attempts map[string][]time.Time
	clock    func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates a Tailer with the default OpenSSH regexes and brute
// force threshold (5 attempts / 300 s window).
func New(logPath string, bus *alertbus.Bus, log *logrus.Logger) (*Tailer, error) {
	if log == nil {
		log = logrus.New()
	}
	t := &Tailer{
		bus:       bus,
		log:       log,
		logPath:   logPath,
		rawSrc:    defaultPatterns(),
		patterns:  make(map[string]*regexp.Regexp),
		threshold: defaultBruteForceThreshold,
		window:    defaultBruteForceWindow,
		attempts:  make(map[string][]time.Time),
		clock:     time.Now,
	}
	if err := t.SetRegexPatterns(defaultPatterns()); err != nil {
		return nil, err
	}
	return t, nil
}

// SetLogPath changes the file to follow; takes effect on next Start.
func (t *Tailer) SetLogPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logPath = path
}

// SetRegexPatterns compiles and installs patterns keyed by
// "failed_login", "invalid_user", "successful_login", "logout". An
// invalid pattern is rejected (existing patterns are left intact) and
// reported as an ERROR alert.
func (t *Tailer) SetRegexPatterns(patterns map[string]string) error {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for key, src := range patterns {
		re, err := regexp.Compile(src)
		if err != nil {
			if t.bus != nil {
				t.bus.Trigger("ERROR", fmt.Sprintf("invalid regex for %s: %v", key, err))
			}
			return err
		}
		compiled[key] = re
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, re := range compiled {
		t.patterns[key] = re
		t.rawSrc[key] = patterns[key]
	}
	return nil
}

// SetBruteForceThreshold sets the failure count and window (seconds)
// that promote repeated failures to BRUTE_FORCE.
func (t *Tailer) SetBruteForceThreshold(threshold int, windowSeconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threshold = threshold
	t.window = time.Duration(windowSeconds) * time.Second
}

// WithClock overrides the monotonic clock used for brute-force
// accounting. Intended for tests.
func (t *Tailer) WithClock(now func() time.Time) *Tailer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = now
	return t
}

// Start launches the background follower goroutine. Idempotent.
func (t *Tailer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	t.stop, t.done = stop, done
	t.mu.Unlock()

	go t.run(ctx, stop, done)
}

// Stop requests termination and waits for the follower to exit.
// Idempotent; safe to call even if Start was never called.
func (t *Tailer) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop = nil
	t.done = nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *Tailer) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	f, err := os.Open(t.logPath)
	if err != nil {
		t.bus.Trigger("ERROR", fmt.Sprintf("cannot open log file: %s", t.logPath))
		return
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		t.bus.Trigger("ERROR", fmt.Sprintf("cannot seek log file: %s", t.logPath))
		return
	}

	reader := bufio.NewReader(f)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 && (err == nil || err == io.EOF) {
			trimmed := trimNewline(line)
			if trimmed != "" {
				t.handleLine(trimmed)
			}
		}
		if err != nil {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (t *Tailer) handleLine(line string) {
	event := t.parseLine(line)

	switch event.Type {
	case EventFailedLogin, EventInvalidUser:
		if t.checkBruteForce(event.SourceIP) {
			t.bus.Trigger("BRUTE_FORCE", fmt.Sprintf(
				"brute force attack from IP %s with %d failed attempts in the last %d seconds",
				event.SourceIP, t.attemptCount(event.SourceIP), int(t.windowSeconds())))
		} else {
			t.bus.Trigger("FAILED_LOGIN", fmt.Sprintf("failed login attempt: user=%s, IP=%s", event.Username, event.SourceIP))
		}
	case EventSuccessfulLogin:
		t.bus.Trigger("SUCCESS_LOGIN", fmt.Sprintf("successful login: user=%s, IP=%s", event.Username, event.SourceIP))
	case EventLogout:
		// Observable but silent, per design.
	default:
		// Unmatched lines are ignored.
	}
}

// ParseLine classifies a single log line. invalid_user is tried
// before failed_login because its pattern is a stricter
// specialization of the latter.
func (t *Tailer) parseLine(line string) SSHEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := SSHEvent{RawMessage: line}

	if re, ok := t.patterns["invalid_user"]; ok {
		if m := re.FindStringSubmatch(line); m != nil {
			event.Type = EventInvalidUser
			event.Timestamp, event.Username, event.SourceIP = m[1], m[2], m[3]
			return event
		}
	}
	if re, ok := t.patterns["failed_login"]; ok {
		if m := re.FindStringSubmatch(line); m != nil {
			event.Type = EventFailedLogin
			event.Timestamp, event.Username, event.SourceIP = m[1], m[2], m[3]
			return event
		}
	}
	if re, ok := t.patterns["successful_login"]; ok {
		if m := re.FindStringSubmatch(line); m != nil {
			event.Type = EventSuccessfulLogin
			event.Timestamp, event.Username, event.SourceIP = m[1], m[2], m[3]
			return event
		}
	}
	if re, ok := t.patterns["logout"]; ok {
		if m := re.FindStringSubmatch(line); m != nil {
			event.Type = EventLogout
			event.Timestamp, event.Username = m[1], m[2]
			return event
		}
	}

	event.Type = EventUnknown
	return event
}

// ParseLine exposes line classification for tests and for programs
// that want to reuse the tailer's grammar without the follow loop.
func (t *Tailer) ParseLine(line string) SSHEvent {
	return t.parseLine(line)
}

// checkBruteForce records a failed attempt from sourceIP, evicts
// attempts outside the window, and reports whether the threshold is
// now met. There is no cooldown: once the threshold is exceeded every
// subsequent failure in the window reports true again.
func (t *Tailer) checkBruteForce(sourceIP string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	t.attempts[sourceIP] = append(t.attempts[sourceIP], now)

	kept := t.attempts[sourceIP][:0]
	for _, ts := range t.attempts[sourceIP] {
		if now.Sub(ts) <= t.window {
			kept = append(kept, ts)
		}
	}
	t.attempts[sourceIP] = kept

	return len(kept) >= t.threshold
}

// CheckBruteForce exposes the brute-force window check for tests.
func (t *Tailer) CheckBruteForce(sourceIP string) bool {
	return t.checkBruteForce(sourceIP)
}

func (t *Tailer) attemptCount(sourceIP string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts[sourceIP])
}

func (t *Tailer) windowSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Seconds()
}
