// Package behavior tracks interactive session state keyed by
// (username, source IP) and flags anomalous activity: suspicious or
// privileged commands, unusual login time or source, idle sessions,
// and command-rate spikes.
package behavior

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

const (
	sweepInterval         = 60 * time.Second
	inactiveThreshold     = time.Hour
	highActivityMinCmds   = 5
	highActivityPerMinute = 20.0
)

func defaultSuspiciousCommands() []string {
	return []string{
		"wget", "curl", "nc", "netcat", "ncat", "telnet",
		"ssh-keygen", "chmod 777", "rm -rf /\\*", "dd if=/dev/zero",
		`:\(\)\{ :\|:& \};:`, // fork bomb
		"/dev/tcp", ">&",
		`\.\./\.\./`, // path traversal
		"base64 --decode", "eval", "exec",
	}
}

func defaultPrivilegedCommands() []string {
	return []string{
		"sudo", "su", "passwd", "chown", "chmod", "visudo",
		"usermod", "groupmod", "useradd", "userdel", "adduser",
		"mount", "umount", "fdisk", "mkfs", "systemctl",
		"iptables", "firewall-cmd", "tcpdump", "wireshark",
	}
}

// Session is the in-memory record of a logged-in user.
type Session struct {
	Username         string
	SourceIP         string
	LoginTime        time.Time
	LastActivityTime time.Time
	Commands         []string
}

func sessionKey(username, sourceIP string) string {
	return username + "_" + sourceIP
}

// Analyzer owns session state and anomaly detection.
type Analyzer struct {
	bus *alertbus.Bus
	log *logrus.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	allowedIPs map[string]map[string]struct{}

	suspicious []*regexp.Regexp
	privileged []*regexp.Regexp

	activeStartHour int
	activeEndHour   int

	clock func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New creates an Analyzer with the default suspicious/privileged
// command sets and an 8:00-20:00 active window.
func New(bus *alertbus.Bus, log *logrus.Logger) *Analyzer {
	if log == nil {
		log = logrus.New()
	}
	a := &Analyzer{
		bus:             bus,
		log:             log,
		sessions:        make(map[string]*Session),
		allowedIPs:      make(map[string]map[string]struct{}),
		activeStartHour: 8,
		activeEndHour:   20,
		clock:           time.Now,
	}
	a.SetSuspiciousCommands(defaultSuspiciousCommands())
	a.SetPrivilegedCommands(defaultPrivilegedCommands())
	return a
}

// WithClock overrides the analyzer's clock. Intended for tests.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = now
	return a
}

// SetSuspiciousCommands replaces the suspicious-command pattern set.
// Invalid patterns are skipped.
func (a *Analyzer) SetSuspiciousCommands(patterns []string) {
	compiled := compilePatterns(patterns, func(p string) string { return p })
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suspicious = compiled
}

// SetPrivilegedCommands replaces the privileged-command head set.
// Each entry p is matched as the regex ^p(\s|$).
func (a *Analyzer) SetPrivilegedCommands(commands []string) {
	compiled := compilePatterns(commands, func(p string) string { return "^" + p + `(\s|$)` })
	a.mu.Lock()
	defer a.mu.Unlock()
	a.privileged = compiled
}

func compilePatterns(patterns []string, wrap func(string) string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(wrap(p))
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

// SetActiveTimeWindow sets the hours (0..23, clamped) treated as the
// normal login window.
func (a *Analyzer) SetActiveTimeWindow(startHour, endHour int) {
	startHour = clampHour(startHour)
	endHour = clampHour(endHour)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeStartHour = startHour
	a.activeEndHour = endHour
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

// SetAllowedSourceIPs restricts username's logins to the given IPs.
// An empty list clears the restriction.
func (a *Analyzer) SetAllowedSourceIPs(username string, ips []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	a.allowedIPs[username] = set
}

// RegisterLogin upserts a session for (username, sourceIP) and
// immediately evaluates the unusual-source and unusual-time checks.
func (a *Analyzer) RegisterLogin(username, sourceIP string) {
	a.mu.Lock()
	now := a.clock()
	session := &Session{
		Username:         username,
		SourceIP:         sourceIP,
		LoginTime:        now,
		LastActivityTime: now,
	}
	a.sessions[sessionKey(username, sourceIP)] = session
	unusualSource := a.checkUnusualSourceLocked(session)
	unusualTime := a.checkUnusualTimeLocked(session)
	a.mu.Unlock()

	if unusualSource {
		a.bus.Trigger("UNUSUAL_SOURCE", fmt.Sprintf("login from unusual IP address: user=%s, IP=%s", username, sourceIP))
	}
	if unusualTime {
		a.bus.Trigger("UNUSUAL_TIME", fmt.Sprintf("login at unusual time: user=%s, IP=%s", username, sourceIP))
	}
}

// RegisterLogout erases the session for (username, sourceIP).
func (a *Analyzer) RegisterLogout(username, sourceIP string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionKey(username, sourceIP))
}

// RegisterCommand appends cmd to the history of every active session
// for username (across all source IPs), scans it against the
// suspicious and privileged command sets, and refreshes last-activity
// time. If no session exists for username, emits NO_SESSION exactly
// once for this call.
func (a *Analyzer) RegisterCommand(username, cmd string) {
	a.mu.Lock()
	now := a.clock()
	var matched []*Session
	for _, s := range a.sessions {
		if s.Username == username {
			s.Commands = append(s.Commands, cmd)
			s.LastActivityTime = now
			matched = append(matched, s)
		}
	}
	suspicious := a.suspicious
	privileged := a.privileged
	a.mu.Unlock()

	if len(matched) == 0 {
		a.bus.Trigger("NO_SESSION", fmt.Sprintf("command from user without an active session: user=%s, command=%q", username, cmd))
		return
	}

	for _, s := range matched {
		if re := firstMatch(suspicious, cmd); re != nil {
			a.bus.Trigger("SUSPICIOUS_COMMAND", fmt.Sprintf("suspicious command detected: user=%s, IP=%s, command=%q", username, s.SourceIP, cmd))
		}
		if re := firstMatch(privileged, cmd); re != nil {
			a.bus.Trigger("PRIVILEGED_COMMAND", fmt.Sprintf("privileged command detected: user=%s, IP=%s, command=%q", username, s.SourceIP, cmd))
		}
	}
}

func firstMatch(patterns []*regexp.Regexp, s string) *regexp.Regexp {
	for _, re := range patterns {
		if re.MatchString(s) {
			return re
		}
	}
	return nil
}

// Start launches the background sweep goroutine. Idempotent.
func (a *Analyzer) Start(ctx context.Context) {
	a.mu.Lock()
	if a.stop != nil {
		a.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	a.stop, a.done = stop, done
	a.mu.Unlock()

	a.bus.Trigger("INFO", "behavior analyzer started")
	go a.run(ctx, stop, done)
}

// Stop requests termination and waits for the sweep loop to exit.
// Idempotent.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop = nil
	a.done = nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	a.bus.Trigger("INFO", "behavior analyzer stopped")
}

func (a *Analyzer) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		a.CheckBehavior()

		elapsed := time.Duration(0)
		for elapsed < sweepInterval {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				elapsed += time.Second
			}
		}
	}
}

// SessionCount returns the number of active sessions being tracked.
func (a *Analyzer) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// CheckBehavior runs one synchronous sweep over every active session.
func (a *Analyzer) CheckBehavior() {
	a.mu.Lock()
	sessions := make([]Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, *s)
	}
	now := a.clock()
	a.mu.Unlock()

	for _, s := range sessions {
		a.checkSession(s, now)
	}
}

func (a *Analyzer) checkSession(s Session, now time.Time) {
	if now.Sub(s.LastActivityTime) > inactiveThreshold {
		a.bus.Trigger("INACTIVE_SESSION", fmt.Sprintf(
			"session has been inactive: user=%s, IP=%s, idle=%ds",
			s.Username, s.SourceIP, int(now.Sub(s.LastActivityTime).Seconds())))
	}

	if len(s.Commands) >= highActivityMinCmds {
		durationMinutes := now.Sub(s.LoginTime).Minutes()
		if durationMinutes > 0 {
			rate := float64(len(s.Commands)) / durationMinutes
			if rate > highActivityPerMinute {
				a.bus.Trigger("HIGH_ACTIVITY", fmt.Sprintf(
					"unusually high activity detected: user=%s, IP=%s, commands_per_minute=%.2f",
					s.Username, s.SourceIP, rate))
			}
		}
	}
}

// checkUnusualSourceLocked reports whether sourceIP is outside the
// configured allow-list for username. If no allow-list is configured
// for username, it is never unusual.
func (a *Analyzer) checkUnusualSourceLocked(s *Session) bool {
	allowed, ok := a.allowedIPs[s.Username]
	if !ok || len(allowed) == 0 {
		return false
	}
	_, present := allowed[s.SourceIP]
	return !present
}

// checkUnusualTimeLocked reproduces the original's predicate. For a
// daytime window (start < end) an hour is unusual when it is before
// start or at/after end. For an overnight window (start > end, e.g.
// 20->8) the "&&" condition below is true for the hours from end up
// to start, i.e. the daytime hours outside the window; logins inside
// the overnight window are not flagged. When start == end no hour is
// flagged. See DESIGN.md.
func (a *Analyzer) checkUnusualTimeLocked(s *Session) bool {
	hour := s.LoginTime.Hour()
	if a.activeStartHour < a.activeEndHour {
		return hour < a.activeStartHour || hour >= a.activeEndHour
	}
	return hour < a.activeStartHour && hour >= a.activeEndHour
}
