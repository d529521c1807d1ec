package logtail

import (
	"sync"
	"testing"
	"time"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []alertbus.Alert
}

func (r *recordingSink) Send(a alertbus.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Type
	}
	return out
}

func TestInvalidUserTakesPrecedenceOverFailedLogin(t *testing.T) {
	bus := alertbus.New(nil)
	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	line := "May 01 12:00:00 host sshd[1]: Failed password for invalid user root from 10.0.0.1 port 22"
	event := tl.ParseLine(line)
	if event.Type != EventInvalidUser {
		t.Fatalf("expected EventInvalidUser, got %v", event.Type)
	}
	if event.Username != "root" || event.SourceIP != "10.0.0.1" {
		t.Errorf("parsed user=%q ip=%q", event.Username, event.SourceIP)
	}
}

func TestBruteForceBoundary(t *testing.T) {
	bus := alertbus.New(nil)
	sink := &recordingSink{}
	bus.AddSink("rec", sink)

	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tl.SetBruteForceThreshold(3, 60)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 5 * time.Second, 10 * time.Second, 20 * time.Second, 25 * time.Second}

	i := 0
	clock := func() time.Time {
		d := offsets[i]
		i++
		return base.Add(d)
	}
	tl.WithClock(clock)

	ip := "10.0.0.7"
	var results []bool
	for range offsets {
		results = append(results, tl.CheckBruteForce(ip))
	}

	want := []bool{false, false, true, true, true}
	for idx, got := range results {
		if got != want[idx] {
			t.Errorf("attempt %d: got %v, want %v", idx, got, want[idx])
		}
	}
}

func TestBruteForceOneBelowThresholdDoesNotPromote(t *testing.T) {
	bus := alertbus.New(nil)
	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tl.SetBruteForceThreshold(5, 300)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tl.WithClock(func() time.Time { return now })

	ip := "1.2.3.4"
	for i := 0; i < 4; i++ {
		if got := tl.CheckBruteForce(ip); got {
			t.Fatalf("attempt %d promoted too early", i)
		}
	}
	if !tl.CheckBruteForce(ip) {
		t.Fatal("5th attempt should meet threshold")
	}
}

func TestBruteForceWindowEviction(t *testing.T) {
	bus := alertbus.New(nil)
	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tl.SetBruteForceThreshold(2, 10)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := start
	tl.WithClock(func() time.Time { return cur })

	if tl.CheckBruteForce("9.9.9.9") {
		t.Fatal("first attempt should not promote")
	}
	cur = start.Add(20 * time.Second) // outside the 10s window, evicts the first
	if tl.CheckBruteForce("9.9.9.9") {
		t.Fatal("second attempt after window expiry should not promote")
	}
}

func TestUnmatchedLineIsUnknown(t *testing.T) {
	bus := alertbus.New(nil)
	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	event := tl.ParseLine("this line matches nothing")
	if event.Type != EventUnknown {
		t.Errorf("expected EventUnknown, got %v", event.Type)
	}
}

func TestSuccessfulLoginAndLogoutClassification(t *testing.T) {
	bus := alertbus.New(nil)
	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok := tl.ParseLine("May 01 12:00:00 host sshd[1]: Accepted password for alice from 10.0.0.1 port 22")
	if ok.Type != EventSuccessfulLogin {
		t.Errorf("expected EventSuccessfulLogin, got %v", ok.Type)
	}

	out := tl.ParseLine("May 01 12:00:00 host sshd[1]: pam_unix(sshd:session): session closed for user alice")
	if out.Type != EventLogout {
		t.Errorf("expected EventLogout, got %v", out.Type)
	}
	if out.Username != "alice" {
		t.Errorf("logout username = %q, want alice", out.Username)
	}
}

func TestInvalidRegexRejectedAtSetterTime(t *testing.T) {
	bus := alertbus.New(nil)
	sink := &recordingSink{}
	bus.AddSink("rec", sink)

	tl, err := New("/dev/null", bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = tl.SetRegexPatterns(map[string]string{"failed_login": "(unterminated["})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	found := false
	for _, typ := range sink.types() {
		if typ == "ERROR" {
			found = true
		}
	}
	if !found {
		t.Error("expected an ERROR alert for the rejected regex")
	}
}
