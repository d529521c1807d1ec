package socketnotify

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

func listenUnix(t *testing.T) (net.Listener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln, path
}

func TestSendDeliversExpectedJSON(t *testing.T) {
	ln, path := listenUnix(t)
	defer ln.Close()

	received := make(chan wireMessage, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return
		}
		received <- msg
	}()

	n := New(path, 3, nil)
	n.Send(alertbus.Alert{
		Type:      "BRUTE_FORCE",
		Message:   "brute force attack from IP=10.0.0.9 with 5 attempts",
		Timestamp: "2024-01-01 00:00:00",
		Severity:  5,
	})

	select {
	case msg := <-received:
		if msg.IP != "10.0.0.9" {
			t.Errorf("ip = %q, want 10.0.0.9", msg.IP)
		}
		if msg.Reason != "brute force attack from IP=10.0.0.9 with 5 attempts" {
			t.Errorf("reason = %q, want the alert message", msg.Reason)
		}
		if msg.Timestamp != "2024-01-01 00:00:00" {
			t.Errorf("timestamp = %q, want 2024-01-01 00:00:00", msg.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestSendEscapesMessageContent(t *testing.T) {
	ln, path := listenUnix(t)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		received <- line
	}()

	rawMessage := `payload with "quotes" and a backslash \ and a newline` + "\nsecond line"

	n := New(path, 1, nil)
	n.Send(alertbus.Alert{
		Type:      "ERROR",
		Message:   rawMessage,
		Timestamp: "2024-01-01 00:00:00",
		Severity:  4,
	})

	select {
	case line := <-received:
		var msg wireMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("receiver could not parse delivered JSON: %v\nraw: %s", err, line)
		}
		if msg.Reason != rawMessage {
			t.Errorf("reason = %q, want %q", msg.Reason, rawMessage)
		}
		if msg.IP != defaultSourceIP {
			t.Errorf("ip = %q, want default %q", msg.IP, defaultSourceIP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestSendBelowMinSeverityIsDropped(t *testing.T) {
	ln, path := listenUnix(t)
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
		accepted <- struct{}{}
	}()

	n := New(path, 5, nil)
	n.Send(alertbus.Alert{Type: "FAILED_LOGIN", Message: "failed login", Severity: 2})

	select {
	case <-accepted:
		t.Fatal("expected no connection for a below-threshold alert")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendToMissingSocketDoesNotPanic(t *testing.T) {
	n := New(filepath.Join(t.TempDir(), "does-not-exist.sock"), 1, nil)
	n.Send(alertbus.Alert{Type: "ERROR", Message: "no listener", Severity: 5})
}

func TestExtractSourceIPDefaultsWhenAbsent(t *testing.T) {
	if got := extractSourceIP("no ip token here"); got != defaultSourceIP {
		t.Errorf("got %q, want %q", got, defaultSourceIP)
	}
}

func TestExtractSourceIPFindsToken(t *testing.T) {
	if got := extractSourceIP("brute force from IP=203.0.113.4 detected"); got != "203.0.113.4" {
		t.Errorf("got %q, want 203.0.113.4", got)
	}
}

func TestExtractSourceIPFindsBruteForceFromIPForm(t *testing.T) {
	got := extractSourceIP("brute force attack from IP 10.0.0.7 with 5 failed attempts in the last 300 seconds")
	if got != "10.0.0.7" {
		t.Errorf("got %q, want 10.0.0.7", got)
	}
}
