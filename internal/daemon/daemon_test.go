package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/terencesc/hidsd/internal/config"
)

func newTestConfig(t *testing.T) *config.DaemonConfig {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	if err := os.WriteFile(logPath, nil, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.DaemonConfig{}
	cfg.General.Hostname = "test-host"
	cfg.General.LogLevel = "info"
	cfg.LogTail.LogPath = logPath
	cfg.LogTail.BruteForceThreshold = 5
	cfg.LogTail.BruteForceWindowSeconds = 300
	cfg.Integrity.IntervalSeconds = 60
	cfg.Behavior.ActiveStartHour = 8
	cfg.Behavior.ActiveEndHour = 20
	cfg.HTTP.Addr = ":0"
	return cfg
}

func TestNewWithNoSinksEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Bus() == nil {
		t.Fatal("expected a non-nil bus")
	}
}

func TestNewWiresFileSink(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Sinks.File.Enabled = true
	cfg.Sinks.File.Path = filepath.Join(t.TempDir(), "alerts.log")

	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Bus().Trigger("ERROR", "test alert")

	data, err := os.ReadFile(cfg.Sinks.File.Path)
	if err != nil {
		t.Fatalf("read alert log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the file sink to have written the alert")
	}
	d.fileSink.Close()
}

func TestRecentAlertsCapturesTriggeredAlerts(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Bus().Trigger("FAILED_LOGIN", "failed login attempt")
	recent := d.RecentAlerts()
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent alert, got %d", len(recent))
	}
	if recent[0].Type != "FAILED_LOGIN" {
		t.Errorf("recent[0].Type = %q, want FAILED_LOGIN", recent[0].Type)
	}
}

func TestStartAndShutdownLifecycle(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestExtractIPTokenFromBruteForceMessage(t *testing.T) {
	msg := "brute force attack from IP 10.0.0.9 with 5 failed attempts in the last 300 seconds"
	if got := extractIPToken(msg); got != "10.0.0.9" {
		t.Errorf("got %q, want 10.0.0.9", got)
	}
}

func TestExtractIPTokenAbsent(t *testing.T) {
	if got := extractIPToken("no address here"); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestBlockOnBruteForceIgnoresOtherAlertTypes(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Firewall.BlockOnBruteForce = true
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Bus().Trigger("FAILED_LOGIN", "failed login attempt: user=alice, IP=10.0.0.1")
	blocked, err := d.blocker.IsBlocked(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if blocked {
		t.Error("expected a FAILED_LOGIN alert to not trigger a block")
	}
}

func TestBlockOnBruteForceBlocksExtractedIP(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Firewall.BlockOnBruteForce = true
	d, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Bus().Trigger("BRUTE_FORCE", "brute force attack from IP 203.0.113.9 with 5 failed attempts in the last 300 seconds")
	blocked, err := d.blocker.IsBlocked(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !blocked {
		t.Error("expected the brute-force source IP to be blocked")
	}
}
