// Package daemon wires together the alert bus, detectors, and sinks
// into a single running unit with a shared start/shutdown lifecycle.
package daemon

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/internal/config"
	"github.com/terencesc/hidsd/pkg/alertbus"
	"github.com/terencesc/hidsd/pkg/alertbus/sinks"
	"github.com/terencesc/hidsd/pkg/behavior"
	"github.com/terencesc/hidsd/pkg/fileintegrity"
	"github.com/terencesc/hidsd/pkg/firewall"
	"github.com/terencesc/hidsd/pkg/logtail"
	"github.com/terencesc/hidsd/pkg/socketnotify"
)

const recentAlertCapacity = 500

const metricsReportInterval = 30 * time.Second

// Daemon owns every running component: alert bus, detectors, sinks,
// and the recent-alert ring buffer used by the status API.
type Daemon struct {
	cfg *config.DaemonConfig
	log *logrus.Logger

	bus       *alertbus.Bus
	logTail   *logtail.Tailer
	integrity *fileintegrity.Monitor
	behavior  *behavior.Analyzer
	blocker   firewall.Blocker

	fileSink    *sinks.FileSink
	syslogSink  *sinks.SyslogSink
	metricsSink *sinks.MetricsSink

	mu     sync.Mutex
	recent []alertbus.Alert
}

// New constructs a Daemon from cfg. It wires every configured sink
// onto the alert bus and builds the three detectors, but does not
// start any goroutines; call Start for that.
func New(cfg *config.DaemonConfig, log *logrus.Logger) (*Daemon, error) {
	if log == nil {
		log = logrus.New()
	}

	d := &Daemon{
		cfg: cfg,
		log: log,
		bus: alertbus.New(log),
	}

	d.bus.AddSink("recent", sinkFunc(d.recordRecent))

	if cfg.Sinks.File.Enabled {
		fs, err := sinks.NewFileSink(cfg.Sinks.File.Path)
		if err != nil {
			return nil, fmt.Errorf("init file sink: %w", err)
		}
		d.fileSink = fs
		d.bus.AddSink("file", fs)
	}

	if cfg.Sinks.Email.Enabled {
		es := sinks.NewEmailSink(log, cfg.Sinks.Email.SMTPServer, cfg.Sinks.Email.From, cfg.Sinks.Email.To, cfg.Sinks.Email.SubjectPrefix)
		d.bus.AddSink("email", es)
	}

	if cfg.Sinks.Syslog.Enabled {
		ss, err := sinks.NewSyslogSink(cfg.Sinks.Syslog.Tag)
		if err != nil {
			return nil, fmt.Errorf("init syslog sink: %w", err)
		}
		d.syslogSink = ss
		d.bus.AddSink("syslog", ss)
	}

	if cfg.Sinks.Socket.Enabled {
		sn := socketnotify.New(cfg.Sinks.Socket.Path, cfg.Sinks.Socket.MinSeverity, log)
		d.bus.AddSink("socket", sn)
	}

	if cfg.Sinks.Metrics.Enabled {
		ms := sinks.NewMetricsSink(nil)
		d.metricsSink = ms
		d.bus.AddSink("metrics", ms)
	}

	if cfg.Firewall.Enabled {
		d.blocker = firewall.NewIPTablesBlocker()
	} else {
		d.blocker = firewall.NewNoopBlocker()
	}
	if cfg.Firewall.BlockOnBruteForce {
		d.bus.AddSink("firewall", sinkFunc(d.blockOnBruteForce))
	}

	tailer, err := logtail.New(cfg.LogTail.LogPath, d.bus, log)
	if err != nil {
		return nil, fmt.Errorf("init log tailer: %w", err)
	}
	tailer.SetBruteForceThreshold(cfg.LogTail.BruteForceThreshold, cfg.LogTail.BruteForceWindowSeconds)
	if len(cfg.LogTail.Patterns) > 0 {
		if err := tailer.SetRegexPatterns(cfg.LogTail.Patterns); err != nil {
			return nil, fmt.Errorf("init log tailer patterns: %w", err)
		}
	}
	d.logTail = tailer

	integrityMon := fileintegrity.New(d.bus, log)
	for _, p := range cfg.Integrity.Paths {
		integrityMon.AddFile(p)
	}
	for _, dir := range cfg.Integrity.Directories {
		integrityMon.AddDirectory(dir.Path, dir.Recursive)
	}
	d.integrity = integrityMon

	behaviorAnalyzer := behavior.New(d.bus, log)
	if len(cfg.Behavior.SuspiciousCommands) > 0 {
		behaviorAnalyzer.SetSuspiciousCommands(cfg.Behavior.SuspiciousCommands)
	}
	if len(cfg.Behavior.PrivilegedCommands) > 0 {
		behaviorAnalyzer.SetPrivilegedCommands(cfg.Behavior.PrivilegedCommands)
	}
	behaviorAnalyzer.SetActiveTimeWindow(cfg.Behavior.ActiveStartHour, cfg.Behavior.ActiveEndHour)
	for user, ips := range cfg.Behavior.AllowedIPs {
		behaviorAnalyzer.SetAllowedSourceIPs(user, ips)
	}
	d.behavior = behaviorAnalyzer

	return d, nil
}

type sinkFunc func(alertbus.Alert)

func (f sinkFunc) Send(a alertbus.Alert) { f(a) }

func (d *Daemon) recordRecent(a alertbus.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, a)
	if len(d.recent) > recentAlertCapacity {
		d.recent = d.recent[len(d.recent)-recentAlertCapacity:]
	}
}

func (d *Daemon) blockOnBruteForce(a alertbus.Alert) {
	if a.Type != "BRUTE_FORCE" {
		return
	}
	ip := extractIPToken(a.Message)
	if ip == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.blocker.Block(ctx, ip); err != nil {
		d.log.WithError(err).WithField("ip", ip).Warn("failed to block IP after brute force alert")
	}
}

// RecentAlerts returns a snapshot of the most recent alerts, most
// recent last.
func (d *Daemon) RecentAlerts() []alertbus.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]alertbus.Alert, len(d.recent))
	copy(out, d.recent)
	return out
}

// Bus returns the daemon's alert bus.
func (d *Daemon) Bus() *alertbus.Bus { return d.bus }

// IntegrityMonitor returns the file integrity monitor, for baseline
// management from the CLI or HTTP API.
func (d *Daemon) IntegrityMonitor() *fileintegrity.Monitor { return d.integrity }

// Start launches all detectors' background goroutines and blocks
// until ctx is cancelled. Each detector manages its own internal
// goroutine lifecycle; Start only has to hand each one the context.
func (d *Daemon) Start(ctx context.Context) error {
	d.log.Info("starting hidsd")

	d.logTail.Start(ctx)
	d.integrity.Start(ctx, d.cfg.Integrity.IntervalSeconds)
	d.behavior.Start(ctx)

	if d.metricsSink != nil {
		go d.reportMetrics(ctx)
	}

	d.log.Info("all detectors started")
	<-ctx.Done()
	return nil
}

// reportMetrics periodically pushes the current session and
// monitored-file counts into the metrics sink's gauges.
func (d *Daemon) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.metricsSink.SetActiveSessions(d.behavior.SessionCount())
			d.metricsSink.SetMonitoredFiles(d.integrity.FileCount())
		}
	}
}

// Shutdown stops all detectors and closes any sinks holding open
// resources. Each Stop call blocks until that detector's goroutine
// has actually exited, so by the time Shutdown returns every
// component is quiescent; ctx only bounds how long we wait before
// giving up and closing sinks anyway.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.log.Info("shutting down hidsd")

	done := make(chan struct{})
	go func() {
		d.logTail.Stop()
		d.integrity.Stop()
		d.behavior.Stop()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("all detectors stopped")
	case <-ctx.Done():
		d.log.Warn("shutdown timed out, some detectors may not have stopped cleanly")
	}

	if d.fileSink != nil {
		d.fileSink.Close()
	}
	if d.syslogSink != nil {
		d.syslogSink.Close()
	}
	return nil
}

var ipTokenPattern = regexp.MustCompile(`\b(?:from IP |IP=)(\S+)`)

func extractIPToken(message string) string {
	m := ipTokenPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ",)")
}
