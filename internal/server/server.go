// Package server provides the daemon's read-only HTTP status surface:
// health, Prometheus metrics, recent alerts, and the file integrity
// baseline.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/internal/version"
	"github.com/terencesc/hidsd/pkg/alertbus"
	"github.com/terencesc/hidsd/pkg/fileintegrity"
)

// AlertSource supplies the recent-alert history for the status API.
type AlertSource interface {
	RecentAlerts() []alertbus.Alert
}

// Server is the daemon's HTTP status server.
type Server struct {
	log        *logrus.Logger
	alerts     AlertSource
	integrity  *fileintegrity.Monitor
	httpServer *http.Server
}

// New builds a Server listening on addr, backed by alerts for alert
// history and integrity for the baseline endpoint.
func New(addr string, alerts AlertSource, integrity *fileintegrity.Monitor, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	mux := http.NewServeMux()
	s := &Server{log: log, alerts: alerts, integrity: integrity}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/baseline", s.handleBaseline)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server. It blocks until the server
// is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("status server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var alerts []alertbus.Alert
	if s.alerts != nil {
		alerts = s.alerts.RecentAlerts()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	var baseline []fileintegrity.FileInfo
	if s.integrity != nil {
		baseline = s.integrity.Baseline()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(baseline)
}
