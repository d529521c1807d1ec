package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/terencesc/hidsd/internal/config"
	"github.com/terencesc/hidsd/internal/daemon"
	"github.com/terencesc/hidsd/internal/server"
	"github.com/terencesc/hidsd/internal/version"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intrusion detection daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
}

func runServe(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.General.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.WithFields(logrus.Fields{
		"version":  version.Version,
		"hostname": cfg.General.Hostname,
	}).Info("starting hidsd")

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize daemon")
	}

	srv := server.New(cfg.HTTP.Addr, d, d.IntegrityMonitor(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	watcher, err := config.NewWatcher(path, log, func(newCfg *config.DaemonConfig) {
		log.Info("configuration change detected; restart hidsd to apply it")
	})
	if err == nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	} else {
		log.WithError(err).Warn("config hot-reload disabled")
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			log.WithError(err).Error("status server error")
		}
	}()

	go func() {
		if err := d.Start(ctx); err != nil {
			log.WithError(err).Error("daemon error")
			cancel()
		}
	}()

	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during daemon shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during status server shutdown")
	}

	log.Info("hidsd shutdown complete")
	return nil
}
