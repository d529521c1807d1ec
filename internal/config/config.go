// Package config loads the daemon's YAML configuration file, applies
// environment-variable overrides and defaults, validates the result,
// and can watch the file for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvInt returns the integer value of key, or defaultValue if unset or invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvBool returns the boolean value of key, or defaultValue if unset or invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return b
}

// DirectoryConfig describes a directory added to the file integrity
// baseline.
type DirectoryConfig struct {
	Path      string `yaml:"path"`
	Recursive bool   `yaml:"recursive"`
}

// DaemonConfig is the top-level on-disk configuration schema.
type DaemonConfig struct {
	General struct {
		Hostname string `yaml:"hostname"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"general"`

	LogTail struct {
		LogPath                 string            `yaml:"log_path"`
		BruteForceThreshold     int               `yaml:"brute_force_threshold"`
		BruteForceWindowSeconds int               `yaml:"brute_force_window_seconds"`
		Patterns                map[string]string `yaml:"patterns"`
	} `yaml:"log_tail"`

	Integrity struct {
		Paths           []string          `yaml:"paths"`
		Directories     []DirectoryConfig `yaml:"directories"`
		IntervalSeconds int               `yaml:"interval_seconds"`
	} `yaml:"integrity"`

	Behavior struct {
		SuspiciousCommands []string `yaml:"suspicious_commands"`
		PrivilegedCommands []string `yaml:"privileged_commands"`
		AllowedIPs         map[string][]string `yaml:"allowed_ips"`
		ActiveStartHour    int      `yaml:"active_start_hour"`
		ActiveEndHour      int      `yaml:"active_end_hour"`
	} `yaml:"behavior"`

	Sinks struct {
		File struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
		} `yaml:"file"`
		Email struct {
			Enabled       bool   `yaml:"enabled"`
			SMTPServer    string `yaml:"smtp_server"`
			From          string `yaml:"from"`
			To            string `yaml:"to"`
			SubjectPrefix string `yaml:"subject_prefix"`
		} `yaml:"email"`
		Syslog struct {
			Enabled bool   `yaml:"enabled"`
			Tag     string `yaml:"tag"`
		} `yaml:"syslog"`
		Socket struct {
			Enabled     bool   `yaml:"enabled"`
			Path        string `yaml:"path"`
			MinSeverity int    `yaml:"min_severity"`
		} `yaml:"socket"`
		Metrics struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"metrics"`
	} `yaml:"sinks"`

	Firewall struct {
		Enabled           bool `yaml:"enabled"`
		BlockOnBruteForce bool `yaml:"block_on_brute_force"`
	} `yaml:"firewall"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Load reads path, applies defaults for anything left unset, applies
// environment overrides, validates, and returns the result.
func Load(path string) (*DaemonConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", absPath, err)
	}

	cfg := &DaemonConfig{}
	// The threshold default is installed before parsing so that an
	// explicit 0 in the file survives to validate and is rejected.
	cfg.LogTail.BruteForceThreshold = 5
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", absPath, err)
	}

	setDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *DaemonConfig) {
	if cfg.General.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.General.Hostname = h
		} else {
			cfg.General.Hostname = "unknown"
		}
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}

	if cfg.LogTail.LogPath == "" {
		cfg.LogTail.LogPath = "/var/log/auth.log"
	}
	if cfg.LogTail.BruteForceWindowSeconds == 0 {
		cfg.LogTail.BruteForceWindowSeconds = 300
	}

	if cfg.Integrity.IntervalSeconds == 0 {
		cfg.Integrity.IntervalSeconds = 60
	}

	if cfg.Behavior.ActiveStartHour == 0 && cfg.Behavior.ActiveEndHour == 0 {
		cfg.Behavior.ActiveStartHour = 8
		cfg.Behavior.ActiveEndHour = 20
	}

	if cfg.Sinks.File.Path == "" {
		cfg.Sinks.File.Path = "/var/log/hidsd/alerts.log"
	}
	if cfg.Sinks.Syslog.Tag == "" {
		cfg.Sinks.Syslog.Tag = "hidsd"
	}
	if cfg.Sinks.Socket.MinSeverity == 0 {
		cfg.Sinks.Socket.MinSeverity = 3
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8090"
	}
}

func applyEnvOverrides(cfg *DaemonConfig) {
	cfg.General.LogLevel = GetEnv("HIDSD_LOG_LEVEL", cfg.General.LogLevel)
	cfg.LogTail.LogPath = GetEnv("HIDSD_LOG_PATH", cfg.LogTail.LogPath)
	cfg.LogTail.BruteForceThreshold = GetEnvInt("HIDSD_BRUTE_FORCE_THRESHOLD", cfg.LogTail.BruteForceThreshold)
	cfg.LogTail.BruteForceWindowSeconds = GetEnvInt("HIDSD_BRUTE_FORCE_WINDOW_SECONDS", cfg.LogTail.BruteForceWindowSeconds)
	cfg.Integrity.IntervalSeconds = GetEnvInt("HIDSD_INTEGRITY_INTERVAL_SECONDS", cfg.Integrity.IntervalSeconds)
	cfg.Firewall.Enabled = GetEnvBool("HIDSD_FIREWALL_ENABLED", cfg.Firewall.Enabled)
	cfg.Firewall.BlockOnBruteForce = GetEnvBool("HIDSD_FIREWALL_BLOCK_ON_BRUTE_FORCE", cfg.Firewall.BlockOnBruteForce)
	cfg.HTTP.Addr = GetEnv("HIDSD_HTTP_ADDR", cfg.HTTP.Addr)
}

func validate(cfg *DaemonConfig) error {
	if cfg.LogTail.BruteForceThreshold <= 0 {
		return fmt.Errorf("log_tail.brute_force_threshold must be positive")
	}
	if cfg.LogTail.BruteForceWindowSeconds <= 0 {
		return fmt.Errorf("log_tail.brute_force_window_seconds must be positive")
	}
	if cfg.Integrity.IntervalSeconds <= 0 {
		return fmt.Errorf("integrity.interval_seconds must be positive")
	}
	for i, d := range cfg.Integrity.Directories {
		if d.Path == "" {
			return fmt.Errorf("integrity.directories[%d] is missing a path", i)
		}
	}
	if cfg.Behavior.ActiveStartHour < 0 || cfg.Behavior.ActiveStartHour > 23 {
		return fmt.Errorf("behavior.active_start_hour must be in 0..23")
	}
	if cfg.Behavior.ActiveEndHour < 0 || cfg.Behavior.ActiveEndHour > 23 {
		return fmt.Errorf("behavior.active_end_hour must be in 0..23")
	}
	if cfg.Sinks.Socket.Enabled && cfg.Sinks.Socket.Path == "" {
		return fmt.Errorf("sinks.socket.path is required when sinks.socket is enabled")
	}
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	return nil
}
