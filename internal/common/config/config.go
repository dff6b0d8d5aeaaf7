// Package config provides configuration management for Crewly.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Crewly.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Home      HomeConfig      `mapstructure:"home"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Checks    ChecksConfig    `mapstructure:"checks"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Store     StoreConfig     `mapstructure:"store"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// HomeConfig names the root directory holding data.json, activity.json and
// the scheduler state files. This is the only required path input.
type HomeConfig struct {
	Dir string `mapstructure:"dir"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration. An empty
// endpoint leaves tracing disabled.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

// BackendConfig selects and tunes the session backend.
type BackendConfig struct {
	Kind          string `mapstructure:"kind"`       // tmux or pty
	TmuxBinary    string `mapstructure:"tmuxBinary"` // path to tmux
	SnapshotLines int    `mapstructure:"snapshotLines"`
}

// DeliveryConfig tunes reliable delivery. The per-runtime write tuning
// (inter-write gap, probe backoff, fingerprint length) defaults to the
// runtime profile; a non-zero value here overrides it for every runtime.
type DeliveryConfig struct {
	InterWriteDelayMs  int   `mapstructure:"interWriteDelayMs"`  // payload-to-Enter gap, 0 = runtime profile
	VerifyScheduleMs   []int `mapstructure:"verifyScheduleMs"`   // progressive verification waits
	MaxAttempts        int   `mapstructure:"maxAttempts"`        // total write attempts
	IdleProbes         int   `mapstructure:"idleProbes"`         // preflight prompt probes
	IdleProbeBackoffMs int   `mapstructure:"idleProbeBackoffMs"` // backoff between probes, 0 = runtime profile
	FingerprintLength  int   `mapstructure:"fingerprintLength"`  // snapshot match length, 0 = runtime profile
	StuckScanSeconds   int   `mapstructure:"stuckScanSeconds"`   // stuck-message scanner period
	AckTTLMinutes      int   `mapstructure:"ackTtlMinutes"`      // acknowledged-payload cache TTL
}

// SchedulerConfig tunes the message scheduler.
type SchedulerConfig struct {
	ExecutionQuantumMs int `mapstructure:"executionQuantumMs"` // gap between queue items
}

// ChecksConfig tunes the check scheduler.
type ChecksConfig struct {
	InitialCheckinMinutes int     `mapstructure:"initialCheckinMinutes"`
	ProgressCheckMinutes  int     `mapstructure:"progressCheckMinutes"`
	CommitReminderMinutes int     `mapstructure:"commitReminderMinutes"`
	AdaptiveBaseMinutes   int     `mapstructure:"adaptiveBaseMinutes"`
	AdaptiveFactor        float64 `mapstructure:"adaptiveFactor"`
	AdaptiveMinMinutes    int     `mapstructure:"adaptiveMinMinutes"`
	AdaptiveMaxMinutes    int     `mapstructure:"adaptiveMaxMinutes"`
}

// RecoveryConfig tunes abandonment recovery.
type RecoveryConfig struct {
	AbandonThresholdMinutes int `mapstructure:"abandonThresholdMinutes"`
	ScanTimeoutSeconds      int `mapstructure:"scanTimeoutSeconds"`
}

// StoreConfig tunes the persistent store.
type StoreConfig struct {
	BackupEnabled   bool `mapstructure:"backupEnabled"`
	ActivityCap     int  `mapstructure:"activityCap"`
	DeliveryLogCap  int  `mapstructure:"deliveryLogCap"`
	ActivityFlushMs int  `mapstructure:"activityFlushMs"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// InterWriteDelay returns the payload-to-Enter gap override, zero when the
// runtime profile should decide.
func (d *DeliveryConfig) InterWriteDelay() time.Duration {
	return time.Duration(d.InterWriteDelayMs) * time.Millisecond
}

// VerifySchedule returns the progressive verification waits as durations.
func (d *DeliveryConfig) VerifySchedule() []time.Duration {
	out := make([]time.Duration, 0, len(d.VerifyScheduleMs))
	for _, ms := range d.VerifyScheduleMs {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

// IdleProbeBackoff returns the idle-probe backoff override, zero when the
// runtime profile should decide.
func (d *DeliveryConfig) IdleProbeBackoff() time.Duration {
	return time.Duration(d.IdleProbeBackoffMs) * time.Millisecond
}

// StuckScanInterval returns the stuck-message scanner period.
func (d *DeliveryConfig) StuckScanInterval() time.Duration {
	return time.Duration(d.StuckScanSeconds) * time.Second
}

// AckTTL returns the acknowledged-payload cache TTL.
func (d *DeliveryConfig) AckTTL() time.Duration {
	return time.Duration(d.AckTTLMinutes) * time.Minute
}

// ExecutionQuantum returns the gap enforced between queue items.
func (s *SchedulerConfig) ExecutionQuantum() time.Duration {
	return time.Duration(s.ExecutionQuantumMs) * time.Millisecond
}

// AbandonThreshold returns the heartbeat age past which an in-progress task
// is considered abandoned.
func (r *RecoveryConfig) AbandonThreshold() time.Duration {
	return time.Duration(r.AbandonThresholdMinutes) * time.Minute
}

// ScanTimeout returns the deadline applied to one recovery scan.
func (r *RecoveryConfig) ScanTimeout() time.Duration {
	return time.Duration(r.ScanTimeoutSeconds) * time.Second
}

// ActivityFlushInterval returns the activity writer flush period.
func (s *StoreConfig) ActivityFlushInterval() time.Duration {
	return time.Duration(s.ActivityFlushMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("CREWLY_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Home defaults
	v.SetDefault("home.dir", "~/.crewly")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "crewly-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Tracing defaults - empty endpoint means tracing stays disabled
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "crewly")

	// Backend defaults
	v.SetDefault("backend.kind", "tmux")
	v.SetDefault("backend.tmuxBinary", "tmux")
	v.SetDefault("backend.snapshotLines", 50)

	// Delivery defaults. Zero for the per-runtime knobs defers to the
	// runtime profile (120 ms / 500 ms / 24 for chat CLIs).
	v.SetDefault("delivery.interWriteDelayMs", 0)
	v.SetDefault("delivery.verifyScheduleMs", []int{200, 500, 1000, 2000})
	v.SetDefault("delivery.maxAttempts", 3)
	v.SetDefault("delivery.idleProbes", 5)
	v.SetDefault("delivery.idleProbeBackoffMs", 0)
	v.SetDefault("delivery.fingerprintLength", 0)
	v.SetDefault("delivery.stuckScanSeconds", 30)
	v.SetDefault("delivery.ackTtlMinutes", 10)

	// Scheduler defaults
	v.SetDefault("scheduler.executionQuantumMs", 1000)

	// Checks defaults
	v.SetDefault("checks.initialCheckinMinutes", 5)
	v.SetDefault("checks.progressCheckMinutes", 30)
	v.SetDefault("checks.commitReminderMinutes", 25)
	v.SetDefault("checks.adaptiveBaseMinutes", 15)
	v.SetDefault("checks.adaptiveFactor", 2.0)
	v.SetDefault("checks.adaptiveMinMinutes", 5)
	v.SetDefault("checks.adaptiveMaxMinutes", 60)

	// Recovery defaults
	v.SetDefault("recovery.abandonThresholdMinutes", 30)
	v.SetDefault("recovery.scanTimeoutSeconds", 60)

	// Store defaults
	v.SetDefault("store.backupEnabled", true)
	v.SetDefault("store.activityCap", 1000)
	v.SetDefault("store.deliveryLogCap", 200)
	v.SetDefault("store.activityFlushMs", 250)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CREWLY_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/crewly/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CREWLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("home.dir", "CREWLY_HOME", "CREWLY_HOME_DIR")
	_ = v.BindEnv("backend.tmuxBinary", "CREWLY_BACKEND_TMUX_BINARY")
	_ = v.BindEnv("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "CREWLY_TRACING_ENDPOINT")
	_ = v.BindEnv("recovery.abandonThresholdMinutes", "CREWLY_RECOVERY_ABANDON_THRESHOLD_MINUTES")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/crewly/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Home.expand(); err != nil {
		return nil, fmt.Errorf("error resolving home dir: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// expand resolves a leading ~ in the home dir to the user's home directory.
func (h *HomeConfig) expand() error {
	if h.Dir == "~" || strings.HasPrefix(h.Dir, "~/") {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		h.Dir = filepath.Join(userHome, strings.TrimPrefix(h.Dir[1:], "/"))
	}
	return nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Home.Dir == "" {
		errs = append(errs, "home.dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	// Backend validation
	if cfg.Backend.Kind != "tmux" && cfg.Backend.Kind != "pty" {
		errs = append(errs, "backend.kind must be one of: tmux, pty")
	}
	if cfg.Backend.SnapshotLines <= 0 {
		errs = append(errs, "backend.snapshotLines must be positive")
	}

	// Delivery validation
	if cfg.Delivery.MaxAttempts <= 0 {
		errs = append(errs, "delivery.maxAttempts must be positive")
	}
	if len(cfg.Delivery.VerifyScheduleMs) == 0 {
		errs = append(errs, "delivery.verifyScheduleMs must not be empty")
	}
	for _, ms := range cfg.Delivery.VerifyScheduleMs {
		if ms <= 0 {
			errs = append(errs, "delivery.verifyScheduleMs entries must be positive")
			break
		}
	}
	if cfg.Delivery.InterWriteDelayMs < 0 || cfg.Delivery.IdleProbeBackoffMs < 0 || cfg.Delivery.FingerprintLength < 0 {
		errs = append(errs, "delivery per-runtime overrides must not be negative")
	}

	// Scheduler validation
	if cfg.Scheduler.ExecutionQuantumMs < 0 {
		errs = append(errs, "scheduler.executionQuantumMs must not be negative")
	}

	// Checks validation
	if cfg.Checks.InitialCheckinMinutes <= 0 || cfg.Checks.ProgressCheckMinutes <= 0 || cfg.Checks.CommitReminderMinutes <= 0 {
		errs = append(errs, "checks intervals must be positive")
	}
	if cfg.Checks.AdaptiveFactor <= 0 {
		errs = append(errs, "checks.adaptiveFactor must be positive")
	}
	if cfg.Checks.AdaptiveMinMinutes <= 0 || cfg.Checks.AdaptiveMaxMinutes < cfg.Checks.AdaptiveMinMinutes {
		errs = append(errs, "checks adaptive bounds must satisfy 0 < min <= max")
	}

	// Recovery validation
	if cfg.Recovery.AbandonThresholdMinutes <= 0 {
		errs = append(errs, "recovery.abandonThresholdMinutes must be positive")
	}

	// Store validation
	if cfg.Store.ActivityCap <= 0 {
		errs = append(errs, "store.activityCap must be positive")
	}
	if cfg.Store.DeliveryLogCap <= 0 {
		errs = append(errs, "store.deliveryLogCap must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
