package config

import (
	"os"
	"path/filepath"
	"time"
)

// Settings holds the ambient configuration for plift commands. Values come
// from defaults, an optional settings file, and CLI flags, in that order.
type Settings struct {
	// Mode selects the answer transport (auto, terminal, json, http, pubsub).
	Mode string `json:"mode" yaml:"mode" validate:"required,oneof=auto terminal json http pubsub"`

	// AnswersPath is a JSON file of pre-supplied answers.
	AnswersPath string `json:"answers_path" yaml:"answers_path"`

	// AllowNetwork permits outbound network access.
	AllowNetwork bool `json:"allow_network" yaml:"allow_network"`

	// OfflineOnly forbids all network access regardless of other flags.
	OfflineOnly bool `json:"offline_only" yaml:"offline_only"`

	// NetAllowlist is a comma-separated list of allowed hosts and CIDRs.
	NetAllowlist string `json:"net_allowlist" yaml:"net_allowlist"`

	// AllowListeners permits binding local listeners for the HTTP transport.
	AllowListeners bool `json:"allow_listeners" yaml:"allow_listeners"`

	// DataDir is the root directory for plift-managed files.
	DataDir string `json:"data_dir" yaml:"data_dir" validate:"required"`

	// CacheRoot is the root directory for the pack cache.
	CacheRoot string `json:"cache_root" yaml:"cache_root" validate:"required"`

	// SecretsBackend is the secrets backend URI (file:<path> or
	// k8s:<namespace>/<name>).
	SecretsBackend string `json:"secrets_backend" yaml:"secrets_backend" validate:"required"`

	// K8sSecretDir overrides where the k8s secrets stub writes manifests.
	K8sSecretDir string `json:"k8s_secret_dir" yaml:"k8s_secret_dir"`

	// StateBackend is the bootstrap state backend URI (file:<path>).
	StateBackend string `json:"state_backend" yaml:"state_backend" validate:"required"`

	// ConfigPatchPath overrides the config patch location. Empty derives a
	// sibling of the state file.
	ConfigPatchPath string `json:"config_patch_path" yaml:"config_patch_path"`

	// EnvironmentKind records the target environment in bootstrap state.
	EnvironmentKind string `json:"environment_kind" yaml:"environment_kind" validate:"omitempty,oneof=local docker kubernetes"`

	// SkipVerify disables pack signature verification.
	SkipVerify bool `json:"skip_verify" yaml:"skip_verify"`

	// StrictVerify turns missing pack signatures into a hard failure
	// instead of a warning.
	StrictVerify bool `json:"strict_verify" yaml:"strict_verify"`

	// HTTPListen is the bind address for the HTTP answer transport.
	HTTPListen string `json:"http_listen" yaml:"http_listen"`

	// HTTPTimeoutSeconds bounds how long the HTTP transport waits for answers.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds" yaml:"http_timeout_seconds" validate:"gte=0"`

	// PubSubTimeoutSeconds bounds how long the pub/sub transport waits.
	PubSubTimeoutSeconds int `json:"pubsub_timeout_seconds" yaml:"pubsub_timeout_seconds" validate:"gte=0"`

	// BrokerURL is the NATS URL for the pub/sub transport.
	BrokerURL string `json:"broker_url" yaml:"broker_url"`

	// TopicPrefix namespaces pub/sub topics.
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`

	// DeviceID identifies this device in pub/sub topics.
	DeviceID string `json:"device_id" yaml:"device_id"`

	// JournalPath is the sqlite run journal location. Empty disables the
	// journal.
	JournalPath string `json:"journal_path" yaml:"journal_path"`

	// LogLevel sets the minimum log level.
	LogLevel string `json:"log_level" yaml:"log_level" validate:"required,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json log output.
	LogFormat string `json:"log_format" yaml:"log_format" validate:"required,oneof=console json"`

	// MetricsListen enables the Prometheus endpoint when non-empty.
	MetricsListen string `json:"metrics_listen" yaml:"metrics_listen"`

	// TraceExporter selects the trace exporter (none, stdout, otlp).
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`

	// TraceEndpoint is the OTLP collector endpoint.
	TraceEndpoint string `json:"trace_endpoint" yaml:"trace_endpoint"`
}

// Default returns the baseline settings before file and flag overrides.
func Default() *Settings {
	dataDir := defaultDataDir()
	return &Settings{
		Mode:                 "auto",
		AllowNetwork:         false,
		OfflineOnly:          false,
		AllowListeners:       true,
		DataDir:              dataDir,
		HTTPListen:           "127.0.0.1:0",
		HTTPTimeoutSeconds:   120,
		PubSubTimeoutSeconds: 5,
		TopicPrefix:          "bootstrap",
		DeviceID:             "device",
		LogLevel:             "info",
		LogFormat:            "console",
		TraceExporter:        "none",
	}
}

// Normalize derives dependent defaults that follow from DataDir. It is safe
// to call more than once.
func (s *Settings) Normalize() {
	if s.DataDir == "" {
		s.DataDir = defaultDataDir()
	}
	if s.CacheRoot == "" {
		s.CacheRoot = s.DataDir
	}
	if s.SecretsBackend == "" {
		s.SecretsBackend = "file:" + filepath.Join(s.DataDir, "secrets.json")
	}
	if s.StateBackend == "" {
		s.StateBackend = "file:" + filepath.Join(s.DataDir, "bootstrap_state.json")
	}
	if s.JournalPath == "" {
		s.JournalPath = filepath.Join(s.DataDir, "journal.db")
	}
	if s.TopicPrefix == "" {
		s.TopicPrefix = "bootstrap"
	}
	if s.DeviceID == "" {
		s.DeviceID = "device"
	}
	if s.HTTPListen == "" {
		s.HTTPListen = "127.0.0.1:0"
	}
	if s.HTTPTimeoutSeconds == 0 {
		s.HTTPTimeoutSeconds = 120
	}
	if s.PubSubTimeoutSeconds == 0 {
		s.PubSubTimeoutSeconds = 5
	}
	if s.TraceExporter == "" {
		s.TraceExporter = "none"
	}
}

// HTTPTimeout returns the HTTP answer timeout as a duration.
func (s *Settings) HTTPTimeout() time.Duration {
	return time.Duration(s.HTTPTimeoutSeconds) * time.Second
}

// PubSubTimeout returns the pub/sub answer timeout as a duration.
func (s *Settings) PubSubTimeout() time.Duration {
	return time.Duration(s.PubSubTimeoutSeconds) * time.Second
}

// defaultDataDir resolves the per-user data directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".packlift"
	}
	return filepath.Join(home, ".packlift")
}
