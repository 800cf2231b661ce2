package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSettingsFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	loader := NewLoader()

	settings, err := loader.Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}

	if settings.Mode != "auto" {
		t.Errorf("expected mode auto, got %s", settings.Mode)
	}
	if settings.SecretsBackend == "" || settings.StateBackend == "" {
		t.Error("expected backends derived from data dir")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := writeSettingsFile(t, "settings.yaml", `
mode: http
allow_network: true
net_allowlist: "registry.example.com,10.0.0.0/8"
http_timeout_seconds: 30
data_dir: /var/lib/packlift
`)

	loader := NewLoader()
	settings, err := loader.Load(path)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}

	if settings.Mode != "http" {
		t.Errorf("expected mode http, got %s", settings.Mode)
	}
	if !settings.AllowNetwork {
		t.Error("expected allow_network true")
	}
	if settings.HTTPTimeoutSeconds != 30 {
		t.Errorf("expected 30s timeout, got %d", settings.HTTPTimeoutSeconds)
	}
	// Absent keys keep defaults
	if settings.PubSubTimeoutSeconds != 5 {
		t.Errorf("expected default pub/sub timeout, got %d", settings.PubSubTimeoutSeconds)
	}
	// Derived values follow the overlaid data dir
	if settings.CacheRoot != "/var/lib/packlift" {
		t.Errorf("expected derived cache root, got %s", settings.CacheRoot)
	}
}

func TestLoadCUEOverlay(t *testing.T) {
	path := writeSettingsFile(t, "settings.cue", `
mode:           "terminal"
environment_kind: "kubernetes"
device_id:      "edge-7"
`)

	loader := NewLoader()
	settings, err := loader.Load(path)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}

	if settings.Mode != "terminal" {
		t.Errorf("expected mode terminal, got %s", settings.Mode)
	}
	if settings.EnvironmentKind != "kubernetes" {
		t.Errorf("expected kubernetes, got %s", settings.EnvironmentKind)
	}
	if settings.DeviceID != "edge-7" {
		t.Errorf("expected device edge-7, got %s", settings.DeviceID)
	}
}

func TestLoadJSONOverlay(t *testing.T) {
	path := writeSettingsFile(t, "settings.json", `{"mode":"pubsub","broker_url":"nats://broker:4222"}`)

	loader := NewLoader()
	settings, err := loader.Load(path)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}

	if settings.Mode != "pubsub" {
		t.Errorf("expected mode pubsub, got %s", settings.Mode)
	}
	if settings.BrokerURL != "nats://broker:4222" {
		t.Errorf("unexpected broker URL %s", settings.BrokerURL)
	}
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	path := writeSettingsFile(t, "settings.toml", `mode = "auto"`)

	loader := NewLoader()
	if _, err := loader.Load(path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadRejectsMalformedCUE(t *testing.T) {
	path := writeSettingsFile(t, "settings.cue", `mode: "auto" & "http"`)

	loader := NewLoader()
	if _, err := loader.Load(path); err == nil {
		t.Fatal("expected error for conflicting CUE values")
	}
}

func TestValidateRules(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:    "invalid mode",
			mutate:  func(s *Settings) { s.Mode = "carrier-pigeon" },
			wantErr: "invalid settings",
		},
		{
			name:    "invalid log level",
			mutate:  func(s *Settings) { s.LogLevel = "loud" },
			wantErr: "invalid settings",
		},
		{
			name:    "json mode without answers",
			mutate:  func(s *Settings) { s.Mode = "json" },
			wantErr: "json mode requires an answers file",
		},
		{
			name:    "pubsub mode without broker",
			mutate:  func(s *Settings) { s.Mode = "pubsub" },
			wantErr: "pubsub mode requires a broker URL",
		},
		{
			name: "otlp without endpoint",
			mutate: func(s *Settings) {
				s.TraceExporter = "otlp"
				s.TraceEndpoint = ""
			},
			wantErr: "otlp trace exporter requires an endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := Default()
			settings.Normalize()
			tt.mutate(settings)

			err := loader.Validate(settings)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	loader := NewLoader()
	settings := Default()
	settings.Normalize()

	if err := loader.Validate(settings); err != nil {
		t.Fatalf("defaults failed validation: %v", err)
	}
}
