package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/packlift/packlift/pkg/config"
	"github.com/packlift/packlift/pkg/flow"
	"github.com/packlift/packlift/pkg/journal"
	"github.com/packlift/packlift/pkg/pack"
	"github.com/packlift/packlift/pkg/secrets"
	"github.com/packlift/packlift/pkg/state"
	"github.com/packlift/packlift/pkg/telemetry"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.Default()
	s.DataDir = t.TempDir()
	s.CacheRoot = ""
	s.SecretsBackend = ""
	s.StateBackend = ""
	s.JournalPath = ""
	s.Normalize()
	return s
}

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	return tel
}

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Telemetry == nil {
		cfg.Telemetry = testTelemetry(t)
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng
}

func writeEnginePack(t *testing.T, version string, installFlow string) string {
	t.Helper()
	manifest := pack.Manifest{
		Name:    "platform",
		Version: version,
		Flows: []pack.FlowEntry{
			{ID: "platform_install", Title: "Install"},
			{ID: "platform_upgrade", Title: "Upgrade"},
		},
	}
	flows := map[string][]byte{
		"platform_install": []byte(installFlow),
		"platform_upgrade": []byte(installFlow),
	}
	path := filepath.Join(t.TempDir(), "platform.gtpack")
	if err := pack.WriteArchive(path, manifest, flows); err != nil {
		t.Fatalf("WriteArchive failed: %v", err)
	}
	return path
}

const readyFlow = `{
  "steps": [
    {
      "kind": "installer_call",
      "result": {
        "output_version": "1",
        "config_patch": {"region": "us-east-1"},
        "secrets_writes": [
          {"key": "api_token", "value": "s3cr3t", "scope": "platform"}
        ],
        "ready": true
      }
    }
  ]
}`

func TestInstallWritesStateSecretsAndPatch(t *testing.T) {
	settings := testSettings(t)
	settings.EnvironmentKind = "local"
	eng := testEngine(t, Config{Settings: settings})
	packPath := writeEnginePack(t, "1.2.0", readyFlow)

	report, err := eng.Install(context.Background(), packPath)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if report.Version != "1.2.0" {
		t.Errorf("report.Version = %q, want 1.2.0", report.Version)
	}
	wantHistory := []string{"waiting_for_answers", "deploying", "completed"}
	if len(report.History) != len(wantHistory) {
		t.Fatalf("history = %v, want %v", report.History, wantHistory)
	}
	for i, st := range wantHistory {
		if report.History[i] != st {
			t.Errorf("history[%d] = %q, want %q", i, report.History[i], st)
		}
	}

	st, err := eng.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st == nil || st.Version == nil || *st.Version != "1.2.0" {
		t.Fatalf("state = %+v, want version 1.2.0", st)
	}
	if st.EnvironmentKind == nil || *st.EnvironmentKind != "local" {
		t.Errorf("EnvironmentKind = %v, want local", st.EnvironmentKind)
	}
	if st.Digest == nil || *st.Digest != report.Digest {
		t.Errorf("state digest = %v, want %q", st.Digest, report.Digest)
	}

	secretsPath := filepath.Join(settings.DataDir, "secrets.json")
	raw, err := os.ReadFile(secretsPath)
	if err != nil {
		t.Fatalf("read secrets file: %v", err)
	}
	var stored map[string]secrets.StoredSecret
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("parse secrets file: %v", err)
	}
	if stored["platform/api_token"].Value != "s3cr3t" {
		t.Errorf("stored secrets = %v, want platform/api_token=s3cr3t", stored)
	}

	patchPath := filepath.Join(settings.DataDir, "config_patch.json")
	patch, err := os.ReadFile(patchPath)
	if err != nil {
		t.Fatalf("read config patch: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(patch, &decoded); err != nil {
		t.Fatalf("parse config patch: %v", err)
	}
	if decoded["region"] != "us-east-1" {
		t.Errorf("config patch = %v, want region=us-east-1", decoded)
	}
}

func TestInstallNotReadyFails(t *testing.T) {
	notReady := `{"steps":[{"kind":"installer_call","result":{"output_version":"1","ready":false}}]}`
	settings := testSettings(t)
	eng := testEngine(t, Config{Settings: settings})
	packPath := writeEnginePack(t, "1.0.0", notReady)

	if _, err := eng.Install(context.Background(), packPath); err == nil {
		t.Fatal("Install succeeded, want not-ready failure")
	}
	if _, err := os.Stat(filepath.Join(settings.DataDir, "bootstrap_state.json")); !os.IsNotExist(err) {
		t.Errorf("state file written despite not-ready output")
	}
	if _, err := os.Stat(filepath.Join(settings.DataDir, "secrets.json")); !os.IsNotExist(err) {
		t.Errorf("secrets written despite not-ready output")
	}
}

func TestUpgradePreflight(t *testing.T) {
	settings := testSettings(t)
	eng := testEngine(t, Config{Settings: settings})

	if _, err := eng.Install(context.Background(), writeEnginePack(t, "1.2.0", readyFlow)); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	before, err := eng.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	_, err = eng.Upgrade(context.Background(), writeEnginePack(t, "1.1.0", readyFlow))
	var notNewer *state.NotNewerError
	if !errors.As(err, &notNewer) {
		t.Fatalf("Upgrade to 1.1.0 = %v, want NotNewerError", err)
	}

	report, err := eng.Upgrade(context.Background(), writeEnginePack(t, "1.3.0", readyFlow))
	if err != nil {
		t.Fatalf("Upgrade to 1.3.0 failed: %v", err)
	}

	after, err := eng.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if after.Version == nil || *after.Version != "1.3.0" {
		t.Fatalf("state version = %v, want 1.3.0", after.Version)
	}
	if after.InstalledAt == nil || before.InstalledAt == nil || *after.InstalledAt != *before.InstalledAt {
		t.Errorf("InstalledAt = %v, want preserved %v", after.InstalledAt, before.InstalledAt)
	}
	if after.LastUpgradeAt == nil {
		t.Error("LastUpgradeAt not set after upgrade")
	}
	wantRef := "1.2.0@" + *before.Digest
	if after.RollbackRef == nil || *after.RollbackRef != wantRef {
		t.Errorf("RollbackRef = %v, want %q", after.RollbackRef, wantRef)
	}
	if report.Digest == *before.Digest {
		t.Error("upgrade digest equals previous digest")
	}
}

func TestUpgradeWithoutInstallFails(t *testing.T) {
	eng := testEngine(t, Config{Settings: testSettings(t)})

	_, err := eng.Upgrade(context.Background(), writeEnginePack(t, "2.0.0", readyFlow))
	if !errors.Is(err, state.ErrNotInstalled) {
		t.Fatalf("Upgrade = %v, want ErrNotInstalled", err)
	}
}

func TestStatusWithoutInstallReturnsNil(t *testing.T) {
	eng := testEngine(t, Config{Settings: testSettings(t)})

	st, err := eng.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st != nil {
		t.Fatalf("state = %+v, want nil before install", st)
	}
}

func TestDeployHookFailureRestoresWrites(t *testing.T) {
	settings := testSettings(t)
	secretsPath := filepath.Join(settings.DataDir, "secrets.json")
	prior := []byte(`{"legacy/token":{"value":"old","scope":"legacy"}}`)
	if err := os.WriteFile(secretsPath, prior, 0o600); err != nil {
		t.Fatalf("seed secrets file: %v", err)
	}

	hookErr := errors.New("deploy plan exploded")
	eng := testEngine(t, Config{
		Settings:   settings,
		DeployHook: func(context.Context, *flow.Output) error { return hookErr },
	})

	_, err := eng.Install(context.Background(), writeEnginePack(t, "1.0.0", readyFlow))
	if !errors.Is(err, hookErr) {
		t.Fatalf("Install = %v, want deploy hook error", err)
	}
	var phased *PhaseError
	if !errors.As(err, &phased) || phased.Phase != PhaseDeploy {
		t.Errorf("error phase = %v, want deploy", err)
	}

	got, err := os.ReadFile(secretsPath)
	if err != nil {
		t.Fatalf("read secrets file: %v", err)
	}
	if string(got) != string(prior) {
		t.Errorf("secrets file = %s, want restored %s", got, prior)
	}
	if _, err := os.Stat(filepath.Join(settings.DataDir, "config_patch.json")); !os.IsNotExist(err) {
		t.Error("config patch not removed by rollback")
	}
	if _, err := os.Stat(filepath.Join(settings.DataDir, "bootstrap_state.json")); !os.IsNotExist(err) {
		t.Error("state persisted despite deploy failure")
	}
}

func TestSecretsWriteFailureRestoresConfigPatch(t *testing.T) {
	// A write with no declared value fails; the config patch target
	// must come out of the run untouched.
	missingValue := `{
	  "steps": [
	    {
	      "kind": "installer_call",
	      "result": {
	        "output_version": "1",
	        "config_patch": {"region": "eu-west-1"},
	        "secrets_writes": [{"key": "api_token"}],
	        "ready": true
	      }
	    }
	  ]
	}`
	settings := testSettings(t)
	patchPath := filepath.Join(settings.DataDir, "config_patch.json")
	prior := []byte(`{"region": "us-east-1"}`)
	if err := os.WriteFile(patchPath, prior, 0o644); err != nil {
		t.Fatalf("seed config patch: %v", err)
	}

	eng := testEngine(t, Config{Settings: settings})
	_, err := eng.Install(context.Background(), writeEnginePack(t, "1.0.0", missingValue))
	var missing *secrets.MissingValueError
	if !errors.As(err, &missing) || missing.Key != "api_token" {
		t.Fatalf("Install = %v, want MissingValueError for api_token", err)
	}

	got, err := os.ReadFile(patchPath)
	if err != nil {
		t.Fatalf("read config patch: %v", err)
	}
	if string(got) != string(prior) {
		t.Errorf("config patch = %s, want pre-run %s", got, prior)
	}
	if _, err := os.Stat(filepath.Join(settings.DataDir, "secrets.json")); !os.IsNotExist(err) {
		t.Error("secrets file left behind after failed write")
	}
}

func TestInstallJournalsRun(t *testing.T) {
	settings := testSettings(t)
	j, err := journal.New(journal.Config{Path: filepath.Join(settings.DataDir, "journal.db")})
	if err != nil {
		t.Fatalf("journal.New failed: %v", err)
	}
	ctx := context.Background()
	if err := j.Init(ctx); err != nil {
		t.Fatalf("journal.Init failed: %v", err)
	}
	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("journal.Migrate failed: %v", err)
	}
	defer j.Close()

	eng := testEngine(t, Config{Settings: settings, Journal: j})
	report, err := eng.Install(ctx, writeEnginePack(t, "1.2.0", readyFlow))
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	run, err := j.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != journal.RunStatusCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.PackVersion != "1.2.0" || run.PackDigest != report.Digest {
		t.Errorf("run pack = %s@%s, want 1.2.0@%s", run.PackVersion, run.PackDigest, report.Digest)
	}

	events, err := j.EventsForRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("EventsForRun failed: %v", err)
	}
	if len(events) != len(report.History) {
		t.Fatalf("journaled %d events, want %d", len(events), len(report.History))
	}
	for i, ev := range events {
		if ev.Status != report.History[i] {
			t.Errorf("event[%d] = %q, want %q", i, ev.Status, report.History[i])
		}
	}
}
