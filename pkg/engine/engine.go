package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/packlift/packlift/pkg/config"
	"github.com/packlift/packlift/pkg/configpatch"
	"github.com/packlift/packlift/pkg/flow"
	"github.com/packlift/packlift/pkg/interaction"
	"github.com/packlift/packlift/pkg/journal"
	"github.com/packlift/packlift/pkg/netpolicy"
	"github.com/packlift/packlift/pkg/pack"
	"github.com/packlift/packlift/pkg/registry"
	"github.com/packlift/packlift/pkg/state"
	"github.com/packlift/packlift/pkg/telemetry"
)

// Operations the engine runs.
const (
	OpInstall = "install"
	OpUpgrade = "upgrade"
)

// DeployHook executes the inferred deployment plan after the
// installer output is committed. The default hook is a no-op
// placeholder; a real implementation must extend the same
// snapshot/restore discipline, since failures between the hook and
// the state write are only compensated for the secrets and config
// patch targets.
type DeployHook func(ctx context.Context, output *flow.Output) error

// Config assembles an Engine. Settings is required; everything else
// has a working default.
type Config struct {
	// Settings is the pre-validated runtime configuration.
	Settings *config.Settings

	// Telemetry supplies logging, metrics, tracing, and events. Nil
	// builds a default (console logging, no exporters).
	Telemetry *telemetry.Telemetry

	// Journal records runs best-effort. Nil disables journaling.
	Journal *journal.Journal

	// Fetcher overrides the registry transport. Nil selects HTTP.
	Fetcher registry.Fetcher

	// Broker overrides the pub/sub broker. Nil connects to
	// Settings.BrokerURL over NATS when pub/sub mode is selected.
	Broker interaction.Broker

	// Adapter overrides interaction mode selection entirely.
	Adapter flow.Adapter

	// DeployHook runs after a successful commit. Nil is a no-op.
	DeployHook DeployHook

	// Stdin and Stdout wire the terminal adapter. A nil Stdin
	// disables terminal prompting; the deny adapter answers instead.
	Stdin  io.Reader
	Stdout io.Writer
}

// Engine runs the platform bootstrap operations.
type Engine struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	journal  *journal.Journal
	policy   *netpolicy.Policy
	fetcher  registry.Fetcher
	broker   interaction.Broker
	adapter  flow.Adapter
	deploy   DeployHook
	stdin    io.Reader
	stdout   io.Writer
}

// Report summarizes a completed run.
type Report struct {
	RunID     string   `json:"run_id"`
	Operation string   `json:"operation"`
	Source    string   `json:"source"`
	Version   string   `json:"version"`
	Digest    string   `json:"digest"`
	History   []string `json:"history"`
	Warnings  []string `json:"warnings,omitempty"`
}

// New builds an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Settings == nil {
		return nil, errors.New("engine requires settings")
	}
	tel := cfg.Telemetry
	if tel == nil {
		var err error
		tel, err = telemetry.NewTelemetry(telemetry.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("build default telemetry: %w", err)
		}
	}
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	policy := netpolicy.New(
		cfg.Settings.AllowNetwork,
		cfg.Settings.OfflineOnly,
		netpolicy.ParseAllowList(cfg.Settings.NetAllowlist),
	)
	return &Engine{
		settings: cfg.Settings,
		tel:      tel,
		journal:  cfg.Journal,
		policy:   policy,
		fetcher:  cfg.Fetcher,
		broker:   cfg.Broker,
		adapter:  cfg.Adapter,
		deploy:   cfg.DeployHook,
		stdin:    cfg.Stdin,
		stdout:   stdout,
	}, nil
}

// Install bootstraps the platform from source, a local pack path or
// an oci:// reference.
func (e *Engine) Install(ctx context.Context, source string) (*Report, error) {
	return e.run(ctx, OpInstall, source)
}

// Upgrade moves an installed platform to a strictly newer pack.
func (e *Engine) Upgrade(ctx context.Context, source string) (*Report, error) {
	return e.run(ctx, OpUpgrade, source)
}

// Status returns the persisted bootstrap state with no side
// effects. Nil state means nothing is installed.
func (e *Engine) Status(ctx context.Context) (*state.BootstrapState, error) {
	store, err := state.ParseBackend(e.settings.StateBackend)
	if err != nil {
		return nil, err
	}
	return store.Load()
}

func (e *Engine) run(ctx context.Context, operation, source string) (*Report, error) {
	runID := uuid.NewString()
	ctx = e.tel.WithContext(ctx)
	ctx = telemetry.WithRunContext(ctx, runID, operation, source)
	logger := e.tel.Logger.WithRunID(runID).WithField("operation", operation)

	e.journalBegin(ctx, runID, operation, source)

	report, err := e.execute(ctx, logger, runID, operation, source)
	if err != nil {
		telemetry.EndRunContext(ctx, runID, operation, "failed", err)
		_ = e.tel.Events.PublishRunFailed(runID, err.Error())
		e.journalFinish(ctx, runID, journalStatus(err), err)
		return nil, err
	}
	telemetry.EndRunContext(ctx, runID, operation, "completed", nil)
	e.journalFinish(ctx, runID, journal.RunStatusCompleted, nil)
	return report, nil
}

func (e *Engine) execute(ctx context.Context, logger *telemetry.Logger, runID, operation, source string) (*Report, error) {
	packPath := source
	if registry.IsReference(source) {
		ref, err := registry.ParseReference(source)
		if err != nil {
			return nil, phaseErr(PhaseResolve, err)
		}
		resolver := registry.NewResolver(registry.ResolverConfig{
			CacheRoot: e.settings.CacheRoot,
			Policy:    e.policy,
			Fetcher:   e.fetcher,
			Logger:    logger.Zerolog(),
			Metrics:   e.tel.Metrics,
		})
		packPath, err = resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, phaseErr(PhaseResolve, err)
		}
	}

	info, err := pack.Load(packPath)
	if err != nil {
		return nil, phaseErr(PhaseLoad, err)
	}
	logger = logger.WithPack(info.Manifest.Version, info.Digest)
	_ = e.tel.Events.PublishPackResolved(runID, source, info.Digest, packPath != source)
	e.journalPackInfo(ctx, runID, info)

	outcome, err := pack.Verify(info, pack.VerificationPolicy{
		Verify: !e.settings.SkipVerify,
		Strict: e.settings.StrictVerify,
	})
	if err != nil {
		return nil, phaseErr(PhaseVerify, err)
	}
	warnings := append([]string(nil), outcome.Warnings...)
	for _, w := range outcome.Warnings {
		logger.Warn(w)
	}

	stateStore, err := state.ParseBackend(e.settings.StateBackend)
	if err != nil {
		return nil, phaseErr(PhasePersist, err)
	}

	var current *state.BootstrapState
	if operation == OpUpgrade {
		current, err = stateStore.Load()
		if err != nil {
			return nil, phaseErr(PhasePreflight, err)
		}
		target, err := semver.NewVersion(info.Manifest.Version)
		if err != nil {
			return nil, phaseErr(PhasePreflight, fmt.Errorf("pack version %q: %w", info.Manifest.Version, err))
		}
		if _, err := state.EnsureUpgradeAllowed(current, target); err != nil {
			return nil, phaseErr(PhasePreflight, err)
		}
	}

	resolution, err := pack.ResolveBootstrap(info.Manifest)
	if err != nil {
		return nil, phaseErr(PhaseFlow, err)
	}
	flowID := resolution.InstallFlow
	if operation == OpUpgrade {
		flowID = resolution.UpgradeFlow
	}
	doc, err := pack.ReadFlow(packPath, flowID)
	if err != nil {
		return nil, phaseErr(PhaseFlow, err)
	}

	adapter, cleanup, err := e.selectAdapter(logger)
	if err != nil {
		return nil, phaseErr(PhaseFlow, err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	runner, err := flow.NewRunner(logger.Zerolog())
	if err != nil {
		return nil, phaseErr(PhaseFlow, err)
	}
	result, err := runner.Run(ctx, doc, adapter)
	if err != nil {
		return nil, phaseErr(PhaseFlow, err)
	}
	e.journalHistory(ctx, runID, result.History)
	for _, st := range result.History {
		e.tel.Metrics.RecordFlowTransition(st)
		_ = e.tel.Events.PublishFlowStatus(runID, st)
	}
	warnings = append(warnings, result.Output.Warnings...)

	if !result.Output.Ready {
		return nil, phaseErr(PhaseFlow, errors.New("installer reported not ready"))
	}

	patchPath := e.settings.ConfigPatchPath
	if patchPath == "" {
		patchPath = configpatch.DefaultPath(stateStore.Path())
	}
	if err := e.commit(ctx, logger, runID, result.Output, patchPath); err != nil {
		return nil, err
	}

	var next *state.BootstrapState
	if operation == OpUpgrade {
		rollbackRef := fmt.Sprintf("%s@%s", deref(current.Version), deref(current.Digest))
		next = state.UpgradedFrom(current, info.Manifest.Version, info.Digest, rollbackRef)
	} else {
		next = state.InstalledNow(info.Manifest.Version, info.Digest)
		if e.settings.EnvironmentKind != "" {
			kind := e.settings.EnvironmentKind
			next.EnvironmentKind = &kind
		}
	}
	if err := stateStore.Save(next); err != nil {
		return nil, phaseErr(PhasePersist, err)
	}
	_ = e.tel.Events.PublishStatePersisted(runID, info.Manifest.Version, info.Digest)
	logger.Info("Bootstrap state persisted")

	return &Report{
		RunID:     runID,
		Operation: operation,
		Source:    source,
		Version:   info.Manifest.Version,
		Digest:    info.Digest,
		History:   result.History,
		Warnings:  warnings,
	}, nil
}

// Journal writes are best-effort: a broken journal degrades to a
// warning, it never fails the run.

func (e *Engine) journalBegin(ctx context.Context, runID, operation, source string) {
	if e.journal == nil {
		return
	}
	err := e.journal.BeginRun(ctx, &journal.Run{
		ID:        runID,
		Operation: operation,
		PackRef:   source,
		Status:    journal.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		e.tel.Logger.WithError(err).Warn("Run journal write failed")
	}
}

func (e *Engine) journalPackInfo(ctx context.Context, runID string, info *pack.Info) {
	if e.journal == nil {
		return
	}
	if err := e.journal.UpdatePackInfo(ctx, runID, info.Manifest.Version, info.Digest); err != nil {
		e.tel.Logger.WithError(err).Warn("Run journal write failed")
	}
}

func (e *Engine) journalHistory(ctx context.Context, runID string, history []string) {
	if e.journal == nil {
		return
	}
	for _, status := range history {
		if err := e.journal.RecordEvent(ctx, runID, status, nil); err != nil {
			e.tel.Logger.WithError(err).Warn("Run journal write failed")
			return
		}
	}
}

func (e *Engine) journalFinish(ctx context.Context, runID string, status journal.RunStatus, runErr error) {
	if e.journal == nil {
		return
	}
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := e.journal.FinishRun(ctx, runID, status, msg); err != nil {
		e.tel.Logger.WithError(err).Warn("Run journal write failed")
	}
}

// journalStatus maps a run error to its journal outcome: commit and
// deploy failures were rolled back, everything else just failed.
func journalStatus(err error) journal.RunStatus {
	var phased *PhaseError
	if errors.As(err, &phased) {
		if phased.Phase == PhaseCommit || phased.Phase == PhaseDeploy {
			return journal.RunStatusRolledBack
		}
	}
	return journal.RunStatusFailed
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
