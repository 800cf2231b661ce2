package engine

import (
	"context"
	"fmt"

	"github.com/packlift/packlift/pkg/configpatch"
	"github.com/packlift/packlift/pkg/flow"
	"github.com/packlift/packlift/pkg/secrets"
	"github.com/packlift/packlift/pkg/telemetry"
)

// commit applies the installer's output: snapshot both targets,
// write secrets, then the config patch, then run the deploy hook.
// Any failure after the snapshots triggers a best-effort restore in
// reverse write order; restore failures surface alongside the
// original cause.
func (e *Engine) commit(ctx context.Context, logger *telemetry.Logger, runID string, output *flow.Output, patchPath string) error {
	secretsStore, err := secrets.ParseBackend(e.settings.SecretsBackend, e.settings.K8sSecretDir)
	if err != nil {
		return phaseErr(PhaseCommit, err)
	}
	patchStore := configpatch.NewStore(patchPath)

	secretsSnap, err := secretsStore.Snapshot()
	if err != nil {
		return phaseErr(PhaseCommit, err)
	}
	patchSnap, err := patchStore.Snapshot()
	if err != nil {
		return phaseErr(PhaseCommit, err)
	}

	rollback := func(cause error) error {
		_ = e.tel.Events.PublishRollbackStarted(runID, cause.Error())
		logger.WithError(cause).Warn("Commit failed, restoring snapshots")

		var failures []error
		if err := patchStore.Restore(patchSnap); err != nil {
			failures = append(failures, fmt.Errorf("restore config patch: %w", err))
		}
		// A nil secrets snapshot means the backend cannot be
		// restored and rollback skips it.
		if secretsSnap != nil {
			if err := secretsStore.Restore(secretsSnap); err != nil {
				failures = append(failures, fmt.Errorf("restore secrets: %w", err))
			}
		}

		if len(failures) > 0 {
			e.tel.Metrics.RecordRollback("failed")
			_ = e.tel.Events.PublishRollbackCompleted(runID, "failed")
			return &RollbackError{Cause: cause, Failures: failures}
		}
		e.tel.Metrics.RecordRollback("restored")
		_ = e.tel.Events.PublishRollbackCompleted(runID, "restored")
		return cause
	}

	if err := secretsStore.Write(output.SecretsWrites); err != nil {
		return phaseErr(PhaseCommit, rollback(err))
	}
	if len(output.SecretsWrites) > 0 {
		_ = e.tel.Events.PublishSecretsWritten(runID, secretsStore.Describe(), len(output.SecretsWrites))
		logger.WithField("count", len(output.SecretsWrites)).Info("Secrets written")
	}

	if len(output.ConfigPatch) > 0 {
		if err := patchStore.Write(output.ConfigPatch); err != nil {
			return phaseErr(PhaseCommit, rollback(err))
		}
		_ = e.tel.Events.PublishConfigPatchWritten(runID, patchStore.Path())
		logger.WithField("path", patchStore.Path()).Info("Config patch written")
	}

	if e.deploy != nil {
		if err := e.deploy(ctx, output); err != nil {
			return phaseErr(PhaseDeploy, rollback(err))
		}
	}
	return nil
}
