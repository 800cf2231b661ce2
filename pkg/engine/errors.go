package engine

import (
	"fmt"
	"strings"
)

// Phase names the orchestrator step an error escaped from. Phases
// appear in error messages and in the run journal.
type Phase string

const (
	// PhaseResolve covers reference parsing and the registry fetch.
	PhaseResolve Phase = "resolve"

	// PhaseLoad covers opening the pack archive and decoding its
	// manifest.
	PhaseLoad Phase = "load"

	// PhaseVerify covers the signature-presence policy check.
	PhaseVerify Phase = "verify"

	// PhasePreflight covers the upgrade version gate.
	PhasePreflight Phase = "preflight"

	// PhaseFlow covers bootstrap resolution, adapter selection, and
	// flow interpretation.
	PhaseFlow Phase = "flow"

	// PhaseCommit covers the secrets and config patch writes.
	PhaseCommit Phase = "commit"

	// PhaseDeploy covers the deploy-plan execution hook.
	PhaseDeploy Phase = "deploy"

	// PhasePersist covers the bootstrap state write.
	PhasePersist Phase = "persist"
)

// PhaseError tags a failure with the phase it came from.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func phaseErr(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: phase, Err: err}
}

// RollbackError reports a rollback that could not fully restore the
// snapshotted resources. It carries the original cause alongside
// every restore failure so a failed rollback never masks what
// triggered it.
type RollbackError struct {
	// Cause is the failure that triggered the rollback.
	Cause error

	// Failures are the restore errors, in the order the restores
	// were attempted.
	Failures []error
}

func (e *RollbackError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%v (rollback incomplete: %s)", e.Cause, strings.Join(msgs, "; "))
}

// Unwrap exposes the cause and every restore failure to errors.Is
// and errors.As.
func (e *RollbackError) Unwrap() []error {
	return append([]error{e.Cause}, e.Failures...)
}
