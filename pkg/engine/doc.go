// Package engine composes the bootstrap subsystems into the
// install, upgrade, and status operations: pack resolution through
// the content-addressed registry cache, loading and signature
// verification, upgrade preflight, flow execution through an
// interaction adapter, and the commit of the installer's output
// (secret writes + configuration patch) with compensating rollback
// of partially applied side effects.
//
// The engine runs on a single control-flow goroutine. Only the HTTP
// and pub/sub interaction adapters introduce a second goroutine,
// synchronized with the engine through a one-shot channel. Within
// one run, secrets are always written before the config patch and
// both before the state record; rollback is attempted in reverse
// order. Timeouts are the only cancellation mechanism: once a write
// has started there is no mid-flight abort, only compensation after
// a visible failure.
package engine
