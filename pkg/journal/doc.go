// Package journal records bootstrap run history in SQLite: one row
// per install/upgrade run plus an append-only event trail of the
// status transitions the flow interpreter reported. The journal is
// diagnostic only; orchestration never depends on it.
package journal
