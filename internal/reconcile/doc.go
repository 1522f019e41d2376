// Package reconcile owns the decision loop.
//
// Ownership boundary:
// - deciding, per tick, whether to propose, cancel, remind or idle
// - executing that plan through the composer and the notifier
// - scheduling ticks so that they never overlap
//
// Reconcile does not cache ledger state between ticks. Every tick starts from
// a fresh catalog snapshot.
//
// Tick order:
// - resolve requested authorities (skip while empty)
// - snapshot -> Decide -> execute
// - wait the fixed interval after the tick settles, then repeat
package reconcile
