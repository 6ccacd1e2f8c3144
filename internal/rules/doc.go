// Package rules defines the unit of work sxn runs to provision a session:
// the Rule contract, its state machine, the per-rule change log used for
// rollback, and the concrete rule kinds.
//
// # Lifecycle
//
// Every rule moves through a fixed set of states:
//
//	pending -> validating -> validated -> applying -> applied -> rolling_back -> rolled_back
//
// with failed reachable from validating, applying and rolling_back. A failed
// or rolled-back rule is never reused; build a new one to retry.
//
// # Change Log
//
// Apply records one [Change] per externally visible mutation. Rollback walks
// the log in reverse and undoes each entry according to its [ChangeType].
// Commands cannot be undone, so command_executed entries are informational.
//
// # Kinds
//
// Kinds are registered in a [Registry]. [DefaultRegistry] carries the
// built-in kinds:
//
//   - copy_files: copy or symlink files from the project into the session
//   - setup_commands: run allowlisted commands, optionally gated by a CEL condition
//   - template: render Liquid templates into the session
//
// Adding a kind means adding one type that embeds [Base] and one
// [Registry.Register] call.
package rules
