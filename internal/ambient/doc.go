// Package ambient implements environment-scoped context propagation for
// the runtime: typed, freeze-once context layers tracked per execution
// environment, field and extension inheritance from enclosing scopes,
// process-wide lazily constructed defaults, and snapshot capture so a
// deferred task in another goroutine or process observes the same logical
// environment as its submitter.
//
// # Execution environments
//
// There is no implicit per-goroutine ambient state. Each goroutine that
// participates owns an Env and threads it explicitly (or carries it in a
// context.Context). Stacks in one Env are invisible to every other Env;
// the only way active state crosses an environment boundary is the
// explicit capture → serialize → transmit → deserialize → enter sequence.
//
// # Scoped activation
//
// Application code enters a context with Activate (or With) and exits it
// through the returned handle. Enter/exit must nest LIFO per key type; a
// pop whose element is not the identical activated instance means the
// stack was modified behind the idiom's back and fails immediately.
//
//	env := ambient.NewEnv()
//	act, err := env.Activate(&contexts.ProcessContext{
//		Base:    ambient.Base{Root: true},
//		EnvName: "prod",
//	})
//	if err != nil { ... }
//	defer act.Exit()
//
// # Snapshots and bulk reactivation
//
// CaptureActive freezes the set of innermost contexts across all stacks;
// Serialize turns it into a canonical-JSON payload the task-queue layer
// treats as opaque bytes. On the worker, Deserialize plus Snapshot
// Enter/Exit (or Manager for an isolated stack table) replays the
// submitter's environment around the deferred work with all-or-nothing
// rollback on partial failure.
//
// All contract violations surface as *Error values tagged with one of four
// codes; see errors.go. No operation here blocks on I/O and only the
// default caches are shared process-wide.
package ambient
