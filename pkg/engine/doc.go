// Package engine provides the core types and the orchestrator of the Lemniscat
// pipeline runner.
//
// # Overview
//
// A manifest declares capabilities (code, build, test, deploy, release,
// operate, monitor, plan), each offering solutions made of tasks. A run
// proceeds as follows:
//
//  1. Reload the executor registry
//  2. Check policies, if a PolicyGate is configured
//  3. Run the global pre phase; a failure aborts the run
//  4. Run each enabled capability in resolved order, executing only the
//     solution named by <capability>.solution
//  5. Run the global post phase
//  6. Write the non-sensitive variable snapshot
//
// # Phases
//
// Within a solution, tasks run phase by phase in the fixed order pre,
// pre-clean, run, run-clean, post, post-clean. A phase is skipped entirely
// when the step selector does not enable it for the capability. A task is
// dispatched at most once, in the first enabled phase it belongs to.
//
// # Failure Propagation
//
// A failed task fails its solution, and the remaining tasks stay Pending. A
// failed solution fails its capability, and later capabilities are not
// evaluated. Condition errors and unknown executors are logged and the task
// is skipped.
//
// # Capability Order
//
// OrderResolver sorts capabilities topologically over dependsOn edges,
// breaking ties with the default order, and rejects cycles:
//
//	order, err := engine.ResolveOrder(map[string][]string{"test": {"build"}})
//	// order = [code build test deploy release operate monitor plan]
//
// # Collaborators
//
// Executors, the output sink, policies and metrics are injected through
// the TaskExecutor, ExecutorRegistry, SnapshotWriter, PolicyGate and
// Observer interfaces. Spans are emitted through the global OpenTelemetry
// tracer provider.
package engine
