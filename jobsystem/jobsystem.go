// Package jobsystem defines the abstract task-sink contract the workflow
// executor dispatches work onto, and ships one concrete goroutine
// worker-pool implementation of it.
//
// The workflow engine treats a JobSystem purely as a place to post tasks
// and be told when a group of them has drained; it never inspects how
// those tasks are actually scheduled.
package jobsystem

import "context"

// Task is a unit of work dispatched onto the job system. Implementations
// must respect ctx cancellation where practical.
type Task func(ctx context.Context)

// Job groups a set of dispatched tasks behind a single completion
// callback. The completion callback fires exactly once, after every task
// ever dispatched into the Job has returned.
type Job interface {
	// Dispatch enqueues t as one more task belonging to this Job. It is
	// valid to call Dispatch from inside a task that is itself running
	// inside this Job (a task may fan out further work).
	Dispatch(t Task)

	// Detach releases the caller's handle to the Job. It does not cancel
	// outstanding tasks; it only signals that the caller will not call
	// Dispatch on this Job again, which some implementations use to
	// reclaim bookkeeping state promptly once the completion callback has
	// fired.
	Detach()
}

// JobSystem is the external dependency the workflow executor is built
// against. It provides exactly the primitives spec.md §6 requires:
// dispatching a free task, creating a job with a completion callback,
// dispatching tasks into a job, and detaching handles.
type JobSystem interface {
	// Dispatch posts t as a free-standing task, not associated with any
	// Job. Used for work that needs no completion signal.
	Dispatch(t Task)

	// NewJob creates a Job whose completion callback is onComplete. The
	// Job starts empty; onComplete fires once Detach has been called on
	// it AND every task dispatched into it has returned. Ordering it this
	// way (rather than firing as soon as the task count hits zero) avoids
	// a race where the creator hasn't dispatched its first task yet.
	NewJob(onComplete func()) Job
}
