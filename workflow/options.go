package workflow

import (
	"github.com/kan-go/workflow/emit"
	"github.com/kan-go/workflow/jobsystem"
	"github.com/kan-go/workflow/workflow/history"
)

// engineConfig collects the options an Engine is built with.
type engineConfig struct {
	jobs        jobsystem.JobSystem
	emitter     emit.Emitter
	metrics     *Metrics
	history     history.Store
	verify      bool
	numWorkers  int
	scratchSize int
}

// Option configures an Engine built by New.
type Option func(*engineConfig) error

// WithJobSystem supplies the JobSystem an Engine dispatches node work onto.
// If omitted, New creates a WorkerPoolJobSystem with the number of workers
// set by WithWorkerCount (4 by default).
func WithJobSystem(js jobsystem.JobSystem) Option {
	return func(c *engineConfig) error {
		c.jobs = js
		return nil
	}
}

// WithEmitter supplies the Emitter the Engine's Executor uses for
// node_start/node_finish events. Builders do not emit events; compile
// failures are reported only as errors from Finalize. If omitted, events
// are discarded.
func WithEmitter(e emit.Emitter) Option {
	return func(c *engineConfig) error {
		c.emitter = e
		return nil
	}
}

// WithVerification sets the default for whether Builder.Finalize runs the
// cycle/race verification pass when FinalizeOptions.SkipVerify is left
// unset by the caller.
func WithVerification(enabled bool) Option {
	return func(c *engineConfig) error {
		c.verify = enabled
		return nil
	}
}

// WithMetrics attaches Prometheus instrumentation to the Engine's Executor
// and to every Builder.Finalize call it configures.
func WithMetrics(m *Metrics) Option {
	return func(c *engineConfig) error {
		c.metrics = m
		return nil
	}
}

// WithWorkerCount sets how many goroutines the default WorkerPoolJobSystem
// runs, when no explicit JobSystem is supplied via WithJobSystem.
func WithWorkerCount(n int) Option {
	return func(c *engineConfig) error {
		c.numWorkers = n
		return nil
	}
}

// WithHistoryStore attaches store to the Engine's Executor so every Run
// appends an audit record for each node_start/node_finish event. Omit this
// option to run with no history recording at all.
func WithHistoryStore(store history.Store) Option {
	return func(c *engineConfig) error {
		c.history = store
		return nil
	}
}

// WithScratchChunkSize sets the chunk size of the per-run ScratchAllocator
// made available to node functions via ScratchFromContext. 0 keeps the
// ScratchAllocator's own default (64KiB).
func WithScratchChunkSize(n int) Option {
	return func(c *engineConfig) error {
		c.scratchSize = n
		return nil
	}
}

// Engine bundles a Builder factory and an Executor sharing one JobSystem
// and Emitter, mirroring the teacher's functional-options Engine
// constructor. It does not cache compiled graphs.
type Engine struct {
	cfg      engineConfig
	executor *Executor
	owns     *jobsystem.WorkerPoolJobSystem // non-nil if New created the pool itself
}

// New builds an Engine from opts. Callers get a ready-to-use Builder via
// NewBuilder and an Executor via Executor.
func New(opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		verify:     true,
		numWorkers: 4,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	var owns *jobsystem.WorkerPoolJobSystem
	if cfg.jobs == nil {
		owns = jobsystem.NewWorkerPoolJobSystem(cfg.numWorkers, cfg.numWorkers*4)
		cfg.jobs = owns
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NewNullEmitter()
	}

	executor := NewExecutor(cfg.jobs, cfg.emitter)
	if cfg.metrics != nil {
		executor.WithMetrics(cfg.metrics)
	}
	if cfg.history != nil {
		executor.WithHistory(cfg.history)
	}
	executor.WithScratchChunkSize(cfg.scratchSize)

	return &Engine{
		cfg:      cfg,
		executor: executor,
		owns:     owns,
	}, nil
}

// NewBuilder returns a Builder whose default verification setting matches
// the Engine's WithVerification option.
func (e *Engine) NewBuilder() *Builder {
	b := NewBuilder(e.cfg.verify)
	if e.cfg.metrics != nil {
		b.WithMetrics(e.cfg.metrics)
	}
	return b
}

// Executor returns the Engine's shared Executor.
func (e *Engine) Executor() *Executor { return e.executor }

// Close releases any JobSystem the Engine created for itself. It is a
// no-op if the caller supplied their own via WithJobSystem.
func (e *Engine) Close() {
	if e.owns != nil {
		e.owns.Close()
	}
}
