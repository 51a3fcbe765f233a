package orchestrator

import (
	"time"

	"github.com/anvilworks/anvil/internal/blocker"
	"github.com/anvilworks/anvil/internal/executor"
	"github.com/anvilworks/anvil/internal/graph"
	"github.com/anvilworks/anvil/internal/pool"
	"github.com/anvilworks/anvil/internal/state"
)

// Default tuning values, used when the corresponding option is not given.
const (
	DefaultMaxRetries   = 3
	DefaultTaskTimeout  = 15 * time.Minute
	DefaultIdleRetire   = 10 * time.Minute
	DefaultPollInterval = 100 * time.Millisecond
	DefaultEventBuffer  = 100
)

// RequiredConfig contains the minimal required configuration for an
// Orchestrator. All fields are required and have no defaults.
type RequiredConfig struct {
	// Executor runs individual task attempts.
	Executor executor.Executor
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxConcurrency int
	maxRetries     int
	taskTimeout    time.Duration
	idleRetire     time.Duration
	pollInterval   time.Duration
	eventBuffer    int
	gate           executor.Gate
	blockers       blocker.Service
	store          state.Store
	logger         *DebugLogger

	// Injectable dependencies for testing
	resolver *graph.Resolver
	pool     *pool.Manager
}

// WithMaxConcurrency sets the global cap on live agents.
func WithMaxConcurrency(n int) Option {
	return func(o *orchestratorOptions) { o.maxConcurrency = n }
}

// WithMaxRetries sets how many attempts a task gets before it blocks.
func WithMaxRetries(n int) Option {
	return func(o *orchestratorOptions) { o.maxRetries = n }
}

// WithTaskTimeout sets the per-dispatch execution timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.taskTimeout = d }
}

// WithIdleRetire sets how long an agent may sit idle before retirement.
func WithIdleRetire(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.idleRetire = d }
}

// WithPollInterval sets the scheduler tick interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.pollInterval = d }
}

// WithEventBuffer sets the event channel buffer size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithGate sets the validation gate applied to successful executions.
func WithGate(g executor.Gate) Option {
	return func(o *orchestratorOptions) { o.gate = g }
}

// WithBlockers sets the blocker service.
func WithBlockers(b blocker.Service) Option {
	return func(o *orchestratorOptions) { o.blockers = b }
}

// WithStore sets the persistence store. Without one, state is in-memory only.
func WithStore(s state.Store) Option {
	return func(o *orchestratorOptions) { o.store = s }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithResolver sets a custom dependency resolver (mainly for testing).
func WithResolver(r *graph.Resolver) Option {
	return func(o *orchestratorOptions) { o.resolver = r }
}

// WithPool sets a custom agent pool (mainly for testing).
func WithPool(p *pool.Manager) Option {
	return func(o *orchestratorOptions) { o.pool = p }
}

// applyDefaults fills in defaults for anything the caller left unset.
func applyDefaults(o *orchestratorOptions) {
	if o.maxConcurrency <= 0 {
		o.maxConcurrency = pool.DefaultMaxConcurrency
	}
	if o.maxRetries <= 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.taskTimeout <= 0 {
		o.taskTimeout = DefaultTaskTimeout
	}
	if o.idleRetire <= 0 {
		o.idleRetire = DefaultIdleRetire
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.eventBuffer <= 0 {
		o.eventBuffer = DefaultEventBuffer
	}
	if o.gate == nil {
		o.gate = executor.PassGate{}
	}
	if o.blockers == nil {
		o.blockers = blocker.NewMemoryService()
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.resolver == nil {
		o.resolver = graph.New()
	}
	if o.pool == nil {
		o.pool = pool.NewManager(o.maxConcurrency)
	}
}
