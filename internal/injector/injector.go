// Package injector crashes service nodes at a fixed period while a test
// runs, to exercise the fault tolerance of the service under test.
package injector

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/randomizedcoder/go-kvs-tester/internal/logging"
	"github.com/randomizedcoder/go-kvs-tester/internal/process"
)

// Killer sends SIGKILL to processes on host whose command line matches
// pattern.
type Killer interface {
	KillPattern(ctx context.Context, host, pattern string) error
}

// Config holds configuration for creating a new Injector.
type Config struct {
	Killer Killer
	Logger *slog.Logger

	// Seed makes target selection reproducible. Zero seeds from the clock.
	Seed int64

	// OnKill is called after every firing with the chosen node.
	OnKill func(index int, host string, err error)
}

// Injector is a self-rescheduling timer that kills one randomly chosen
// service node per firing. There is at most one pending timer at a time.
type Injector struct {
	killer Killer
	logger *slog.Logger
	onKill func(index int, host string, err error)

	mu      sync.Mutex
	rng     *rand.Rand
	timer   *time.Timer
	nodes   []string
	period  time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	fired   int

	// inflight tracks a firing between target selection and rescheduling.
	inflight sync.WaitGroup
}

// New creates a new Injector with the given configuration.
func New(cfg Config) *Injector {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Injector{
		killer: cfg.Killer,
		logger: logger,
		onKill: cfg.OnKill,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Start arms the injector: the first kill happens after firstDelay, then one
// every period. A zero period or an empty node list leaves it inert. Start
// only takes effect once per Injector.
func (i *Injector) Start(ctx context.Context, nodes []string, period, firstDelay time.Duration) {
	if period <= 0 || len(nodes) == 0 {
		i.logger.Debug("injector_inert", "period", period.String(), "nodes", len(nodes))
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started || i.stopped {
		return
	}
	i.started = true
	i.nodes = append([]string(nil), nodes...)
	i.period = period
	i.ctx, i.cancel = context.WithCancel(ctx)
	i.timer = time.AfterFunc(firstDelay, i.fire)

	i.logger.Info("injector_started",
		"nodes", len(nodes),
		"period", period.String(),
		"first_delay", firstDelay.String(),
	)
}

func (i *Injector) fire() {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.inflight.Add(1)
	defer i.inflight.Done()

	index := i.rng.Intn(len(i.nodes))
	host := i.nodes[index]
	i.fired++
	ctx := i.ctx
	i.mu.Unlock()

	err := i.killer.KillPattern(ctx, host, process.ServerKillPattern(index))
	i.logger.Info("node_killed", "index", index, "host", host, "error", err)
	if i.onKill != nil {
		i.onKill(index, host, err)
	}

	i.mu.Lock()
	if !i.stopped {
		i.timer = time.AfterFunc(i.period, i.fire)
	}
	i.mu.Unlock()
}

// Stop cancels the pending timer and waits for a firing that is already
// under way. No kill is issued after Stop returns. It is safe to call more
// than once, and before Start.
func (i *Injector) Stop() {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.stopped = true
	if i.timer != nil {
		i.timer.Stop()
	}
	if i.cancel != nil {
		i.cancel()
	}
	fired := i.fired
	started := i.started
	i.mu.Unlock()

	i.inflight.Wait()
	if started {
		i.logger.Info("injector_stopped", "kills", fired)
	}
}

// Fired returns how many kills have been issued.
func (i *Injector) Fired() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fired
}
