// Package orchestrator owns the tick loop: it enumerates enabled strategy
// runners, fans each cycle out over the fixed phase pipeline, and keeps one
// misbehaving strategy from taking the rest down.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Zaroganos/goldflipper/internal/executor"
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/strategy"
	"golang.org/x/sync/errgroup"
)

// Mode selects how strategies run within a phase.
type Mode string

const (
	// ModeSequential invokes strategies one after another.
	ModeSequential Mode = "sequential"
	// ModeParallel runs strategies on a bounded worker pool.
	ModeParallel Mode = "parallel"
)

// Config tunes the tick loop.
type Config struct {
	Mode               Mode
	MaxParallelWorkers int
	TickInterval       time.Duration
	FallbackToLegacy   bool
}

// Orchestrator drives the per-cycle phase pipeline over the runner set.
type Orchestrator struct {
	runners  []strategy.Runner
	executor *executor.Executor
	clock    *marketclock.Clock
	logger   *log.Logger
	config   Config

	mu chan struct{} // used as a mutex-free tick guard

	// statsMu guards the fields below; tick writes them and the status API
	// reads them from its own goroutine.
	statsMu sync.Mutex
	// fallback flips when a cycle fails unrecoverably and FallbackToLegacy
	// is set; only the manual runner participates for the rest of the
	// session.
	fallback  bool
	lastCycle time.Time
	cycleErrs int64
}

// New builds an orchestrator over the enabled runners.
func New(runners []strategy.Runner, exec *executor.Executor, clock *marketclock.Clock,
	logger *log.Logger, config Config) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[ORCH] ", log.LstdFlags)
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 30 * time.Second
	}
	if config.Mode == "" {
		config.Mode = ModeSequential
	}
	if config.MaxParallelWorkers < 1 {
		config.MaxParallelWorkers = 4
	}
	guard := make(chan struct{}, 1)
	guard <- struct{}{}
	return &Orchestrator{
		runners:  runners,
		executor: exec,
		clock:    clock,
		logger:   logger,
		config:   config,
		mu:       guard,
	}
}

// Run ticks until ctx is canceled. A shutdown completes the in-flight cycle
// before returning; no cycle is interrupted mid-phase.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Printf("Starting: %d strategies, %s mode, %s interval",
		len(o.runners), o.config.Mode, o.config.TickInterval)

	ticker := time.NewTicker(o.config.TickInterval)
	defer ticker.Stop()

	// First cycle immediately; the ticker covers the rest.
	o.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Printf("Shutdown: last cycle complete, exiting")
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick runs one cycle unless the previous one is still in flight, in which
// case the late tick is skipped with a warning.
func (o *Orchestrator) tick(ctx context.Context) {
	select {
	case <-o.mu:
	default:
		o.logger.Printf("WARNING: previous cycle still running, skipping tick")
		return
	}
	defer func() { o.mu <- struct{}{} }()

	if !o.clock.IsOpenToday() {
		return
	}

	if err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
		o.logger.Printf("Cycle error: %v", err)
		o.statsMu.Lock()
		o.cycleErrs++
		if o.config.FallbackToLegacy && !o.fallback {
			o.logger.Printf("WARNING: falling back to manual-swings only for the rest of the session")
			o.fallback = true
		}
		o.statsMu.Unlock()
	}
	o.statsMu.Lock()
	o.lastCycle = o.clock.Now()
	o.statsMu.Unlock()
}

// activeRunners applies the fallback filter.
func (o *Orchestrator) activeRunners() []strategy.Runner {
	o.statsMu.Lock()
	fallback := o.fallback
	o.statsMu.Unlock()
	if !fallback {
		return o.runners
	}
	for _, r := range o.runners {
		if r.Name() == strategy.TagManualSwings {
			return []strategy.Runner{r}
		}
	}
	return nil
}

// RunCycle executes one full phase pipeline: reconcile, cycle start, new-play
// evaluation, open-play evaluation, cycle end.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	started := o.clock.Now()

	if err := o.executor.Reconcile(ctx); err != nil {
		// Reconciliation failures are logged inside; the cycle proceeds so
		// healthy plays keep trading.
		o.logger.Printf("Reconcile: %v", err)
	}

	runners := o.activeRunners()
	if len(runners) == 0 {
		return nil
	}

	phases := []struct {
		name string
		fn   func(strategy.Runner, context.Context) error
	}{
		{"cycle_start", func(r strategy.Runner, ctx context.Context) error { return r.OnCycleStart(ctx) }},
		{"new_plays", func(r strategy.Runner, ctx context.Context) error { return r.EvaluateNewPlays(ctx) }},
		{"open_plays", func(r strategy.Runner, ctx context.Context) error { return r.EvaluateOpenPlays(ctx) }},
		{"cycle_end", func(r strategy.Runner, ctx context.Context) error { return r.OnCycleEnd(ctx) }},
	}

	for _, phase := range phases {
		if err := o.runPhase(ctx, runners, phase.name, phase.fn); err != nil {
			return fmt.Errorf("phase %s: %w", phase.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	o.logger.Printf("Cycle complete in %s (%d strategies)",
		o.clock.Now().Sub(started).Round(time.Millisecond), len(runners))
	return nil
}

// runPhase invokes one lifecycle phase across all runners, sequentially or on
// the worker pool. A strategy error is isolated: it is reported but the other
// strategies still run.
func (o *Orchestrator) runPhase(ctx context.Context, runners []strategy.Runner,
	name string, fn func(strategy.Runner, context.Context) error) error {

	if o.config.Mode == ModeParallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.config.MaxParallelWorkers)
		for _, r := range runners {
			r := r
			g.Go(func() error {
				if err := fn(r, gctx); err != nil {
					o.logger.Printf("Strategy %s %s: %v", r.Name(), name, err)
				}
				return nil
			})
		}
		return g.Wait()
	}

	for _, r := range runners {
		if err := fn(r, ctx); err != nil {
			o.logger.Printf("Strategy %s %s: %v", r.Name(), name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Stats is a snapshot for the status surface.
type Stats struct {
	LastCycle   time.Time `json:"last_cycle"`
	CycleErrors int64     `json:"cycle_errors"`
	Fallback    bool      `json:"fallback"`
	Strategies  []string  `json:"strategies"`
}

// Snapshot returns loop statistics for the status surface.
func (o *Orchestrator) Snapshot() Stats {
	names := make([]string, 0, len(o.runners))
	for _, r := range o.runners {
		names = append(names, r.Name())
	}
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return Stats{
		LastCycle:   o.lastCycle,
		CycleErrors: o.cycleErrs,
		Fallback:    o.fallback,
		Strategies:  names,
	}
}
