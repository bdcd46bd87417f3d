// Package strategy defines the per-strategy lifecycle contract and the
// registry the orchestrator enumerates. A runner owns the plays carrying its
// tag and drives them through entry and exit each cycle; everything below the
// decision (pricing, submission, state) is delegated to the executor.
package strategy

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/Zaroganos/goldflipper/internal/evaluator"
	"github.com/Zaroganos/goldflipper/internal/executor"
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/playstore"
	"github.com/Zaroganos/goldflipper/internal/trailing"
	"gopkg.in/yaml.v3"
)

// MarketData is the data surface runners may use.
type MarketData interface {
	GetStockQuote(ctx context.Context, symbol string) (*marketdata.StockQuote, error)
	GetOptionQuote(ctx context.Context, occSymbol string) (*marketdata.OptionQuote, error)
	GetOptionChain(ctx context.Context, underlying string, expiration models.Date) (*marketdata.Chain, error)
	GetHistoricalCandles(ctx context.Context, symbol string, start, end models.Date) ([]marketdata.Candle, error)
	GetGreeks(ctx context.Context, occSymbol string) (*marketdata.Greeks, error)
}

// Env bundles the shared services handed to every runner.
type Env struct {
	Store     playstore.Interface
	Data      MarketData
	Executor  *executor.Executor
	Evaluator *evaluator.Evaluator
	Trailing  *trailing.Manager
	Clock     *marketclock.Clock
	Logger    *log.Logger
}

// Runner is the capability set every strategy implements.
type Runner interface {
	Name() string
	Enabled() bool
	OnCycleStart(ctx context.Context) error
	EvaluateNewPlays(ctx context.Context) error
	EvaluateOpenPlays(ctx context.Context) error
	OnCycleEnd(ctx context.Context) error
}

// Factory builds a runner from its config block. params may be nil when the
// config carries only the enable flag.
type Factory func(env *Env, enabled bool, params *yaml.Node) (Runner, error)

var registry = map[string]Factory{}

// Register binds a strategy tag to its factory. Duplicate tags panic at init
// time, before any trading happens.
func Register(tag string, factory Factory) {
	if _, dup := registry[tag]; dup {
		panic(fmt.Sprintf("strategy: duplicate tag %q", tag))
	}
	registry[tag] = factory
}

// Tags lists the registered strategy tags in stable order.
func Tags() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Build instantiates the runner registered under tag.
func Build(tag string, env *Env, enabled bool, params *yaml.Node) (Runner, error) {
	factory, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown tag %q", tag)
	}
	return factory(env, enabled, params)
}

// decodeParams fills out from the YAML block, tolerating a nil block.
func decodeParams(params *yaml.Node, out interface{}) error {
	if params == nil {
		return nil
	}
	return params.Decode(out)
}
