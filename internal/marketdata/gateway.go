package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/models"
)

// Config tunes the gateway.
type Config struct {
	QuoteTTL       time.Duration // single-digit seconds
	ChainTTL       time.Duration // fallback when no clock is available
	PerCallTimeout time.Duration
}

// DefaultConfig is the default gateway configuration.
var DefaultConfig = Config{
	QuoteTTL:       5 * time.Second,
	ChainTTL:       6 * time.Hour,
	PerCallTimeout: 5 * time.Second,
}

// Gateway fans a call across an ordered provider list: first success wins,
// transient failures advance to the next provider, and every call restarts
// from the first provider so recovery is automatic.
type Gateway struct {
	providers []Provider
	clock     *marketclock.Clock
	logger    *log.Logger
	cache     *ttlCache
	config    Config

	mu        sync.Mutex
	failovers map[string]int64 // "from->to" -> count
}

// NewGateway builds a gateway over the ordered, enabled providers.
// durableCacheDir may be empty to disable the durable historical cache.
func NewGateway(providers []Provider, clock *marketclock.Clock, logger *log.Logger,
	durableCacheDir string, config ...Config) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("market data gateway: no providers configured")
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = DefaultConfig.QuoteTTL
	}
	if cfg.ChainTTL <= 0 {
		cfg.ChainTTL = DefaultConfig.ChainTTL
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = DefaultConfig.PerCallTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[MKTDATA] ", log.LstdFlags)
	}
	return &Gateway{
		providers: providers,
		clock:     clock,
		logger:    logger,
		cache:     newTTLCache(durableCacheDir),
		config:    cfg,
		failovers: make(map[string]int64),
	}, nil
}

func (g *Gateway) recordFailover(from, to string) {
	g.mu.Lock()
	g.failovers[from+"->"+to]++
	g.mu.Unlock()
}

// FailoverCounts returns a snapshot of the provider failover counters keyed
// "from->to".
func (g *Gateway) FailoverCounts() map[string]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.failovers))
	for k, v := range g.failovers {
		out[k] = v
	}
	return out
}

// failover runs fn against each provider in order and returns the first
// success. ErrNoData from every provider surfaces as ErrNoData; anything else
// from every provider surfaces as ErrTransport.
func failover[T any](g *Gateway, ctx context.Context, what string,
	fn func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	sawNoData := false
	var lastErr error

	for i, p := range g.providers {
		callCtx, cancel := context.WithTimeout(ctx, g.config.PerCallTimeout)
		v, err := fn(callCtx, p)
		cancel()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrNoData) {
			sawNoData = true
		}
		lastErr = err
		if i+1 < len(g.providers) {
			g.recordFailover(p.Name(), g.providers[i+1].Name())
			g.logger.Printf("%s: provider %s failed (%v), trying %s",
				what, p.Name(), err, g.providers[i+1].Name())
		}
	}

	if sawNoData {
		return zero, fmt.Errorf("%s: %w", what, ErrNoData)
	}
	return zero, fmt.Errorf("%s: %w: %v", what, ErrTransport, lastErr)
}

// chainTTL expires chains at the end of the primary session when the clock
// is available.
func (g *Gateway) chainTTL() time.Duration {
	if g.clock != nil {
		closeAt := g.clock.SessionCloseTime(g.clock.Today())
		if ttl := time.Until(closeAt); ttl > 0 {
			return ttl
		}
	}
	return g.config.ChainTTL
}

// GetStockQuote returns the current underlying quote.
func (g *Gateway) GetStockQuote(ctx context.Context, symbol string) (*StockQuote, error) {
	key := "stock_quote:" + symbol
	if v, ok := g.cache.get(key); ok {
		return v.(*StockQuote), nil
	}
	q, err := failover(g, ctx, "stock quote "+symbol,
		func(ctx context.Context, p Provider) (*StockQuote, error) {
			return p.GetStockQuote(ctx, symbol)
		})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, q, g.config.QuoteTTL)
	return q, nil
}

// GetOptionQuote returns the current quote for a contract.
func (g *Gateway) GetOptionQuote(ctx context.Context, occSymbol string) (*OptionQuote, error) {
	key := "option_quote:" + occSymbol
	if v, ok := g.cache.get(key); ok {
		return v.(*OptionQuote), nil
	}
	q, err := failover(g, ctx, "option quote "+occSymbol,
		func(ctx context.Context, p Provider) (*OptionQuote, error) {
			return p.GetOptionQuote(ctx, occSymbol)
		})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, q, g.config.QuoteTTL)
	return q, nil
}

// GetOptionChain returns the chain for an underlying, optionally filtered to
// one expiration. Chains are cached for the rest of the primary session.
func (g *Gateway) GetOptionChain(ctx context.Context, underlying string, expiration models.Date) (*Chain, error) {
	key := "chain:" + underlying
	if !expiration.IsZero() {
		key += ":" + expiration.Format("2006-01-02")
	}
	if v, ok := g.cache.get(key); ok {
		return v.(*Chain), nil
	}
	chain, err := failover(g, ctx, "option chain "+underlying,
		func(ctx context.Context, p Provider) (*Chain, error) {
			return p.GetOptionChain(ctx, underlying, expiration)
		})
	if err != nil {
		return nil, err
	}
	sortChain(chain)
	g.cache.set(key, chain, g.chainTTL())
	return chain, nil
}

// GetHistoricalOptionQuote returns the quote for a contract on a past date.
// Results are cached indefinitely, with durable backing when configured.
func (g *Gateway) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date models.Date) (*OptionQuote, error) {
	key := "hist_option:" + occSymbol + ":" + date.Format("2006-01-02")
	var cached OptionQuote
	if g.cache.getDurable(key, &cached) {
		return &cached, nil
	}
	q, err := failover(g, ctx, "historical option quote "+occSymbol,
		func(ctx context.Context, p Provider) (*OptionQuote, error) {
			return p.GetHistoricalOptionQuote(ctx, occSymbol, date)
		})
	if err != nil {
		return nil, err
	}
	if err := g.cache.setDurable(key, q); err != nil {
		g.logger.Printf("Durable cache write failed for %s: %v", key, err)
	}
	return q, nil
}

// GetHistoricalCandles returns daily bars for ATR computation. Cached for
// the session.
func (g *Gateway) GetHistoricalCandles(ctx context.Context, symbol string, start, end models.Date) ([]Candle, error) {
	key := fmt.Sprintf("candles:%s:%s:%s", symbol,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if v, ok := g.cache.get(key); ok {
		return v.([]Candle), nil
	}
	candles, err := failover(g, ctx, "candles "+symbol,
		func(ctx context.Context, p Provider) ([]Candle, error) {
			return p.GetHistoricalCandles(ctx, symbol, start, end)
		})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, candles, g.chainTTL())
	return candles, nil
}

// GetGreeks returns the option sensitivities for a contract. Falls back to
// the chain when the quote carries none.
func (g *Gateway) GetGreeks(ctx context.Context, occSymbol string) (*Greeks, error) {
	q, err := g.GetOptionQuote(ctx, occSymbol)
	if err != nil {
		return nil, err
	}
	if q.Greeks != nil {
		return q.Greeks, nil
	}

	parts, err := models.ParseOCCSymbol(occSymbol)
	if err != nil {
		return nil, fmt.Errorf("greeks %s: %w", occSymbol, err)
	}
	chain, err := g.GetOptionChain(ctx, parts.Underlying, models.DateOf(parts.Expiration))
	if err != nil {
		return nil, err
	}
	contracts := chain.Calls
	if parts.Side == models.OptionPut {
		contracts = chain.Puts
	}
	for i := range contracts {
		if contracts[i].OCCSymbol == occSymbol && contracts[i].Greeks != nil {
			return contracts[i].Greeks, nil
		}
	}
	return nil, fmt.Errorf("greeks %s: %w", occSymbol, ErrNoData)
}

func sortChain(chain *Chain) {
	byStrike := func(cs []ChainContract) func(i, j int) bool {
		return func(i, j int) bool { return cs[i].Strike.Cmp(cs[j].Strike) < 0 }
	}
	sort.Slice(chain.Calls, byStrike(chain.Calls))
	sort.Slice(chain.Puts, byStrike(chain.Puts))
}
