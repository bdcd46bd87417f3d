package marketdata

import (
	"context"
	"errors"

	"github.com/Zaroganos/goldflipper/internal/models"
)

// ErrNoData means the provider (or, from the gateway, every provider) had no
// data for the requested key. Callers treat it as "skip this cycle".
var ErrNoData = errors.New("no market data")

// ErrTransport means every provider failed with a transport-level error.
// Distinguished from ErrNoData so callers can decide retry vs skip.
var ErrTransport = errors.New("all market data providers failed")

// Provider is the capability set a market-data source implements. Providers
// return ErrNoData (possibly wrapped) when the venue has nothing for the key;
// any other error counts as a transport failure and triggers failover.
type Provider interface {
	Name() string
	GetStockQuote(ctx context.Context, symbol string) (*StockQuote, error)
	GetOptionQuote(ctx context.Context, occSymbol string) (*OptionQuote, error)
	GetOptionChain(ctx context.Context, underlying string, expiration models.Date) (*Chain, error)
	GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date models.Date) (*OptionQuote, error)
	GetHistoricalCandles(ctx context.Context, symbol string, start, end models.Date) ([]Candle, error)
}
