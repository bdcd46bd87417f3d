// Package marketdata provides unified quote, chain, and greeks access with
// ordered provider failover and short-TTL caching. Providers implement the
// capability interface; the failover policy lives in the gateway, not in
// providers.
package marketdata

import (
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/util"
	"github.com/shopspring/decimal"
)

// StockQuote is a point-in-time quote for an underlying.
type StockQuote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (q StockQuote) Mid() decimal.Decimal {
	return util.Mid(q.Bid, q.Ask)
}

// Ref resolves a price-reference mode against the quote.
func (q StockQuote) Ref(ref models.PriceRef) decimal.Decimal {
	switch ref {
	case models.RefBid:
		return q.Bid
	case models.RefAsk:
		return q.Ask
	case models.RefMid:
		return q.Mid()
	default:
		return q.Last
	}
}

// Greeks are the option sensitivities.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// OptionQuote is a point-in-time quote for a single contract.
type OptionQuote struct {
	OCCSymbol string          `json:"occ_symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	IV        float64         `json:"iv,omitempty"`
	Greeks    *Greeks         `json:"greeks,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (q OptionQuote) Mid() decimal.Decimal {
	return util.Mid(q.Bid, q.Ask)
}

// Ref resolves a price-reference mode against the quote.
func (q OptionQuote) Ref(ref models.PriceRef) decimal.Decimal {
	switch ref {
	case models.RefBid:
		return q.Bid
	case models.RefAsk:
		return q.Ask
	case models.RefMid:
		return q.Mid()
	default:
		return q.Last
	}
}

// ChainContract is one contract row of an option chain. Side comes from the
// provider's own call/put field; symbol substring tests are not used.
type ChainContract struct {
	OCCSymbol    string            `json:"occ_symbol"`
	Side         models.OptionSide `json:"side"`
	Strike       decimal.Decimal   `json:"strike"`
	Expiration   models.Date       `json:"expiration"`
	Bid          decimal.Decimal   `json:"bid"`
	Ask          decimal.Decimal   `json:"ask"`
	Last         decimal.Decimal   `json:"last"`
	Volume       int64             `json:"volume"`
	OpenInterest int64             `json:"open_interest"`
	IV           float64           `json:"iv,omitempty"`
	Greeks       *Greeks           `json:"greeks,omitempty"`
}

// Chain is the option chain for one underlying, optionally filtered to one
// expiration.
type Chain struct {
	Underlying string          `json:"underlying"`
	Expiration models.Date     `json:"expiration,omitempty"`
	Calls      []ChainContract `json:"calls"`
	Puts       []ChainContract `json:"puts"`
}

// Candle is one daily OHLC bar, used for ATR computation.
type Candle struct {
	Date  models.Date     `json:"date"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}
