package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// TradierProvider serves quotes, chains, and greeks from the Tradier market
// data API. It is independent of the broker client; data and execution can
// point at different Tradier environments.
type TradierProvider struct {
	http *resty.Client
	name string
}

// NewTradierProvider builds a provider against baseURL (production or sandbox)
// with a bearer token.
func NewTradierProvider(name, baseURL, apiKey string) *TradierProvider {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json")

	return &TradierProvider{http: httpClient, name: name}
}

// Name implements Provider.
func (p *TradierProvider) Name() string { return p.name }

// quoteList tolerates Tradier returning a single quote object where an array
// is documented.
type quoteList []tradierQuote

func (l *quoteList) UnmarshalJSON(b []byte) error {
	var many []tradierQuote
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one tradierQuote
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = quoteList{one}
	return nil
}

type tradierQuote struct {
	Symbol     string          `json:"symbol"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	OptionType string          `json:"option_type,omitempty"`
	Greeks     *tradierGreeks  `json:"greeks,omitempty"`
}

type tradierGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
	MidIV float64 `json:"mid_iv"`
}

func (g *tradierGreeks) toGreeks() *Greeks {
	if g == nil {
		return nil
	}
	return &Greeks{Delta: g.Delta, Gamma: g.Gamma, Theta: g.Theta, Vega: g.Vega, Rho: g.Rho}
}

type tradierChainOption struct {
	Symbol       string          `json:"symbol"`
	OptionType   string          `json:"option_type"`
	Strike       decimal.Decimal `json:"strike"`
	Expiration   string          `json:"expiration_date"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Last         decimal.Decimal `json:"last"`
	Volume       int64           `json:"volume"`
	OpenInterest int64           `json:"open_interest"`
	Greeks       *tradierGreeks  `json:"greeks,omitempty"`
}

type tradierDay struct {
	Date  string          `json:"date"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

func (p *TradierProvider) getQuote(ctx context.Context, symbol string) (*tradierQuote, error) {
	var result struct {
		Quotes struct {
			Quote quoteList `json:"quote"`
		} `json:"quotes"`
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbols": symbol, "greeks": "true"}).
		SetResult(&result).
		Get("/v1/markets/quotes")
	if err != nil {
		return nil, fmt.Errorf("tradier quotes: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("tradier quotes: status %d: %s", resp.StatusCode(), resp.String())
	}
	for i := range result.Quotes.Quote {
		if result.Quotes.Quote[i].Symbol == symbol {
			return &result.Quotes.Quote[i], nil
		}
	}
	return nil, fmt.Errorf("tradier quotes %s: %w", symbol, ErrNoData)
}

// GetStockQuote implements Provider.
func (p *TradierProvider) GetStockQuote(ctx context.Context, symbol string) (*StockQuote, error) {
	q, err := p.getQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &StockQuote{
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Last:      q.Last,
		Timestamp: time.Now(),
	}, nil
}

// GetOptionQuote implements Provider.
func (p *TradierProvider) GetOptionQuote(ctx context.Context, occSymbol string) (*OptionQuote, error) {
	q, err := p.getQuote(ctx, occSymbol)
	if err != nil {
		return nil, err
	}
	oq := &OptionQuote{
		OCCSymbol: q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Last:      q.Last,
		Greeks:    q.Greeks.toGreeks(),
		Timestamp: time.Now(),
	}
	if q.Greeks != nil {
		oq.IV = q.Greeks.MidIV
	}
	return oq, nil
}

// GetOptionChain implements Provider. Contracts are split into calls and puts
// on Tradier's option_type field.
func (p *TradierProvider) GetOptionChain(ctx context.Context, underlying string, expiration models.Date) (*Chain, error) {
	params := map[string]string{"symbol": underlying, "greeks": "true"}
	if !expiration.IsZero() {
		params["expiration"] = expiration.Format("2006-01-02")
	}

	var result struct {
		Options struct {
			Option []tradierChainOption `json:"option"`
		} `json:"options"`
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&result).
		Get("/v1/markets/options/chains")
	if err != nil {
		return nil, fmt.Errorf("tradier chain: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("tradier chain: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Options.Option) == 0 {
		return nil, fmt.Errorf("tradier chain %s: %w", underlying, ErrNoData)
	}

	chain := &Chain{Underlying: underlying, Expiration: expiration}
	for _, o := range result.Options.Option {
		exp, err := time.Parse("2006-01-02", o.Expiration)
		if err != nil {
			continue
		}
		contract := ChainContract{
			OCCSymbol:    o.Symbol,
			Strike:       o.Strike,
			Expiration:   models.DateOf(exp),
			Bid:          o.Bid,
			Ask:          o.Ask,
			Last:         o.Last,
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
			Greeks:       o.Greeks.toGreeks(),
		}
		if o.Greeks != nil {
			contract.IV = o.Greeks.MidIV
		}
		switch o.OptionType {
		case "call":
			contract.Side = models.OptionCall
			chain.Calls = append(chain.Calls, contract)
		case "put":
			contract.Side = models.OptionPut
			chain.Puts = append(chain.Puts, contract)
		}
	}
	return chain, nil
}

func (p *TradierProvider) history(ctx context.Context, symbol string, start, end models.Date) ([]tradierDay, error) {
	var result struct {
		History struct {
			Day []tradierDay `json:"day"`
		} `json:"history"`
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": "daily",
			"start":    start.Format("2006-01-02"),
			"end":      end.Format("2006-01-02"),
		}).
		SetResult(&result).
		Get("/v1/markets/history")
	if err != nil {
		return nil, fmt.Errorf("tradier history: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("tradier history: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.History.Day) == 0 {
		return nil, fmt.Errorf("tradier history %s: %w", symbol, ErrNoData)
	}
	return result.History.Day, nil
}

// GetHistoricalOptionQuote implements Provider. Daily bars only carry a
// settlement price, so bid and ask mirror the close.
func (p *TradierProvider) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date models.Date) (*OptionQuote, error) {
	days, err := p.history(ctx, occSymbol, date, date)
	if err != nil {
		return nil, err
	}
	for _, d := range days {
		if d.Date == date.Format("2006-01-02") {
			return &OptionQuote{
				OCCSymbol: occSymbol,
				Bid:       d.Close,
				Ask:       d.Close,
				Last:      d.Close,
				Timestamp: date.Time,
			}, nil
		}
	}
	return nil, fmt.Errorf("tradier history %s on %s: %w",
		occSymbol, date.Format("2006-01-02"), ErrNoData)
}

// GetHistoricalCandles implements Provider.
func (p *TradierProvider) GetHistoricalCandles(ctx context.Context, symbol string, start, end models.Date) ([]Candle, error) {
	days, err := p.history(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(days))
	for _, d := range days {
		t, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		candles = append(candles, Candle{
			Date:  models.DateOf(t),
			Open:  d.Open,
			High:  d.High,
			Low:   d.Low,
			Close: d.Close,
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("tradier history %s: %w", symbol, ErrNoData)
	}
	return candles, nil
}

var _ Provider = (*TradierProvider)(nil)
