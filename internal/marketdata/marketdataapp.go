package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// MarketDataAppProvider serves quotes and chains from the MarketData.app API.
// Responses are column-oriented: every field is a parallel array, and the "s"
// status field distinguishes "no_data" from errors.
type MarketDataAppProvider struct {
	http *resty.Client
	name string
}

// NewMarketDataAppProvider builds a provider with a bearer token.
func NewMarketDataAppProvider(name, baseURL, apiKey string) *MarketDataAppProvider {
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

	return &MarketDataAppProvider{http: httpClient, name: name}
}

// Name implements Provider.
func (p *MarketDataAppProvider) Name() string { return p.name }

type mdaStatus struct {
	Status string `json:"s"`
}

func (s mdaStatus) check(what string) error {
	switch s.Status {
	case "ok":
		return nil
	case "no_data":
		return fmt.Errorf("%s: %w", what, ErrNoData)
	default:
		return fmt.Errorf("%s: status %q", what, s.Status)
	}
}

func (p *MarketDataAppProvider) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	req := p.http.R().SetContext(ctx).SetResult(result)
	if params != nil {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("marketdataapp %s: %w", path, err)
	}
	// 203 marks cached data, which is still usable.
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNonAuthoritativeInfo {
		return fmt.Errorf("marketdataapp %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func at(xs []decimal.Decimal, i int) decimal.Decimal {
	if i < len(xs) {
		return xs[i]
	}
	return decimal.Zero
}

func atf(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

// GetStockQuote implements Provider.
func (p *MarketDataAppProvider) GetStockQuote(ctx context.Context, symbol string) (*StockQuote, error) {
	var result struct {
		mdaStatus
		Bid  []decimal.Decimal `json:"bid"`
		Ask  []decimal.Decimal `json:"ask"`
		Last []decimal.Decimal `json:"last"`
	}
	if err := p.get(ctx, "/v1/stocks/quotes/"+symbol+"/", nil, &result); err != nil {
		return nil, err
	}
	if err := result.check("stock quote " + symbol); err != nil {
		return nil, err
	}
	if len(result.Last) == 0 {
		return nil, fmt.Errorf("stock quote %s: %w", symbol, ErrNoData)
	}
	return &StockQuote{
		Symbol:    symbol,
		Bid:       at(result.Bid, 0),
		Ask:       at(result.Ask, 0),
		Last:      at(result.Last, 0),
		Timestamp: time.Now(),
	}, nil
}

type mdaOptionQuote struct {
	mdaStatus
	Bid   []decimal.Decimal `json:"bid"`
	Ask   []decimal.Decimal `json:"ask"`
	Last  []decimal.Decimal `json:"last"`
	IV    []float64         `json:"iv"`
	Delta []float64         `json:"delta"`
	Gamma []float64         `json:"gamma"`
	Theta []float64         `json:"theta"`
	Vega  []float64         `json:"vega"`
	Rho   []float64         `json:"rho"`
}

func (r *mdaOptionQuote) toQuote(occSymbol string, ts time.Time) *OptionQuote {
	q := &OptionQuote{
		OCCSymbol: occSymbol,
		Bid:       at(r.Bid, 0),
		Ask:       at(r.Ask, 0),
		Last:      at(r.Last, 0),
		IV:        atf(r.IV, 0),
		Timestamp: ts,
	}
	if len(r.Delta) > 0 {
		q.Greeks = &Greeks{
			Delta: atf(r.Delta, 0),
			Gamma: atf(r.Gamma, 0),
			Theta: atf(r.Theta, 0),
			Vega:  atf(r.Vega, 0),
			Rho:   atf(r.Rho, 0),
		}
	}
	return q
}

// GetOptionQuote implements Provider.
func (p *MarketDataAppProvider) GetOptionQuote(ctx context.Context, occSymbol string) (*OptionQuote, error) {
	var result mdaOptionQuote
	if err := p.get(ctx, "/v1/options/quotes/"+occSymbol+"/", nil, &result); err != nil {
		return nil, err
	}
	if err := result.check("option quote " + occSymbol); err != nil {
		return nil, err
	}
	if len(result.Last) == 0 && len(result.Bid) == 0 {
		return nil, fmt.Errorf("option quote %s: %w", occSymbol, ErrNoData)
	}
	return result.toQuote(occSymbol, time.Now()), nil
}

// GetHistoricalOptionQuote implements Provider.
func (p *MarketDataAppProvider) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, date models.Date) (*OptionQuote, error) {
	var result mdaOptionQuote
	params := map[string]string{"date": date.Format("2006-01-02")}
	if err := p.get(ctx, "/v1/options/quotes/"+occSymbol+"/", params, &result); err != nil {
		return nil, err
	}
	what := fmt.Sprintf("historical option quote %s %s", occSymbol, date.Format("2006-01-02"))
	if err := result.check(what); err != nil {
		return nil, err
	}
	if len(result.Last) == 0 && len(result.Bid) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNoData)
	}
	return result.toQuote(occSymbol, date.Time), nil
}

// GetOptionChain implements Provider. Contracts are split into calls and puts
// on the API's side column.
func (p *MarketDataAppProvider) GetOptionChain(ctx context.Context, underlying string, expiration models.Date) (*Chain, error) {
	var result struct {
		mdaStatus
		OptionSymbol []string          `json:"optionSymbol"`
		Side         []string          `json:"side"`
		Strike       []decimal.Decimal `json:"strike"`
		Expiration   []int64           `json:"expiration"` // unix
		Bid          []decimal.Decimal `json:"bid"`
		Ask          []decimal.Decimal `json:"ask"`
		Last         []decimal.Decimal `json:"last"`
		Volume       []int64           `json:"volume"`
		OpenInterest []int64           `json:"openInterest"`
		IV           []float64         `json:"iv"`
		Delta        []float64         `json:"delta"`
		Gamma        []float64         `json:"gamma"`
		Theta        []float64         `json:"theta"`
		Vega         []float64         `json:"vega"`
		Rho          []float64         `json:"rho"`
	}
	var params map[string]string
	if !expiration.IsZero() {
		params = map[string]string{"expiration": expiration.Format("2006-01-02")}
	}
	if err := p.get(ctx, "/v1/options/chain/"+underlying+"/", params, &result); err != nil {
		return nil, err
	}
	if err := result.check("option chain " + underlying); err != nil {
		return nil, err
	}
	if len(result.OptionSymbol) == 0 {
		return nil, fmt.Errorf("option chain %s: %w", underlying, ErrNoData)
	}

	chain := &Chain{Underlying: underlying, Expiration: expiration}
	for i := range result.OptionSymbol {
		contract := ChainContract{
			OCCSymbol:    result.OptionSymbol[i],
			Strike:       at(result.Strike, i),
			Bid:          at(result.Bid, i),
			Ask:          at(result.Ask, i),
			Last:         at(result.Last, i),
			IV:           atf(result.IV, i),
			Greeks: &Greeks{
				Delta: atf(result.Delta, i),
				Gamma: atf(result.Gamma, i),
				Theta: atf(result.Theta, i),
				Vega:  atf(result.Vega, i),
				Rho:   atf(result.Rho, i),
			},
		}
		if i < len(result.Volume) {
			contract.Volume = result.Volume[i]
		}
		if i < len(result.OpenInterest) {
			contract.OpenInterest = result.OpenInterest[i]
		}
		if i < len(result.Expiration) {
			contract.Expiration = models.DateOf(time.Unix(result.Expiration[i], 0).UTC())
		}
		side := ""
		if i < len(result.Side) {
			side = result.Side[i]
		}
		switch side {
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

// GetHistoricalCandles implements Provider.
func (p *MarketDataAppProvider) GetHistoricalCandles(ctx context.Context, symbol string, start, end models.Date) ([]Candle, error) {
	var result struct {
		mdaStatus
		Time  []int64           `json:"t"`
		Open  []decimal.Decimal `json:"o"`
		High  []decimal.Decimal `json:"h"`
		Low   []decimal.Decimal `json:"l"`
		Close []decimal.Decimal `json:"c"`
	}
	params := map[string]string{
		"from": start.Format("2006-01-02"),
		"to":   end.Format("2006-01-02"),
	}
	if err := p.get(ctx, "/v1/stocks/candles/D/"+symbol+"/", params, &result); err != nil {
		return nil, err
	}
	if err := result.check("candles " + symbol); err != nil {
		return nil, err
	}
	if len(result.Time) == 0 {
		return nil, fmt.Errorf("candles %s: %w", symbol, ErrNoData)
	}

	candles := make([]Candle, 0, len(result.Time))
	for i := range result.Time {
		candles = append(candles, Candle{
			Date:  models.DateOf(time.Unix(result.Time[i], 0).UTC()),
			Open:  at(result.Open, i),
			High:  at(result.High, i),
			Low:   at(result.Low, i),
			Close: at(result.Close, i),
		})
	}
	return candles, nil
}

var _ Provider = (*MarketDataAppProvider)(nil)
