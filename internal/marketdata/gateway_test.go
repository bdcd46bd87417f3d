package marketdata_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/mock"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newGateway(t *testing.T, providers ...marketdata.Provider) *marketdata.Gateway {
	t.Helper()
	g, err := marketdata.NewGateway(providers, nil, nil, "")
	require.NoError(t, err)
	return g
}

func TestGatewayRequiresProviders(t *testing.T) {
	_, err := marketdata.NewGateway(nil, nil, nil, "")
	assert.Error(t, err)
}

func TestGatewayFirstProviderWins(t *testing.T) {
	primary := mock.NewProvider("primary")
	primary.SetStock("SPY", dec("499.98"), dec("500.02"), dec("500"))
	secondary := mock.NewProvider("secondary")
	secondary.SetStock("SPY", dec("400"), dec("400.10"), dec("400"))

	g := newGateway(t, primary, secondary)
	q, err := g.GetStockQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.True(t, q.Last.Equal(dec("500")))
	assert.Equal(t, 0, secondary.Calls())
	assert.Empty(t, g.FailoverCounts())
}

func TestGatewayFailsOverOnTransportError(t *testing.T) {
	primary := mock.NewProvider("primary")
	primary.Err = errors.New("connection refused")
	secondary := mock.NewProvider("secondary")
	secondary.SetStock("SPY", dec("499.98"), dec("500.02"), dec("500"))

	g := newGateway(t, primary, secondary)
	q, err := g.GetStockQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.True(t, q.Last.Equal(dec("500")))
	assert.Equal(t, map[string]int64{"primary->secondary": 1}, g.FailoverCounts())
}

func TestGatewayFailsOverOnNoData(t *testing.T) {
	primary := mock.NewProvider("primary") // empty: every lookup is a no-data miss
	secondary := mock.NewProvider("secondary")
	secondary.SetOption("SPY250620C00500000", dec("5.00"), dec("5.10"), dec("5.05"))

	g := newGateway(t, primary, secondary)
	q, err := g.GetOptionQuote(context.Background(), "SPY250620C00500000")
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(dec("5.00")))
}

// When every provider misses, the distinction between "no data anywhere" and
// "everything is down" is preserved for the caller.
func TestGatewayErrorAggregation(t *testing.T) {
	ctx := context.Background()

	empty1 := mock.NewProvider("a")
	empty2 := mock.NewProvider("b")
	g := newGateway(t, empty1, empty2)
	_, err := g.GetStockQuote(ctx, "SPY")
	assert.ErrorIs(t, err, marketdata.ErrNoData)

	down1 := mock.NewProvider("a")
	down1.Err = errors.New("timeout")
	down2 := mock.NewProvider("b")
	down2.Err = errors.New("timeout")
	g = newGateway(t, down1, down2)
	_, err = g.GetStockQuote(ctx, "SPY")
	assert.ErrorIs(t, err, marketdata.ErrTransport)

	// Mixed failures with at least one no-data miss stay ErrNoData: some
	// provider answered authoritatively that the key has nothing.
	mixedDown := mock.NewProvider("a")
	mixedDown.Err = errors.New("timeout")
	mixedEmpty := mock.NewProvider("b")
	g = newGateway(t, mixedDown, mixedEmpty)
	_, err = g.GetStockQuote(ctx, "SPY")
	assert.ErrorIs(t, err, marketdata.ErrNoData)
}

// Recovery is automatic because every call restarts from the first provider.
func TestGatewayRecoversAfterPrimaryHeals(t *testing.T) {
	primary := mock.NewProvider("primary")
	primary.Err = errors.New("connection refused")
	secondary := mock.NewProvider("secondary")
	secondary.SetOption("SPY250620C00500000", dec("5.00"), dec("5.10"), dec("5.05"))

	g, err := marketdata.NewGateway([]marketdata.Provider{primary, secondary}, nil, nil, "",
		marketdata.Config{QuoteTTL: time.Nanosecond})
	require.NoError(t, err)

	_, err = g.GetOptionQuote(context.Background(), "SPY250620C00500000")
	require.NoError(t, err)

	primary.Err = nil
	primary.SetOption("SPY250620C00500000", dec("6.00"), dec("6.10"), dec("6.05"))
	time.Sleep(time.Millisecond)

	q, err := g.GetOptionQuote(context.Background(), "SPY250620C00500000")
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(dec("6.00")), "healed primary serves again, got %s", q.Bid)
}

func TestGatewayQuoteCache(t *testing.T) {
	provider := mock.NewProvider("primary")
	provider.SetStock("SPY", dec("499.98"), dec("500.02"), dec("500"))

	g := newGateway(t, provider)
	ctx := context.Background()
	_, err := g.GetStockQuote(ctx, "SPY")
	require.NoError(t, err)
	_, err = g.GetStockQuote(ctx, "SPY")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.Calls(), "second read within TTL must hit the cache")
}

func TestGatewayChainSortedByStrike(t *testing.T) {
	provider := mock.NewProvider("primary")
	exp := models.NewDate(2025, time.June, 20)
	provider.Chains["SPY"] = &marketdata.Chain{
		Underlying: "SPY",
		Expiration: exp,
		Puts: []marketdata.ChainContract{
			{OCCSymbol: "SPY250620P00510000", Side: models.OptionPut, Strike: dec("510"), Expiration: exp},
			{OCCSymbol: "SPY250620P00490000", Side: models.OptionPut, Strike: dec("490"), Expiration: exp},
			{OCCSymbol: "SPY250620P00500000", Side: models.OptionPut, Strike: dec("500"), Expiration: exp},
		},
	}

	g := newGateway(t, provider)
	chain, err := g.GetOptionChain(context.Background(), "SPY", exp)
	require.NoError(t, err)
	require.Len(t, chain.Puts, 3)
	assert.True(t, chain.Puts[0].Strike.Equal(dec("490")))
	assert.True(t, chain.Puts[1].Strike.Equal(dec("500")))
	assert.True(t, chain.Puts[2].Strike.Equal(dec("510")))
}

func TestGatewayChainExpirationFilter(t *testing.T) {
	provider := mock.NewProvider("primary")
	exp := models.NewDate(2025, time.June, 20)
	provider.Chains["SPY"] = &marketdata.Chain{
		Underlying: "SPY",
		Expiration: exp,
		Puts: []marketdata.ChainContract{
			{OCCSymbol: "SPY250620P00500000", Side: models.OptionPut, Strike: dec("500"), Expiration: exp},
		},
	}

	g := newGateway(t, provider)
	ctx := context.Background()

	chain, err := g.GetOptionChain(ctx, "SPY", exp)
	require.NoError(t, err)
	assert.True(t, chain.Expiration.Equal(exp))

	_, err = g.GetOptionChain(ctx, "SPY", models.NewDate(2025, time.June, 27))
	assert.ErrorIs(t, err, marketdata.ErrNoData, "an expiration the provider does not carry is a miss")
}

func TestGatewayGreeksFallsBackToChain(t *testing.T) {
	provider := mock.NewProvider("primary")
	occ := "SPY250620P00500000"
	// Quote with no greeks attached.
	provider.SetOption(occ, dec("5.00"), dec("5.10"), dec("5.05"))
	exp := models.NewDate(2025, time.June, 20)
	provider.Chains["SPY"] = &marketdata.Chain{
		Underlying: "SPY",
		Expiration: exp,
		Puts: []marketdata.ChainContract{{
			OCCSymbol:  occ,
			Side:       models.OptionPut,
			Strike:     dec("500"),
			Expiration: exp,
			Greeks:     &marketdata.Greeks{Delta: -0.31, Theta: -0.05},
		}},
	}

	g := newGateway(t, provider)
	greeks, err := g.GetGreeks(context.Background(), occ)
	require.NoError(t, err)
	assert.InDelta(t, -0.31, greeks.Delta, 1e-9)
}

func TestGatewayHistoricalOptionQuoteDurableCache(t *testing.T) {
	provider := mock.NewProvider("primary")
	occ := "SPY250620C00500000"
	provider.SetOption(occ, dec("5.00"), dec("5.10"), dec("5.05"))
	date := models.NewDate(2025, time.June, 9)

	dir := t.TempDir()
	g, err := marketdata.NewGateway([]marketdata.Provider{provider}, nil, nil, dir)
	require.NoError(t, err)

	ctx := context.Background()
	q, err := g.GetHistoricalOptionQuote(ctx, occ, date)
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(dec("5.00")))
	first := provider.Calls()

	// A fresh gateway over the same durable dir serves from disk.
	g2, err := marketdata.NewGateway([]marketdata.Provider{provider}, nil, nil, dir)
	require.NoError(t, err)
	q, err = g2.GetHistoricalOptionQuote(ctx, occ, date)
	require.NoError(t, err)
	assert.True(t, q.Bid.Equal(dec("5.00")))
	assert.Equal(t, first, provider.Calls(), "durable cache hit must not touch providers")
}
