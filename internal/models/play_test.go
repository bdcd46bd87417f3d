package models

import (
	"encoding/json"
	"testing"
	"time"

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

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// validPlay builds a long SPY call that passes Validate.
func validPlay() *Play {
	p := NewPlay("p1", "manual-swings", "SPY", OptionCall, dec("500"),
		NewDate(2030, time.June, 21), 2)
	p.Entry.TargetStockPrice = dec("498")
	p.Entry.Buffer = dec("0.50")
	p.TakeProfit = TakeProfitSpec{Mode: TPSingle, Premium: decPtr("6.00")}
	p.StopLoss = StopLossSpec{Mode: SLStop, StockPrice: decPtr("492")}
	return p
}

func TestPlayValidateAccepted(t *testing.T) {
	require.NoError(t, validPlay().Validate())
}

func TestPlayValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Play)
		wantMsg string
	}{
		{"missing id", func(p *Play) { p.ID = "" }, "id"},
		{"missing strategy tag", func(p *Play) { p.StrategyTag = "" }, "strategy_tag"},
		{"zero contracts", func(p *Play) { p.Contracts = 0 }, "contracts"},
		{"negative strike", func(p *Play) { p.Strike = dec("-5"); p.OCCSymbol = "SPY300621C00500000" }, "strike"},
		{"unknown state", func(p *Play) { p.State = "limbo" }, "state"},
		{"action disagrees with side", func(p *Play) { p.OrderAction = SellToOpen }, "order_action"},
		{"entry target missing", func(p *Play) { p.Entry.TargetStockPrice = decimal.Zero }, "entry.target_stock_price"},
		{"negative buffer", func(p *Play) { p.Entry.Buffer = dec("-1") }, "entry.buffer"},
		{"no tp trigger", func(p *Play) { p.TakeProfit = TakeProfitSpec{Mode: TPSingle} }, "take_profit"},
		{"no sl trigger", func(p *Play) { p.StopLoss = StopLossSpec{Mode: SLStop} }, "stop_loss"},
		{
			"occ symbol disagrees",
			func(p *Play) { p.OCCSymbol = "SPY300621C00510000" },
			"occ_symbol",
		},
		{
			"trailing mode without block",
			func(p *Play) { p.TakeProfit = TakeProfitSpec{Mode: TPTrailing} },
			"take_profit",
		},
		{
			"pending opening without order id",
			func(p *Play) { p.State = StatePendingOpening },
			"entry_order_id",
		},
		{
			"open without entry premium",
			func(p *Play) { p.State = StateOpen },
			"entry_premium",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlay()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

// Premium exit targets must sit on the winning side of the entry premium:
// above it for longs, below the credit for shorts, and mirrored for stops.
func TestPlayValidatePremiumDirection(t *testing.T) {
	long := validPlay()
	long.EntryPremium = decPtr("5.00")
	long.TakeProfit.Premium = decPtr("4.00")
	err := long.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be above entry premium")

	long.TakeProfit.Premium = decPtr("7.50")
	long.StopLoss = StopLossSpec{Mode: SLStop, Premium: decPtr("6.00")}
	err = long.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be below entry premium")

	short := validPlay()
	short.PositionSide = Short
	short.OrderAction = SellToOpen
	short.EntryPremium = decPtr("5.00")
	short.TakeProfit.Premium = decPtr("6.00")
	err = short.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be below entry credit")

	short.TakeProfit.Premium = decPtr("2.50")
	short.StopLoss = StopLossSpec{Mode: SLStop, Premium: decPtr("4.00")}
	err = short.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be above entry credit")

	short.StopLoss.Premium = decPtr("10.00")
	require.NoError(t, short.Validate())
}

// The contingency level must sit strictly further from the entry target than
// the ordinary stop.
func TestPlayValidateContingencyDistance(t *testing.T) {
	p := validPlay()
	p.StopLoss = StopLossSpec{
		Mode:                  SLContingency,
		StockPrice:            decPtr("492"),
		ContingencyStockPrice: decPtr("494"),
		ContingencyRef:        RefLast,
	}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "further from entry target")

	p.StopLoss.ContingencyStockPrice = decPtr("490")
	require.NoError(t, p.Validate())
}

func TestApplyDefaults(t *testing.T) {
	p := &Play{
		ID:          "p2",
		StrategyTag: "manual-swings",
		Symbol:      "AAPL",
		OptionSide:  OptionPut,
		Strike:      dec("180"),
		Expiration:  NewDate(2030, time.March, 15),
		Contracts:   1,
	}
	p.ApplyDefaults()

	assert.Equal(t, Long, p.PositionSide)
	assert.Equal(t, BuyToOpen, p.OrderAction)
	assert.Equal(t, RefLast, p.Entry.PriceRef)
	assert.Equal(t, OrderLimitAtMid, p.Entry.OrderType)
	assert.Equal(t, "AAPL300315P00180000", p.OCCSymbol)
	assert.True(t, p.OriginalExpiration.Equal(p.Expiration))

	short := &Play{PositionSide: Short}
	short.ApplyDefaults()
	assert.Equal(t, SellToOpen, short.OrderAction)
}

func TestPlayJSONRoundTripPreservesUnknownKeys(t *testing.T) {
	p := validPlay()
	data, err := json.Marshal(p)
	require.NoError(t, err)

	// Simulate an external writer adding fields this version doesn't know.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["operator_note"] = json.RawMessage(`"watch earnings"`)
	raw["custom_block"] = json.RawMessage(`{"a":1,"b":[2,3]}`)
	annotated, err := json.Marshal(raw)
	require.NoError(t, err)

	var loaded Play
	require.NoError(t, json.Unmarshal(annotated, &loaded))
	assert.Equal(t, p.ID, loaded.ID)
	assert.True(t, loaded.Strike.Equal(p.Strike))

	out, err := json.Marshal(&loaded)
	require.NoError(t, err)
	var roundTripped map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.JSONEq(t, `"watch earnings"`, string(roundTripped["operator_note"]))
	assert.JSONEq(t, `{"a":1,"b":[2,3]}`, string(roundTripped["custom_block"]))
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2030, time.June, 21)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2030-06-21"`, string(data))

	var parsed Date
	require.NoError(t, json.Unmarshal([]byte(`"2030-06-21"`), &parsed))
	assert.True(t, parsed.Equal(d))

	// Older records wrote RFC3339 timestamps.
	require.NoError(t, json.Unmarshal([]byte(`"2030-06-21T00:00:00Z"`), &parsed))
	assert.True(t, parsed.Equal(d))

	require.NoError(t, json.Unmarshal([]byte(`""`), &parsed))
	assert.True(t, parsed.IsZero())
}

func TestOpenCloseActions(t *testing.T) {
	long := validPlay()
	assert.Equal(t, BuyToOpen, long.OpenAction())
	assert.Equal(t, SellToClose, long.CloseAction())

	short := validPlay()
	short.PositionSide = Short
	assert.Equal(t, SellToOpen, short.OpenAction())
	assert.Equal(t, BuyToClose, short.CloseAction())
}
