package trailing

import (
	"fmt"

	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/shopspring/decimal"
)

// ATR computes the average true range over the last period bars using a
// simple moving average. Candles must be in ascending date order.
func ATR(candles []marketdata.Candle, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return decimal.Zero, fmt.Errorf("atr: need %d candles, have %d", period+1, len(candles))
	}

	trs := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		high := candles[i].High
		low := candles[i].Low

		tr := high.Sub(low)
		if hc := high.Sub(prev).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := low.Sub(prev).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		trs = append(trs, tr)
	}

	sum := decimal.Zero
	for _, tr := range trs[len(trs)-period:] {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}
