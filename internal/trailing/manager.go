// Package trailing maintains the high-water peak and ratcheted exit level for
// plays with a trailing TP or SL. Levels only ever tighten: the peak never
// retreats and the level never loosens.
package trailing

import (
	"context"
	"log"
	"time"

	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
)

// minTick is the smallest level change worth persisting.
var minTick = decimal.NewFromFloat(0.01)

var percentBase = decimal.NewFromInt(100)

// CandleSource supplies daily bars for ATR trails.
type CandleSource interface {
	GetHistoricalCandles(ctx context.Context, symbol string, start, end models.Date) ([]marketdata.Candle, error)
}

// Manager updates trail state in place on the play. The caller persists.
type Manager struct {
	candles CandleSource
	logger  *log.Logger
	nowFn   func() time.Time
}

// NewManager builds a manager. candles may be nil when no play uses ATR
// trails.
func NewManager(candles CandleSource, logger *log.Logger) *Manager {
	return &Manager{candles: candles, logger: logger, nowFn: time.Now}
}

// activeConfig returns the trailing rule in force. TP trailing wins when both
// are configured.
func activeConfig(play *models.Play) *models.TrailingConfig {
	if play.TakeProfit.Mode == models.TPTrailing && play.TakeProfit.Trailing != nil {
		return play.TakeProfit.Trailing
	}
	if play.StopLoss.Mode == models.SLTrailing && play.StopLoss.Trailing != nil {
		return play.StopLoss.Trailing
	}
	return nil
}

// favorableUp reports whether the tracked price rising is the winning
// direction for the play.
func favorableUp(play *models.Play, cfg *models.TrailingConfig) bool {
	if cfg.OnPremium {
		// Premium gains favor longs up, shorts down.
		return play.PositionSide == models.Long
	}
	if play.OptionSide == models.OptionCall {
		return play.PositionSide == models.Long
	}
	return play.PositionSide == models.Short
}

// trackedPrice selects the price the trail follows.
func trackedPrice(play *models.Play, cfg *models.TrailingConfig,
	stock *marketdata.StockQuote, option *marketdata.OptionQuote) (decimal.Decimal, bool) {
	if cfg.OnPremium {
		if option == nil {
			return decimal.Zero, false
		}
		if play.PositionSide == models.Long {
			return option.Bid, true
		}
		return option.Ask, true
	}
	if stock == nil {
		return decimal.Zero, false
	}
	return stock.Last, true
}

// basis is the entry-side anchor used for the activation threshold.
func basis(play *models.Play, cfg *models.TrailingConfig) (decimal.Decimal, bool) {
	if cfg.OnPremium {
		if play.EntryPremium == nil {
			return decimal.Zero, false
		}
		return *play.EntryPremium, true
	}
	if play.Log.OpenStock != nil {
		return *play.Log.OpenStock, true
	}
	// Fall back to the entry target for older records.
	if play.Entry.TargetStockPrice.Sign() > 0 {
		return play.Entry.TargetStockPrice, true
	}
	return decimal.Zero, false
}

// activated reports whether the favorable move from the basis has reached the
// activation threshold. A play that already carries a peak stays active.
func activated(play *models.Play, cfg *models.TrailingConfig, price decimal.Decimal) bool {
	if play.Peak != nil {
		return true
	}
	if cfg.ActivationPct.IsZero() {
		return true
	}
	anchor, ok := basis(play, cfg)
	if !ok || anchor.Sign() <= 0 {
		return false
	}
	var movePct decimal.Decimal
	if favorableUp(play, cfg) {
		movePct = price.Sub(anchor).Div(anchor).Mul(percentBase)
	} else {
		movePct = anchor.Sub(price).Div(anchor).Mul(percentBase)
	}
	return movePct.GreaterThanOrEqual(cfg.ActivationPct)
}

// Update ratchets the peak and recomputes the trail level for one play.
// Returns true when the play changed and needs persisting.
func (m *Manager) Update(ctx context.Context, play *models.Play,
	stock *marketdata.StockQuote, option *marketdata.OptionQuote) (bool, error) {

	cfg := activeConfig(play)
	if cfg == nil || play.State != models.StateOpen {
		return false, nil
	}
	price, ok := trackedPrice(play, cfg, stock, option)
	if !ok || price.Sign() <= 0 {
		return false, nil
	}
	if !activated(play, cfg, price) {
		return false, nil
	}

	up := favorableUp(play, cfg)

	peak := price
	if play.Peak != nil {
		if up && play.Peak.GreaterThanOrEqual(price) {
			peak = *play.Peak
		}
		if !up && play.Peak.LessThanOrEqual(price) {
			peak = *play.Peak
		}
	}

	level, err := m.level(ctx, play, cfg, peak, up)
	if err != nil {
		return false, err
	}

	peakChanged := play.Peak == nil || !play.Peak.Equal(peak)
	levelChanged := play.TrailLevel == nil ||
		level.Sub(*play.TrailLevel).Abs().GreaterThanOrEqual(minTick)
	if !peakChanged && !levelChanged {
		return false, nil
	}

	// The level never loosens once set.
	if play.TrailLevel != nil {
		if up && level.LessThan(*play.TrailLevel) {
			level = *play.TrailLevel
			levelChanged = false
		}
		if !up && level.GreaterThan(*play.TrailLevel) {
			level = *play.TrailLevel
			levelChanged = false
		}
	}
	if !peakChanged && !levelChanged {
		return false, nil
	}

	play.Peak = &peak
	play.TrailLevel = &level
	play.TrailHistory = append(play.TrailHistory, models.TrailPoint{
		Time:  m.nowFn().UTC(),
		Peak:  peak,
		Level: level,
	})
	if m.logger != nil {
		m.logger.Printf("Play %s trail update: peak=%s level=%s", play.ID, peak, level)
	}
	return true, nil
}

// level computes the exit level at the given peak.
func (m *Manager) level(ctx context.Context, play *models.Play, cfg *models.TrailingConfig,
	peak decimal.Decimal, up bool) (decimal.Decimal, error) {

	var gap decimal.Decimal
	switch cfg.Type {
	case models.TrailPercent:
		gap = peak.Mul(cfg.Percent).Div(percentBase)
	case models.TrailFixed:
		gap = cfg.Amount
	case models.TrailATR:
		atr, err := m.atrGap(ctx, play, cfg)
		if err != nil {
			return decimal.Zero, err
		}
		gap = atr
	}

	var level decimal.Decimal
	if up {
		level = peak.Sub(gap)
	} else {
		level = peak.Add(gap)
	}

	// MinLock keeps at least that much favorable move locked in relative to
	// the basis.
	if !cfg.MinLock.IsZero() {
		if anchor, ok := basis(play, cfg); ok {
			if up {
				floor := anchor.Add(cfg.MinLock)
				if level.LessThan(floor) && peak.GreaterThan(floor) {
					level = floor
				}
			} else {
				ceil := anchor.Sub(cfg.MinLock)
				if level.GreaterThan(ceil) && peak.LessThan(ceil) {
					level = ceil
				}
			}
		}
	}
	return level, nil
}

func (m *Manager) atrGap(ctx context.Context, play *models.Play, cfg *models.TrailingConfig) (decimal.Decimal, error) {
	if m.candles == nil {
		return decimal.Zero, nil
	}
	period := cfg.ATRPeriod
	if period <= 0 {
		period = 14
	}
	// Fetch extra calendar days to cover weekends and holidays.
	end := models.DateOf(m.nowFn())
	start := models.DateOf(m.nowFn().AddDate(0, 0, -(period*2 + 10)))
	candles, err := m.candles.GetHistoricalCandles(ctx, play.Symbol, start, end)
	if err != nil {
		return decimal.Zero, err
	}
	atr, err := ATR(candles, period)
	if err != nil {
		return decimal.Zero, err
	}
	mult := cfg.ATRMultiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return atr.Mul(mult), nil
}
