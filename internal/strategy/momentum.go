package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/playstore"
	"github.com/Zaroganos/goldflipper/internal/util"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TagMomentum is the registry tag for the gap/momentum playbook strategy.
const TagMomentum = "momentum"

// momentumParams is the strategy's config block.
type momentumParams struct {
	PlaybookPath string `yaml:"playbook_path"`
}

// playbook is the YAML file of gap criteria the runner instantiates plays
// from.
type playbook struct {
	Plays []playbookEntry `yaml:"plays"`
}

type playbookEntry struct {
	ID              string                 `yaml:"id"`
	Symbol          string                 `yaml:"symbol"`
	OptionSide      models.OptionSide      `yaml:"option_side"`
	Direction       string                 `yaml:"direction"` // up or down
	MinGapPct       decimal.Decimal        `yaml:"min_gap_pct"`
	StrikeOffsetPct decimal.Decimal        `yaml:"strike_offset_pct"`
	DTE             int                    `yaml:"dte"`
	Contracts       int                    `yaml:"contracts"`
	Buffer          decimal.Decimal        `yaml:"buffer"`
	OrderType       models.OrderTypePolicy `yaml:"order_type"`
	TPPremiumPct    decimal.Decimal        `yaml:"tp_premium_pct"`
	SLPremiumPct    decimal.Decimal        `yaml:"sl_premium_pct"`
}

func (e *playbookEntry) validate() error {
	if e.ID == "" {
		return errors.New("playbook entry missing id")
	}
	if e.Symbol == "" {
		return fmt.Errorf("playbook entry %s: missing symbol", e.ID)
	}
	if !e.OptionSide.Valid() {
		return fmt.Errorf("playbook entry %s: bad option_side %q", e.ID, e.OptionSide)
	}
	if e.Direction != "up" && e.Direction != "down" {
		return fmt.Errorf("playbook entry %s: direction must be up or down", e.ID)
	}
	if e.MinGapPct.Sign() <= 0 {
		return fmt.Errorf("playbook entry %s: min_gap_pct must be positive", e.ID)
	}
	if e.DTE <= 0 {
		return fmt.Errorf("playbook entry %s: dte must be positive", e.ID)
	}
	return nil
}

// momentum instantiates plays from the playbook when a gap criterion is met,
// then manages them with the shared trigger loop.
type momentum struct {
	base
	playbookPath string
}

func init() {
	Register(TagMomentum, func(env *Env, enabled bool, params *yaml.Node) (Runner, error) {
		var p momentumParams
		if err := decodeParams(params, &p); err != nil {
			return nil, fmt.Errorf("momentum params: %w", err)
		}
		if enabled && p.PlaybookPath == "" {
			return nil, errors.New("momentum: playbook_path is required")
		}
		return &momentum{
			base:         newBase(env, TagMomentum, enabled),
			playbookPath: p.PlaybookPath,
		}, nil
	})
}

// OnCycleStart loads the playbook and creates plays for entries whose gap
// criterion holds. Creation is idempotent per entry per day.
func (m *momentum) OnCycleStart(ctx context.Context) error {
	data, err := os.ReadFile(m.playbookPath)
	if err != nil {
		return fmt.Errorf("momentum playbook: %w", err)
	}
	var book playbook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return fmt.Errorf("momentum playbook: %w", err)
	}

	var errs []error
	for i := range book.Plays {
		entry := &book.Plays[i]
		if err := entry.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.maybeInstantiate(ctx, entry); err != nil {
			m.env.Logger.Printf("Strategy %s: entry %s: %v", m.tag, entry.ID, err)
			if !skippable(err) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var hundred = decimal.NewFromInt(100)
var dollarTick = decimal.NewFromInt(1)

func (m *momentum) maybeInstantiate(ctx context.Context, entry *playbookEntry) error {
	playID := fmt.Sprintf("momentum-%s-%s", entry.ID, m.env.Clock.Today().Format("20060102"))
	if _, err := m.env.Store.Load(playID); err == nil {
		return nil
	} else if !errors.Is(err, playstore.ErrNotFound) {
		return err
	}

	gap, last, err := m.gapPct(ctx, entry.Symbol)
	if err != nil {
		return err
	}
	if entry.Direction == "up" && gap.LessThan(entry.MinGapPct) {
		return nil
	}
	if entry.Direction == "down" && gap.GreaterThan(entry.MinGapPct.Neg()) {
		return nil
	}

	offset := last.Mul(entry.StrikeOffsetPct).Div(hundred)
	strike := last.Add(offset)
	if entry.OptionSide == models.OptionPut {
		strike = last.Sub(offset)
	}
	strike = util.RoundToTick(strike, dollarTick)

	contracts := entry.Contracts
	if contracts <= 0 {
		contracts = 1
	}

	play := models.NewPlay(playID, m.tag, entry.Symbol, entry.OptionSide, strike,
		expirationAtLeast(m.env.Clock.Today(), entry.DTE), contracts)
	play.Creator = "momentum-playbook"
	play.Entry.TargetStockPrice = last
	play.Entry.Buffer = entry.Buffer
	if play.Entry.Buffer.IsZero() {
		play.Entry.Buffer = last.Mul(decimal.NewFromFloat(0.002))
	}
	if entry.OrderType != "" {
		play.Entry.OrderType = entry.OrderType
	}
	if entry.TPPremiumPct.Sign() > 0 {
		pct := entry.TPPremiumPct
		play.TakeProfit.Mode = models.TPSingle
		play.TakeProfit.PremiumPct = &pct
	}
	if entry.SLPremiumPct.Sign() > 0 {
		pct := entry.SLPremiumPct
		play.StopLoss.Mode = models.SLStop
		play.StopLoss.PremiumPct = &pct
	}
	play.ApplyDefaults()

	if err := m.env.Store.Save(play); err != nil {
		return err
	}
	m.env.Logger.Printf("Strategy %s: created play %s (gap %s%%, strike %s)",
		m.tag, playID, gap.StringFixed(2), strike)
	return nil
}

// gapPct compares the current price against the prior session close.
func (m *momentum) gapPct(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	quote, err := m.env.Data.GetStockQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	today := m.env.Clock.Today()
	start := models.DateOf(today.AddDate(0, 0, -10))
	candles, err := m.env.Data.GetHistoricalCandles(ctx, symbol, start, today)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	var prevClose decimal.Decimal
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Date.Equal(today) {
			continue
		}
		prevClose = candles[i].Close
		break
	}
	if prevClose.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("gap %s: no prior close", symbol)
	}
	gap := quote.Last.Sub(prevClose).Div(prevClose).Mul(hundred)
	return gap, quote.Last, nil
}

// expirationAtLeast returns the first Friday at least dte days out. Weeklies
// make this a safe default for liquid underlyings.
func expirationAtLeast(today models.Date, dte int) models.Date {
	t := today.AddDate(0, 0, dte)
	for t.Weekday() != time.Friday {
		t = t.AddDate(0, 0, 1)
	}
	return models.DateOf(t)
}
