// Package evaluator decides, from one market snapshot, whether a play enters,
// exits, or waits. It is a pure decision function: no I/O, no state writes.
// Submission and state transitions belong to the executor.
package evaluator

import (
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
)

// Verdict is the kind of decision.
type Verdict int

const (
	// Wait means no trigger fired this snapshot.
	Wait Verdict = iota
	// EnterNow means the entry condition fired.
	EnterNow
	// ExitNow means an exit trigger fired.
	ExitNow
)

// ExitReason names the trigger that fired an exit.
type ExitReason string

const (
	ReasonTakeProfit    ExitReason = "TP"
	ReasonStopLoss      ExitReason = "SL"
	ReasonContingencySL ExitReason = "ContingencySL"
	ReasonOptionExpired ExitReason = "OptionExpired"
)

// OrderSpec tells the executor how to price the order. The limit price itself
// is resolved against a fresh quote at submission time.
type OrderSpec struct {
	Action   models.OrderAction
	Market   bool
	PriceRef models.PriceRef
}

// Decision is the evaluator's output for one play and one snapshot.
type Decision struct {
	Verdict Verdict
	Reason  ExitReason
	Order   OrderSpec
}

var waitDecision = Decision{Verdict: Wait}

// Evaluator applies entry and exit rules against quotes and the clock.
type Evaluator struct {
	clock *marketclock.Clock
}

// New builds an evaluator on the given clock.
func New(clock *marketclock.Clock) *Evaluator {
	return &Evaluator{clock: clock}
}

// Evaluate returns at most one decision for the snapshot. Plays in NEW are
// checked for entry; plays in OPEN are checked for exits in the fixed order
// OptionExpired, ContingencySL, SL, TP. All other states wait.
func (e *Evaluator) Evaluate(play *models.Play, stock *marketdata.StockQuote, option *marketdata.OptionQuote) Decision {
	switch play.State {
	case models.StateNew:
		return e.evaluateEntry(play, stock)
	case models.StateOpen:
		return e.evaluateExit(play, stock, option)
	default:
		return waitDecision
	}
}

// evaluateEntry fires when the reference price sits inside the buffer band
// around the target, inclusive at both edges, during the primary session of a
// day on or before expiration.
func (e *Evaluator) evaluateEntry(play *models.Play, stock *marketdata.StockQuote) Decision {
	if stock == nil {
		return waitDecision
	}
	if e.clock.IsExpired(play.Expiration) {
		return waitDecision
	}
	if !e.clock.IsPrimarySession() {
		return waitDecision
	}

	ref := stock.Ref(play.Entry.PriceRef)
	lo := play.Entry.TargetStockPrice.Sub(play.Entry.Buffer)
	hi := play.Entry.TargetStockPrice.Add(play.Entry.Buffer)
	if ref.LessThan(lo) || ref.GreaterThan(hi) {
		return waitDecision
	}

	return Decision{
		Verdict: EnterNow,
		Order:   entryOrderSpec(play),
	}
}

func entryOrderSpec(play *models.Play) OrderSpec {
	spec := OrderSpec{Action: play.OpenAction()}
	switch play.Entry.OrderType {
	case models.OrderLimitAtBid:
		spec.PriceRef = models.RefBid
	case models.OrderLimitAtAsk:
		spec.PriceRef = models.RefAsk
	case models.OrderLimitAtMid:
		spec.PriceRef = models.RefMid
	case models.OrderLimitAtLast:
		spec.PriceRef = models.RefLast
	default:
		spec.Market = true
	}
	return spec
}

// favorableUp reports whether a rising underlying is the winning direction.
// True for long calls and short puts, false for long puts and short calls.
func favorableUp(play *models.Play) bool {
	if play.OptionSide == models.OptionCall {
		return play.PositionSide == models.Long
	}
	return play.PositionSide == models.Short
}

func (e *Evaluator) evaluateExit(play *models.Play, stock *marketdata.StockQuote, option *marketdata.OptionQuote) Decision {
	if e.clock.ExpiresToday(play.Expiration) || e.clock.IsExpired(play.Expiration) {
		// No order: the executor retires an expired contract directly, it
		// never trades against it.
		return Decision{
			Verdict: ExitNow,
			Reason:  ReasonOptionExpired,
		}
	}

	if e.contingencyFires(play, stock) {
		return Decision{
			Verdict: ExitNow,
			Reason:  ReasonContingencySL,
			Order:   OrderSpec{Action: play.CloseAction(), Market: true},
		}
	}

	if e.stopLossFires(play, stock, option) {
		return Decision{
			Verdict: ExitNow,
			Reason:  ReasonStopLoss,
			Order:   stopLossOrderSpec(play),
		}
	}

	if e.takeProfitFires(play, stock, option) {
		return Decision{
			Verdict: ExitNow,
			Reason:  ReasonTakeProfit,
			Order:   takeProfitOrderSpec(play),
		}
	}

	return waitDecision
}

// contingencyFires checks the looser stock-price fallback. It shares the
// stop-loss direction but its own level and reference side.
func (e *Evaluator) contingencyFires(play *models.Play, stock *marketdata.StockQuote) bool {
	level := play.StopLoss.ContingencyStockPrice
	if level == nil || stock == nil {
		return false
	}
	ref := play.StopLoss.ContingencyRef
	if ref == "" {
		ref = models.RefLast
	}
	return adverseCross(play, stock.Ref(ref), *level)
}

// adverseCross reports whether price has moved to or past level in the losing
// direction.
func adverseCross(play *models.Play, price, level decimal.Decimal) bool {
	if favorableUp(play) {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

// favorableCross reports whether price has moved to or past level in the
// winning direction.
func favorableCross(play *models.Play, price, level decimal.Decimal) bool {
	if favorableUp(play) {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

func (e *Evaluator) stopLossFires(play *models.Play, stock *marketdata.StockQuote, option *marketdata.OptionQuote) bool {
	sl := play.StopLoss

	if sl.Mode == models.SLTrailing && play.TrailLevel != nil && stock != nil {
		if adverseCross(play, stock.Last, *play.TrailLevel) {
			return true
		}
	}

	if sl.StockPrice != nil && stock != nil {
		if adverseCross(play, stock.Last, *sl.StockPrice) {
			return true
		}
	}

	if target, ok := slPremiumTarget(play); ok && option != nil {
		if play.PositionSide == models.Long {
			// Losing long: the market is offered down.
			if option.Ask.LessThanOrEqual(target) {
				return true
			}
		} else {
			// Losing short: buying back got expensive.
			if option.Bid.GreaterThanOrEqual(target) {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) takeProfitFires(play *models.Play, stock *marketdata.StockQuote, option *marketdata.OptionQuote) bool {
	tp := play.TakeProfit

	if tp.Mode == models.TPTrailing {
		// Trailing TP exits only on retrace through the ratcheted level.
		if play.TrailLevel == nil {
			return false
		}
		if tp.Trailing != nil && tp.Trailing.OnPremium {
			if option == nil {
				return false
			}
			return premiumRetrace(play, option, *play.TrailLevel)
		}
		if stock == nil {
			return false
		}
		return adverseCross(play, stock.Last, *play.TrailLevel)
	}

	if tp.StockPrice != nil && stock != nil {
		if favorableCross(play, stock.Last, *tp.StockPrice) {
			return true
		}
	}

	if target, ok := tpPremiumTarget(play); ok && option != nil {
		if play.PositionSide == models.Long {
			// We need to be able to sell at the target.
			if option.Bid.GreaterThanOrEqual(target) {
				return true
			}
		} else {
			// Cheap to buy back.
			if option.Ask.LessThanOrEqual(target) {
				return true
			}
		}
	}
	return false
}

// premiumRetrace checks a premium-based trail level with the conservative
// exit side for the position.
func premiumRetrace(play *models.Play, option *marketdata.OptionQuote, level decimal.Decimal) bool {
	if play.PositionSide == models.Long {
		return option.Bid.LessThanOrEqual(level)
	}
	return option.Ask.GreaterThanOrEqual(level)
}

var percentBase = decimal.NewFromInt(100)

// tpPremiumTarget resolves the TP premium trigger, converting a percent move
// into an absolute target against the stored entry premium.
func tpPremiumTarget(play *models.Play) (decimal.Decimal, bool) {
	if play.TakeProfit.Premium != nil {
		return *play.TakeProfit.Premium, true
	}
	if play.TakeProfit.PremiumPct != nil && play.EntryPremium != nil {
		pct := play.TakeProfit.PremiumPct.Div(percentBase)
		if play.PositionSide == models.Long {
			return play.EntryPremium.Mul(decimal.NewFromInt(1).Add(pct)), true
		}
		return play.EntryPremium.Mul(decimal.NewFromInt(1).Sub(pct)), true
	}
	return decimal.Zero, false
}

// slPremiumTarget resolves the SL premium trigger likewise.
func slPremiumTarget(play *models.Play) (decimal.Decimal, bool) {
	if play.StopLoss.Premium != nil {
		return *play.StopLoss.Premium, true
	}
	if play.StopLoss.PremiumPct != nil && play.EntryPremium != nil {
		pct := play.StopLoss.PremiumPct.Div(percentBase)
		if play.PositionSide == models.Long {
			return play.EntryPremium.Mul(decimal.NewFromInt(1).Sub(pct)), true
		}
		return play.EntryPremium.Mul(decimal.NewFromInt(1).Add(pct)), true
	}
	return decimal.Zero, false
}

// stopLossOrderSpec prices the stop exit. STOP mode goes out at market;
// limit modes use the conservative side for the position.
func stopLossOrderSpec(play *models.Play) OrderSpec {
	spec := OrderSpec{Action: play.CloseAction()}
	if play.StopLoss.Mode == models.SLStop {
		spec.Market = true
		return spec
	}
	if play.PositionSide == models.Long {
		spec.PriceRef = models.RefBid
	} else {
		spec.PriceRef = models.RefAsk
	}
	return spec
}

// takeProfitOrderSpec prices the profit exit at the side we can actually
// trade against.
func takeProfitOrderSpec(play *models.Play) OrderSpec {
	spec := OrderSpec{Action: play.CloseAction()}
	if play.PositionSide == models.Long {
		spec.PriceRef = models.RefBid
	} else {
		spec.PriceRef = models.RefAsk
	}
	return spec
}
