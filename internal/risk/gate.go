// Package risk gates order submission on account buying power and exposure
// limits. Denials are structured errors recorded on the play, never retried
// within the same cycle.
package risk

import (
	"fmt"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
)

// DeniedError means the gate refused the order. The play stays in NEW with
// the reason recorded.
type DeniedError struct {
	PlayID string
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

// Limits bound per-play and account-wide exposure.
type Limits struct {
	// MaxNotionalLeverage caps total short notional (including the new
	// order) as a multiple of account equity. Zero disables the check.
	MaxNotionalLeverage decimal.Decimal
	// MaxCapitalAllocation caps total short buying power (including the new
	// order) as a fraction of account equity. Zero disables the check.
	MaxCapitalAllocation decimal.Decimal
	// MaxOpenPlays caps concurrently live plays account-wide. Zero disables
	// the check.
	MaxOpenPlays int
}

// Exposure is the account's current footprint, aggregated over live plays.
type Exposure struct {
	OpenShortNotional    decimal.Decimal
	OpenShortBuyingPower decimal.Decimal
	OpenPlays            int
}

var contractMultiplier = decimal.NewFromInt(100)

// AddPlay folds one live play into the exposure totals.
func (x *Exposure) AddPlay(play *models.Play) {
	x.OpenPlays++
	if play.PositionSide != models.Short {
		return
	}
	qty := play.FilledContracts
	if qty == 0 {
		qty = play.Contracts
	}
	notional := play.Strike.Mul(contractMultiplier).Mul(decimal.NewFromInt(int64(qty)))
	x.OpenShortNotional = x.OpenShortNotional.Add(notional)
	// Cash-secured: buying power consumed equals the notional collateral.
	x.OpenShortBuyingPower = x.OpenShortBuyingPower.Add(notional)
}

// Gate evaluates orders against account balances and current exposure.
type Gate struct {
	limits Limits
}

// NewGate builds a gate with the given limits.
func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// RequiredFunds computes the options buying power an order consumes.
// Short plays reserve full collateral (strike x 100 x contracts); long plays
// reserve the debit (price x 100 x contracts).
func RequiredFunds(play *models.Play, price decimal.Decimal) decimal.Decimal {
	qty := decimal.NewFromInt(int64(play.Contracts))
	if play.PositionSide == models.Short {
		return play.Strike.Mul(contractMultiplier).Mul(qty)
	}
	return price.Mul(contractMultiplier).Mul(qty)
}

// Check returns nil when the order may be submitted, or a DeniedError naming
// the limit that blocked it. price is the resolved per-contract price for
// long plays; short plays ignore it.
func (g *Gate) Check(play *models.Play, price decimal.Decimal,
	balances *broker.AccountBalances, exposure Exposure) error {

	required := RequiredFunds(play, price)
	available := balances.OptionBuyingPower

	if required.GreaterThan(available) {
		return &DeniedError{
			PlayID: play.ID,
			Reason: fmt.Sprintf("insufficient options buying power: required=%s, available=%s",
				trimZeros(required), trimZeros(available)),
		}
	}

	if play.PositionSide == models.Short && balances.TotalEquity.Sign() > 0 {
		if !g.limits.MaxNotionalLeverage.IsZero() {
			total := exposure.OpenShortNotional.Add(required)
			limit := balances.TotalEquity.Mul(g.limits.MaxNotionalLeverage)
			if total.GreaterThan(limit) {
				return &DeniedError{
					PlayID: play.ID,
					Reason: fmt.Sprintf("notional leverage exceeded: total=%s, max=%s (%sx equity)",
						trimZeros(total), trimZeros(limit), trimZeros(g.limits.MaxNotionalLeverage)),
				}
			}
		}
		if !g.limits.MaxCapitalAllocation.IsZero() {
			total := exposure.OpenShortBuyingPower.Add(required)
			limit := balances.TotalEquity.Mul(g.limits.MaxCapitalAllocation)
			if total.GreaterThan(limit) {
				return &DeniedError{
					PlayID: play.ID,
					Reason: fmt.Sprintf("capital allocation exceeded: total=%s, max=%s (%s%% of equity)",
						trimZeros(total), trimZeros(limit),
						trimZeros(g.limits.MaxCapitalAllocation.Mul(decimal.NewFromInt(100)))),
				}
			}
		}
	}

	if g.limits.MaxOpenPlays > 0 && exposure.OpenPlays >= g.limits.MaxOpenPlays {
		return &DeniedError{
			PlayID: play.ID,
			Reason: fmt.Sprintf("max open plays reached: open=%d, limit=%d",
				exposure.OpenPlays, g.limits.MaxOpenPlays),
		}
	}

	return nil
}

func trimZeros(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if s[len(s)-3:] == ".00" {
		return s[:len(s)-3]
	}
	return s
}
