package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
)

// RollTarget is the replacement contract for a short roll.
type RollTarget struct {
	OCCSymbol  string
	Strike     decimal.Decimal
	Expiration models.Date
	// CreditLimit is the minimum acceptable credit for the new contract.
	// Zero submits at market.
	CreditLimit decimal.Decimal
}

const (
	rollPollInterval = 2 * time.Second
	rollPollTimeout  = 90 * time.Second
)

// Roll replaces a short contract: buy-to-close the current one, then, on
// fill, sell-to-open the target. If the close fills but the open fails the
// play transitions to CLOSED with a diagnostic; there is no silent retry.
func (e *Executor) Roll(ctx context.Context, play *models.Play, target RollTarget) error {
	if play.PositionSide != models.Short {
		return fmt.Errorf("play %s: roll is short-only", play.ID)
	}
	if play.State != models.StateOpen {
		return fmt.Errorf("play %s: roll from state %s", play.ID, play.State)
	}

	qty := play.FilledContracts
	if qty == 0 {
		qty = play.Contracts
	}

	if e.opts.DryRun {
		e.logger.Printf("DRY RUN: would roll play %s from %s to %s",
			play.ID, play.OCCSymbol, target.OCCSymbol)
		return nil
	}

	btc, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		ClientOrderID: broker.NewClientOrderID(play.ID, models.BuyToClose, play.OCCSymbol, qty),
		OCCSymbol:     play.OCCSymbol,
		Underlying:    play.Symbol,
		Action:        models.BuyToClose,
		Quantity:      qty,
		Type:          broker.OrderTypeMarket,
	})
	if err != nil {
		if errors.Is(err, broker.ErrRejected) {
			play.LastError = fmt.Sprintf("roll close rejected: %v", err)
			return e.store.Save(play)
		}
		return fmt.Errorf("roll play %s: close leg: %w", play.ID, err)
	}

	play.OrphanOrderID = btc.ID
	if err := e.store.Save(play); err != nil {
		return fmt.Errorf("roll play %s: recording close order id: %w", play.ID, err)
	}

	closed, err := e.awaitFill(ctx, btc.ID)
	if err != nil {
		// Close leg did not fill; position unchanged.
		play.OrphanOrderID = ""
		play.LastError = fmt.Sprintf("roll close leg did not fill: %v", err)
		if saveErr := e.store.Save(play); saveErr != nil {
			return saveErr
		}
		return fmt.Errorf("roll play %s: %w", play.ID, err)
	}

	sto, err := e.broker.SubmitOrder(ctx, broker.OrderRequest{
		ClientOrderID: broker.NewClientOrderID(play.ID, models.SellToOpen, target.OCCSymbol, qty),
		OCCSymbol:     target.OCCSymbol,
		Underlying:    play.Symbol,
		Action:        models.SellToOpen,
		Quantity:      qty,
		Type:          rollOpenType(target),
		LimitPrice:    target.CreditLimit,
	})
	if err != nil {
		return e.abortRoll(play, closed, fmt.Errorf("open leg submit failed: %w", err))
	}

	play.OrphanOrderID = sto.ID
	if err := e.store.Save(play); err != nil {
		return fmt.Errorf("roll play %s: recording open order id: %w", play.ID, err)
	}

	opened, err := e.awaitFill(ctx, sto.ID)
	if err != nil {
		if cancelErr := e.broker.CancelOrder(ctx, sto.ID); cancelErr != nil &&
			!errors.Is(cancelErr, broker.ErrNotFound) {
			e.logger.Printf("Play %s roll: cancel of unfilled open leg failed: %v", play.ID, cancelErr)
		}
		// The cancel can race a fill; re-poll before declaring the account
		// flat, or a filled-after-cancel leg becomes an orphan position.
		final, pollErr := e.broker.GetOrder(ctx, sto.ID)
		if pollErr != nil || final.Status != broker.OrderStatusFilled {
			return e.abortRoll(play, closed, fmt.Errorf("open leg did not fill: %w", err))
		}
		e.logger.Printf("Play %s roll: open leg %s filled during cancel", play.ID, sto.ID)
		opened = final
	}

	// Roll complete: same play, new contract.
	credit := opened.AvgFillPrice
	play.OCCSymbol = target.OCCSymbol
	play.Strike = target.Strike
	play.Expiration = target.Expiration
	play.EntryPremium = &credit
	play.FilledContracts = opened.FilledQuantity
	play.RollCount++
	play.OrphanOrderID = ""
	play.Peak = nil
	play.TrailLevel = nil
	play.LastError = ""
	if err := e.store.Transition(play, models.StateOpen, models.ConditionRollCompleted); err != nil {
		return err
	}
	e.logger.Printf("Play %s rolled to %s at credit %s (roll %d)",
		play.ID, target.OCCSymbol, credit, play.RollCount)
	return nil
}

func rollOpenType(target RollTarget) broker.OrderType {
	if target.CreditLimit.Sign() > 0 {
		return broker.OrderTypeLimit
	}
	return broker.OrderTypeMarket
}

// abortRoll records a roll whose close leg filled but whose open leg did not.
// The position is flat, so the play is CLOSED with the diagnostic attached.
func (e *Executor) abortRoll(play *models.Play, closed *broker.Order, cause error) error {
	e.logger.Printf("Play %s roll aborted after close fill: %v", play.ID, cause)
	closePremium := closed.AvgFillPrice
	play.OrphanOrderID = ""
	play.LastError = fmt.Sprintf("roll aborted: %v", cause)
	play.Log.ClosePremium = &closePremium
	play.Log.CloseTime = e.clock.Now()
	play.Log.CloseReason = "roll_aborted"
	if err := e.store.Transition(play, models.StateClosed, models.ConditionRollAborted); err != nil {
		return err
	}
	return e.store.Archive(play.ID)
}

// awaitFill polls an order until it fills, fails, or the timeout lapses.
func (e *Executor) awaitFill(ctx context.Context, orderID string) (*broker.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, rollPollTimeout)
	defer cancel()

	ticker := time.NewTicker(rollPollInterval)
	defer ticker.Stop()

	for {
		order, err := e.broker.GetOrder(ctx, orderID)
		if err == nil {
			switch order.Status {
			case broker.OrderStatusFilled:
				return order, nil
			case broker.OrderStatusRejected:
				return nil, fmt.Errorf("order %s rejected: %s", orderID, order.RejectReason)
			case broker.OrderStatusCanceled, broker.OrderStatusExpired:
				return nil, fmt.Errorf("order %s terminal without fill: %s", orderID, order.Status)
			}
		} else if !errors.Is(err, broker.ErrUnavailable) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("order %s: %w", orderID, ctx.Err())
		case <-ticker.C:
		}
	}
}
