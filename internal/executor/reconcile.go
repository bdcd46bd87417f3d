package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/models"
)

// Reconcile resolves orphan order ids left by a crash between submission and
// state transition, then cross-checks open plays against broker positions.
// It runs at startup and at the head of every cycle.
func (e *Executor) Reconcile(ctx context.Context) error {
	var firstErr error
	for _, state := range []models.PlayState{models.StateNew, models.StateOpen} {
		ids, err := e.store.List(state)
		if err != nil {
			return err
		}
		for _, id := range ids {
			play, err := e.store.Load(id)
			if err != nil {
				e.logger.Printf("Reconcile: loading play %s: %v", id, err)
				continue
			}
			if play.OrphanOrderID == "" {
				continue
			}
			if err := e.reconcileOrphan(ctx, play); err != nil {
				e.logger.Printf("Reconcile: play %s orphan order %s: %v",
					play.ID, play.OrphanOrderID, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if err := e.checkPositions(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// reconcileOrphan polls the orphan order and replays the transition the crash
// interrupted.
func (e *Executor) reconcileOrphan(ctx context.Context, play *models.Play) error {
	orderID := play.OrphanOrderID
	order, err := e.broker.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			// The broker never accepted it; the play never left its state.
			e.logger.Printf("Reconcile: play %s orphan order %s unknown to broker, clearing",
				play.ID, orderID)
			play.OrphanOrderID = ""
			return e.store.Save(play)
		}
		return err
	}

	switch play.State {
	case models.StateNew:
		return e.reconcileOrphanEntry(ctx, play, order)
	case models.StateOpen:
		return e.reconcileOrphanExit(play, order)
	default:
		return fmt.Errorf("orphan order in unexpected state %s", play.State)
	}
}

func (e *Executor) reconcileOrphanEntry(ctx context.Context, play *models.Play, order *broker.Order) error {
	switch order.Status {
	case broker.OrderStatusFilled:
		e.logger.Printf("Reconcile: play %s orphan entry %s filled at broker, recovering to open",
			play.ID, order.ID)
		play.EntryOrderID = order.ID
		play.OrphanOrderID = ""
		return e.fillOpen(ctx, play, order, order.FilledQuantity, models.ConditionRecovered)

	case broker.OrderStatusRejected:
		play.OrphanOrderID = ""
		play.LastError = fmt.Sprintf("entry order rejected: %s", order.RejectReason)
		return e.store.Save(play)

	case broker.OrderStatusExpired, broker.OrderStatusCanceled:
		play.OrphanOrderID = ""
		return e.store.Transition(play, models.StateExpired, models.ConditionRecovered)

	default:
		// Still working: finish the interrupted transition and poll normally.
		play.EntryOrderID = order.ID
		play.OrphanOrderID = ""
		return e.store.Transition(play, models.StatePendingOpening, models.ConditionEntryFires)
	}
}

func (e *Executor) reconcileOrphanExit(play *models.Play, order *broker.Order) error {
	switch order.Status {
	case broker.OrderStatusFilled:
		e.logger.Printf("Reconcile: play %s orphan exit %s filled at broker, recovering to closed",
			play.ID, order.ID)
		closePremium := order.AvgFillPrice
		play.OrphanOrderID = ""
		play.Log.ClosePremium = &closePremium
		play.Log.CloseTime = e.clock.Now()
		if play.Log.CloseReason == "" {
			play.Log.CloseReason = "recovered"
		}
		if err := e.store.Transition(play, models.StateClosed, models.ConditionRecovered); err != nil {
			return err
		}
		return e.store.Archive(play.ID)

	case broker.OrderStatusRejected, broker.OrderStatusExpired, broker.OrderStatusCanceled:
		play.OrphanOrderID = ""
		play.LastError = fmt.Sprintf("exit order %s terminal without fill: %s", order.ID, order.Status)
		return e.store.Save(play)

	default:
		play.ExitOrderID = order.ID
		play.OrphanOrderID = ""
		return e.store.Transition(play, models.StatePendingClosing, models.ConditionExitFires)
	}
}

// fillOpen records an entry fill and transitions to OPEN under the given
// condition (order_filled from a poll, recovered from the reconciler).
func (e *Executor) fillOpen(ctx context.Context, play *models.Play, order *broker.Order, filled int, condition string) error {
	if filled <= 0 {
		return fmt.Errorf("play %s: fill reported with zero quantity", play.ID)
	}
	premium := order.AvgFillPrice
	play.EntryPremium = &premium
	play.FilledContracts = filled
	play.Log.OpenTime = e.clock.Now()
	play.Log.OpenPremium = &premium

	if stock, err := e.quotes.GetStockQuote(ctx, play.Symbol); err == nil {
		open := stock.Last
		play.Log.OpenStock = &open
	}
	if greeks, err := e.quotes.GetGreeks(ctx, play.OCCSymbol); err == nil {
		play.Log.DeltaAtOpen = greeks.Delta
		play.Log.ThetaAtOpen = greeks.Theta
	}

	if err := e.store.Transition(play, models.StateOpen, condition); err != nil {
		return err
	}
	e.logger.Printf("Play %s open: %d contracts at %s", play.ID, filled, premium)
	return nil
}

// checkPositions flags disagreements between local open plays and broker
// positions. Mismatches are surfaced, never auto-corrected.
func (e *Executor) checkPositions(ctx context.Context) error {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile positions: %w", err)
	}
	held := make(map[string]int, len(positions))
	for _, pos := range positions {
		held[pos.Symbol] = pos.Quantity
	}

	ids, err := e.store.List(models.StateOpen)
	if err != nil {
		return err
	}
	tracked := make(map[string]bool, len(ids))
	for _, id := range ids {
		play, err := e.store.Load(id)
		if err != nil {
			continue
		}
		tracked[play.OCCSymbol] = true
		if _, ok := held[play.OCCSymbol]; !ok {
			e.logger.Printf("WARNING: play %s is open locally but broker holds no %s (phantom position)",
				play.ID, play.OCCSymbol)
		}
	}
	for symbol, qty := range held {
		if !tracked[symbol] {
			e.logger.Printf("WARNING: broker holds %d %s with no matching open play (orphan position)",
				qty, symbol)
		}
	}
	return nil
}
