// Package executor turns evaluator decisions into broker orders and drives
// each play's lifecycle transitions. All durability rules live here: order ids
// are written to disk before any state transition, and a play in a pending
// state with an order id is only ever polled, never resubmitted.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/evaluator"
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/playstore"
	"github.com/Zaroganos/goldflipper/internal/risk"
	"github.com/Zaroganos/goldflipper/internal/util"
	"github.com/shopspring/decimal"
)

// pennyTick is the limit price increment for listed options.
var pennyTick = decimal.NewFromFloat(0.01)

// QuoteSource is the slice of market data the executor needs.
type QuoteSource interface {
	GetStockQuote(ctx context.Context, symbol string) (*marketdata.StockQuote, error)
	GetOptionQuote(ctx context.Context, occSymbol string) (*marketdata.OptionQuote, error)
	GetGreeks(ctx context.Context, occSymbol string) (*marketdata.Greeks, error)
}

// Options tune executor behavior.
type Options struct {
	// DryRun logs intended orders without calling the broker.
	DryRun bool
	// EODCancelWindow is how close to the session close a partially filled
	// entry is cut: remainder canceled, play opened with the filled quantity.
	EODCancelWindow time.Duration
}

// Executor submits, polls, and reconciles orders for plays.
type Executor struct {
	store  playstore.Interface
	broker broker.Broker
	quotes QuoteSource
	gate   *risk.Gate
	clock  *marketclock.Clock
	logger *log.Logger
	opts   Options
}

// New builds an executor.
func New(store playstore.Interface, b broker.Broker, quotes QuoteSource,
	gate *risk.Gate, clock *marketclock.Clock, logger *log.Logger, opts Options) *Executor {
	if logger == nil {
		logger = log.New(os.Stderr, "[EXEC] ", log.LstdFlags)
	}
	if opts.EODCancelWindow <= 0 {
		opts.EODCancelWindow = 5 * time.Minute
	}
	return &Executor{
		store:  store,
		broker: b,
		quotes: quotes,
		gate:   gate,
		clock:  clock,
		logger: logger,
		opts:   opts,
	}
}

// Apply dispatches one evaluator decision for one play. Pending plays with a
// recorded order id are polled regardless of the decision.
func (e *Executor) Apply(ctx context.Context, play *models.Play, decision evaluator.Decision) error {
	switch play.State {
	case models.StatePendingOpening:
		if play.EntryOrderID != "" {
			return e.PollOpen(ctx, play)
		}
		return nil
	case models.StatePendingClosing:
		if play.ExitOrderID != "" {
			return e.PollClose(ctx, play)
		}
		return nil
	}

	switch decision.Verdict {
	case evaluator.EnterNow:
		return e.Open(ctx, play, decision.Order)
	case evaluator.ExitNow:
		return e.Close(ctx, play, decision.Reason, decision.Order)
	default:
		return nil
	}
}

// resolvePrice turns an order spec into a broker order type and limit price
// using a fresh option quote.
func (e *Executor) resolvePrice(ctx context.Context, play *models.Play, spec evaluator.OrderSpec) (broker.OrderType, decimal.Decimal, error) {
	if spec.Market {
		return broker.OrderTypeMarket, decimal.Zero, nil
	}
	quote, err := e.quotes.GetOptionQuote(ctx, play.OCCSymbol)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("resolving limit price: %w", err)
	}
	price := util.RoundToTick(quote.Ref(spec.PriceRef), pennyTick)
	if price.Sign() <= 0 {
		return "", decimal.Zero, fmt.Errorf("resolving limit price: non-positive %s from %s",
			price, spec.PriceRef)
	}
	return broker.OrderTypeLimit, price, nil
}

// Open runs the entry sequence: risk gate, price resolution, submission with
// the order id recorded durably before the state transition.
func (e *Executor) Open(ctx context.Context, play *models.Play, spec evaluator.OrderSpec) error {
	if play.State != models.StateNew {
		return fmt.Errorf("play %s: open from state %s", play.ID, play.State)
	}

	orderType, limitPrice, err := e.resolvePrice(ctx, play, spec)
	if err != nil {
		return err
	}

	riskPrice := limitPrice
	if orderType == broker.OrderTypeMarket {
		quote, err := e.quotes.GetOptionQuote(ctx, play.OCCSymbol)
		if err != nil {
			return fmt.Errorf("resolving risk price: %w", err)
		}
		riskPrice = quote.Ref(models.RefAsk)
	}

	balances, err := e.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("risk gate balances: %w", err)
	}
	exposure, err := e.currentExposure()
	if err != nil {
		return fmt.Errorf("risk gate exposure: %w", err)
	}
	if err := e.gate.Check(play, riskPrice, balances, exposure); err != nil {
		var denied *risk.DeniedError
		if errors.As(err, &denied) {
			e.logger.Printf("Play %s denied by risk gate: %s", play.ID, denied.Reason)
			play.LastError = denied.Reason
			return e.store.Save(play)
		}
		return err
	}

	if e.opts.DryRun {
		e.logger.Printf("DRY RUN: would submit %s %s x%d (%s %s)",
			play.OpenAction(), play.OCCSymbol, play.Contracts, orderType, limitPrice)
		return nil
	}

	req := broker.OrderRequest{
		ClientOrderID: broker.NewClientOrderID(play.ID, play.OpenAction(), play.OCCSymbol, play.Contracts),
		OCCSymbol:     play.OCCSymbol,
		Underlying:    play.Symbol,
		Action:        play.OpenAction(),
		Quantity:      play.Contracts,
		Type:          orderType,
		LimitPrice:    limitPrice,
	}
	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		if errors.Is(err, broker.ErrRejected) {
			e.logger.Printf("Play %s entry rejected at submit: %v", play.ID, err)
			play.LastError = err.Error()
			return e.store.Save(play)
		}
		return fmt.Errorf("submitting entry for play %s: %w", play.ID, err)
	}

	// The id hits disk while the play is still in NEW. A crash here leaves
	// an orphan the reconciler resolves on restart.
	play.OrphanOrderID = order.ID
	if err := e.store.Save(play); err != nil {
		return fmt.Errorf("recording entry order id for play %s: %w", play.ID, err)
	}

	play.EntryOrderID = order.ID
	play.OrphanOrderID = ""
	play.LastError = ""
	if err := e.store.Transition(play, models.StatePendingOpening, models.ConditionEntryFires); err != nil {
		return err
	}
	e.logger.Printf("Play %s entry submitted: order %s %s %s x%d",
		play.ID, order.ID, play.OpenAction(), play.OCCSymbol, play.Contracts)
	return nil
}

// currentExposure aggregates the footprint of every live play.
func (e *Executor) currentExposure() (risk.Exposure, error) {
	var exposure risk.Exposure
	for _, state := range []models.PlayState{
		models.StatePendingOpening, models.StateOpen, models.StatePendingClosing,
	} {
		ids, err := e.store.List(state)
		if err != nil {
			return exposure, err
		}
		for _, id := range ids {
			play, err := e.store.Load(id)
			if err != nil {
				e.logger.Printf("Exposure: loading play %s: %v", id, err)
				continue
			}
			exposure.AddPlay(play)
		}
	}
	return exposure, nil
}

// nearSessionClose reports whether the close is within the EOD cancel window.
func (e *Executor) nearSessionClose() bool {
	closeAt := e.clock.SessionCloseTime(e.clock.Today())
	return e.clock.Now().After(closeAt.Add(-e.opts.EODCancelWindow))
}

// PollOpen advances a play whose entry order is working.
func (e *Executor) PollOpen(ctx context.Context, play *models.Play) error {
	order, err := e.broker.GetOrder(ctx, play.EntryOrderID)
	if err != nil {
		return fmt.Errorf("polling entry order %s: %w", play.EntryOrderID, err)
	}

	switch order.Status {
	case broker.OrderStatusFilled:
		return e.fillOpen(ctx, play, order, order.FilledQuantity, models.ConditionOrderFilled)

	case broker.OrderStatusPartiallyFilled:
		if !e.nearSessionClose() {
			return nil
		}
		// Cut the remainder at the close and keep what filled.
		if err := e.broker.CancelOrder(ctx, play.EntryOrderID); err != nil &&
			!errors.Is(err, broker.ErrNotFound) {
			return fmt.Errorf("canceling partial entry %s: %w", play.EntryOrderID, err)
		}
		// The cancel can race a fill in flight; the broker's final word on the
		// filled quantity wins.
		final, err := e.broker.GetOrder(ctx, play.EntryOrderID)
		if err != nil {
			return fmt.Errorf("confirming canceled entry %s: %w", play.EntryOrderID, err)
		}
		e.logger.Printf("Play %s partial fill at close: keeping %d of %d contracts",
			play.ID, final.FilledQuantity, play.Contracts)
		return e.fillOpen(ctx, play, final, final.FilledQuantity, models.ConditionOrderFilled)

	case broker.OrderStatusRejected:
		e.logger.Printf("Play %s entry rejected: %s", play.ID, order.RejectReason)
		play.EntryOrderID = ""
		play.LastError = fmt.Sprintf("entry order rejected: %s", order.RejectReason)
		return e.store.Transition(play, models.StateNew, models.ConditionOrderRejected)

	case broker.OrderStatusExpired, broker.OrderStatusCanceled:
		e.logger.Printf("Play %s entry day order expired unfilled", play.ID)
		play.EntryOrderID = ""
		return e.store.Transition(play, models.StateExpired, models.ConditionDayExpired)

	default:
		return nil
	}
}

// Close runs the exit sequence. Contingency exits always go out at market.
func (e *Executor) Close(ctx context.Context, play *models.Play, reason evaluator.ExitReason, spec evaluator.OrderSpec) error {
	if play.State != models.StateOpen {
		return fmt.Errorf("play %s: close from state %s", play.ID, play.State)
	}

	if reason == evaluator.ReasonOptionExpired {
		// Nothing to trade; the contract is gone.
		play.Log.CloseReason = string(reason)
		play.Log.CloseTime = e.clock.Now()
		if err := e.store.Transition(play, models.StateExpired, models.ConditionOptionExpired); err != nil {
			return err
		}
		e.logger.Printf("Play %s expired worthless", play.ID)
		return nil
	}

	orderType, limitPrice, err := e.resolvePrice(ctx, play, spec)
	if err != nil {
		return err
	}

	qty := play.FilledContracts
	if qty == 0 {
		qty = play.Contracts
	}

	if e.opts.DryRun {
		e.logger.Printf("DRY RUN: would submit %s %s x%d (%s %s) reason=%s",
			play.CloseAction(), play.OCCSymbol, qty, orderType, limitPrice, reason)
		return nil
	}

	req := broker.OrderRequest{
		ClientOrderID: broker.NewClientOrderID(play.ID, play.CloseAction(), play.OCCSymbol, qty),
		OCCSymbol:     play.OCCSymbol,
		Underlying:    play.Symbol,
		Action:        play.CloseAction(),
		Quantity:      qty,
		Type:          orderType,
		LimitPrice:    limitPrice,
	}
	order, err := e.broker.SubmitOrder(ctx, req)
	if err != nil {
		if errors.Is(err, broker.ErrRejected) {
			e.logger.Printf("Play %s exit rejected at submit: %v", play.ID, err)
			play.LastError = err.Error()
			return e.store.Save(play)
		}
		return fmt.Errorf("submitting exit for play %s: %w", play.ID, err)
	}

	play.OrphanOrderID = order.ID
	if err := e.store.Save(play); err != nil {
		return fmt.Errorf("recording exit order id for play %s: %w", play.ID, err)
	}

	play.ExitOrderID = order.ID
	play.OrphanOrderID = ""
	play.LastError = ""
	play.Log.CloseReason = string(reason)
	if err := e.store.Transition(play, models.StatePendingClosing, models.ConditionExitFires); err != nil {
		return err
	}
	e.logger.Printf("Play %s exit submitted: order %s reason=%s", play.ID, order.ID, reason)
	return nil
}

// PollClose advances a play whose exit order is working.
func (e *Executor) PollClose(ctx context.Context, play *models.Play) error {
	order, err := e.broker.GetOrder(ctx, play.ExitOrderID)
	if err != nil {
		return fmt.Errorf("polling exit order %s: %w", play.ExitOrderID, err)
	}

	switch order.Status {
	case broker.OrderStatusFilled:
		closePremium := order.AvgFillPrice
		play.Log.ClosePremium = &closePremium
		play.Log.CloseTime = e.clock.Now()
		if err := e.store.Transition(play, models.StateClosed, models.ConditionOrderFilled); err != nil {
			return err
		}
		e.logger.Printf("Play %s closed at %s (%s)", play.ID, closePremium, play.Log.CloseReason)
		return e.store.Archive(play.ID)

	case broker.OrderStatusRejected:
		e.logger.Printf("Play %s exit rejected: %s", play.ID, order.RejectReason)
		play.ExitOrderID = ""
		play.LastError = fmt.Sprintf("exit order rejected: %s", order.RejectReason)
		play.Log.CloseReason = ""
		return e.store.Transition(play, models.StateOpen, models.ConditionOrderRejected)

	case broker.OrderStatusExpired, broker.OrderStatusCanceled:
		e.logger.Printf("Play %s exit day order expired unfilled, position still open", play.ID)
		play.ExitOrderID = ""
		play.Log.CloseReason = ""
		return e.store.Transition(play, models.StateOpen, models.ConditionDayExpired)

	default:
		return nil
	}
}
