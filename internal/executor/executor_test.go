package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/evaluator"
	"github.com/Zaroganos/goldflipper/internal/marketclock"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/mock"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/Zaroganos/goldflipper/internal/playstore"
	"github.com/Zaroganos/goldflipper/internal/risk"
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

// stubQuotes serves one fixed quote per instrument kind.
type stubQuotes struct {
	stock  *marketdata.StockQuote
	option *marketdata.OptionQuote
	greeks *marketdata.Greeks
}

func (s *stubQuotes) GetStockQuote(_ context.Context, symbol string) (*marketdata.StockQuote, error) {
	if s.stock == nil {
		return nil, fmt.Errorf("%s: %w", symbol, marketdata.ErrNoData)
	}
	return s.stock, nil
}

func (s *stubQuotes) GetOptionQuote(_ context.Context, occSymbol string) (*marketdata.OptionQuote, error) {
	if s.option == nil {
		return nil, fmt.Errorf("%s: %w", occSymbol, marketdata.ErrNoData)
	}
	return s.option, nil
}

func (s *stubQuotes) GetGreeks(_ context.Context, occSymbol string) (*marketdata.Greeks, error) {
	if s.greeks == nil {
		return nil, fmt.Errorf("%s: %w", occSymbol, marketdata.ErrNoData)
	}
	return s.greeks, nil
}

var _ QuoteSource = (*stubQuotes)(nil)

func defaultQuotes() *stubQuotes {
	return &stubQuotes{
		stock:  &marketdata.StockQuote{Symbol: "SPY", Bid: dec("499.98"), Ask: dec("500.02"), Last: dec("500")},
		option: &marketdata.OptionQuote{Bid: dec("5.90"), Ask: dec("6.10"), Last: dec("6.00")},
		greeks: &marketdata.Greeks{Delta: 0.52, Theta: -0.05},
	}
}

func frozenClock(t *testing.T, at time.Time) *marketclock.Clock {
	t.Helper()
	c, err := marketclock.New("America/New_York", marketclock.WithNowFunc(func() time.Time { return at }))
	require.NoError(t, err)
	return c
}

func midSession(t *testing.T) *marketclock.Clock {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return frozenClock(t, time.Date(2025, 6, 10, 11, 0, 0, 0, loc))
}

type fixture struct {
	exec   *Executor
	store  *playstore.FileStore
	broker *mock.Broker
	quotes *stubQuotes
	dir    string
}

func newFixture(t *testing.T, clock *marketclock.Clock, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := playstore.New(dir, nil)
	require.NoError(t, err)
	b := mock.NewBroker()
	quotes := defaultQuotes()
	logger := log.New(os.Stderr, "[EXEC-TEST] ", log.LstdFlags)
	exec := New(store, b, quotes, risk.NewGate(risk.Limits{}), clock, logger, opts)
	return &fixture{exec: exec, store: store, broker: b, quotes: quotes, dir: dir}
}

func longPlay(id string, contracts int) *models.Play {
	p := models.NewPlay(id, "manual-swings", "SPY", models.OptionCall, dec("500"),
		models.NewDate(2030, time.June, 21), contracts)
	p.Entry.TargetStockPrice = dec("498")
	p.Entry.Buffer = dec("0.5")
	p.TakeProfit = models.TakeProfitSpec{Mode: models.TPSingle, Premium: decPtr("9.00")}
	p.StopLoss = models.StopLossSpec{Mode: models.SLStop, StockPrice: decPtr("492")}
	return p
}

func shortPutPlay(id string, contracts int) *models.Play {
	p := models.NewPlay(id, "short-puts", "SPY", models.OptionPut, dec("450"),
		models.NewDate(2030, time.June, 21), contracts)
	p.PositionSide = models.Short
	p.OrderAction = models.SellToOpen
	p.Entry.TargetStockPrice = dec("455")
	p.Entry.Buffer = dec("1")
	p.TakeProfit = models.TakeProfitSpec{Mode: models.TPSingle, Premium: decPtr("2.50")}
	p.StopLoss = models.StopLossSpec{Mode: models.SLStop, StockPrice: decPtr("440")}
	return p
}

// seedOpen persists a play and walks it to OPEN the way a real fill would.
func seedOpen(t *testing.T, f *fixture, p *models.Play) {
	t.Helper()
	require.NoError(t, f.store.Save(p))
	p.EntryOrderID = "seed-entry"
	require.NoError(t, f.store.Transition(p, models.StatePendingOpening, models.ConditionEntryFires))
	p.EntryPremium = decPtr("5.00")
	p.FilledContracts = p.Contracts
	p.EntryOrderID = ""
	require.NoError(t, f.store.Transition(p, models.StateOpen, models.ConditionOrderFilled))
}

func entrySpec() evaluator.OrderSpec {
	return evaluator.OrderSpec{Action: models.BuyToOpen, PriceRef: models.RefMid}
}

func TestOpenSubmitsAndTransitions(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	require.NoError(t, f.store.Save(p))

	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))

	assert.Equal(t, models.StatePendingOpening, p.State)
	assert.Equal(t, "mock-1", p.EntryOrderID)
	assert.Empty(t, p.OrphanOrderID, "orphan id is cleared once the transition lands")

	loaded, err := f.store.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingOpening, loaded.State)
	assert.Equal(t, "mock-1", loaded.EntryOrderID)
}

func TestOpenDeniedByRiskGate(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.SetBalances(broker.AccountBalances{
		TotalEquity:       dec("100000"),
		OptionBuyingPower: dec("100"),
	})
	p := longPlay("p1", 1)
	require.NoError(t, f.store.Save(p))

	// Denial is a normal outcome, not an error: the play stays NEW with the
	// reason recorded.
	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))
	assert.Equal(t, models.StateNew, p.State)
	assert.Contains(t, p.LastError, "insufficient options buying power")
	assert.Equal(t, 0, f.broker.Submitted())

	loaded, err := f.store.Load("p1")
	require.NoError(t, err)
	assert.Contains(t, loaded.LastError, "insufficient options buying power")
}

func TestOpenDryRunSubmitsNothing(t *testing.T) {
	f := newFixture(t, midSession(t), Options{DryRun: true})
	p := longPlay("p1", 1)
	require.NoError(t, f.store.Save(p))

	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))
	assert.Equal(t, models.StateNew, p.State)
	assert.Equal(t, 0, f.broker.Submitted())
}

func TestOpenRejectsWrongState(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	p := longPlay("p1", 1)
	seedOpen(t, f, p)
	assert.Error(t, f.exec.Open(context.Background(), p, entrySpec()))
}

func TestPollOpenFilled(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	require.NoError(t, f.store.Save(p))
	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))

	require.NoError(t, f.broker.ForceStatus(p.EntryOrderID, broker.OrderStatusFilled, dec("6.05")))
	require.NoError(t, f.exec.Apply(context.Background(), p, evaluator.Decision{}))

	assert.Equal(t, models.StateOpen, p.State)
	require.NotNil(t, p.EntryPremium)
	assert.True(t, p.EntryPremium.Equal(dec("6.05")))
	assert.Equal(t, 1, p.FilledContracts)
	require.NotNil(t, p.Log.OpenStock)
	assert.True(t, p.Log.OpenStock.Equal(dec("500")))
	assert.InDelta(t, 0.52, p.Log.DeltaAtOpen, 1e-9)
}

func TestPollOpenRejected(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	require.NoError(t, f.store.Save(p))
	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))

	require.NoError(t, f.broker.MutateOrder(p.EntryOrderID, func(o *broker.Order) {
		o.Status = broker.OrderStatusRejected
		o.RejectReason = "margin call"
	}))
	require.NoError(t, f.exec.PollOpen(context.Background(), p))

	assert.Equal(t, models.StateNew, p.State)
	assert.Empty(t, p.EntryOrderID)
	assert.Contains(t, p.LastError, "margin call")
}

func TestPollOpenDayOrderExpired(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	require.NoError(t, f.store.Save(p))
	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))

	require.NoError(t, f.broker.ForceStatus(p.EntryOrderID, broker.OrderStatusExpired, decimal.Zero))
	require.NoError(t, f.exec.PollOpen(context.Background(), p))
	assert.Equal(t, models.StateExpired, p.State)
}

func TestPollOpenPartialFillMidSessionWaits(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 2)
	require.NoError(t, f.store.Save(p))
	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))

	require.NoError(t, f.broker.MutateOrder(p.EntryOrderID, func(o *broker.Order) {
		o.Status = broker.OrderStatusPartiallyFilled
		o.FilledQuantity = 1
		o.AvgFillPrice = dec("6.00")
	}))
	require.NoError(t, f.exec.PollOpen(context.Background(), p))
	assert.Equal(t, models.StatePendingOpening, p.State, "partial fill keeps working mid-session")
}

func TestPollOpenPartialFillAtCloseCutsRemainder(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	f := newFixture(t, frozenClock(t, time.Date(2025, 6, 10, 15, 58, 0, 0, loc)), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 2)
	require.NoError(t, f.store.Save(p))
	require.NoError(t, f.exec.Open(context.Background(), p, entrySpec()))
	orderID := p.EntryOrderID

	require.NoError(t, f.broker.MutateOrder(orderID, func(o *broker.Order) {
		o.Status = broker.OrderStatusPartiallyFilled
		o.FilledQuantity = 1
		o.AvgFillPrice = dec("6.00")
	}))
	require.NoError(t, f.exec.PollOpen(context.Background(), p))

	assert.Equal(t, models.StateOpen, p.State)
	assert.Equal(t, 1, p.FilledContracts, "position size is the filled quantity")
	canceled, err := f.broker.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, broker.OrderStatusCanceled, canceled.Status)
}

// raceCancelBroker fills the whole order when asked to cancel it, the way a
// live venue can when the cancel arrives after the fill.
type raceCancelBroker struct {
	*mock.Broker
}

func (b *raceCancelBroker) CancelOrder(_ context.Context, orderID string) error {
	return b.MutateOrder(orderID, func(o *broker.Order) {
		o.Status = broker.OrderStatusFilled
		o.FilledQuantity = o.Quantity
		o.AvgFillPrice = dec("6.00")
	})
}

func TestPollOpenPartialFillCancelRacesFill(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	clock := frozenClock(t, time.Date(2025, 6, 10, 15, 58, 0, 0, loc))

	dir := t.TempDir()
	store, err := playstore.New(dir, nil)
	require.NoError(t, err)
	inner := mock.NewBroker()
	inner.Mode = mock.FillNever
	b := &raceCancelBroker{Broker: inner}
	logger := log.New(os.Stderr, "[EXEC-TEST] ", log.LstdFlags)
	exec := New(store, b, defaultQuotes(), risk.NewGate(risk.Limits{}), clock, logger, Options{})

	p := longPlay("p1", 2)
	require.NoError(t, store.Save(p))
	require.NoError(t, exec.Open(context.Background(), p, entrySpec()))

	require.NoError(t, inner.MutateOrder(p.EntryOrderID, func(o *broker.Order) {
		o.Status = broker.OrderStatusPartiallyFilled
		o.FilledQuantity = 1
		o.AvgFillPrice = dec("6.00")
	}))
	require.NoError(t, exec.PollOpen(context.Background(), p))

	// The remainder filled while the cancel was in flight: the post-cancel
	// poll is authoritative, so both contracts are on the book.
	assert.Equal(t, models.StateOpen, p.State)
	assert.Equal(t, 2, p.FilledContracts)
}

func TestCloseSubmitsExit(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	seedOpen(t, f, p)

	spec := evaluator.OrderSpec{Action: models.SellToClose, Market: true}
	require.NoError(t, f.exec.Close(context.Background(), p, evaluator.ReasonStopLoss, spec))

	assert.Equal(t, models.StatePendingClosing, p.State)
	assert.NotEmpty(t, p.ExitOrderID)
	assert.Equal(t, "SL", p.Log.CloseReason)
}

func TestCloseOptionExpiredSkipsBroker(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	p := longPlay("p1", 1)
	seedOpen(t, f, p)

	require.NoError(t, f.exec.Close(context.Background(), p,
		evaluator.ReasonOptionExpired, evaluator.OrderSpec{Market: true}))
	assert.Equal(t, models.StateExpired, p.State)
	assert.Equal(t, 0, f.broker.Submitted())
}

func TestPollCloseFilledArchives(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	seedOpen(t, f, p)
	spec := evaluator.OrderSpec{Action: models.SellToClose, Market: true}
	require.NoError(t, f.exec.Close(context.Background(), p, evaluator.ReasonTakeProfit, spec))

	require.NoError(t, f.broker.ForceStatus(p.ExitOrderID, broker.OrderStatusFilled, dec("9.10")))
	require.NoError(t, f.exec.PollClose(context.Background(), p))

	assert.Equal(t, models.StateClosed, p.State)
	require.NotNil(t, p.Log.ClosePremium)
	assert.True(t, p.Log.ClosePremium.Equal(dec("9.10")))

	_, err := os.Stat(filepath.Join(f.dir, "archive", "closed", "p1.json"))
	require.NoError(t, err, "closed play is archived")
}

func TestPollCloseRejectedReopens(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	seedOpen(t, f, p)
	spec := evaluator.OrderSpec{Action: models.SellToClose, Market: true}
	require.NoError(t, f.exec.Close(context.Background(), p, evaluator.ReasonStopLoss, spec))

	require.NoError(t, f.broker.MutateOrder(p.ExitOrderID, func(o *broker.Order) {
		o.Status = broker.OrderStatusRejected
		o.RejectReason = "no position"
	}))
	require.NoError(t, f.exec.PollClose(context.Background(), p))

	assert.Equal(t, models.StateOpen, p.State)
	assert.Empty(t, p.ExitOrderID)
	assert.Empty(t, p.Log.CloseReason, "stale exit reason does not linger")
}

func TestPollCloseDayOrderExpiredReopens(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	p := longPlay("p1", 1)
	seedOpen(t, f, p)
	spec := evaluator.OrderSpec{Action: models.SellToClose, Market: true}
	require.NoError(t, f.exec.Close(context.Background(), p, evaluator.ReasonTakeProfit, spec))

	require.NoError(t, f.broker.ForceStatus(p.ExitOrderID, broker.OrderStatusExpired, decimal.Zero))
	require.NoError(t, f.exec.PollClose(context.Background(), p))
	assert.Equal(t, models.StateOpen, p.State)
}

func TestReconcileOrphanEntryFilled(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	ctx := context.Background()

	// Simulate a crash between submit and transition: the order exists at the
	// broker and its id sits in orphan_order_id on a NEW play.
	order, err := f.broker.SubmitOrder(ctx, broker.OrderRequest{
		OCCSymbol: "SPY300621C00500000", Action: models.BuyToOpen, Quantity: 1,
		Type: broker.OrderTypeLimit, LimitPrice: dec("6.00"),
	})
	require.NoError(t, err)
	require.NoError(t, f.broker.ForceStatus(order.ID, broker.OrderStatusFilled, dec("6.05")))

	p := longPlay("p1", 1)
	p.OrphanOrderID = order.ID
	require.NoError(t, f.store.Save(p))

	require.NoError(t, f.exec.Reconcile(ctx))

	recovered, err := f.store.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, models.StateOpen, recovered.State)
	assert.Empty(t, recovered.OrphanOrderID)
	require.NotNil(t, recovered.EntryPremium)
	assert.True(t, recovered.EntryPremium.Equal(dec("6.05")))
}

func TestReconcileOrphanUnknownToBroker(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	p := longPlay("p1", 1)
	p.OrphanOrderID = "ghost-order"
	require.NoError(t, f.store.Save(p))

	require.NoError(t, f.exec.Reconcile(context.Background()))

	loaded, err := f.store.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, models.StateNew, loaded.State)
	assert.Empty(t, loaded.OrphanOrderID)
}

func TestReconcileOrphanEntryStillWorking(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.Mode = mock.FillNever
	ctx := context.Background()

	order, err := f.broker.SubmitOrder(ctx, broker.OrderRequest{
		OCCSymbol: "SPY300621C00500000", Action: models.BuyToOpen, Quantity: 1,
		Type: broker.OrderTypeLimit, LimitPrice: dec("6.00"),
	})
	require.NoError(t, err)

	p := longPlay("p1", 1)
	p.OrphanOrderID = order.ID
	require.NoError(t, f.store.Save(p))

	require.NoError(t, f.exec.Reconcile(ctx))

	loaded, err := f.store.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingOpening, loaded.State, "interrupted transition is replayed")
	assert.Equal(t, order.ID, loaded.EntryOrderID)
}

func TestRollReplacesContract(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	f.broker.FillPrice = dec("3.20")
	p := shortPutPlay("p1", 1)
	seedOpen(t, f, p)
	p.Peak = decPtr("4.00")
	p.TrailLevel = decPtr("4.40")

	target := RollTarget{
		OCCSymbol:  "SPY300920P00445000",
		Strike:     dec("445"),
		Expiration: models.NewDate(2030, time.September, 20),
	}
	require.NoError(t, f.exec.Roll(context.Background(), p, target))

	assert.Equal(t, models.StateOpen, p.State)
	assert.Equal(t, target.OCCSymbol, p.OCCSymbol)
	assert.True(t, p.Strike.Equal(dec("445")))
	assert.Equal(t, 1, p.RollCount)
	require.NotNil(t, p.EntryPremium)
	assert.True(t, p.EntryPremium.Equal(dec("3.20")), "basis resets to the new credit")
	assert.Nil(t, p.Peak, "trail state resets with the new contract")
	assert.Nil(t, p.TrailLevel)
	assert.Equal(t, 2, f.broker.Submitted(), "one close leg, one open leg")
}

func TestRollIsShortOnly(t *testing.T) {
	f := newFixture(t, midSession(t), Options{})
	p := longPlay("p1", 1)
	seedOpen(t, f, p)
	err := f.exec.Roll(context.Background(), p, RollTarget{OCCSymbol: "SPY300920C00510000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short-only")
}

// rollBroker fills the close leg but rejects the open leg, forcing the
// flat-after-close abort path.
type rollBroker struct {
	*mock.Broker
}

func (b *rollBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	if req.Action == models.SellToOpen {
		return nil, fmt.Errorf("venue refused open leg: %w", broker.ErrRejected)
	}
	return b.Broker.SubmitOrder(ctx, req)
}

// rollRaceBroker reports the open leg canceled on the first poll and filled
// afterwards, modeling a cancel that loses the race to a fill.
type rollRaceBroker struct {
	*mock.Broker
	mu    sync.Mutex
	stoID string
	polls int
}

func (b *rollRaceBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	order, err := b.Broker.SubmitOrder(ctx, req)
	if err == nil && req.Action == models.SellToOpen {
		b.mu.Lock()
		b.stoID = order.ID
		b.mu.Unlock()
	}
	return order, err
}

func (b *rollRaceBroker) GetOrder(ctx context.Context, orderID string) (*broker.Order, error) {
	order, err := b.Broker.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if orderID == b.stoID {
		b.polls++
		if b.polls == 1 {
			order.Status = broker.OrderStatusCanceled
			order.FilledQuantity = 0
		}
	}
	return order, nil
}

func TestRollCompletesWhenCancelRacesFill(t *testing.T) {
	dir := t.TempDir()
	store, err := playstore.New(dir, nil)
	require.NoError(t, err)
	inner := mock.NewBroker()
	inner.FillPrice = dec("3.20")
	b := &rollRaceBroker{Broker: inner}
	logger := log.New(os.Stderr, "[EXEC-TEST] ", log.LstdFlags)
	exec := New(store, b, defaultQuotes(), risk.NewGate(risk.Limits{}), midSession(t), logger, Options{})

	p := shortPutPlay("p1", 1)
	require.NoError(t, store.Save(p))
	p.EntryOrderID = "seed-entry"
	require.NoError(t, store.Transition(p, models.StatePendingOpening, models.ConditionEntryFires))
	p.EntryPremium = decPtr("5.00")
	p.FilledContracts = 1
	p.EntryOrderID = ""
	require.NoError(t, store.Transition(p, models.StateOpen, models.ConditionOrderFilled))

	target := RollTarget{
		OCCSymbol:  "SPY300920P00445000",
		Strike:     dec("445"),
		Expiration: models.NewDate(2030, time.September, 20),
	}
	require.NoError(t, exec.Roll(context.Background(), p, target))

	// The first poll said canceled, but the post-cancel poll found the fill:
	// the roll completes instead of aborting with a live position orphaned.
	assert.Equal(t, models.StateOpen, p.State)
	assert.Equal(t, target.OCCSymbol, p.OCCSymbol)
	assert.Equal(t, 1, p.RollCount)
}

func TestRollAbortsWhenOpenLegFails(t *testing.T) {
	dir := t.TempDir()
	store, err := playstore.New(dir, nil)
	require.NoError(t, err)
	inner := mock.NewBroker()
	inner.FillPrice = dec("5.40")
	b := &rollBroker{Broker: inner}
	logger := log.New(os.Stderr, "[EXEC-TEST] ", log.LstdFlags)
	exec := New(store, b, defaultQuotes(), risk.NewGate(risk.Limits{}), midSession(t), logger, Options{})

	p := shortPutPlay("p1", 1)
	require.NoError(t, store.Save(p))
	p.EntryOrderID = "seed-entry"
	require.NoError(t, store.Transition(p, models.StatePendingOpening, models.ConditionEntryFires))
	p.EntryPremium = decPtr("5.00")
	p.FilledContracts = 1
	p.EntryOrderID = ""
	require.NoError(t, store.Transition(p, models.StateOpen, models.ConditionOrderFilled))

	target := RollTarget{
		OCCSymbol:  "SPY300920P00445000",
		Strike:     dec("445"),
		Expiration: models.NewDate(2030, time.September, 20),
	}
	require.NoError(t, exec.Roll(context.Background(), p, target))

	assert.Equal(t, models.StateClosed, p.State)
	assert.Equal(t, "roll_aborted", p.Log.CloseReason)
	assert.Contains(t, p.LastError, "roll aborted")
	require.NotNil(t, p.Log.ClosePremium)
	assert.True(t, p.Log.ClosePremium.Equal(dec("5.40")), "debit paid to close is recorded")

	_, statErr := os.Stat(filepath.Join(dir, "archive", "closed", "p1.json"))
	require.NoError(t, statErr, "aborted roll is archived like any closed play")
}
