// Package mock provides in-memory stand-ins for the broker and market-data
// provider interfaces. Tests and the integration probe script fills, quotes,
// and failures without touching a live venue.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
)

// FillMode controls what happens to submitted orders.
type FillMode int

const (
	// FillImmediately reports every order filled at its limit (or last set
	// fill price) on the first poll.
	FillImmediately FillMode = iota
	// FillNever leaves orders in the open state until ForceStatus is called.
	FillNever
	// RejectAll rejects every submission.
	RejectAll
)

// Broker is an in-memory broker.Broker implementation.
type Broker struct {
	mu        sync.Mutex
	nextID    int
	orders    map[string]*broker.Order
	positions []broker.BrokerPosition
	balances  broker.AccountBalances

	// Mode selects fill behavior for new submissions.
	Mode FillMode
	// FillPrice overrides the fill price when set; otherwise the limit
	// price (or zero for market orders) is used.
	FillPrice decimal.Decimal
	// SubmitErr, when set, is returned from SubmitOrder before any order is
	// recorded.
	SubmitErr error
}

// NewBroker returns a broker with a comfortably funded paper account.
func NewBroker() *Broker {
	return &Broker{
		orders: make(map[string]*broker.Order),
		balances: broker.AccountBalances{
			TotalEquity:       decimal.NewFromInt(100000),
			OptionBuyingPower: decimal.NewFromInt(100000),
			StockBuyingPower:  decimal.NewFromInt(100000),
		},
	}
}

// Name implements broker.Broker.
func (b *Broker) Name() string { return "mock" }

// SetBalances replaces the reported account balances.
func (b *Broker) SetBalances(balances broker.AccountBalances) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = balances
}

// SetPositions replaces the reported positions.
func (b *Broker) SetPositions(positions []broker.BrokerPosition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = positions
}

// SubmitOrder records the order and applies the configured fill mode.
func (b *Broker) SubmitOrder(_ context.Context, req broker.OrderRequest) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.SubmitErr != nil {
		return nil, b.SubmitErr
	}
	if b.Mode == RejectAll {
		return nil, fmt.Errorf("order rejected by venue: %w", broker.ErrRejected)
	}

	b.nextID++
	order := &broker.Order{
		ID:            fmt.Sprintf("mock-%d", b.nextID),
		ClientOrderID: req.ClientOrderID,
		OCCSymbol:     req.OCCSymbol,
		Action:        req.Action,
		Status:        broker.OrderStatusOpen,
		Quantity:      req.Quantity,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if b.Mode == FillImmediately {
		order.Status = broker.OrderStatusFilled
		order.FilledQuantity = req.Quantity
		order.AvgFillPrice = req.LimitPrice
		if !b.FillPrice.IsZero() {
			order.AvgFillPrice = b.FillPrice
		}
	}
	b.orders[order.ID] = order
	return cloneOrder(order), nil
}

// CancelOrder marks a working order canceled.
func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return broker.ErrNotFound
	}
	if !order.Status.Terminal() {
		order.Status = broker.OrderStatusCanceled
		order.UpdatedAt = time.Now()
	}
	return nil
}

// GetOrder returns a copy of the recorded order.
func (b *Broker) GetOrder(_ context.Context, orderID string) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return nil, broker.ErrNotFound
	}
	return cloneOrder(order), nil
}

// GetOrders lists every recorded order.
func (b *Broker) GetOrders(_ context.Context) ([]broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out, nil
}

// GetAccount returns the configured balances.
func (b *Broker) GetAccount(_ context.Context) (*broker.AccountBalances, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	balances := b.balances
	return &balances, nil
}

// GetPositions returns the configured positions.
func (b *Broker) GetPositions(_ context.Context) ([]broker.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.BrokerPosition(nil), b.positions...), nil
}

// ForceStatus moves an order to the given status, filling fully when the
// status is filled. Tests drive partial fills by setting fields directly via
// MutateOrder.
func (b *Broker) ForceStatus(orderID string, status broker.OrderStatus, fillPrice decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return broker.ErrNotFound
	}
	order.Status = status
	if status == broker.OrderStatusFilled {
		order.FilledQuantity = order.Quantity
		order.AvgFillPrice = fillPrice
	}
	order.UpdatedAt = time.Now()
	return nil
}

// MutateOrder applies fn to the stored order under the lock.
func (b *Broker) MutateOrder(orderID string, fn func(*broker.Order)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return broker.ErrNotFound
	}
	fn(order)
	return nil
}

// Submitted returns how many orders were accepted.
func (b *Broker) Submitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func cloneOrder(o *broker.Order) *broker.Order {
	clone := *o
	return &clone
}

// Provider is a scriptable marketdata.Provider.
type Provider struct {
	mu           sync.Mutex
	ProviderName string
	Stocks       map[string]*marketdata.StockQuote
	Options      map[string]*marketdata.OptionQuote
	Chains       map[string]*marketdata.Chain // keyed by underlying
	Candles      map[string][]marketdata.Candle
	// Err, when set, is returned from every call. Use marketdata.ErrNoData
	// to exercise the no-data path or any other error for transport failure.
	Err error

	calls int
}

// NewProvider returns an empty provider; lookups miss with ErrNoData.
func NewProvider(name string) *Provider {
	return &Provider{
		ProviderName: name,
		Stocks:       make(map[string]*marketdata.StockQuote),
		Options:      make(map[string]*marketdata.OptionQuote),
		Chains:       make(map[string]*marketdata.Chain),
		Candles:      make(map[string][]marketdata.Candle),
	}
}

// Name implements marketdata.Provider.
func (p *Provider) Name() string { return p.ProviderName }

// Calls reports how many data calls reached this provider.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.Err
}

// SetStock installs a stock quote with the given bid/ask.
func (p *Provider) SetStock(symbol string, bid, ask, last decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Stocks[symbol] = &marketdata.StockQuote{
		Symbol: symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now(),
	}
}

// SetOption installs an option quote with the given bid/ask.
func (p *Provider) SetOption(occSymbol string, bid, ask, last decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Options[occSymbol] = &marketdata.OptionQuote{
		OCCSymbol: occSymbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.Now(),
	}
}

// GetStockQuote implements marketdata.Provider.
func (p *Provider) GetStockQuote(_ context.Context, symbol string) (*marketdata.StockQuote, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.Stocks[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, marketdata.ErrNoData)
	}
	quote := *q
	return &quote, nil
}

// GetOptionQuote implements marketdata.Provider.
func (p *Provider) GetOptionQuote(_ context.Context, occSymbol string) (*marketdata.OptionQuote, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.Options[occSymbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", occSymbol, marketdata.ErrNoData)
	}
	quote := *q
	return &quote, nil
}

// GetOptionChain implements marketdata.Provider.
func (p *Provider) GetOptionChain(_ context.Context, underlying string, expiration models.Date) (*marketdata.Chain, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	chain, ok := p.Chains[underlying]
	if !ok {
		return nil, fmt.Errorf("%s: %w", underlying, marketdata.ErrNoData)
	}
	if !expiration.IsZero() && !chain.Expiration.IsZero() && !chain.Expiration.Equal(expiration) {
		return nil, fmt.Errorf("%s %s: %w", underlying, expiration, marketdata.ErrNoData)
	}
	clone := *chain
	return &clone, nil
}

// GetHistoricalOptionQuote implements marketdata.Provider; it serves the same
// quotes as the live lookup.
func (p *Provider) GetHistoricalOptionQuote(ctx context.Context, occSymbol string, _ models.Date) (*marketdata.OptionQuote, error) {
	return p.GetOptionQuote(ctx, occSymbol)
}

// GetHistoricalCandles implements marketdata.Provider.
func (p *Provider) GetHistoricalCandles(_ context.Context, symbol string, _, _ models.Date) ([]marketdata.Candle, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	candles, ok := p.Candles[symbol]
	if !ok {
		return nil, fmt.Errorf("%s candles: %w", symbol, marketdata.ErrNoData)
	}
	return append([]marketdata.Candle(nil), candles...), nil
}

var (
	_ broker.Broker       = (*Broker)(nil)
	_ marketdata.Provider = (*Provider)(nil)
)
