package broker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType is the broker-level order pricing mode.
type OrderType string

const (
	// OrderTypeMarket executes at the prevailing price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimit executes at the limit price or better.
	OrderTypeLimit OrderType = "limit"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderRequest describes a single-leg option order.
type OrderRequest struct {
	ClientOrderID string
	OCCSymbol     string
	Underlying    string
	Action        models.OrderAction
	Quantity      int
	Type          OrderType
	LimitPrice    decimal.Decimal // per contract, for limit orders
	Duration      string          // "day" unless stated otherwise
	Preview       bool
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	OCCSymbol      string
	Action         models.OrderAction
	Status         OrderStatus
	Quantity       int
	FilledQuantity int
	AvgFillPrice   decimal.Decimal
	RejectReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AccountBalances is the subset of account state the risk gate needs.
type AccountBalances struct {
	TotalEquity        decimal.Decimal
	OptionBuyingPower  decimal.Decimal
	StockBuyingPower   decimal.Decimal
	UnsettledFunds     decimal.Decimal
	PendingOrdersValue decimal.Decimal
}

// BrokerPosition is one open position as the broker reports it, used to
// reconcile against local records.
type BrokerPosition struct {
	Symbol    string
	Quantity  int // negative for short
	CostBasis decimal.Decimal
	Acquired  time.Time
}

// NewClientOrderID derives a deterministic-prefix, unique order tag from the
// order's identity. The hash prefix lets logs correlate retries of the same
// intent; the nonce keeps the broker from deduplicating distinct submissions.
func NewClientOrderID(playID string, action models.OrderAction, occSymbol string, quantity int) string {
	canonical := fmt.Sprintf("%s|%s|%s|%d", playID, action, occSymbol, quantity)
	sum := sha256.Sum256([]byte(canonical))

	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("gf-%s-%s", hex.EncodeToString(sum[:5]), nonce)
}
