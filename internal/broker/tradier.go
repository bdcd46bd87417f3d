package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	tradierProdURL    = "https://api.tradier.com"
	tradierSandboxURL = "https://sandbox.tradier.com"
)

// TradierBroker places and tracks single-leg option orders against one
// Tradier account.
type TradierBroker struct {
	http      *resty.Client
	accountID string
	name      string
}

// NewTradierBroker builds a broker client. Sandbox selects the paper-trading
// environment.
func NewTradierBroker(name, apiKey, accountID string, sandbox bool) *TradierBroker {
	baseURL := tradierProdURL
	if sandbox {
		baseURL = tradierSandboxURL
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		// Submissions are not retried here: a timed-out POST may have
		// succeeded, and the reconciler handles that case.
		SetAuthToken(apiKey).
		SetHeader("Accept", "application/json")

	return &TradierBroker{http: httpClient, accountID: accountID, name: name}
}

// Name implements Broker.
func (t *TradierBroker) Name() string { return t.name }

func tradierSide(action models.OrderAction) (string, error) {
	switch action {
	case models.BuyToOpen:
		return "buy_to_open", nil
	case models.SellToClose:
		return "sell_to_close", nil
	case models.SellToOpen:
		return "sell_to_open", nil
	case models.BuyToClose:
		return "buy_to_close", nil
	default:
		return "", fmt.Errorf("unknown order action %q", action)
	}
}

func fromTradierSide(side string) models.OrderAction {
	switch side {
	case "buy_to_open":
		return models.BuyToOpen
	case "sell_to_close":
		return models.SellToClose
	case "sell_to_open":
		return models.SellToOpen
	case "buy_to_close":
		return models.BuyToClose
	}
	return ""
}

func fromTradierStatus(status string) OrderStatus {
	switch status {
	case "filled":
		return OrderStatusFilled
	case "partially_filled":
		return OrderStatusPartiallyFilled
	case "canceled":
		return OrderStatusCanceled
	case "rejected", "error":
		return OrderStatusRejected
	case "expired":
		return OrderStatusExpired
	case "open":
		return OrderStatusOpen
	default:
		// pending, submitted, calculated, held
		return OrderStatusPending
	}
}

type tradierOrder struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	Side              string          `json:"side"`
	OptionSymbol      string          `json:"option_symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	ExecQuantity      decimal.Decimal `json:"exec_quantity"`
	AvgFillPrice      decimal.Decimal `json:"avg_fill_price"`
	Tag               string          `json:"tag"`
	ReasonDescription string          `json:"reason_description"`
	CreateDate        string          `json:"create_date"`
	TransactionDate   string          `json:"transaction_date"`
}

func (o *tradierOrder) toOrder() *Order {
	ord := &Order{
		ID:             strconv.FormatInt(o.ID, 10),
		ClientOrderID:  o.Tag,
		OCCSymbol:      o.OptionSymbol,
		Action:         fromTradierSide(o.Side),
		Status:         fromTradierStatus(o.Status),
		Quantity:       int(o.Quantity.IntPart()),
		FilledQuantity: int(o.ExecQuantity.IntPart()),
		AvgFillPrice:   o.AvgFillPrice,
		RejectReason:   o.ReasonDescription,
	}
	if ts, err := time.Parse(time.RFC3339, o.CreateDate); err == nil {
		ord.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, o.TransactionDate); err == nil {
		ord.UpdatedAt = ts
	}
	return ord
}

// orderList tolerates Tradier returning a single object where an array is
// documented, and the literal string "null" when the account has none.
type orderList []tradierOrder

func (l *orderList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte(`"null"`)) || bytes.Equal(b, []byte(`null`)) {
		*l = nil
		return nil
	}
	var many []tradierOrder
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one tradierOrder
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = orderList{one}
	return nil
}

func apiErr(resp *resty.Response) error {
	return &APIError{Status: resp.StatusCode(), Body: resp.String()}
}

// SubmitOrder implements Broker. A broker-side rejection returns the order
// together with ErrRejected so the caller can record the reason.
func (t *TradierBroker) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	side, err := tradierSide(req.Action)
	if err != nil {
		return nil, err
	}
	duration := req.Duration
	if duration == "" {
		duration = "day"
	}
	form := map[string]string{
		"class":         "option",
		"symbol":        req.Underlying,
		"option_symbol": req.OCCSymbol,
		"side":          side,
		"quantity":      strconv.Itoa(req.Quantity),
		"type":          string(req.Type),
		"duration":      duration,
		"tag":           req.ClientOrderID,
	}
	if req.Type == OrderTypeLimit {
		form["price"] = req.LimitPrice.StringFixed(2)
	}
	if req.Preview {
		form["preview"] = "true"
	}

	var result struct {
		Order struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
		Errors struct {
			Error []string `json:"error"`
		} `json:"errors"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		Post("/v1/accounts/" + t.accountID + "/orders")
	if err != nil {
		return nil, fmt.Errorf("submit order: %w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		if len(result.Errors.Error) > 0 {
			return nil, fmt.Errorf("submit order: %w: %v", ErrRejected, result.Errors.Error)
		}
		return nil, fmt.Errorf("submit order: %w", apiErr(resp))
	}
	if len(result.Errors.Error) > 0 {
		return nil, fmt.Errorf("submit order: %w: %v", ErrRejected, result.Errors.Error)
	}

	return &Order{
		ID:            strconv.FormatInt(result.Order.ID, 10),
		ClientOrderID: req.ClientOrderID,
		OCCSymbol:     req.OCCSymbol,
		Action:        req.Action,
		Status:        fromTradierStatus(result.Order.Status),
		Quantity:      req.Quantity,
		CreatedAt:     time.Now(),
	}, nil
}

// CancelOrder implements Broker. Canceling an already-terminal order is not
// an error.
func (t *TradierBroker) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		Delete("/v1/accounts/" + t.accountID + "/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w: %v", orderID, ErrUnavailable, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("cancel order %s: %w", orderID, ErrNotFound)
	default:
		return fmt.Errorf("cancel order %s: %w", orderID, apiErr(resp))
	}
}

// GetOrder implements Broker.
func (t *TradierBroker) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var result struct {
		Order tradierOrder `json:"order"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/accounts/" + t.accountID + "/orders/" + orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w: %v", orderID, ErrUnavailable, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return result.Order.toOrder(), nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("get order %s: %w", orderID, ErrNotFound)
	default:
		return nil, fmt.Errorf("get order %s: %w", orderID, apiErr(resp))
	}
}

// GetOrders implements Broker. Returns the account's recent orders for
// reconciliation.
func (t *TradierBroker) GetOrders(ctx context.Context) ([]Order, error) {
	var result struct {
		Orders struct {
			Order orderList `json:"order"`
		} `json:"orders"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/accounts/" + t.accountID + "/orders")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get orders: %w", apiErr(resp))
	}
	orders := make([]Order, 0, len(result.Orders.Order))
	for i := range result.Orders.Order {
		orders = append(orders, *result.Orders.Order[i].toOrder())
	}
	return orders, nil
}

// GetAccount implements Broker.
func (t *TradierBroker) GetAccount(ctx context.Context) (*AccountBalances, error) {
	var result struct {
		Balances struct {
			TotalEquity   decimal.Decimal `json:"total_equity"`
			PendingOrders decimal.Decimal `json:"pending_orders_count"`
			Margin        *struct {
				OptionBuyingPower decimal.Decimal `json:"option_buying_power"`
				StockBuyingPower  decimal.Decimal `json:"stock_buying_power"`
			} `json:"margin"`
			Cash *struct {
				CashAvailable  decimal.Decimal `json:"cash_available"`
				UnsettledFunds decimal.Decimal `json:"unsettled_funds"`
			} `json:"cash"`
		} `json:"balances"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/accounts/" + t.accountID + "/balances")
	if err != nil {
		return nil, fmt.Errorf("get balances: %w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get balances: %w", apiErr(resp))
	}

	bal := &AccountBalances{TotalEquity: result.Balances.TotalEquity}
	if m := result.Balances.Margin; m != nil {
		bal.OptionBuyingPower = m.OptionBuyingPower
		bal.StockBuyingPower = m.StockBuyingPower
	}
	if c := result.Balances.Cash; c != nil {
		// Cash accounts: settled cash is the option buying power.
		bal.OptionBuyingPower = c.CashAvailable
		bal.StockBuyingPower = c.CashAvailable
		bal.UnsettledFunds = c.UnsettledFunds
	}
	return bal, nil
}

type tradierPosition struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	DateAcquired string          `json:"date_acquired"`
}

type positionList []tradierPosition

func (l *positionList) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte(`"null"`)) || bytes.Equal(b, []byte(`null`)) {
		*l = nil
		return nil
	}
	var many []tradierPosition
	if err := json.Unmarshal(b, &many); err == nil {
		*l = many
		return nil
	}
	var one tradierPosition
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = positionList{one}
	return nil
}

// GetPositions implements Broker.
func (t *TradierBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var result struct {
		Positions json.RawMessage `json:"positions"`
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/accounts/" + t.accountID + "/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: %w", apiErr(resp))
	}
	if bytes.Equal(result.Positions, []byte(`"null"`)) || len(result.Positions) == 0 {
		return nil, nil
	}

	var wrapper struct {
		Position positionList `json:"position"`
	}
	if err := json.Unmarshal(result.Positions, &wrapper); err != nil {
		return nil, fmt.Errorf("get positions: decode: %w", err)
	}
	positions := make([]BrokerPosition, 0, len(wrapper.Position))
	for _, p := range wrapper.Position {
		bp := BrokerPosition{
			Symbol:    p.Symbol,
			Quantity:  int(p.Quantity.IntPart()),
			CostBasis: p.CostBasis,
		}
		if ts, err := time.Parse(time.RFC3339, p.DateAcquired); err == nil {
			bp.Acquired = ts
		}
		positions = append(positions, bp)
	}
	return positions, nil
}

var _ Broker = (*TradierBroker)(nil)
