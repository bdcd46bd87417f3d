package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SharesPerContract is the standard US equity option multiplier.
const SharesPerContract = 100

// OptionSide is the contract type.
type OptionSide string

const (
	// OptionCall is a call contract.
	OptionCall OptionSide = "CALL"
	// OptionPut is a put contract.
	OptionPut OptionSide = "PUT"
)

// Valid reports whether the side is a defined value.
func (s OptionSide) Valid() bool { return s == OptionCall || s == OptionPut }

// PositionSide says whether the play opens by buying or selling premium.
type PositionSide string

const (
	// Long opens with BTO and closes with STC.
	Long PositionSide = "LONG"
	// Short opens with STO and closes with BTC.
	Short PositionSide = "SHORT"
)

// Valid reports whether the position side is a defined value.
func (s PositionSide) Valid() bool { return s == Long || s == Short }

// OrderAction is the broker-facing intent of an order.
type OrderAction string

const (
	// BuyToOpen opens a long option position.
	BuyToOpen OrderAction = "BTO"
	// SellToClose closes a long option position.
	SellToClose OrderAction = "STC"
	// SellToOpen opens a short option position.
	SellToOpen OrderAction = "STO"
	// BuyToClose closes a short option position.
	BuyToClose OrderAction = "BTC"
)

// Valid reports whether the action is a defined value.
func (a OrderAction) Valid() bool {
	switch a {
	case BuyToOpen, SellToClose, SellToOpen, BuyToClose:
		return true
	default:
		return false
	}
}

// PriceRef selects which quote field a rule reads.
type PriceRef string

const (
	// RefLast uses the last trade price.
	RefLast PriceRef = "last"
	// RefBid uses the bid.
	RefBid PriceRef = "bid"
	// RefAsk uses the ask.
	RefAsk PriceRef = "ask"
	// RefMid uses the bid/ask midpoint.
	RefMid PriceRef = "mid"
)

// Valid reports whether the reference is a defined value.
func (r PriceRef) Valid() bool {
	switch r {
	case RefLast, RefBid, RefAsk, RefMid:
		return true
	default:
		return false
	}
}

// OrderTypePolicy controls how the executor prices an order.
type OrderTypePolicy string

const (
	// OrderMarket submits a market order.
	OrderMarket OrderTypePolicy = "market"
	// OrderLimitAtBid submits a limit priced at the bid.
	OrderLimitAtBid OrderTypePolicy = "limit_at_bid"
	// OrderLimitAtAsk submits a limit priced at the ask.
	OrderLimitAtAsk OrderTypePolicy = "limit_at_ask"
	// OrderLimitAtMid submits a limit priced at the midpoint.
	OrderLimitAtMid OrderTypePolicy = "limit_at_mid"
	// OrderLimitAtLast submits a limit priced at the last trade.
	OrderLimitAtLast OrderTypePolicy = "limit_at_last"
)

// Valid reports whether the policy is a defined value.
func (o OrderTypePolicy) Valid() bool {
	switch o {
	case OrderMarket, OrderLimitAtBid, OrderLimitAtAsk, OrderLimitAtMid, OrderLimitAtLast:
		return true
	default:
		return false
	}
}

// TPMode is the take-profit style.
type TPMode string

const (
	// TPSingle exits the whole position at one target.
	TPSingle TPMode = "single"
	// TPMultiple scales out at multiple targets.
	TPMultiple TPMode = "multiple"
	// TPTrailing ratchets the target behind the peak-favorable price.
	TPTrailing TPMode = "trailing"
)

// Valid reports whether the mode is a defined value.
func (m TPMode) Valid() bool { return m == TPSingle || m == TPMultiple || m == TPTrailing }

// SLMode is the stop-loss style.
type SLMode string

const (
	// SLStop exits with a market order when the trigger fires.
	SLStop SLMode = "stop"
	// SLLimit exits with a limit order when the trigger fires.
	SLLimit SLMode = "limit"
	// SLContingency is a limit stop with a looser market-order fallback.
	SLContingency SLMode = "contingency"
	// SLTrailing ratchets the stop behind the peak-favorable price.
	SLTrailing SLMode = "trailing"
)

// Valid reports whether the mode is a defined value.
func (m SLMode) Valid() bool {
	switch m {
	case SLStop, SLLimit, SLContingency, SLTrailing:
		return true
	default:
		return false
	}
}

// TrailType selects how a trail level is derived from the peak.
type TrailType string

const (
	// TrailPercent trails by a percentage of the peak.
	TrailPercent TrailType = "percent"
	// TrailATR trails by ATR(period) times a multiplier.
	TrailATR TrailType = "atr"
	// TrailFixed trails by a fixed dollar amount.
	TrailFixed TrailType = "fixed"
)

// Valid reports whether the trail type is a defined value.
func (t TrailType) Valid() bool { return t == TrailPercent || t == TrailATR || t == TrailFixed }

// Date is a calendar date serialized as YYYY-MM-DD. Expirations are dates in
// exchange-local terms, not instants, so they round-trip without a timezone.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// MarshalJSON renders the date as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// UnmarshalJSON accepts "2006-01-02" and, for older records, RFC3339.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	d.Time = DateOf(t).Time
	return nil
}

// Equal compares calendar dates.
func (d Date) Equal(o Date) bool {
	return d.Year() == o.Year() && d.Month() == o.Month() && d.Day() == o.Day()
}

// EntrySpec declares when and how a play enters.
type EntrySpec struct {
	TargetStockPrice decimal.Decimal `json:"target_stock_price"`
	Buffer           decimal.Decimal `json:"buffer"`
	PriceRef         PriceRef        `json:"price_ref"`
	OrderType        OrderTypePolicy `json:"order_type"`
}

// TrailingConfig tunes a trailing TP or SL.
type TrailingConfig struct {
	Type          TrailType       `json:"type"`
	Percent       decimal.Decimal `json:"percent,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	ATRPeriod     int             `json:"atr_period,omitempty"`
	ATRMultiplier decimal.Decimal `json:"atr_multiplier,omitempty"`
	ActivationPct decimal.Decimal `json:"activation_pct"`
	MinLock       decimal.Decimal `json:"min_lock,omitempty"`
	OnPremium     bool            `json:"on_premium,omitempty"`
}

// TakeProfitSpec declares the profit exit. Any combination of stock-price,
// absolute-premium, and premium-percent triggers may be set.
type TakeProfitSpec struct {
	Mode       TPMode           `json:"mode"`
	StockPrice *decimal.Decimal `json:"stock_price,omitempty"`
	Premium    *decimal.Decimal `json:"premium,omitempty"`
	PremiumPct *decimal.Decimal `json:"premium_pct,omitempty"`
	Trailing   *TrailingConfig  `json:"trailing,omitempty"`
}

// StopLossSpec declares the loss exit, with an optional contingency fallback
// that fires a market exit when the ordinary limit cannot be met.
type StopLossSpec struct {
	Mode                  SLMode           `json:"mode"`
	StockPrice            *decimal.Decimal `json:"stock_price,omitempty"`
	Premium               *decimal.Decimal `json:"premium,omitempty"`
	PremiumPct            *decimal.Decimal `json:"premium_pct,omitempty"`
	ContingencyStockPrice *decimal.Decimal `json:"contingency_stock_price,omitempty"`
	ContingencyRef        PriceRef         `json:"contingency_ref,omitempty"`
	Trailing              *TrailingConfig  `json:"trailing,omitempty"`
}

// TrailPoint is one entry of the per-transition trail history.
type TrailPoint struct {
	Time  time.Time       `json:"time"`
	Peak  decimal.Decimal `json:"peak"`
	Level decimal.Decimal `json:"level"`
}

// TradeLog is the logging record carried through the play lifecycle.
type TradeLog struct {
	OpenTime     time.Time        `json:"open_time,omitempty"`
	CloseTime    time.Time        `json:"close_time,omitempty"`
	OpenStock    *decimal.Decimal `json:"open_stock,omitempty"`
	OpenPremium  *decimal.Decimal `json:"open_premium,omitempty"`
	ClosePremium *decimal.Decimal `json:"close_premium,omitempty"`
	DeltaAtOpen  float64          `json:"delta_at_open,omitempty"`
	ThetaAtOpen  float64          `json:"theta_at_open,omitempty"`
	CloseReason  string           `json:"close_reason,omitempty"`
}

// Play is the atomic unit: one declarative trade with entry, exit, and state.
type Play struct {
	// Identity
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StrategyTag string    `json:"strategy_tag"`
	Creator     string    `json:"creator,omitempty"`

	// Instrument
	Symbol     string          `json:"symbol"`
	OCCSymbol  string          `json:"occ_symbol"`
	OptionSide OptionSide      `json:"option_side"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration Date            `json:"expiration"`

	// Intent
	OrderAction  OrderAction  `json:"order_action"`
	PositionSide PositionSide `json:"position_side"`
	Contracts    int          `json:"contracts"`

	// Rules
	Entry      EntrySpec      `json:"entry"`
	TakeProfit TakeProfitSpec `json:"take_profit"`
	StopLoss   StopLossSpec   `json:"stop_loss"`

	// Runtime
	State              PlayState        `json:"state"`
	EntryOrderID       string           `json:"entry_order_id,omitempty"`
	ExitOrderID        string           `json:"exit_order_id,omitempty"`
	OrphanOrderID      string           `json:"orphan_order_id,omitempty"`
	EntryPremium       *decimal.Decimal `json:"entry_premium,omitempty"`
	FilledContracts    int              `json:"filled_contracts,omitempty"`
	Peak               *decimal.Decimal `json:"peak,omitempty"`
	TrailLevel         *decimal.Decimal `json:"trail_level,omitempty"`
	TrailHistory       []TrailPoint     `json:"trail_history,omitempty"`
	RollCount          int              `json:"roll_count,omitempty"`
	OriginalExpiration Date             `json:"original_expiration,omitempty"`
	LastError          string           `json:"last_error,omitempty"`

	Log TradeLog `json:"log"`

	// Unknown top-level keys from older or external writers, preserved
	// byte-for-byte across load/save.
	extra map[string]json.RawMessage
}

// playAlias breaks the MarshalJSON recursion.
type playAlias Play

// UnmarshalJSON decodes the known fields and stashes unrecognized top-level
// keys so they survive a round-trip.
func (p *Play) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var a playAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = Play(a)

	known, err := json.Marshal(&a)
	if err != nil {
		return err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return err
	}
	for k, v := range raw {
		if _, ok := knownKeys[k]; !ok {
			if p.extra == nil {
				p.extra = make(map[string]json.RawMessage)
			}
			p.extra[k] = v
		}
	}
	return nil
}

// MarshalJSON merges preserved unknown keys back in. Known fields win on
// collision.
func (p *Play) MarshalJSON() ([]byte, error) {
	a := playAlias(*p)
	known, err := json.Marshal(&a)
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// NewPlay builds a play in StateNew with defaults applied.
func NewPlay(id, strategyTag, symbol string, side OptionSide, strike decimal.Decimal,
	expiration Date, contracts int) *Play {
	p := &Play{
		ID:          id,
		StrategyTag: strategyTag,
		Symbol:      symbol,
		OptionSide:  side,
		Strike:      strike,
		Expiration:  expiration,
		Contracts:   contracts,
		CreatedAt:   time.Now().UTC(),
		State:       StateNew,
	}
	p.ApplyDefaults()
	return p
}

// ApplyDefaults migrates older records to the current shape. Missing
// position_side means LONG; a missing trailing block means trailing is
// disabled; order_action is derived from position_side when absent.
func (p *Play) ApplyDefaults() {
	if p.PositionSide == "" {
		p.PositionSide = Long
	}
	if p.OrderAction == "" {
		if p.PositionSide == Short {
			p.OrderAction = SellToOpen
		} else {
			p.OrderAction = BuyToOpen
		}
	}
	if p.Entry.PriceRef == "" {
		p.Entry.PriceRef = RefLast
	}
	if p.Entry.OrderType == "" {
		p.Entry.OrderType = OrderLimitAtMid
	}
	if p.StopLoss.ContingencyStockPrice != nil && p.StopLoss.ContingencyRef == "" {
		p.StopLoss.ContingencyRef = RefLast
	}
	if p.OriginalExpiration.IsZero() {
		p.OriginalExpiration = p.Expiration
	}
	if p.OCCSymbol == "" {
		if sym, err := BuildOCCSymbol(p.Symbol, p.Expiration.Time, p.OptionSide, p.Strike); err == nil {
			p.OCCSymbol = sym
		}
	}
}

// OpenAction returns the broker action that opens this play.
func (p *Play) OpenAction() OrderAction {
	if p.PositionSide == Short {
		return SellToOpen
	}
	return BuyToOpen
}

// CloseAction returns the broker action that closes this play.
func (p *Play) CloseAction() OrderAction {
	if p.PositionSide == Short {
		return BuyToClose
	}
	return SellToClose
}

// Transition moves the play to a new lifecycle state under the given
// condition. Illegal edges return a TransitionError and leave the play
// unchanged.
func (p *Play) Transition(to PlayState, condition string) error {
	if !CanTransition(p.State, to, condition) {
		return &TransitionError{PlayID: p.ID, From: p.State, To: to, Condition: condition}
	}
	p.State = to
	return nil
}

// TrailingEnabled reports whether any trailing rule is configured.
func (p *Play) TrailingEnabled() bool {
	return (p.TakeProfit.Mode == TPTrailing && p.TakeProfit.Trailing != nil) ||
		(p.StopLoss.Mode == SLTrailing && p.StopLoss.Trailing != nil)
}

// Validate checks every invariant the schema promises. It is the single
// source of truth for field presence and value ranges.
func (p *Play) Validate() error {
	if p.ID == "" {
		return validationErr("", "id", "must not be empty")
	}
	if p.StrategyTag == "" {
		return validationErr(p.ID, "strategy_tag", "must not be empty")
	}
	if p.Symbol == "" {
		return validationErr(p.ID, "symbol", "must not be empty")
	}
	if !p.OptionSide.Valid() {
		return validationErr(p.ID, "option_side", "unknown value %q", p.OptionSide)
	}
	if p.Strike.Sign() <= 0 {
		return validationErr(p.ID, "strike", "must be positive, got %s", p.Strike)
	}
	if p.Expiration.IsZero() {
		return validationErr(p.ID, "expiration", "must be set")
	}
	if p.Contracts <= 0 {
		return validationErr(p.ID, "contracts", "must be a positive integer, got %d", p.Contracts)
	}
	if !p.PositionSide.Valid() {
		return validationErr(p.ID, "position_side", "unknown value %q", p.PositionSide)
	}
	if !p.OrderAction.Valid() {
		return validationErr(p.ID, "order_action", "unknown value %q", p.OrderAction)
	}
	if p.OrderAction != p.OpenAction() {
		return validationErr(p.ID, "order_action",
			"%s does not agree with position_side %s (want %s)", p.OrderAction, p.PositionSide, p.OpenAction())
	}
	if !p.State.Valid() {
		return validationErr(p.ID, "state", "unknown value %q", p.State)
	}

	if err := p.validateInstrument(); err != nil {
		return err
	}
	if err := p.validateEntry(); err != nil {
		return err
	}
	if err := p.validateExits(); err != nil {
		return err
	}
	return p.validateRuntime()
}

func (p *Play) validateInstrument() error {
	parts, err := ParseOCCSymbol(p.OCCSymbol)
	if err != nil {
		return validationErr(p.ID, "occ_symbol", "%v", err)
	}
	if parts.Underlying != p.Symbol {
		return validationErr(p.ID, "occ_symbol", "underlying %s does not match symbol %s", parts.Underlying, p.Symbol)
	}
	if !DateOf(parts.Expiration).Equal(p.Expiration) {
		return validationErr(p.ID, "occ_symbol", "expiration %s does not match %s",
			parts.Expiration.Format("2006-01-02"), p.Expiration.Format("2006-01-02"))
	}
	if parts.Side != p.OptionSide {
		return validationErr(p.ID, "occ_symbol", "side %s does not match option_side %s", parts.Side, p.OptionSide)
	}
	if !parts.Strike.Equal(p.Strike) {
		return validationErr(p.ID, "occ_symbol", "strike %s does not match %s", parts.Strike, p.Strike)
	}
	return nil
}

func (p *Play) validateEntry() error {
	if p.Entry.TargetStockPrice.Sign() <= 0 {
		return validationErr(p.ID, "entry.target_stock_price", "must be positive, got %s", p.Entry.TargetStockPrice)
	}
	if p.Entry.Buffer.Sign() < 0 {
		return validationErr(p.ID, "entry.buffer", "must not be negative, got %s", p.Entry.Buffer)
	}
	if !p.Entry.PriceRef.Valid() {
		return validationErr(p.ID, "entry.price_ref", "unknown value %q", p.Entry.PriceRef)
	}
	if !p.Entry.OrderType.Valid() {
		return validationErr(p.ID, "entry.order_type", "unknown value %q", p.Entry.OrderType)
	}
	return nil
}

func (p *Play) validateExits() error {
	tp := p.TakeProfit
	if !tp.Mode.Valid() {
		return validationErr(p.ID, "take_profit.mode", "unknown value %q", tp.Mode)
	}
	if tp.StockPrice == nil && tp.Premium == nil && tp.PremiumPct == nil && tp.Trailing == nil {
		return validationErr(p.ID, "take_profit", "at least one trigger must be configured")
	}
	if tp.Mode == TPTrailing && tp.Trailing == nil {
		return validationErr(p.ID, "take_profit.trailing", "trailing mode requires a trailing block")
	}
	if tp.Trailing != nil {
		if err := p.validateTrailing("take_profit.trailing", tp.Trailing); err != nil {
			return err
		}
	}

	sl := p.StopLoss
	if !sl.Mode.Valid() {
		return validationErr(p.ID, "stop_loss.mode", "unknown value %q", sl.Mode)
	}
	if sl.StockPrice == nil && sl.Premium == nil && sl.PremiumPct == nil && sl.Trailing == nil {
		return validationErr(p.ID, "stop_loss", "at least one trigger must be configured")
	}
	if sl.Mode == SLContingency && sl.ContingencyStockPrice == nil {
		return validationErr(p.ID, "stop_loss.contingency_stock_price", "contingency mode requires a fallback level")
	}
	if sl.Mode == SLTrailing && sl.Trailing == nil {
		return validationErr(p.ID, "stop_loss.trailing", "trailing mode requires a trailing block")
	}
	if sl.ContingencyStockPrice != nil && !sl.ContingencyRef.Valid() {
		return validationErr(p.ID, "stop_loss.contingency_ref", "unknown value %q", sl.ContingencyRef)
	}
	if sl.Trailing != nil {
		if err := p.validateTrailing("stop_loss.trailing", sl.Trailing); err != nil {
			return err
		}
	}

	// Contingency must sit strictly further from the entry target than the
	// ordinary stop level.
	if sl.ContingencyStockPrice != nil && sl.StockPrice != nil {
		target := p.Entry.TargetStockPrice
		ordinary := sl.StockPrice.Sub(target).Abs()
		contingency := sl.ContingencyStockPrice.Sub(target).Abs()
		if contingency.Cmp(ordinary) <= 0 {
			return validationErr(p.ID, "stop_loss.contingency_stock_price",
				"level %s must be further from entry target %s than ordinary stop %s",
				sl.ContingencyStockPrice, target, sl.StockPrice)
		}
	}

	// Premium target direction depends on position side once the entry
	// premium/credit is known.
	if p.EntryPremium != nil {
		if tp.Premium != nil {
			if p.PositionSide == Short && tp.Premium.Cmp(*p.EntryPremium) >= 0 {
				return validationErr(p.ID, "take_profit.premium",
					"short play target %s must be below entry credit %s", tp.Premium, p.EntryPremium)
			}
			if p.PositionSide == Long && tp.Premium.Cmp(*p.EntryPremium) <= 0 {
				return validationErr(p.ID, "take_profit.premium",
					"long play target %s must be above entry premium %s", tp.Premium, p.EntryPremium)
			}
		}
		if sl.Premium != nil {
			if p.PositionSide == Short && sl.Premium.Cmp(*p.EntryPremium) <= 0 {
				return validationErr(p.ID, "stop_loss.premium",
					"short play stop %s must be above entry credit %s", sl.Premium, p.EntryPremium)
			}
			if p.PositionSide == Long && sl.Premium.Cmp(*p.EntryPremium) >= 0 {
				return validationErr(p.ID, "stop_loss.premium",
					"long play stop %s must be below entry premium %s", sl.Premium, p.EntryPremium)
			}
		}
	}
	return nil
}

func (p *Play) validateTrailing(field string, t *TrailingConfig) error {
	if !t.Type.Valid() {
		return validationErr(p.ID, field+".type", "unknown value %q", t.Type)
	}
	switch t.Type {
	case TrailPercent:
		if t.Percent.Sign() <= 0 {
			return validationErr(p.ID, field+".percent", "must be positive, got %s", t.Percent)
		}
	case TrailFixed:
		if t.Amount.Sign() <= 0 {
			return validationErr(p.ID, field+".amount", "must be positive, got %s", t.Amount)
		}
	case TrailATR:
		if t.ATRPeriod <= 0 {
			return validationErr(p.ID, field+".atr_period", "must be positive, got %d", t.ATRPeriod)
		}
		if t.ATRMultiplier.Sign() <= 0 {
			return validationErr(p.ID, field+".atr_multiplier", "must be positive, got %s", t.ATRMultiplier)
		}
	}
	if t.ActivationPct.Sign() < 0 {
		return validationErr(p.ID, field+".activation_pct", "must not be negative, got %s", t.ActivationPct)
	}
	return nil
}

func (p *Play) validateRuntime() error {
	switch p.State {
	case StateOpen:
		if p.EntryPremium == nil {
			return validationErr(p.ID, "entry_premium", "must be set for open plays")
		}
	case StatePendingOpening:
		if p.EntryOrderID == "" {
			return validationErr(p.ID, "entry_order_id", "must be set while entry order is pending")
		}
		if p.ExitOrderID != "" {
			return validationErr(p.ID, "exit_order_id", "must be empty while entry order is pending")
		}
	case StatePendingClosing:
		if p.ExitOrderID == "" {
			return validationErr(p.ID, "exit_order_id", "must be set while exit order is pending")
		}
	}
	return nil
}
