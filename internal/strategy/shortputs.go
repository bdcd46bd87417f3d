package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Zaroganos/goldflipper/internal/executor"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TagShortPuts is the registry tag for the cash-secured short put strategy.
const TagShortPuts = "short-puts"

type shortPutsParams struct {
	Symbol          string          `yaml:"symbol"`
	DTEMin          int             `yaml:"dte_min"`
	DTEMax          int             `yaml:"dte_max"`
	TargetDelta     float64         `yaml:"target_delta"`
	DeltaTolerance  float64         `yaml:"delta_tolerance"`
	MinIVRank       float64         `yaml:"min_iv_rank"`
	RollDTE         int             `yaml:"roll_dte"`
	ProfitTargetPct decimal.Decimal `yaml:"profit_target_pct"`
	StopLossPct     decimal.Decimal `yaml:"stop_loss_pct"`
	Contracts       int             `yaml:"contracts"`
}

func (p *shortPutsParams) applyDefaults() {
	if p.Symbol == "" {
		p.Symbol = "SPY"
	}
	if p.DTEMin == 0 {
		p.DTEMin = 35
	}
	if p.DTEMax == 0 {
		p.DTEMax = 49
	}
	if p.TargetDelta == 0 {
		p.TargetDelta = 0.30
	}
	if p.DeltaTolerance == 0 {
		p.DeltaTolerance = 0.05
	}
	if p.RollDTE == 0 {
		p.RollDTE = 21
	}
	if p.ProfitTargetPct.IsZero() {
		p.ProfitTargetPct = decimal.NewFromInt(50)
	}
	if p.StopLossPct.IsZero() {
		p.StopLossPct = decimal.NewFromInt(100)
	}
	if p.Contracts == 0 {
		p.Contracts = 1
	}
}

// shortPuts sells cash-secured puts around a target delta and rolls them
// forward when they get close to expiration.
type shortPuts struct {
	base
	params shortPutsParams

	// ivHistory accumulates ATM IV observations per session for the IV-rank
	// gate. Sparse early samples make the gate permissive, never blocking.
	ivHistory []float64
}

func init() {
	Register(TagShortPuts, func(env *Env, enabled bool, params *yaml.Node) (Runner, error) {
		var p shortPutsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, fmt.Errorf("short-puts params: %w", err)
		}
		p.applyDefaults()
		return &shortPuts{base: newBase(env, TagShortPuts, enabled), params: p}, nil
	})
}

// EvaluateNewPlays runs the shared trigger loop and then considers opening a
// fresh position when none is live.
func (s *shortPuts) EvaluateNewPlays(ctx context.Context) error {
	if err := s.base.EvaluateNewPlays(ctx); err != nil {
		return err
	}
	live, err := s.hasLivePlay()
	if err != nil {
		return err
	}
	if live {
		return nil
	}
	if err := s.maybeCreatePlay(ctx); err != nil {
		if skippable(err) {
			s.env.Logger.Printf("Strategy %s: scan skipped: %v", s.tag, err)
			return nil
		}
		return err
	}
	return nil
}

func (s *shortPuts) hasLivePlay() (bool, error) {
	for _, state := range []models.PlayState{
		models.StateNew, models.StatePendingOpening,
		models.StateOpen, models.StatePendingClosing,
	} {
		plays, err := s.env.Store.ListByStrategy(state, s.tag)
		if err != nil {
			return false, err
		}
		if len(plays) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// pickContract scans the put side for the expiration window and delta target.
func (s *shortPuts) pickContract(ctx context.Context, dteMin, dteMax int) (*marketdata.ChainContract, error) {
	chain, err := s.env.Data.GetOptionChain(ctx, s.params.Symbol, models.Date{})
	if err != nil {
		return nil, err
	}

	var best *marketdata.ChainContract
	bestDist := math.Inf(1)
	for i := range chain.Puts {
		contract := &chain.Puts[i]
		dte := s.env.Clock.DaysToExpiration(contract.Expiration)
		if dte < dteMin || dte > dteMax {
			continue
		}
		if contract.Greeks == nil {
			continue
		}
		dist := math.Abs(math.Abs(contract.Greeks.Delta) - s.params.TargetDelta)
		if dist > s.params.DeltaTolerance {
			continue
		}
		if contract.Bid.Sign() <= 0 {
			continue
		}
		if dist < bestDist {
			best = contract
			bestDist = dist
		}
	}
	if best == nil {
		return nil, fmt.Errorf("short-puts %s: no contract in %d-%d DTE near delta %.2f: %w",
			s.params.Symbol, dteMin, dteMax, s.params.TargetDelta, marketdata.ErrNoData)
	}
	return best, nil
}

func (s *shortPuts) maybeCreatePlay(ctx context.Context) error {
	contract, err := s.pickContract(ctx, s.params.DTEMin, s.params.DTEMax)
	if err != nil {
		return err
	}

	s.observeIV(contract.IV)
	rank := ivRank(contract.IV, s.ivHistory)
	if len(s.ivHistory) > 5 && rank < s.params.MinIVRank {
		s.env.Logger.Printf("Strategy %s: IV rank %.1f below %.1f, standing aside",
			s.tag, rank, s.params.MinIVRank)
		return nil
	}

	quote, err := s.env.Data.GetStockQuote(ctx, s.params.Symbol)
	if err != nil {
		return err
	}

	playID := fmt.Sprintf("short-puts-%s-%s", s.params.Symbol,
		contract.Expiration.Format("20060102"))
	play := models.NewPlay(playID, s.tag, s.params.Symbol, models.OptionPut,
		contract.Strike, contract.Expiration, s.params.Contracts)
	play.Creator = "short-puts-scanner"
	play.PositionSide = models.Short
	play.OrderAction = models.SellToOpen
	play.OCCSymbol = contract.OCCSymbol
	play.Entry.TargetStockPrice = quote.Last
	// Wide band: the scan already decided; entry fires on the next tick.
	play.Entry.Buffer = quote.Last.Mul(decimal.NewFromFloat(0.05))
	play.Entry.OrderType = models.OrderLimitAtBid

	tpPct := s.params.ProfitTargetPct
	play.TakeProfit.Mode = models.TPSingle
	play.TakeProfit.PremiumPct = &tpPct
	slPct := s.params.StopLossPct
	play.StopLoss.Mode = models.SLStop
	play.StopLoss.PremiumPct = &slPct
	play.ApplyDefaults()

	if err := s.env.Store.Save(play); err != nil {
		return err
	}
	s.env.Logger.Printf("Strategy %s: created play %s (strike %s, exp %s, delta %.2f, IV rank %.1f)",
		s.tag, playID, contract.Strike, contract.Expiration.Format("2006-01-02"),
		contract.Greeks.Delta, rank)
	return nil
}

// EvaluateOpenPlays runs the shared exit loop, then rolls survivors that are
// inside the roll window.
func (s *shortPuts) EvaluateOpenPlays(ctx context.Context) error {
	if err := s.base.EvaluateOpenPlays(ctx); err != nil {
		return err
	}

	open, err := s.env.Store.ListByStrategy(models.StateOpen, s.tag)
	if err != nil {
		return err
	}
	var errs []error
	for _, play := range open {
		if play.PositionSide != models.Short {
			continue
		}
		dte := s.env.Clock.DaysToExpiration(play.Expiration)
		if dte > s.params.RollDTE {
			continue
		}
		if err := s.roll(ctx, play); err != nil {
			s.env.Logger.Printf("Strategy %s: play %s roll: %v", s.tag, play.ID, err)
			if !skippable(err) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *shortPuts) roll(ctx context.Context, play *models.Play) error {
	contract, err := s.pickContract(ctx, s.params.DTEMin, s.params.DTEMax)
	if err != nil {
		return err
	}

	s.observeIV(contract.IV)
	rank := ivRank(contract.IV, s.ivHistory)
	if len(s.ivHistory) > 5 && rank < s.params.MinIVRank {
		s.env.Logger.Printf("Strategy %s: play %s roll deferred, IV rank %.1f below %.1f",
			s.tag, play.ID, rank, s.params.MinIVRank)
		return nil
	}

	return s.env.Executor.Roll(ctx, play, executor.RollTarget{
		OCCSymbol:  contract.OCCSymbol,
		Strike:     contract.Strike,
		Expiration: contract.Expiration,
		// Take whatever credit the market gives; the scan bounded the delta.
	})
}

func (s *shortPuts) observeIV(iv float64) {
	if iv <= 0 || math.IsNaN(iv) || math.IsInf(iv, 0) {
		return
	}
	s.ivHistory = append(s.ivHistory, iv)
	const maxSamples = 2048
	if len(s.ivHistory) > maxSamples {
		s.ivHistory = s.ivHistory[len(s.ivHistory)-maxSamples:]
	}
}

// ivRank places current inside the observed IV range on a 0-100 scale.
func ivRank(current float64, history []float64) float64 {
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return 0
	}
	clean := make([]float64, 0, len(history))
	for _, v := range history {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}
	minIV, maxIV := clean[0], clean[0]
	for _, v := range clean {
		if v < minIV {
			minIV = v
		}
		if v > maxIV {
			maxIV = v
		}
	}
	if maxIV == minIV {
		return 0
	}
	r := (current - minIV) / (maxIV - minIV) * 100
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
