package strategy

import (
	"context"
	"errors"

	"github.com/Zaroganos/goldflipper/internal/evaluator"
	"github.com/Zaroganos/goldflipper/internal/marketdata"
	"github.com/Zaroganos/goldflipper/internal/models"
)

// base carries the trigger-evaluation loop every runner shares. Concrete
// strategies embed it and add play creation or roll policy on top.
type base struct {
	env     *Env
	tag     string
	enabled bool
}

func newBase(env *Env, tag string, enabled bool) base {
	return base{env: env, tag: tag, enabled: enabled}
}

func (b *base) Name() string  { return b.tag }
func (b *base) Enabled() bool { return b.enabled }

func (b *base) OnCycleStart(ctx context.Context) error { return nil }
func (b *base) OnCycleEnd(ctx context.Context) error   { return nil }

// skippable reports whether err is a per-play data problem the cycle should
// ride out rather than abort on.
func skippable(err error) bool {
	return errors.Is(err, marketdata.ErrNoData) || errors.Is(err, marketdata.ErrTransport)
}

// EvaluateNewPlays polls working entry orders and checks entry triggers on
// authored plays. One bad play never blocks the rest.
func (b *base) EvaluateNewPlays(ctx context.Context) error {
	var errs []error

	pending, err := b.env.Store.ListByStrategy(models.StatePendingOpening, b.tag)
	if err != nil {
		return err
	}
	for _, play := range pending {
		if err := b.env.Executor.Apply(ctx, play, evaluator.Decision{}); err != nil {
			b.env.Logger.Printf("Strategy %s: play %s entry poll: %v", b.tag, play.ID, err)
			errs = append(errs, err)
		}
	}

	fresh, err := b.env.Store.ListByStrategy(models.StateNew, b.tag)
	if err != nil {
		return err
	}
	for _, play := range fresh {
		stock, err := b.env.Data.GetStockQuote(ctx, play.Symbol)
		if err != nil {
			if !skippable(err) {
				errs = append(errs, err)
			}
			b.env.Logger.Printf("Strategy %s: play %s entry quote: %v", b.tag, play.ID, err)
			continue
		}
		decision := b.env.Evaluator.Evaluate(play, stock, nil)
		if decision.Verdict == evaluator.Wait {
			continue
		}
		if err := b.env.Executor.Apply(ctx, play, decision); err != nil {
			b.env.Logger.Printf("Strategy %s: play %s entry: %v", b.tag, play.ID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvaluateOpenPlays polls working exit orders, updates trail state, and
// checks exit triggers on open plays.
func (b *base) EvaluateOpenPlays(ctx context.Context) error {
	var errs []error

	pending, err := b.env.Store.ListByStrategy(models.StatePendingClosing, b.tag)
	if err != nil {
		return err
	}
	for _, play := range pending {
		if err := b.env.Executor.Apply(ctx, play, evaluator.Decision{}); err != nil {
			b.env.Logger.Printf("Strategy %s: play %s exit poll: %v", b.tag, play.ID, err)
			errs = append(errs, err)
		}
	}

	open, err := b.env.Store.ListByStrategy(models.StateOpen, b.tag)
	if err != nil {
		return err
	}
	for _, play := range open {
		if err := b.evaluateOpenPlay(ctx, play); err != nil {
			if !skippable(err) {
				errs = append(errs, err)
			}
			b.env.Logger.Printf("Strategy %s: play %s: %v", b.tag, play.ID, err)
		}
	}
	return errors.Join(errs...)
}

func (b *base) evaluateOpenPlay(ctx context.Context, play *models.Play) error {
	stock, err := b.env.Data.GetStockQuote(ctx, play.Symbol)
	if err != nil {
		return err
	}
	option, optionErr := b.env.Data.GetOptionQuote(ctx, play.OCCSymbol)
	if optionErr != nil {
		// Stock triggers (including contingency SL) still work on a stale
		// option feed; that is what the contingency exists for.
		option = nil
	}

	if play.TrailingEnabled() {
		changed, err := b.env.Trailing.Update(ctx, play, stock, option)
		if err != nil {
			b.env.Logger.Printf("Strategy %s: play %s trail update: %v", b.tag, play.ID, err)
		} else if changed {
			if err := b.env.Store.Save(play); err != nil {
				return err
			}
		}
	}

	decision := b.env.Evaluator.Evaluate(play, stock, option)
	if decision.Verdict == evaluator.Wait {
		if optionErr != nil {
			return optionErr
		}
		return nil
	}
	return b.env.Executor.Apply(ctx, play, decision)
}
