package strategy

import (
	"context"

	"gopkg.in/yaml.v3"
)

// TagSpreads is the registry tag for multi-leg spread plays. The runner
// honors the lifecycle contract but leg selection is not implemented yet;
// hand-authored spread plays are evaluated leg-by-leg like manual plays.
const TagSpreads = "spreads"

type spreads struct {
	base
	warned bool
}

func init() {
	Register(TagSpreads, func(env *Env, enabled bool, _ *yaml.Node) (Runner, error) {
		return &spreads{base: newBase(env, TagSpreads, enabled)}, nil
	})
}

func (s *spreads) OnCycleStart(ctx context.Context) error {
	if !s.warned {
		s.env.Logger.Printf("Strategy %s: compound orders not implemented, legs run independently", s.tag)
		s.warned = true
	}
	return nil
}
