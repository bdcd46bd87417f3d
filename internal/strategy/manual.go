package strategy

import "gopkg.in/yaml.v3"

// TagManualSwings is the registry tag for hand-authored swing plays.
const TagManualSwings = "manual-swings"

// manualSwings runs hand-authored plays: it never creates plays, only
// evaluates their triggers.
type manualSwings struct {
	base
}

func init() {
	Register(TagManualSwings, func(env *Env, enabled bool, _ *yaml.Node) (Runner, error) {
		return &manualSwings{base: newBase(env, TagManualSwings, enabled)}, nil
	})
}
