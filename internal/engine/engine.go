package engine

import (
	"math"

	"github.com/danielpatrickdp/homeostat/internal/rules"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region engine
// Engine matches a state against an ordered rule list.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the given configuration.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Matches reports whether r's condition holds for the given values.
func (e *Engine) Matches(r rules.Rule, current, target float64) bool {
	switch r.Comparator {
	case rules.Above:
		return current > target
	case rules.Below:
		return current < target
	case rules.EqualTo:
		return math.Abs(current-target) <= e.config.Tolerance
	}
	return false
}

// Evaluate walks rs in order and applies the first rule whose condition
// holds. Later rules are not considered, even if they would also match.
// Rules naming a variable missing from st or sp are skipped.
//
// It returns a new state with the adjustment applied and the Action taken,
// or an unchanged copy and nil when no rule matched. st is not modified.
func (e *Engine) Evaluate(st state.State, sp state.Setpoint, rs []rules.Rule) (state.State, *Action) {
	next := st.Clone()
	for i, r := range rs {
		current, ok := st[r.Variable]
		if !ok {
			continue
		}
		target, ok := sp[r.Variable]
		if !ok {
			continue
		}
		if !e.Matches(r, current, target) {
			continue
		}

		delta := r.Delta()
		after := current + delta
		if e.config.ClampToFloor && after < e.config.Floor {
			after = e.config.Floor
		}
		next[r.Variable] = after
		return next, &Action{
			Rule:      r,
			RuleIndex: i,
			Delta:     delta,
			Before:    current,
			After:     after,
		}
	}
	return next, nil
}

// #endregion engine
