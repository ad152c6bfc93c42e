package engine

import "github.com/danielpatrickdp/homeostat/internal/rules"

// DefaultTolerance is the equality tolerance used by EqualTo and by the
// control loop's stability check.
const DefaultTolerance = 0.01

// #region engine-config
// Config holds the evaluation tolerance and the optional post-action floor.
type Config struct {
	Tolerance    float64 // EqualTo holds when |current - target| <= Tolerance
	ClampToFloor bool    // raise a variable below Floor back to Floor after an action
	Floor        float64
}

// DefaultConfig returns the tolerance 0.01 with no floor clamp.
func DefaultConfig() Config {
	return Config{Tolerance: DefaultTolerance}
}

// #endregion engine-config

// #region action
// Action describes the single rule applied during one evaluation.
type Action struct {
	Rule      rules.Rule
	RuleIndex int     // position of Rule in the evaluated slice
	Delta     float64 // signed adjustment the rule asked for
	Before    float64
	After     float64 // value after Delta and any floor clamp
}

// #endregion action
