package logging

import "fmt"

// #region kind
// Kind classifies a control-loop event.
type Kind string

const (
	KindPerturbation  Kind = "perturbation"
	KindRuleApplied   Kind = "rule_applied"
	KindUnmanaged     Kind = "unmanaged"
	KindStabilized    Kind = "stabilized"
	KindMaxIterations Kind = "max_iterations"
)

// #endregion kind

// #region event
// Event is one entry of the ordered per-tick log a run produces.
// Variable-level fields are zero for unmanaged and terminal events.
type Event struct {
	Iteration int     `json:"iteration"`
	Kind      Kind    `json:"kind"`
	Variable  string  `json:"variable,omitempty"`
	Delta     float64 `json:"delta,omitempty"`
	Before    float64 `json:"before,omitempty"`
	After     float64 `json:"after,omitempty"`
	RuleIndex int     `json:"rule_index"` // -1 unless Kind is rule_applied
	RuleText  string  `json:"rule,omitempty"`
	Label     string  `json:"label,omitempty"`
}

// String renders the event as a single display line.
func (e Event) String() string {
	switch e.Kind {
	case KindPerturbation:
		return fmt.Sprintf("[%d] perturbation %s %+.2f -> %.2f", e.Iteration, e.Variable, e.Delta, e.After)
	case KindRuleApplied:
		s := fmt.Sprintf("[%d] rule #%d %s %+.2f -> %.2f", e.Iteration, e.RuleIndex, e.Variable, e.Delta, e.After)
		if e.Label != "" {
			s += " using " + e.Label
		}
		return s
	case KindUnmanaged:
		return fmt.Sprintf("[%d] no applicable rule; unmanaged", e.Iteration)
	case KindStabilized:
		return fmt.Sprintf("[%d] stabilized", e.Iteration)
	case KindMaxIterations:
		return fmt.Sprintf("[%d] max iterations reached", e.Iteration)
	}
	return fmt.Sprintf("[%d] %s", e.Iteration, e.Kind)
}

// #endregion event
