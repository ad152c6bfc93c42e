package state

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// #region state
// State maps a variable name to its current value. Keys are fixed for a run.
// Transformations return a new State; callers never share one across steps.
type State map[string]float64

// Clone returns an independent copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the variable names in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate rejects empty names and non-finite values.
func (s State) Validate() error {
	for k, v := range s {
		if k == "" {
			return fmt.Errorf("empty variable name")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("variable %q has non-finite value %v", k, v)
		}
	}
	return nil
}

// #endregion state

// #region setpoint
// Setpoint maps a variable name to its target value.
type Setpoint map[string]float64

// Clone returns an independent copy.
func (sp Setpoint) Clone() Setpoint {
	out := make(Setpoint, len(sp))
	for k, v := range sp {
		out[k] = v
	}
	return out
}

// Missing returns the State variables that have no target, sorted.
func (sp Setpoint) Missing(s State) []string {
	var out []string
	for _, k := range s.Keys() {
		if _, ok := sp[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Deviation returns |s[v] - sp[v]| for every State variable that has a target.
func Deviation(s State, sp Setpoint) map[string]float64 {
	out := make(map[string]float64, len(s))
	for k, v := range s {
		if target, ok := sp[k]; ok {
			out[k] = math.Abs(v - target)
		}
	}
	return out
}

// MaxDeviation returns the largest per-variable deviation, 0 for an empty state.
func MaxDeviation(s State, sp Setpoint) float64 {
	var worst float64
	for _, d := range Deviation(s, sp) {
		if d > worst {
			worst = d
		}
	}
	return worst
}

// Within reports whether every State variable is within tolerance of its target.
// A variable without a target is never within tolerance.
func Within(s State, sp Setpoint, tolerance float64) bool {
	for k, v := range s {
		target, ok := sp[k]
		if !ok || math.Abs(v-target) > tolerance {
			return false
		}
	}
	return true
}

// #endregion setpoint

// #region run-record
// RunRecord is one persisted control-loop run.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	ParentID     string    `json:"parent_id,omitempty"` // run whose final state seeded this one, if resumed
	Scenario     string    `json:"scenario"`
	Termination  string    `json:"termination"`
	Iterations   int       `json:"iterations"`
	InitialState State     `json:"initial_state"`
	Setpoint     Setpoint  `json:"setpoint"`
	FinalState   State     `json:"final_state"`
	Rules        []string  `json:"rules"`
	Seed         uint64    `json:"seed"`
	Document     string    `json:"document,omitempty"` // scenario document (JSON) the run was built from, if recorded
	CreatedAt    time.Time `json:"created_at"`
}

// #endregion run-record
