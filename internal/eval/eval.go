package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region eval-harness
// EvalHarness analyzes finished runs. It reports oscillation; it never
// changes how the loop behaves.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run computes deviation, activity counts and per-variable sign flips.
func (h *EvalHarness) Run(res control.RunResult, sp state.Setpoint) EvalResult {
	var metrics []EvalMetric

	// 1. Final deviation
	finalDev := state.MaxDeviation(res.FinalState, sp)
	passed := state.Within(res.FinalState, sp, h.config.Tolerance)
	metrics = append(metrics, EvalMetric{
		Name:  "final_max_deviation",
		Value: finalDev,
		Pass:  passed,
	})

	// 2. Activity counts: informational
	var applied, unmanaged, perturbations int
	for _, e := range res.Events {
		switch e.Kind {
		case logging.KindRuleApplied:
			applied++
		case logging.KindUnmanaged:
			unmanaged++
		case logging.KindPerturbation:
			perturbations++
		}
	}
	metrics = append(metrics,
		EvalMetric{Name: "rule_applications", Value: float64(applied), Pass: true},
		EvalMetric{Name: "unmanaged_ticks", Value: float64(unmanaged), Pass: true},
		EvalMetric{Name: "perturbations", Value: float64(perturbations), Pass: true},
	)

	// 3. Oscillation: count sign changes of (value - target), ignoring
	// points inside the tolerance band.
	trajectory := append(append([]state.State(nil), res.History...), res.FinalState)
	flips := make(map[string]int, len(res.FinalState))
	oscillating := false
	for _, name := range res.FinalState.Keys() {
		target, ok := sp[name]
		if !ok {
			continue
		}
		n := signFlips(trajectory, name, target, h.config.Tolerance)
		flips[name] = n
		pass := n < h.config.OscillationFlips
		if !pass {
			oscillating = true
		}
		metrics = append(metrics, EvalMetric{
			Name:  fmt.Sprintf("sign_flips_%s", name),
			Value: float64(n),
			Pass:  pass,
		})
	}

	reason := "final state within tolerance"
	switch {
	case !passed && oscillating:
		reason = fmt.Sprintf("not settled: oscillating around the setpoint, max deviation %.4f", finalDev)
	case !passed:
		reason = fmt.Sprintf("not settled: max deviation %.4f exceeds %.4f", finalDev, h.config.Tolerance)
	case oscillating:
		reason = "final state within tolerance after oscillating"
	}

	return EvalResult{
		Passed:      passed,
		Oscillating: oscillating,
		Metrics:     metrics,
		SignFlips:   flips,
		Reason:      reason,
	}
}

// #endregion eval-harness

// #region helpers
// signFlips counts how often the error of one variable changes sign.
func signFlips(trajectory []state.State, name string, target, tolerance float64) int {
	flips := 0
	prev := 0.0
	for _, snap := range trajectory {
		v, ok := snap[name]
		if !ok {
			continue
		}
		err := v - target
		if math.Abs(err) <= tolerance {
			continue
		}
		sign := math.Copysign(1, err)
		if prev != 0 && sign != prev {
			flips++
		}
		prev = sign
	}
	return flips
}

// #endregion helpers

// Analyze runs a one-off harness over a finished run.
func Analyze(res control.RunResult, sp state.Setpoint, cfg EvalConfig) EvalResult {
	return NewEvalHarness(cfg).Run(res, sp)
}
