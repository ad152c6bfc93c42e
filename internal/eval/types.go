package eval

// #region eval-config
// EvalConfig holds thresholds for post-run analysis.
type EvalConfig struct {
	Tolerance        float64 // deviation counted as "at the setpoint"
	OscillationFlips int     // sign changes of the error that flag a variable as oscillating
}

// DefaultEvalConfig matches the control loop defaults.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Tolerance:        0.01,
		OscillationFlips: 4,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single analysis check.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult summarizes a finished run.
type EvalResult struct {
	Passed      bool // final state within tolerance of the setpoint
	Oscillating bool // some variable kept crossing its setpoint
	Metrics     []EvalMetric
	SignFlips   map[string]int
	Reason      string
}

// Metric returns the named metric.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
