package control

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/danielpatrickdp/homeostat/internal/engine"
	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/perturb"
	"github.com/danielpatrickdp/homeostat/internal/rules"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region loop
// Loop drives a state toward a setpoint: each tick snapshots the state,
// stops if every variable is within tolerance, perturbs, then applies the
// first matching rule.
type Loop struct {
	initial  state.State
	setpoint state.Setpoint
	rules    []rules.Rule
	config   Config
	source   *perturb.Source
	engine   *engine.Engine
	logger   *slog.Logger
}

// New validates the inputs and builds a loop. Rules are evaluated in slice
// order. A nil source disables perturbation. Inputs are copied.
func New(initial state.State, setpoint state.Setpoint, rs []rules.Rule, config Config, source *perturb.Source) (*Loop, error) {
	if err := initial.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "initial_state", Reason: err.Error()}
	}
	if missing := setpoint.Missing(initial); len(missing) > 0 {
		return nil, &ConfigurationError{
			Field:  "setpoint",
			Reason: "no target for " + strings.Join(missing, ", "),
		}
	}
	if err := state.State(setpoint).Validate(); err != nil {
		return nil, &ConfigurationError{Field: "setpoint", Reason: err.Error()}
	}
	if math.IsNaN(config.Tolerance) || math.IsInf(config.Tolerance, 0) || config.Tolerance < 0 {
		return nil, &ConfigurationError{
			Field:  "tolerance",
			Reason: fmt.Sprintf("%v must be a finite non-negative number", config.Tolerance),
		}
	}
	if config.MaxIterations <= 0 {
		return nil, &ConfigurationError{
			Field:  "max_iterations",
			Reason: fmt.Sprintf("%d must be positive", config.MaxIterations),
		}
	}
	if config.ClampToFloor && (math.IsNaN(config.Floor) || math.IsInf(config.Floor, 0)) {
		return nil, &ConfigurationError{Field: "floor", Reason: "must be finite"}
	}
	for i, r := range rs {
		if err := r.Validate(); err != nil {
			return nil, &ConfigurationError{Field: fmt.Sprintf("rules[%d]", i), Reason: err.Error()}
		}
	}
	if source == nil {
		source = perturb.NewSeededSource(perturb.NoPerturbation(), 0)
	}
	if err := source.Policy().Validate(); err != nil {
		return nil, &ConfigurationError{Field: "perturbation", Reason: err.Error()}
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	for _, v := range rules.Variables(rs) {
		if _, ok := initial[v]; !ok {
			logger.Warn("rule variable not in state; its rules never apply", "variable", v)
		}
	}

	return &Loop{
		initial:  initial.Clone(),
		setpoint: setpoint.Clone(),
		rules:    append([]rules.Rule(nil), rs...),
		config:   config,
		source:   source,
		engine:   engine.NewEngine(config.engineConfig()),
		logger:   logger,
	}, nil
}

// NewFromTexts parses rule texts, drops the ones that fail (logging each at
// warn), and builds a loop from the rest.
func NewFromTexts(initial state.State, setpoint state.Setpoint, texts []string, config Config, source *perturb.Source) (*Loop, rules.LoadResult, error) {
	loaded := rules.Load(texts)
	if config.Logger != nil {
		for _, rej := range loaded.Rejected {
			config.Logger.Warn("skipping rule", "index", rej.Index, "error", rej.Err)
		}
	}
	l, err := New(initial, setpoint, loaded.Rules, config, source)
	if err != nil {
		return nil, loaded, err
	}
	return l, loaded, nil
}

// Rules returns the rules in evaluation order.
func (l *Loop) Rules() []rules.Rule {
	return append([]rules.Rule(nil), l.rules...)
}

// #endregion loop

// #region run
// Run executes ticks until the state stabilizes or MaxIterations ticks have
// run. Both outcomes are normal; neither is an error. Each call starts again
// from the initial state; the perturbation source is not rewound.
func (l *Loop) Run() RunResult {
	current := l.initial.Clone()
	history := make([]state.State, 0, min(l.config.MaxIterations+1, 1024))
	var events []logging.Event
	record := func(e logging.Event) {
		events = append(events, e)
		logging.Emit(l.logger, e)
	}

	iterations := 0
	status := Running
	for status == Running {
		history = append(history, current.Clone())
		tick := len(history)

		if state.Within(current, l.setpoint, l.config.Tolerance) {
			status = Stabilized
			record(logging.Event{Iteration: tick, Kind: logging.KindStabilized, RuleIndex: -1})
			break
		}

		next, disturbances := l.source.Perturb(current)
		current = next
		for _, d := range disturbances {
			record(logging.Event{
				Iteration: tick,
				Kind:      logging.KindPerturbation,
				Variable:  d.Variable,
				Delta:     d.Delta,
				Before:    d.Before,
				After:     d.After,
				RuleIndex: -1,
			})
		}

		next, action := l.engine.Evaluate(current, l.setpoint, l.rules)
		current = next
		if action != nil {
			record(logging.Event{
				Iteration: tick,
				Kind:      logging.KindRuleApplied,
				Variable:  action.Rule.Variable,
				Delta:     action.Delta,
				Before:    action.Before,
				After:     action.After,
				RuleIndex: action.RuleIndex,
				RuleText:  ruleText(action.Rule),
				Label:     action.Rule.Label,
			})
		} else {
			record(logging.Event{Iteration: tick, Kind: logging.KindUnmanaged, RuleIndex: -1})
		}

		iterations++
		if iterations >= l.config.MaxIterations {
			status = MaxIterationsReached
			record(logging.Event{Iteration: tick, Kind: logging.KindMaxIterations, RuleIndex: -1})
		}
	}

	l.logger.Info("run finished",
		"reason", string(status),
		"iterations", iterations,
		"max_deviation", state.MaxDeviation(current, l.setpoint),
	)

	return RunResult{
		FinalState: current,
		History:    history,
		Reason:     status,
		Iterations: iterations,
		Events:     events,
	}
}

func ruleText(r rules.Rule) string {
	if r.Text != "" {
		return r.Text
	}
	return r.String()
}

// #endregion run
