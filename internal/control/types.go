package control

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielpatrickdp/homeostat/internal/engine"
	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// DefaultMaxIterations bounds a run when the caller does not.
const DefaultMaxIterations = 100

// #region status
// Status is the control loop's state-machine position.
type Status string

const (
	Running              Status = "running"
	Stabilized           Status = "stabilized"
	MaxIterationsReached Status = "max_iterations_reached"
)

// Terminal reports whether no further ticks follow.
func (s Status) Terminal() bool {
	return s == Stabilized || s == MaxIterationsReached
}

// #endregion status

// #region config
// Config bounds and tunes a run.
type Config struct {
	Tolerance     float64 // stability and EqualTo tolerance
	MaxIterations int
	ClampToFloor  bool // keep rule adjustments at or above Floor
	Floor         float64
	Logger        *slog.Logger // nil discards
}

// DefaultConfig returns tolerance 0.01 and 100 iterations.
func DefaultConfig() Config {
	return Config{
		Tolerance:     engine.DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
	}
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		Tolerance:    c.Tolerance,
		ClampToFloor: c.ClampToFloor,
		Floor:        c.Floor,
	}
}

// #endregion config

// #region configuration-error
// ErrConfiguration is wrapped by every ConfigurationError.
var ErrConfiguration = errors.New("invalid control loop configuration")

// ConfigurationError reports input that prevents a loop from starting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// #endregion configuration-error

// #region run-result
// RunResult is the outcome of one run. It belongs to the caller.
type RunResult struct {
	FinalState state.State
	History    []state.State // snapshot taken at the start of each tick, 1-based by position
	Reason     Status
	Iterations int // ticks that perturbed and evaluated rules
	Events     []logging.Event
}

// #endregion run-result
