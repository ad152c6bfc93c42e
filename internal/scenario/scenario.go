package scenario

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/perturb"
	"github.com/danielpatrickdp/homeostat/internal/rules"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region scenario-types

// Scenario is the file format for one controlled run: what to regulate,
// which rules to apply, how the world disturbs it, and optionally what the
// run is expected to produce.
type Scenario struct {
	Name          string             `yaml:"name" json:"name"`
	Description   string             `yaml:"description,omitempty" json:"description,omitempty"`
	InitialState  map[string]float64 `yaml:"initial_state" json:"initial_state"`
	Setpoint      map[string]float64 `yaml:"setpoint" json:"setpoint"`
	Rules         []string           `yaml:"rules" json:"rules"`
	Perturbation  Perturbation       `yaml:"perturbation" json:"perturbation"`
	Engine        Engine             `yaml:"engine" json:"engine"`
	Tolerance     *float64           `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	MaxIterations *int               `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	Seed          *uint64            `yaml:"seed,omitempty" json:"seed,omitempty"` // nil draws a random seed
	Expected      *Expected          `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// Perturbation mirrors perturb.Policy with file tags.
type Perturbation struct {
	Chance       float64 `yaml:"chance" json:"chance"`
	Min          float64 `yaml:"min" json:"min"`
	Max          float64 `yaml:"max" json:"max"`
	ClampToFloor bool    `yaml:"clamp_to_floor,omitempty" json:"clamp_to_floor,omitempty"`
	Floor        float64 `yaml:"floor,omitempty" json:"floor,omitempty"`
}

// Engine holds the rule adjustment clamp.
type Engine struct {
	ClampToFloor bool    `yaml:"clamp_to_floor,omitempty" json:"clamp_to_floor,omitempty"`
	Floor        float64 `yaml:"floor,omitempty" json:"floor,omitempty"`
}

// Expected captures what a deterministic run should end with. Unset fields
// are not checked.
type Expected struct {
	Termination string             `yaml:"termination,omitempty" json:"termination,omitempty"`
	Iterations  *int               `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	FinalState  map[string]float64 `yaml:"final_state,omitempty" json:"final_state,omitempty"`
}

// Format selects the document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// #endregion scenario-types

// #region scenario-loader

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown scenario extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	s, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// Parse decodes a scenario document.
func Parse(data []byte, format Format) (*Scenario, error) {
	var s Scenario
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format %q", format)
	}
	if len(s.InitialState) == 0 {
		return nil, fmt.Errorf("scenario %q has no initial_state", s.Name)
	}
	return &s, nil
}

// Marshal encodes a scenario.
func (s *Scenario) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(s)
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported scenario format %q", format)
	}
}

// #endregion scenario-loader

// #region scenario-build

// Policy converts the perturbation block.
func (s *Scenario) Policy() perturb.Policy {
	return perturb.Policy{
		Chance:       s.Perturbation.Chance,
		Min:          s.Perturbation.Min,
		Max:          s.Perturbation.Max,
		ClampToFloor: s.Perturbation.ClampToFloor,
		Floor:        s.Perturbation.Floor,
	}
}

// Config converts the run settings. Tolerance and iteration bounds fall back
// to defaults only when absent; explicit values, zero included, are passed
// through for the loop to validate.
func (s *Scenario) Config(logger *slog.Logger) control.Config {
	cfg := control.DefaultConfig()
	if s.Tolerance != nil {
		cfg.Tolerance = *s.Tolerance
	}
	if s.MaxIterations != nil {
		cfg.MaxIterations = *s.MaxIterations
	}
	cfg.ClampToFloor = s.Engine.ClampToFloor
	cfg.Floor = s.Engine.Floor
	cfg.Logger = logger
	return cfg
}

// Build parses the rules and constructs a loop. Rules that fail to parse are
// returned in the LoadResult, not as an error.
func (s *Scenario) Build(logger *slog.Logger) (*control.Loop, rules.LoadResult, error) {
	var source *perturb.Source
	if s.Seed != nil {
		source = perturb.NewSeededSource(s.Policy(), *s.Seed)
	} else {
		source = perturb.NewSource(s.Policy(), nil)
	}
	l, loaded, err := control.NewFromTexts(
		state.State(s.InitialState),
		state.Setpoint(s.Setpoint),
		s.Rules,
		s.Config(logger),
		source,
	)
	if err != nil {
		return nil, loaded, fmt.Errorf("build scenario %q: %w", s.Name, err)
	}
	return l, loaded, nil
}

// WithSeed returns a copy using the given seed.
func (s *Scenario) WithSeed(seed uint64) *Scenario {
	c := *s
	c.Seed = &seed
	return &c
}

// WithMaxIterations returns a copy bounded at n iterations.
func (s *Scenario) WithMaxIterations(n int) *Scenario {
	c := *s
	c.MaxIterations = &n
	return &c
}

// WithTolerance returns a copy using tolerance eps.
func (s *Scenario) WithTolerance(eps float64) *Scenario {
	c := *s
	c.Tolerance = &eps
	return &c
}

// #endregion scenario-build

// #region scenario-check

// Mismatch is one difference between an expectation and a run.
type Mismatch struct {
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.Field, m.Want, m.Got)
}

// Check compares a run against the expected block. Final values match when
// they are within the scenario tolerance. A scenario without expectations
// never mismatches.
func (s *Scenario) Check(res control.RunResult) []Mismatch {
	if s.Expected == nil {
		return nil
	}
	exp := s.Expected
	var out []Mismatch

	if exp.Termination != "" && exp.Termination != string(res.Reason) {
		out = append(out, Mismatch{Field: "termination", Want: exp.Termination, Got: string(res.Reason)})
	}
	if exp.Iterations != nil && *exp.Iterations != res.Iterations {
		out = append(out, Mismatch{
			Field: "iterations",
			Want:  fmt.Sprint(*exp.Iterations),
			Got:   fmt.Sprint(res.Iterations),
		})
	}

	tol := s.Config(nil).Tolerance
	for _, name := range state.State(exp.FinalState).Keys() {
		want := exp.FinalState[name]
		got, ok := res.FinalState[name]
		switch {
		case !ok:
			out = append(out, Mismatch{Field: "final_state." + name, Want: fmt.Sprintf("%g", want), Got: "missing"})
		case math.Abs(got-want) > tol:
			out = append(out, Mismatch{
				Field: "final_state." + name,
				Want:  fmt.Sprintf("%g", want),
				Got:   fmt.Sprintf("%g", got),
			})
		}
	}
	return out
}

// #endregion scenario-check
