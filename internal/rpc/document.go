package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/eval"
	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/rules"
	"github.com/danielpatrickdp/homeostat/internal/scenario"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region types
// Rejected is a rule text the server could not parse.
type Rejected struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Result is the response document of a Run call.
type Result struct {
	Scenario    string          `json:"scenario"`
	Reason      control.Status  `json:"reason"`
	Iterations  int             `json:"iterations"`
	FinalState  state.State     `json:"final_state"`
	History     []state.State   `json:"history"`
	Events      []logging.Event `json:"events"`
	Rejected    []Rejected      `json:"rejected,omitempty"`
	Oscillating bool            `json:"oscillating"`
}

// NewResult assembles the response for a finished run.
func NewResult(sc *scenario.Scenario, res control.RunResult, loaded rules.LoadResult) Result {
	cfg := eval.DefaultEvalConfig()
	cfg.Tolerance = sc.Config(nil).Tolerance
	analysis := eval.Analyze(res, state.Setpoint(sc.Setpoint), cfg)

	out := Result{
		Scenario:    sc.Name,
		Reason:      res.Reason,
		Iterations:  res.Iterations,
		FinalState:  res.FinalState,
		History:     res.History,
		Events:      res.Events,
		Oscillating: analysis.Oscillating,
	}
	for _, rej := range loaded.Rejected {
		out.Rejected = append(out.Rejected, Rejected{Index: rej.Index, Text: rej.Text, Error: rej.Err.Error()})
	}
	return out
}

// RunResult converts the document back into a control.RunResult.
func (r Result) RunResult() control.RunResult {
	return control.RunResult{
		FinalState: r.FinalState,
		History:    r.History,
		Reason:     r.Reason,
		Iterations: r.Iterations,
		Events:     r.Events,
	}
}

// #endregion types

// #region codec
// Struct values are doubles, so the seed travels as a decimal string to keep
// all 64 bits.

func scenarioToStruct(sc *scenario.Scenario) (*structpb.Struct, error) {
	m, err := toMap(sc)
	if err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	if sc.Seed != nil {
		m["seed"] = strconv.FormatUint(*sc.Seed, 10)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	return s, nil
}

func scenarioFromStruct(s *structpb.Struct) (*scenario.Scenario, error) {
	m := s.AsMap()
	var seed *uint64
	if raw, ok := m["seed"].(string); ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode scenario seed %q: %w", raw, err)
		}
		seed = &v
		delete(m, "seed")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	sc, err := scenario.Parse(data, scenario.FormatJSON)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		sc.Seed = seed
	}
	return sc, nil
}

func resultToStruct(r Result) (*structpb.Struct, error) {
	m, err := toMap(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return s, nil
}

func resultFromStruct(s *structpb.Struct) (Result, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// #endregion codec
