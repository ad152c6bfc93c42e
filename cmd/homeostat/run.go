package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/eval"
	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/rpc"
	"github.com/danielpatrickdp/homeostat/internal/scenario"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region run-cmd

type runOptions struct {
	scenarioPath  string
	builtin       string
	seed          uint64
	maxIterations int
	dbPath        string
	resume        string
	remote        string
	jsonOut       bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario until it stabilizes or hits its iteration bound",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := loadScenario(opts.scenarioPath, opts.builtin)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				sc = sc.WithSeed(opts.seed)
			} else if sc.Seed == nil {
				sc = sc.WithSeed(rand.Uint64())
			}
			if cmd.Flags().Changed("max-iterations") {
				sc = sc.WithMaxIterations(opts.maxIterations)
			}
			return runScenario(cmd.Context(), cmd.OutOrStdout(), a, sc, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.scenarioPath, "scenario", "", "scenario file (.yaml, .yml or .json)")
	f.StringVar(&opts.builtin, "builtin", "", "bundled scenario name (default temperature)")
	f.Uint64Var(&opts.seed, "seed", 0, "perturbation seed (random when unset)")
	f.IntVar(&opts.maxIterations, "max-iterations", control.DefaultMaxIterations, "override the scenario's iteration bound")
	f.StringVar(&opts.dbPath, "db", envOr("HOMEOSTAT_DB", ""), "record the run in this SQLite database")
	f.StringVar(&opts.resume, "resume", "", "start from the final state of a stored run (id or \"latest\")")
	f.StringVar(&opts.remote, "remote", "", "run on a homeostat server at host:port")
	f.BoolVar(&opts.jsonOut, "json", false, "output as JSON")
	cmd.MarkFlagsMutuallyExclusive("scenario", "builtin")
	return cmd
}

func loadScenario(path, builtin string) (*scenario.Scenario, error) {
	if path != "" {
		return scenario.Load(path)
	}
	if builtin == "" {
		builtin = "temperature"
	}
	return scenario.Builtin(builtin)
}

// #endregion run-cmd

// #region run-exec

type runOutput struct {
	RunID       string             `json:"run_id,omitempty"`
	ParentID    string             `json:"parent_id,omitempty"`
	Scenario    string             `json:"scenario"`
	Seed        uint64             `json:"seed"`
	Reason      control.Status     `json:"reason"`
	Iterations  int                `json:"iterations"`
	FinalState  state.State        `json:"final_state"`
	History     []state.State      `json:"history"`
	Events      []logging.Event    `json:"events"`
	Rejected    []rpc.Rejected     `json:"rejected,omitempty"`
	Oscillating bool               `json:"oscillating"`
	Analysis    string             `json:"analysis"`
	Deviation   map[string]float64 `json:"deviation"`
}

func runScenario(ctx context.Context, w io.Writer, a *app, sc *scenario.Scenario, opts runOptions) error {
	var store *state.Store
	if opts.dbPath != "" {
		s, err := state.NewStore(opts.dbPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer s.Close()
		store = s
	}

	var parentID string
	if opts.resume != "" {
		if store == nil {
			return errors.New("--resume needs --db")
		}
		parent, err := resumeFrom(store, opts.resume)
		if err != nil {
			return err
		}
		parentID = parent.RunID
		sc.InitialState = parent.FinalState.Clone()
		a.logger.Info("resuming", "parent", shortID(parentID), "state", parent.FinalState)
	}

	var result rpc.Result
	if opts.remote != "" {
		client, err := rpc.NewClient(opts.remote)
		if err != nil {
			return err
		}
		defer client.Close()
		if result, err = client.Run(ctx, sc); err != nil {
			return err
		}
	} else {
		loop, loaded, err := sc.Build(a.logger)
		if err != nil {
			return err
		}
		result = rpc.NewResult(sc, loop.Run(), loaded)
	}
	res := result.RunResult()

	evalCfg := eval.DefaultEvalConfig()
	evalCfg.Tolerance = sc.Config(nil).Tolerance
	analysis := eval.Analyze(res, state.Setpoint(sc.Setpoint), evalCfg)

	out := runOutput{
		ParentID:    parentID,
		Scenario:    sc.Name,
		Seed:        *sc.Seed,
		Reason:      res.Reason,
		Iterations:  res.Iterations,
		FinalState:  res.FinalState,
		History:     res.History,
		Events:      res.Events,
		Rejected:    result.Rejected,
		Oscillating: analysis.Oscillating,
		Analysis:    analysis.Reason,
		Deviation:   state.Deviation(res.FinalState, state.Setpoint(sc.Setpoint)),
	}

	if store != nil {
		doc, err := sc.Marshal(scenario.FormatJSON)
		if err != nil {
			return fmt.Errorf("encode scenario: %w", err)
		}
		rec, err := store.SaveRun(state.RunRecord{
			ParentID:     parentID,
			Scenario:     sc.Name,
			Termination:  string(res.Reason),
			Iterations:   res.Iterations,
			InitialState: state.State(sc.InitialState),
			Setpoint:     state.Setpoint(sc.Setpoint),
			FinalState:   res.FinalState,
			Rules:        sc.Rules,
			Seed:         *sc.Seed,
			Document:     string(doc),
		}, res.History)
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		if err := logging.LogEvents(store.DB(), rec.RunID, res.Events); err != nil {
			return fmt.Errorf("save events: %w", err)
		}
		out.RunID = rec.RunID
		a.logger.Info("run recorded", "run", shortID(rec.RunID))
	}

	if opts.jsonOut {
		return printJSON(w, out)
	}
	printRun(w, out)
	return nil
}

func resumeFrom(store *state.Store, id string) (state.RunRecord, error) {
	if id == "latest" {
		rec, err := store.GetLatest()
		if err != nil {
			return state.RunRecord{}, fmt.Errorf("resume: %w", err)
		}
		return rec, nil
	}
	rec, err := store.GetRun(id)
	if err != nil {
		return state.RunRecord{}, fmt.Errorf("resume: %w", err)
	}
	return rec, nil
}

// #endregion run-exec

// #region run-output

func printRun(w io.Writer, out runOutput) {
	for _, r := range out.Rejected {
		fmt.Fprintf(w, "Skipped rule %d: %s\n", r.Index, r.Error)
	}
	switch out.Reason {
	case control.Stabilized:
		fmt.Fprintf(w, "Stabilized after %d iterations.\n", out.Iterations)
	case control.MaxIterationsReached:
		fmt.Fprintf(w, "Max iterations (%d) reached without stabilizing.\n", out.Iterations)
	}
	if out.Oscillating {
		fmt.Fprintf(w, "Warning: %s\n", out.Analysis)
	}
	if out.RunID != "" {
		fmt.Fprintf(w, "Run:    %s\n", out.RunID)
	}
	fmt.Fprintf(w, "Seed:   %d\n", out.Seed)

	fmt.Fprintf(w, "\nFinal state:\n")
	printState(w, out.FinalState, out.Deviation)

	fmt.Fprintf(w, "\nHistory:\n")
	for i, snap := range out.History {
		fmt.Fprintf(w, "  %4d  %s\n", i+1, formatState(snap))
	}
}

func printState(w io.Writer, s state.State, dev map[string]float64) {
	for _, k := range s.Keys() {
		fmt.Fprintf(w, "  %-20s %10.4f  (off by %.4f)\n", k, s[k], dev[k])
	}
}

func formatState(s state.State) string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%.4f", k, s[k]))
	}
	return strings.Join(parts, ", ")
}

// #endregion run-output
