package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/scenario"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region replay-cmd

func newReplayCmd(a *app) *cobra.Command {
	var fixturePath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a scenario with recorded expectations and compare",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fixturePath == "" {
				return errors.New("usage: homeostat replay --fixture path/to/scenario.yaml")
			}
			return replayFixture(cmd.OutOrStdout(), a, fixturePath)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "scenario file with an expected block")
	return cmd
}

func replayFixture(w io.Writer, a *app, path string) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	if sc.Expected == nil {
		return fmt.Errorf("fixture %s has no expected block", path)
	}
	if sc.Seed == nil {
		a.logger.Warn("fixture has no seed; perturbations are not reproducible", "fixture", path)
	}

	loop, _, err := sc.Build(a.logger)
	if err != nil {
		return err
	}
	res := loop.Run()

	if diverge := printComparison(w, sc.Expected, res, sc.Check(res)); diverge > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// #endregion replay-cmd

// #region output

// printComparison writes one row per expected field and returns how many
// rows diverged.
func printComparison(w io.Writer, exp *scenario.Expected, res control.RunResult, mismatches []scenario.Mismatch) int {
	diff := make(map[string]bool, len(mismatches))
	for _, m := range mismatches {
		diff[m.Field] = true
	}

	type row struct{ field, want, got string }
	var rows []row
	if exp.Termination != "" {
		rows = append(rows, row{"termination", exp.Termination, string(res.Reason)})
	}
	if exp.Iterations != nil {
		rows = append(rows, row{"iterations", strconv.Itoa(*exp.Iterations), strconv.Itoa(res.Iterations)})
	}
	for _, name := range state.State(exp.FinalState).Keys() {
		got := "missing"
		if v, ok := res.FinalState[name]; ok {
			got = fmt.Sprintf("%g", v)
		}
		rows = append(rows, row{"final_state." + name, fmt.Sprintf("%g", exp.FinalState[name]), got})
	}

	fmt.Fprintf(w, "%-28s| %-24s| %-24s| %s\n", "Field", "Expected", "Replayed", "Match")
	fmt.Fprintf(w, "%-28s+%-25s+%-25s+%s\n",
		"----------------------------", "-------------------------", "-------------------------", "------")

	diverge := 0
	for _, r := range rows {
		match := "OK"
		if diff[r.field] {
			match = "DIFF"
			diverge++
		}
		fmt.Fprintf(w, "%-28s| %-24s| %-24s| %s\n", r.field, r.want, r.got, match)
	}

	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge\n", len(rows), len(rows)-diverge, diverge)
	return diverge
}

// #endregion output
