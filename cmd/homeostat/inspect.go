package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region inspect-cmd

func newInspectCmd(_ *app) *cobra.Command {
	var (
		dbPath  string
		last    int
		runID   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored runs or show one run in detail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				return errors.New("usage: homeostat inspect --db path/to/homeostat.db [--last N] [--run id] [--json]")
			}
			store, err := state.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			if runID != "" {
				return runDetailMode(w, store, runID, jsonOut)
			}
			return runListMode(w, store, last, jsonOut)
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbPath, "db", envOr("HOMEOSTAT_DB", ""), "path to homeostat.db")
	f.IntVar(&last, "last", 20, "show N most recent runs")
	f.StringVar(&runID, "run", "", "show single run detail (id or \"latest\")")
	f.BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

// #endregion inspect-cmd

// #region list-mode

type listRow struct {
	RunID        string  `json:"run_id"`
	ParentID     string  `json:"parent_id,omitempty"`
	Scenario     string  `json:"scenario"`
	Termination  string  `json:"termination"`
	Iterations   int     `json:"iterations"`
	MaxDeviation float64 `json:"max_deviation"`
	CreatedAt    string  `json:"created_at"`
}

func runListMode(w io.Writer, store *state.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return nil
	}

	// store returns newest first, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, rec := range runs {
		rows[len(runs)-1-i] = listRow{
			RunID:        rec.RunID,
			ParentID:     rec.ParentID,
			Scenario:     rec.Scenario,
			Termination:  rec.Termination,
			Iterations:   rec.Iterations,
			MaxDeviation: state.MaxDeviation(rec.FinalState, rec.Setpoint),
			CreatedAt:    rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(w, rows)
	}

	fmt.Fprintf(w, "%-10s  %-10s  %-16s  %-22s  %5s  %10s  %s\n",
		"Run", "Parent", "Scenario", "Termination", "Iter", "Max Dev", "Time")
	fmt.Fprintf(w, "%-10s+-%-10s+-%-16s+-%-22s+-%5s+-%10s+-%s\n",
		"----------", "----------", "----------------", "----------------------", "-----", "----------", "--------------------")
	for _, r := range rows {
		parent := "-"
		if r.ParentID != "" {
			parent = shortID(r.ParentID)
		}
		fmt.Fprintf(w, "%-10s  %-10s  %-16s  %-22s  %5d  %10.4f  %s\n",
			shortID(r.RunID), parent, r.Scenario, r.Termination, r.Iterations, r.MaxDeviation, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	state.RunRecord
	History []state.State   `json:"history"`
	Events  []logging.Event `json:"events"`
}

func runDetailMode(w io.Writer, store *state.Store, runID string, jsonOut bool) error {
	var rec state.RunRecord
	var err error
	if runID == "latest" {
		rec, err = store.GetLatest()
	} else {
		rec, err = store.GetRun(runID)
	}
	if err != nil {
		return err
	}
	history, err := store.History(rec.RunID)
	if err != nil {
		return err
	}
	events, err := logging.ListEvents(store.DB(), rec.RunID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(w, detailOutput{RunRecord: rec, History: history, Events: events})
	}

	fmt.Fprintf(w, "Run:         %s\n", rec.RunID)
	if rec.ParentID != "" {
		fmt.Fprintf(w, "Parent:      %s\n", rec.ParentID)
	}
	fmt.Fprintf(w, "Scenario:    %s\n", rec.Scenario)
	fmt.Fprintf(w, "Created:     %s\n", rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(w, "Seed:        %d\n", rec.Seed)
	fmt.Fprintf(w, "Termination: %s after %d iterations\n", rec.Termination, rec.Iterations)

	fmt.Fprintf(w, "\nRules:\n")
	for i, r := range rec.Rules {
		fmt.Fprintf(w, "  %d. %s\n", i, r)
	}

	fmt.Fprintf(w, "\n%-20s %10s %10s %10s\n", "Variable", "Initial", "Final", "Setpoint")
	for _, k := range rec.FinalState.Keys() {
		fmt.Fprintf(w, "%-20s %10.4f %10.4f %10.4f\n", k, rec.InitialState[k], rec.FinalState[k], rec.Setpoint[k])
	}

	fmt.Fprintf(w, "\nHistory:\n")
	for i, snap := range history {
		fmt.Fprintf(w, "  %4d  %s\n", i+1, formatState(snap))
	}

	fmt.Fprintf(w, "\nEvents:\n")
	for _, e := range events {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}

// #endregion detail-mode
