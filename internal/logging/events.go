package logging

import (
	"database/sql"
	"fmt"
)

// #region log-events
// LogEvents writes a run's ordered event log to the run_events table in a
// single transaction.
func LogEvents(db *sql.DB, runID string, events []Event) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("log events: begin: %w", err)
	}
	defer tx.Rollback()

	for seq, e := range events {
		var ruleIndex interface{}
		if e.Kind == KindRuleApplied {
			ruleIndex = e.RuleIndex
		}
		_, err := tx.Exec(
			`INSERT INTO run_events (run_id, seq, iteration, kind, variable, delta, before_value,
			                         after_value, rule_index, rule_text, label)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, seq, e.Iteration, string(e.Kind),
			nullIfEmpty(e.Variable), e.Delta, e.Before, e.After,
			ruleIndex, nullIfEmpty(e.RuleText), nullIfEmpty(e.Label),
		)
		if err != nil {
			return fmt.Errorf("log events: insert %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("log events: commit: %w", err)
	}
	return nil
}

// #endregion log-events

// #region list-events
// ListEvents reads a run's events back in their original order.
func ListEvents(db *sql.DB, runID string) ([]Event, error) {
	rows, err := db.Query(
		`SELECT iteration, kind, variable, delta, before_value, after_value, rule_index, rule_text, label
		 FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		var variable, ruleText, label sql.NullString
		var ruleIndex sql.NullInt64
		if err := rows.Scan(&e.Iteration, &kind, &variable, &e.Delta, &e.Before, &e.After,
			&ruleIndex, &ruleText, &label); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = Kind(kind)
		e.Variable = variable.String
		e.RuleText = ruleText.String
		e.Label = label.String
		e.RuleIndex = -1
		if ruleIndex.Valid {
			e.RuleIndex = int(ruleIndex.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-events

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
