package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun() (RunRecord, []State) {
	rec := RunRecord{
		Scenario:     "temperature",
		Termination:  "stabilized",
		Iterations:   4,
		InitialState: State{"temperature": 10},
		Setpoint:     Setpoint{"temperature": 5},
		FinalState:   State{"temperature": 5},
		Rules:        []string{"If the temperature is above the setpoint, then decrease the temperature by 2."},
		Seed:         42,
	}
	history := []State{
		{"temperature": 10},
		{"temperature": 8},
		{"temperature": 6},
		{"temperature": 4},
		{"temperature": 5},
	}
	return rec, history
}

func TestSaveRunAndGetLatest(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()

	saved, err := s.SaveRun(rec, history)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if saved.RunID == "" {
		t.Fatal("expected generated run ID")
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be filled")
	}

	latest, err := s.GetLatest()
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.RunID != saved.RunID {
		t.Fatalf("expected %s, got %s", saved.RunID, latest.RunID)
	}
	if latest.Termination != "stabilized" || latest.Iterations != 4 || latest.Seed != 42 {
		t.Errorf("unexpected record: %+v", latest)
	}
	if latest.FinalState["temperature"] != 5 || latest.Setpoint["temperature"] != 5 {
		t.Errorf("state round trip failed: %+v", latest)
	}
	if len(latest.Rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(latest.Rules))
	}
}

func TestHistoryOrder(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	saved, err := s.SaveRun(rec, history)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.History(saved.RunID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != len(history) {
		t.Fatalf("expected %d snapshots, got %d", len(history), len(got))
	}
	for i := range history {
		if got[i]["temperature"] != history[i]["temperature"] {
			t.Fatalf("snapshot %d: expected %v, got %v", i+1, history[i], got[i])
		}
	}
}

func TestSaveRunWithParent(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	first, err := s.SaveRun(rec, history)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	resumed := rec
	resumed.ParentID = first.RunID
	resumed.InitialState = first.FinalState
	resumed.Iterations = 0
	second, err := s.SaveRun(resumed, []State{{"temperature": 5}})
	if err != nil {
		t.Fatalf("SaveRun resumed: %v", err)
	}

	got, err := s.GetRun(second.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ParentID != first.RunID {
		t.Fatalf("expected parent %s, got %s", first.RunID, got.ParentID)
	}

	latest, _ := s.GetLatest()
	if latest.RunID != second.RunID {
		t.Fatalf("active pointer should follow the newest run")
	}
}

func TestSaveRunUnknownParentFails(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	rec.ParentID = "missing"
	if _, err := s.SaveRun(rec, history); err == nil {
		t.Fatal("expected foreign key error for unknown parent")
	}
	if _, err := s.GetLatest(); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("failed save must not move the active pointer, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := rec
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		r.Iterations = i
		if _, err := s.SaveRun(r, history); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Iterations != 2 || runs[1].Iterations != 1 {
		t.Fatalf("expected newest first, got %d then %d", runs[0].Iterations, runs[1].Iterations)
	}
}

func TestListRunsSubSecondOrder(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 100 * time.Millisecond, 120 * time.Millisecond}
	for i, off := range offsets {
		r := rec
		r.CreatedAt = base.Add(off)
		r.Iterations = i
		if _, err := s.SaveRun(r, history); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.ListRuns(3)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []int{2, 1, 0} {
		if runs[i].Iterations != want {
			t.Fatalf("position %d: expected run %d, got %d", i, want, runs[i].Iterations)
		}
	}
	if !runs[0].CreatedAt.Equal(base.Add(120 * time.Millisecond)) {
		t.Fatalf("CreatedAt not preserved: %v", runs[0].CreatedAt)
	}
}

func TestListRunsSameInstantNewestInsertFirst(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		r := rec
		r.CreatedAt = at
		r.Iterations = i
		if _, err := s.SaveRun(r, history); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Iterations != 1 {
		t.Fatalf("expected the later insert first, got %+v", runs)
	}
}

func TestGetLatestEmpty(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetLatest()
	if !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("nonexistent-id"); err == nil {
		t.Fatal("expected error for nonexistent run")
	}
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	rec, history := sampleRun()
	saved, err := s.SaveRun(rec, history)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if _, err := s.GetRun(saved.RunID); err != nil {
		t.Fatalf("GetRun: %v", err)
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestNewStore_CorruptDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "corrupt.db")
	os.WriteFile(dbPath, []byte("not a sqlite database"), 0644)

	if _, err := NewStore(dbPath); err == nil {
		t.Fatal("expected error for corrupted DB file")
	}
}

func TestGetRun_BadStateJSON(t *testing.T) {
	s := tempDB(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.DB().Exec(
		`INSERT INTO runs (run_id, scenario, termination, iterations, initial_state, setpoint,
		                   final_state, rules_json, seed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"bad-json", "x", "stabilized", 0, "not-json", "{}", "{}", "[]", "0", now,
	)
	if err != nil {
		t.Fatalf("seed row: %v", err)
	}
	if _, err := s.GetRun("bad-json"); err == nil {
		t.Fatal("expected unmarshal error for bad state JSON")
	}
}

func TestListRunsOnClosedDB(t *testing.T) {
	s := tempDB(t)
	s.Close()
	if _, err := s.ListRuns(10); err == nil {
		t.Fatal("expected error on closed DB")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	s := tempDB(t)
	rec, history := sampleRun()
	rec.Document = `{"name":"temperature","seed":42}`
	withDoc, err := s.SaveRun(rec, history)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	rec.Document = ""
	withoutDoc, err := s.SaveRun(rec, history)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(withDoc.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Document != `{"name":"temperature","seed":42}` {
		t.Errorf("document not preserved: %q", got.Document)
	}
	got, err = s.GetRun(withoutDoc.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Document != "" {
		t.Errorf("expected empty document, got %q", got.Document)
	}
}
