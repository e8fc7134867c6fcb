package kdb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gtaf/internal/report"
)

func TestAnalyze_Counts(t *testing.T) {
	db := newTestDB(t)
	run := &report.RunResult{SetupID: "setup-1", Tests: []report.TestOutcome{
		{Name: "a", Status: "passed"},
		{Name: "b", Status: "FAILED", Error: "boom", Duration: 3.2},
		{Name: "c", Status: "skipped"},
		{Name: "d", Status: "ok"},
		{Name: "e", Status: "error", Error: "crash", Duration: 0.5},
		{Name: "f", Status: "broken", Error: "setup"},
		{Name: "g", Status: "fail", Error: "late"},
	}}

	snap := db.Analyze(run, "menu-service")

	if snap.Total != 7 || snap.Passed != 2 || snap.Failed != 4 {
		t.Errorf("total/passed/failed = %d/%d/%d, want 7/2/4", snap.Total, snap.Passed, snap.Failed)
	}
	if snap.PassRate != 28.6 {
		t.Errorf("passRate = %v, want 28.6", snap.PassRate)
	}
	want := []TopFailure{
		{Name: "b", Error: "boom", Duration: 3.2},
		{Name: "e", Error: "crash", Duration: 0.5},
		{Name: "f", Error: "setup"},
	}
	if diff := cmp.Diff(want, snap.TopFailures); diff != "" {
		t.Errorf("top failures keep report order (-want +got):\n%s", diff)
	}
	if snap.MatchedProject != "menu-service" || snap.SetupID != "setup-1" || snap.ID == "" {
		t.Errorf("snapshot header = %+v", snap)
	}
}

func TestAnalyze_EmptyRun(t *testing.T) {
	db := newTestDB(t)
	snap := db.Analyze(&report.RunResult{}, "p")
	if snap.Total != 0 || snap.PassRate != 0 {
		t.Errorf("snapshot = %+v, want zero pass rate", snap)
	}
	if snap.TopFailures == nil {
		t.Error("top failures should be an empty list, not null")
	}
}

func TestAnalyze_TopFailuresLimit(t *testing.T) {
	db := newTestDB(t, WithTopFailures(1))
	snap := db.Analyze(&report.RunResult{Tests: []report.TestOutcome{
		{Name: "a", Status: "failed"},
		{Name: "b", Status: "failed"},
	}}, "p")
	if len(snap.TopFailures) != 1 || snap.TopFailures[0].Name != "a" {
		t.Errorf("top failures = %+v", snap.TopFailures)
	}
}

func TestPersist_WritesDocument(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	snap := db.Analyze(&report.RunResult{SetupID: "s", Tests: []report.TestOutcome{{Name: "a", Status: "passed"}}}, "Menu Service")

	path, err := db.Persist(ctx, snap, "Menu Service")
	if err != nil {
		t.Fatal(err)
	}
	wantDir := filepath.Join(db.Root(), "analysis", "Menu_Service")
	if filepath.Dir(path) != wantDir {
		t.Errorf("dir = %s, want %s", filepath.Dir(path), wantDir)
	}
	if !strings.HasPrefix(filepath.Base(path), "test_analysis_20250314_0930") {
		t.Errorf("name = %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.ProjectName != "Menu Service" || doc.AnalysisType != AnalysisTypeLatestResult {
		t.Errorf("doc header = %+v", doc)
	}
	if doc.Data.SavedPath != path || doc.Data.PassRate != 100 {
		t.Errorf("doc data = %+v", doc.Data)
	}
}

func TestPersist_SameSecondDoesNotOverwrite(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	db := newTestDB(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		snap := db.Analyze(&report.RunResult{}, "p")
		path, err := db.Persist(ctx, snap, "p")
		if err != nil {
			t.Fatal(err)
		}
		if seen[path] {
			t.Fatalf("path reused: %s", path)
		}
		seen[path] = true
	}

	entries, err := os.ReadDir(filepath.Join(db.Root(), "analysis", "p"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{
		"test_analysis_20250102_030405.json",
		"test_analysis_20250102_030405_1.json",
		"test_analysis_20250102_030405_2.json",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}
