// Package kdb is the failure knowledge database: per-test-case failure
// history documents deduplicated by fingerprint, plus timestamped
// project-level analysis snapshots, all kept as JSON files under one root.
//
// Layout:
//
//	<root>/testcases/<safe-name>.json
//	<root>/analysis/<safe-project>/test_analysis_YYYYMMDD_HHMMSS.json
package kdb

import (
	"time"

	"gtaf/internal/report"
)

// DefaultRetainedOccurrences is how many recent occurrences a FailureGroup keeps.
const DefaultRetainedOccurrences = 5

// Classification values stored on tester notes.
const (
	ClassificationBug    = "bug"
	ClassificationNotBug = "not_bug"
)

// TesterNote is one human annotation attached to an occurrence.
type TesterNote struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Note           string    `json:"note"`
	Classification string    `json:"classification"`
}

// Occurrence is one observed instance of a failure.
// IsBug is nil until a tester classifies it.
type Occurrence struct {
	Timestamp        time.Time    `json:"timestamp"`
	Error            string       `json:"error"`
	StackTrace       string       `json:"stackTrace,omitempty"`
	IsBug            *bool        `json:"isBug"`
	BugStatusUpdated *time.Time   `json:"bug_status_updated,omitempty"`
	TesterNotes      []TesterNote `json:"tester_notes"`
}

// FailureGroup collects every occurrence sharing one fingerprint.
type FailureGroup struct {
	FailureID         string       `json:"failure_id"`
	Error             string       `json:"error"`
	Status            string       `json:"status,omitempty"`
	FilePath          string       `json:"filePath,omitempty"`
	FailedStep        string       `json:"failedStep,omitempty"`
	FirstSeen         time.Time    `json:"first_seen"`
	LastSeen          time.Time    `json:"last_seen"`
	OccurrenceCount   int          `json:"occurrence_count"`
	RecentOccurrences []Occurrence `json:"recent_occurrences"`
}

// Latest returns the most recent retained occurrence, or nil.
func (g *FailureGroup) Latest() *Occurrence {
	if len(g.RecentOccurrences) == 0 {
		return nil
	}
	return &g.RecentOccurrences[0]
}

// TestCaseRecord is the persisted document for one test case.
type TestCaseRecord struct {
	TestCase       string                   `json:"testCase"`
	Created        time.Time                `json:"created"`
	LastUpdated    time.Time                `json:"last_updated"`
	TotalFailures  int                      `json:"total_failures"`
	UniqueErrors   int                      `json:"unique_errors"`
	FailureHistory map[string]*FailureGroup `json:"failure_history"`
}

// NewTestCaseRecord returns an empty record for testCase.
func NewTestCaseRecord(testCase string, now time.Time) *TestCaseRecord {
	return &TestCaseRecord{
		TestCase:       testCase,
		Created:        now,
		FailureHistory: make(map[string]*FailureGroup),
	}
}

// recount refreshes the derived totals.
func (r *TestCaseRecord) recount() {
	total := 0
	for _, g := range r.FailureHistory {
		total += g.OccurrenceCount
	}
	r.TotalFailures = total
	r.UniqueErrors = len(r.FailureHistory)
}

// Groups returns the failure groups ordered by last_seen, most recent first.
// Ties break on failure id so the order is stable across loads.
func (r *TestCaseRecord) Groups() []*FailureGroup {
	out := make([]*FailureGroup, 0, len(r.FailureHistory))
	for _, g := range r.FailureHistory {
		out = append(out, g)
	}
	sortGroups(out)
	return out
}

// Failure is one failure to fold into the knowledge base.
type Failure struct {
	TestCase   string
	Error      string
	StackTrace string
	Status     string
	FilePath   string
	FailedStep string
	Timestamp  time.Time
}

// FailuresFromReport converts fetched entries into Failures. Timestamps are
// left zero so the merge stamps them with the DB clock.
func FailuresFromReport(entries []report.FailureEntry) []Failure {
	out := make([]Failure, len(entries))
	for i, e := range entries {
		out[i] = Failure{
			TestCase:   e.TestCase,
			Error:      e.Error,
			StackTrace: e.StackTrace,
			Status:     e.Status,
			FilePath:   e.FilePath,
			FailedStep: e.FailedStep,
		}
	}
	return out
}

// BatchResult counts what a batch merge did.
type BatchResult struct {
	Merged    int      `json:"merged"`
	Skipped   int      `json:"skipped"`
	TestCases []string `json:"test_cases,omitempty"`
}

// Add folds o into r.
func (r *BatchResult) Add(o BatchResult) {
	r.Merged += o.Merged
	r.Skipped += o.Skipped
	r.TestCases = append(r.TestCases, o.TestCases...)
}

// TopFailure is one failing test as listed in a snapshot.
type TopFailure struct {
	Name     string  `json:"name"`
	Error    string  `json:"error"`
	Duration float64 `json:"duration"`
}

// Snapshot is an immutable summary of one test run.
type Snapshot struct {
	ID             string       `json:"id"`
	SetupID        string       `json:"setupId"`
	MatchedProject string       `json:"matchedProject"`
	Total          int          `json:"total"`
	Passed         int          `json:"passed"`
	Failed         int          `json:"failed"`
	PassRate       float64      `json:"passRate"`
	TopFailures    []TopFailure `json:"topFailures"`
	SavedPath      string       `json:"savedPath,omitempty"`
}

// snapshotDocument is the on-disk wrapper of a Snapshot.
type snapshotDocument struct {
	ID           string    `json:"id"`
	ProjectName  string    `json:"project_name"`
	Timestamp    time.Time `json:"timestamp"`
	AnalysisType string    `json:"analysis_type"`
	Data         Snapshot  `json:"data"`
}

// CleanupStats is the exact accounting of a full wipe.
type CleanupStats struct {
	TestcasesRemoved     int      `json:"testcases_removed"`
	AnalysisFilesRemoved int      `json:"analysis_files_removed"`
	AnalysisDirsRemoved  int      `json:"analysis_directories_removed"`
	Errors               []string `json:"errors,omitempty"`
}
