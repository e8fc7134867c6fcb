package kdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"gtaf/internal/resolve"
)

const (
	topFailingTestCases = 10
	topCommonErrors     = 5
	topFilePaths        = 10
	errorKeyLen         = 100
	similarKeywords     = 3
)

// Find resolves query against the stored test case names and loads the
// chosen record. Resolution errors come back unchanged so callers can
// surface suggestions.
func (db *DB) Find(ctx context.Context, query string, r *resolve.Resolver) (*TestCaseRecord, error) {
	names, err := db.List(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.Resolve(query, candidates(names))
	if err != nil {
		return nil, err
	}
	if res.All {
		return nil, &resolve.NotFoundError{Query: query, Candidates: res.Matched}
	}
	return db.Load(ctx, res.One().Name)
}

// DocumentSummary is one line of a knowledge base listing.
type DocumentSummary struct {
	TestCase      string    `json:"testCase"`
	TotalFailures int       `json:"total_failures"`
	UniqueErrors  int       `json:"unique_errors"`
	LastUpdated   time.Time `json:"last_updated"`
	File          string    `json:"file"`
}

// Documents summarizes every stored record whose test case name matches
// query. An empty query lists them all.
func (db *DB) Documents(ctx context.Context, query string) ([]DocumentSummary, error) {
	var recs []*TestCaseRecord
	if err := db.withShared(func() error {
		var err error
		recs, err = db.loadAllLocked(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	byName := make(map[string]*TestCaseRecord, len(recs))
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		byName[r.TestCase] = r
		names = append(names, r.TestCase)
	}

	matched := resolve.Matches(query, candidates(names))
	out := make([]DocumentSummary, 0, len(matched))
	for _, c := range matched {
		r := byName[c.Name]
		out = append(out, DocumentSummary{
			TestCase:      r.TestCase,
			TotalFailures: r.TotalFailures,
			UniqueErrors:  r.UniqueErrors,
			LastUpdated:   r.LastUpdated,
			File:          SafeName(r.TestCase) + docExt,
		})
	}
	return out, nil
}

// Counted is a name with a tally, used by the ranked statistics lists.
type Counted struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestCaseCount is one entry of the top failing test cases list.
type TestCaseCount struct {
	TestCase      string `json:"testCase"`
	TotalFailures int    `json:"total_failures"`
	UniqueErrors  int    `json:"unique_errors"`
}

// FailureStats summarizes the whole knowledge base.
type FailureStats struct {
	TotalTestCases      int             `json:"total_testcases"`
	TotalFailures       int             `json:"total_failures"`
	TotalUniqueErrors   int             `json:"total_unique_errors"`
	FailureTypes        []Counted       `json:"failure_types"`
	MostCommonErrors    []Counted       `json:"most_common_errors"`
	TopFailingTestCases []TestCaseCount `json:"top_failing_testcases"`
}

// Stats aggregates occurrence counts across all records.
func (db *DB) Stats(ctx context.Context) (*FailureStats, error) {
	var recs []*TestCaseRecord
	if err := db.withShared(func() error {
		var err error
		recs, err = db.loadAllLocked(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	st := &FailureStats{TotalTestCases: len(recs)}
	paths := map[string]int{}
	errs := map[string]int{}
	tcs := make([]TestCaseCount, 0, len(recs))
	for _, r := range recs {
		st.TotalFailures += r.TotalFailures
		st.TotalUniqueErrors += r.UniqueErrors
		tcs = append(tcs, TestCaseCount{TestCase: r.TestCase, TotalFailures: r.TotalFailures, UniqueErrors: r.UniqueErrors})
		for _, g := range r.FailureHistory {
			fp := g.FilePath
			if fp == "" {
				fp = "unknown"
			}
			paths[fp] += g.OccurrenceCount
			errs[errorKey(g.Error)] += g.OccurrenceCount
		}
	}

	sort.SliceStable(tcs, func(i, j int) bool { return tcs[i].TotalFailures > tcs[j].TotalFailures })
	st.TopFailingTestCases = head(tcs, topFailingTestCases)
	st.FailureTypes = ranked(paths, topFilePaths)
	st.MostCommonErrors = ranked(errs, topCommonErrors)
	return st, nil
}

// TestCaseBugs is the per-test-case breakdown in BugStats.
type TestCaseBugs struct {
	TestCase string `json:"testCase"`
	Bugs     int    `json:"bugs"`
	NonBugs  int    `json:"non_bugs"`
	Pending  int    `json:"pending"`
}

// BugStats counts tester classifications. Each failure group is classified
// by its most recent occurrence.
type BugStats struct {
	TotalFailures        int            `json:"total_failures"`
	ClassifiedAsBugs     int            `json:"classified_as_bugs"`
	ClassifiedAsNotBugs  int            `json:"classified_as_not_bugs"`
	Pending              int            `json:"pending_classification"`
	ClassificationRate   float64        `json:"bug_classification_rate"`
	TestCasesWithBugs    []TestCaseBugs `json:"testcases_with_bugs"`
	TestCasesWithoutBugs []TestCaseBugs `json:"testcases_without_bugs"`
}

// BugStatistics tallies classifications across all records.
func (db *DB) BugStatistics(ctx context.Context) (*BugStats, error) {
	var recs []*TestCaseRecord
	if err := db.withShared(func() error {
		var err error
		recs, err = db.loadAllLocked(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	st := &BugStats{TestCasesWithBugs: []TestCaseBugs{}, TestCasesWithoutBugs: []TestCaseBugs{}}
	for _, r := range recs {
		tc := TestCaseBugs{TestCase: r.TestCase}
		for _, g := range r.FailureHistory {
			st.TotalFailures++
			switch v := verdict(g); {
			case v == nil:
				tc.Pending++
			case *v:
				tc.Bugs++
			default:
				tc.NonBugs++
			}
		}
		st.ClassifiedAsBugs += tc.Bugs
		st.ClassifiedAsNotBugs += tc.NonBugs
		st.Pending += tc.Pending
		switch {
		case tc.Bugs > 0:
			st.TestCasesWithBugs = append(st.TestCasesWithBugs, tc)
		case tc.NonBugs > 0:
			st.TestCasesWithoutBugs = append(st.TestCasesWithoutBugs, tc)
		}
	}
	if st.TotalFailures > 0 {
		classified := st.ClassifiedAsBugs + st.ClassifiedAsNotBugs
		st.ClassificationRate = round1(float64(classified) / float64(st.TotalFailures) * 100)
	}
	return st, nil
}

// ClassificationCounts tallies verdicts for one test case.
type ClassificationCounts struct {
	Bugs    int `json:"bugs"`
	NotBugs int `json:"not_bugs"`
	Pending int `json:"pending"`
}

// GroupNotes is the tester activity on one failure group.
type GroupNotes struct {
	FailureID       string       `json:"failure_id"`
	FirstSeen       time.Time    `json:"first_seen"`
	LastSeen        time.Time    `json:"last_seen"`
	OccurrenceCount int          `json:"occurrence_count"`
	IsBug           *bool        `json:"is_bug"`
	LastClassified  *time.Time   `json:"last_classified,omitempty"`
	Notes           []TesterNote `json:"tester_notes"`
	LatestError     string       `json:"latest_error"`
}

// NotesReport is the tester history of one test case.
type NotesReport struct {
	TestCase        string               `json:"test_case"`
	Created         time.Time            `json:"created"`
	LastUpdated     time.Time            `json:"last_updated"`
	TotalFailures   int                  `json:"total_failures"`
	UniqueErrors    int                  `json:"unique_errors"`
	TotalNotes      int                  `json:"total_notes"`
	Classifications ClassificationCounts `json:"bug_classifications"`
	Failures        []GroupNotes         `json:"failures_with_notes"`
}

// TesterNotes collects every note and classification recorded on
// testCase's retained occurrences. Groups with no tester activity are
// counted as pending and left out of Failures.
func (db *DB) TesterNotes(ctx context.Context, testCase string) (*NotesReport, error) {
	rec, err := db.Load(ctx, testCase)
	if err != nil {
		return nil, err
	}
	rep := &NotesReport{
		TestCase:      rec.TestCase,
		Created:       rec.Created,
		LastUpdated:   rec.LastUpdated,
		TotalFailures: rec.TotalFailures,
		UniqueErrors:  rec.UniqueErrors,
		Failures:      []GroupNotes{},
	}
	for _, g := range rec.Groups() {
		var notes []TesterNote
		for _, o := range g.RecentOccurrences {
			notes = append(notes, o.TesterNotes...)
		}
		sort.SliceStable(notes, func(i, j int) bool { return notes[i].Timestamp.Before(notes[j].Timestamp) })
		rep.TotalNotes += len(notes)

		v := verdict(g)
		switch {
		case v == nil:
			rep.Classifications.Pending++
		case *v:
			rep.Classifications.Bugs++
		default:
			rep.Classifications.NotBugs++
		}
		if len(notes) == 0 && v == nil {
			continue
		}

		gn := GroupNotes{
			FailureID:       g.FailureID,
			FirstSeen:       g.FirstSeen,
			LastSeen:        g.LastSeen,
			OccurrenceCount: g.OccurrenceCount,
			IsBug:           v,
			Notes:           notes,
			LatestError:     "No recent error",
		}
		if gn.Notes == nil {
			gn.Notes = []TesterNote{}
		}
		if occ := g.Latest(); occ != nil {
			gn.LastClassified = occ.BugStatusUpdated
			gn.LatestError = truncate(occ.Error, errorKeyLen)
		}
		rep.Failures = append(rep.Failures, gn)
	}
	return rep, nil
}

// SimilarFailure is one FindSimilar hit.
type SimilarFailure struct {
	TestCase string        `json:"testCase"`
	Failure  *FailureGroup `json:"failure"`
}

// FindSimilar returns failure groups of test cases whose name contains
// testCase, or whose error contains any of the first three words of
// errText, most frequent first.
func (db *DB) FindSimilar(ctx context.Context, testCase, errText string) ([]SimilarFailure, error) {
	var recs []*TestCaseRecord
	if err := db.withShared(func() error {
		var err error
		recs, err = db.loadAllLocked(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(testCase))
	keywords := strings.Fields(strings.ToLower(errText))
	if len(keywords) > similarKeywords {
		keywords = keywords[:similarKeywords]
	}

	out := []SimilarFailure{}
	for _, r := range recs {
		nameHit := q != "" && strings.Contains(strings.ToLower(r.TestCase), q)
		for _, g := range r.Groups() {
			if nameHit || containsAny(strings.ToLower(g.Error), keywords) {
				out = append(out, SimilarFailure{TestCase: r.TestCase, Failure: g})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Failure.OccurrenceCount > out[j].Failure.OccurrenceCount
	})
	return out, nil
}

// verdict is the classification of g's most recent occurrence.
func verdict(g *FailureGroup) *bool {
	if occ := g.Latest(); occ != nil {
		return occ.IsBug
	}
	return nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// errorKey is the first line of an error, capped for grouping.
func errorKey(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return truncateRunes(line, errorKeyLen)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ranked sorts counts descending (ties by name) and keeps the first n.
func ranked(counts map[string]int, n int) []Counted {
	out := make([]Counted, 0, len(counts))
	for k, v := range counts {
		out = append(out, Counted{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return head(out, n)
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
