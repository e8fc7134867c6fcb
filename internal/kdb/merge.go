package kdb

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MergeFailure folds a single failure into its test case's record.
// A malformed failure is returned as a *MalformedEntryError.
func (db *DB) MergeFailure(ctx context.Context, f Failure) error {
	if err := checkEntry(-1, f.TestCase, f); err != nil {
		return err
	}
	_, err := db.MergeAll(ctx, f.TestCase, []Failure{f})
	return err
}

// MergeAll folds entries into testCase's record in order, with one load and
// one save under the document lock. Malformed entries are skipped and
// counted. Nothing is written when no entry was merged.
func (db *DB) MergeAll(ctx context.Context, testCase string, entries []Failure) (BatchResult, error) {
	var res BatchResult
	if strings.TrimSpace(testCase) == "" {
		res.Skipped = len(entries)
		return res, &MalformedEntryError{Index: -1, Reason: "empty test case name"}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	err := db.withKey(SafeName(testCase), func() error {
		rec, err := db.Load(ctx, testCase)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		now := db.now()
		for i, e := range entries {
			if err := checkEntry(i, testCase, e); err != nil {
				res.Skipped++
				db.logger.Debug("skipping malformed failure", "test_case", testCase, "error", err)
				continue
			}
			if rec == nil {
				rec = NewTestCaseRecord(testCase, now)
			}
			db.apply(rec, e, now)
			res.Merged++
		}
		if res.Merged == 0 {
			return nil
		}

		rec.recount()
		if now.After(rec.LastUpdated) {
			rec.LastUpdated = now
		}
		if err := db.Save(ctx, rec); err != nil {
			res.Merged = 0
			return err
		}
		res.TestCases = []string{testCase}
		return nil
	})
	if err != nil {
		return res, err
	}

	db.logger.Debug("merged failures", "test_case", testCase, "merged", res.Merged, "skipped", res.Skipped)
	return res, nil
}

// Ingest merges a flat failure list. Entries are grouped by test case in
// first-seen order; each group is one MergeAll. Different test cases are
// merged in parallel, bounded by the DB's parallelism.
func (db *DB) Ingest(ctx context.Context, failures []Failure) (BatchResult, error) {
	var (
		total  BatchResult
		order  []string
		groups = make(map[string][]Failure)
	)
	for _, f := range failures {
		name := strings.TrimSpace(f.TestCase)
		if name == "" {
			total.Skipped++
			continue
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], f)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.parallel)
	for _, name := range order {
		entries := groups[name]
		g.Go(func() error {
			res, err := db.MergeAll(gctx, name, entries)
			mu.Lock()
			total.Add(res)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	sort.Strings(total.TestCases)
	if err != nil {
		var se *StoreIOError
		if errors.As(err, &se) {
			se.Merged = total.Merged
		}
		return total, err
	}
	db.logger.Info("ingested failures", "test_cases", len(order), "merged", total.Merged, "skipped", total.Skipped)
	return total, nil
}

// checkEntry validates e as a member of testCase's batch.
func checkEntry(idx int, testCase string, e Failure) error {
	if strings.TrimSpace(e.Error) == "" {
		return &MalformedEntryError{Index: idx, Reason: "missing error text"}
	}
	if e.TestCase != "" && strings.TrimSpace(e.TestCase) != strings.TrimSpace(testCase) {
		return &MalformedEntryError{Index: idx, Reason: "entry belongs to test case " + e.TestCase}
	}
	if strings.TrimSpace(testCase) == "" {
		return &MalformedEntryError{Index: idx, Reason: "empty test case name"}
	}
	return nil
}

// apply folds one validated failure into rec. Existing occurrences, and the
// annotations on them, are only ever moved or evicted, never rewritten.
func (db *DB) apply(rec *TestCaseRecord, e Failure, now time.Time) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now
	}
	occ := Occurrence{
		Timestamp:   ts,
		Error:       NormalizeError(e.Error),
		StackTrace:  e.StackTrace,
		TesterNotes: []TesterNote{},
	}

	id := Fingerprint(rec.TestCase, e.Error)
	g, ok := rec.FailureHistory[id]
	if !ok {
		rec.FailureHistory[id] = &FailureGroup{
			FailureID:         id,
			Error:             occ.Error,
			Status:            statusOrFailed(e.Status),
			FilePath:          e.FilePath,
			FailedStep:        e.FailedStep,
			FirstSeen:         ts,
			LastSeen:          ts,
			OccurrenceCount:   1,
			RecentOccurrences: []Occurrence{occ},
		}
		return
	}

	g.OccurrenceCount++
	g.RecentOccurrences = insertOccurrence(g.RecentOccurrences, occ, db.retained)
	if ts.Before(g.FirstSeen) {
		g.FirstSeen = ts
	}
	if ts.After(g.LastSeen) {
		g.LastSeen = ts
	}
	if e.FilePath != "" {
		g.FilePath = e.FilePath
	}
	if e.FailedStep != "" {
		g.FailedStep = e.FailedStep
	}
	if e.Status != "" {
		g.Status = e.Status
	}
}

// insertOccurrence places occ in the most-recent-first window ahead of any
// occurrence not newer than it, then drops the oldest beyond limit.
func insertOccurrence(window []Occurrence, occ Occurrence, limit int) []Occurrence {
	i := 0
	for i < len(window) && window[i].Timestamp.After(occ.Timestamp) {
		i++
	}
	window = slices.Insert(window, i, occ)
	if len(window) > limit {
		window = window[:limit]
	}
	return window
}

func statusOrFailed(s string) string {
	if s == "" {
		return "failed"
	}
	return s
}

func sortGroups(groups []*FailureGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].LastSeen.Equal(groups[j].LastSeen) {
			return groups[i].LastSeen.After(groups[j].LastSeen)
		}
		return groups[i].FailureID < groups[j].FailureID
	})
}
