package kdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gtaf/internal/report"
)

const (
	// AnalysisTypeLatestResult tags snapshots built from a latest-result run.
	AnalysisTypeLatestResult = "latest_result_analysis"

	snapshotPrefix     = "test_analysis_"
	snapshotTimeLayout = "20060102_150405"
)

// Analyze summarizes run. Failing tests are listed in report order up to
// the DB's top-failures limit. The snapshot is not persisted.
func (db *DB) Analyze(run *report.RunResult, matchedProject string) Snapshot {
	snap := Snapshot{
		ID:             uuid.NewString(),
		SetupID:        run.SetupID,
		MatchedProject: matchedProject,
		Total:          len(run.Tests),
		TopFailures:    []TopFailure{},
	}
	for _, t := range run.Tests {
		switch t.Outcome() {
		case report.OutcomePassed:
			snap.Passed++
		case report.OutcomeFailed:
			snap.Failed++
			if len(snap.TopFailures) < db.topFailures {
				snap.TopFailures = append(snap.TopFailures, TopFailure{
					Name:     t.Name,
					Error:    t.Error,
					Duration: t.Duration,
				})
			}
		}
	}
	if snap.Total > 0 {
		snap.PassRate = round1(float64(snap.Passed) / float64(snap.Total) * 100)
	}
	return snap
}

// Persist writes snap under analysis/<project>/ as a new file named after
// the current second. A file already holding that name is never
// overwritten; a _N suffix is added instead. The path written is returned
// and recorded in the stored snapshot's savedPath.
func (db *DB) Persist(ctx context.Context, snap Snapshot, project string) (string, error) {
	dirName := SafeName(project)
	dir := filepath.Join(db.analysisDir, dirName)

	var path string
	err := db.withKey(analysisDirName+"/"+dirName, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ioErr("create namespace", dir, err)
		}

		now := db.now()
		p, err := freeSnapshotPath(dir, now)
		if err != nil {
			return err
		}
		snap.SavedPath = p

		doc := snapshotDocument{
			ID:           snap.ID,
			ProjectName:  project,
			Timestamp:    now,
			AnalysisType: AnalysisTypeLatestResult,
			Data:         snap,
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("kdb: marshal snapshot: %w", err)
		}
		if err := writeFileAtomic(p, data); err != nil {
			return ioErr("save snapshot", p, err)
		}
		path = p
		return nil
	})
	if err != nil {
		return "", err
	}
	db.logger.Info("snapshot saved", "project", project, "path", path)
	return path, nil
}

// freeSnapshotPath picks the first unused name for a snapshot taken at ts.
// Callers hold the project's analysis lock.
func freeSnapshotPath(dir string, ts time.Time) (string, error) {
	base := snapshotPrefix + ts.Format(snapshotTimeLayout)
	for n := 0; ; n++ {
		name := base + docExt
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", base, n, docExt)
		}
		p := filepath.Join(dir, name)
		_, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		if err != nil {
			return "", ioErr("stat", p, err)
		}
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
