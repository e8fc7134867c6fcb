package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gtaf/internal/kdb"
	"gtaf/internal/report"
	"gtaf/internal/resolve"
)

// ErrNoProjectName is returned when a project lookup is given a blank name.
var ErrNoProjectName = errors.New("project name is required")

// ProjectLister lists the projects of the report platform.
type ProjectLister interface {
	Projects(ctx context.Context) ([]report.Project, error)
}

// FailureFetcher fetches one project's failed test cases.
type FailureFetcher interface {
	FailedTestCases(ctx context.Context, projectID string) ([]report.FailureEntry, error)
}

// ProjectCandidates maps projects onto resolver candidates, keeping order.
func ProjectCandidates(projects []report.Project) []resolve.Candidate {
	out := make([]resolve.Candidate, len(projects))
	for i, p := range projects {
		out[i] = resolve.Candidate{ID: p.ID, Name: p.Name}
	}
	return out
}

// ResolveProject maps a free-text project name onto one of src's projects.
// Resolution failures come back as resolve errors carrying suggestions.
func ResolveProject(ctx context.Context, src ProjectLister, r *resolve.Resolver, name string) (resolve.Candidate, error) {
	if src == nil {
		return resolve.Candidate{}, ErrNoSource
	}
	if strings.TrimSpace(name) == "" {
		return resolve.Candidate{}, ErrNoProjectName
	}
	projects, err := src.Projects(ctx)
	if err != nil {
		return resolve.Candidate{}, fmt.Errorf("list projects: %w", err)
	}
	res, err := r.Resolve(name, ProjectCandidates(projects))
	if err != nil {
		return resolve.Candidate{}, err
	}
	return res.One(), nil
}

// IngestProject fetches project's failed test cases and merges them into
// db. It returns how many entries were fetched alongside the merge result.
func IngestProject(ctx context.Context, db *kdb.DB, src FailureFetcher, project resolve.Candidate) (int, kdb.BatchResult, error) {
	entries, err := src.FailedTestCases(ctx, project.ID)
	if err != nil {
		return 0, kdb.BatchResult{}, fmt.Errorf("fetch failures of %q: %w", project.Name, err)
	}
	res, err := db.Ingest(ctx, kdb.FailuresFromReport(entries))
	return len(entries), res, err
}
