package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"gtaf/internal/kdb"
	"gtaf/internal/logging"
	"gtaf/internal/report"
	"gtaf/internal/resolve"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrNoSource is returned by tools that need the report source when none is configured.
var ErrNoSource = errors.New("report source not configured (set source.api_key or GTAF_SOURCE_API_KEY)")

// Source supplies raw project and run data. *ordino.Client implements it.
type Source interface {
	ProjectLister
	FailureFetcher
	LatestResult(ctx context.Context, projectID string) (*report.RunResult, error)
}

// Options configures NewServer.
type Options struct {
	// Source may be nil; tools that fetch from it then fail with ErrNoSource.
	Source   Source
	Policy   resolve.Policy
	Parallel int
	Version  string
}

// Server exposes the knowledge base as MCP tools.
type Server struct {
	MCPServer *sdkmcp.Server

	db       *kdb.DB
	source   Source
	resolver *resolve.Resolver
	parallel int
	logger   *slog.Logger
}

// NewServer creates an MCP server backed by db.
func NewServer(db *kdb.DB, opts Options) *Server {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		db:       db,
		source:   opts.Source,
		resolver: resolve.New(opts.Policy),
		parallel: opts.Parallel,
		logger:   logging.New("mcp"),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "gtaf", Version: opts.Version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "add",
		Description: "Add two integers and return the sum.",
	}, s.handleAdd)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_projects",
		Description: "List the projects available on the test-report platform.",
	}, s.handleGetProjects)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_failures_by_project",
		Description: "Fetch the failed test cases of a project. The project name is matched case-insensitively, partial names allowed.",
	}, s.handleGetFailuresByProject)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "save_failures_to_knowledge_db",
		Description: "Fetch a project's failed test cases and merge them into the knowledge database, deduplicating by failure fingerprint.",
	}, s.handleSaveFailures)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "process_all_projects",
		Description: "Fetch and merge the failures of every project into the knowledge database.",
	}, s.handleProcessAll)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_knowledge_db_documents",
		Description: "List knowledge database documents, optionally filtered by a test case name fragment.",
	}, s.handleGetDocuments)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_testcase_history",
		Description: "Get the full failure history of a test case: every distinct failure with counts, first/last seen and recent occurrences.",
	}, s.handleGetHistory)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "update_failure_bug_status",
		Description: "Record a tester's verdict (bug or not a bug) and an optional note on the latest occurrence of a test case failure. failure_index 0 is the most recently seen failure.",
	}, s.handleUpdateBugStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_testcase_tester_notes",
		Description: "Get all tester notes and classifications recorded for a test case.",
	}, s.handleGetTesterNotes)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_failure_stats",
		Description: "Summarize the knowledge database: totals, top failing test cases, most common errors and failures by file.",
	}, s.handleGetFailureStats)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_bug_statistics",
		Description: "Count failures classified as bugs, not bugs, or still pending classification.",
	}, s.handleGetBugStatistics)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "find_similar_failures",
		Description: "Find stored failures whose test case name contains the given name or whose error shares one of the first three words of the given error.",
	}, s.handleFindSimilar)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_latest_result",
		Description: "Summarize a project's latest test run (pass rate, top failures) and save the snapshot.",
	}, s.handleAnalyzeLatest)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "cleanup_knowledge_db",
		Description: "Irreversibly delete knowledge database content. Deletes everything unless older_than_days is set. Requires confirm=true.",
	}, s.handleCleanup)
}

// --- Tool input/output types ---

type addInput struct {
	Digit1 int `json:"digit1" jsonschema:"first addend"`
	Digit2 int `json:"digit2" jsonschema:"second addend"`
}

type addOutput struct {
	Result int `json:"result"`
}

type emptyInput struct{}

type projectsOutput struct {
	Success  bool             `json:"success"`
	Count    int              `json:"count"`
	Projects []report.Project `json:"projects"`
}

type projectInput struct {
	ProjectName string `json:"project_name" jsonschema:"project name or fragment; matched case-insensitively"`
}

type failuresOutput struct {
	Success        bool                  `json:"success"`
	Error          string                `json:"error,omitempty"`
	Suggestions    []string              `json:"suggestions,omitempty"`
	MatchedProject string                `json:"matched_project,omitempty"`
	ProjectID      string                `json:"project_id,omitempty"`
	Count          int                   `json:"count"`
	Failures       []report.FailureEntry `json:"failures"`
}

type saveOutput struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
	MatchedProject string   `json:"matched_project,omitempty"`
	Fetched        int      `json:"fetched"`
	Merged         int      `json:"merged"`
	Skipped        int      `json:"skipped"`
	TestCases      []string `json:"test_cases"`
}

type projectResult struct {
	Project string `json:"project"`
	Fetched int    `json:"fetched"`
	Merged  int    `json:"merged"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type processAllOutput struct {
	Success  bool            `json:"success"`
	Projects []projectResult `json:"projects"`
	Merged   int             `json:"merged"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed_projects"`
}

type documentsInput struct {
	Query string `json:"query,omitempty" jsonschema:"test case name fragment; empty lists every document"`
}

type documentsOutput struct {
	Success   bool                  `json:"success"`
	Count     int                   `json:"count"`
	Documents []kdb.DocumentSummary `json:"documents"`
}

type testCaseInput struct {
	TestCase string `json:"test_case" jsonschema:"test case name or fragment; matched case-insensitively"`
}

type historyOutput struct {
	Success     bool                `json:"success"`
	Error       string              `json:"error,omitempty"`
	Suggestions []string            `json:"suggestions,omitempty"`
	TestCase    string              `json:"test_case,omitempty"`
	Record      *kdb.TestCaseRecord `json:"record,omitempty"`
}

type bugStatusInput struct {
	TestCase     string `json:"test_case" jsonschema:"test case name or fragment"`
	IsBug        bool   `json:"is_bug" jsonschema:"true if the failure is a product bug, false if it is not"`
	TesterNotes  string `json:"tester_notes,omitempty" jsonschema:"optional note explaining the verdict"`
	FailureIndex int    `json:"failure_index,omitempty" jsonschema:"which failure to classify, 0 = most recently seen"`
}

type bugStatusOutput struct {
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	TestCase    string            `json:"test_case,omitempty"`
	Failure     *kdb.FailureGroup `json:"failure,omitempty"`
}

type notesOutput struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Report      *kdb.NotesReport `json:"report,omitempty"`
}

type statsOutput struct {
	Success bool              `json:"success"`
	Stats   *kdb.FailureStats `json:"stats"`
}

type bugStatsOutput struct {
	Success bool          `json:"success"`
	Stats   *kdb.BugStats `json:"stats"`
}

type similarInput struct {
	TestCase string `json:"test_case" jsonschema:"test case name fragment"`
	Error    string `json:"error" jsonschema:"error text; its first three words are used as keywords"`
}

type similarOutput struct {
	Success bool                 `json:"success"`
	Count   int                  `json:"count"`
	Similar []kdb.SimilarFailure `json:"similar"`
}

type analyzeOutput struct {
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Snapshot    *kdb.Snapshot `json:"snapshot,omitempty"`
}

type cleanupInput struct {
	Confirm       bool `json:"confirm,omitempty" jsonschema:"must be true; the deletion cannot be undone"`
	OlderThanDays int  `json:"older_than_days,omitempty" jsonschema:"only delete documents not modified for this many days; 0 deletes everything"`
}

type cleanupOutput struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	Stats            *kdb.CleanupStats `json:"stats,omitempty"`
	TestcasesRemoved int               `json:"testcases_removed"`
}

// --- Tool handlers ---

func (s *Server) handleAdd(_ context.Context, _ *sdkmcp.CallToolRequest, input addInput) (*sdkmcp.CallToolResult, addOutput, error) {
	return nil, addOutput{Result: input.Digit1 + input.Digit2}, nil
}

func (s *Server) handleGetProjects(ctx context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, projectsOutput, error) {
	if s.source == nil {
		return nil, projectsOutput{}, ErrNoSource
	}
	projects, err := s.source.Projects(ctx)
	if err != nil {
		return nil, projectsOutput{}, fmt.Errorf("get_projects: %w", err)
	}
	return nil, projectsOutput{Success: true, Count: len(projects), Projects: projects}, nil
}

func (s *Server) handleGetFailuresByProject(ctx context.Context, _ *sdkmcp.CallToolRequest, input projectInput) (*sdkmcp.CallToolResult, failuresOutput, error) {
	project, err := s.resolveProject(ctx, input.ProjectName)
	if err != nil {
		if sugg, ok := suggestions(err); ok {
			return nil, failuresOutput{Error: err.Error(), Suggestions: sugg, Failures: []report.FailureEntry{}}, nil
		}
		return nil, failuresOutput{}, err
	}
	failures, err := s.source.FailedTestCases(ctx, project.ID)
	if err != nil {
		return nil, failuresOutput{}, fmt.Errorf("get_failures_by_project: %w", err)
	}
	return nil, failuresOutput{
		Success:        true,
		MatchedProject: project.Name,
		ProjectID:      project.ID,
		Count:          len(failures),
		Failures:       failures,
	}, nil
}

func (s *Server) handleSaveFailures(ctx context.Context, _ *sdkmcp.CallToolRequest, input projectInput) (*sdkmcp.CallToolResult, saveOutput, error) {
	project, err := s.resolveProject(ctx, input.ProjectName)
	if err != nil {
		if sugg, ok := suggestions(err); ok {
			return nil, saveOutput{Error: err.Error(), Suggestions: sugg, TestCases: []string{}}, nil
		}
		return nil, saveOutput{}, err
	}
	res := s.ingestProject(ctx, project)
	if res.Error != "" {
		return nil, saveOutput{}, fmt.Errorf("save_failures_to_knowledge_db: %s", res.Error)
	}
	return nil, saveOutput{
		Success:        true,
		MatchedProject: project.Name,
		Fetched:        res.Fetched,
		Merged:         res.Merged,
		Skipped:        res.Skipped,
		TestCases:      res.testCases,
	}, nil
}

func (s *Server) handleProcessAll(ctx context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, processAllOutput, error) {
	if s.source == nil {
		return nil, processAllOutput{}, ErrNoSource
	}
	projects, err := s.source.Projects(ctx)
	if err != nil {
		return nil, processAllOutput{}, fmt.Errorf("process_all_projects: %w", err)
	}

	var (
		mu  sync.Mutex
		out = processAllOutput{Projects: make([]projectResult, 0, len(projects))}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, p := range ProjectCandidates(projects) {
		g.Go(func() error {
			res := s.ingestProject(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			out.Projects = append(out.Projects, res.projectResult)
			out.Merged += res.Merged
			out.Skipped += res.Skipped
			if res.Error != "" {
				out.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i].Project < out.Projects[j].Project })
	out.Success = out.Failed == 0
	s.logger.Info("processed all projects", "projects", len(projects), "merged", out.Merged, "failed", out.Failed)
	return nil, out, nil
}

func (s *Server) handleGetDocuments(ctx context.Context, _ *sdkmcp.CallToolRequest, input documentsInput) (*sdkmcp.CallToolResult, documentsOutput, error) {
	docs, err := s.db.Documents(ctx, input.Query)
	if err != nil {
		return nil, documentsOutput{}, fmt.Errorf("get_knowledge_db_documents: %w", err)
	}
	return nil, documentsOutput{Success: true, Count: len(docs), Documents: docs}, nil
}

func (s *Server) handleGetHistory(ctx context.Context, _ *sdkmcp.CallToolRequest, input testCaseInput) (*sdkmcp.CallToolResult, historyOutput, error) {
	rec, err := s.db.Find(ctx, input.TestCase, s.resolver)
	if err != nil {
		if sugg, ok := suggestions(err); ok {
			return nil, historyOutput{Error: err.Error(), Suggestions: sugg}, nil
		}
		return nil, historyOutput{}, fmt.Errorf("get_testcase_history: %w", err)
	}
	return nil, historyOutput{Success: true, TestCase: rec.TestCase, Record: rec}, nil
}

func (s *Server) handleUpdateBugStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input bugStatusInput) (*sdkmcp.CallToolResult, bugStatusOutput, error) {
	rec, err := s.db.Find(ctx, input.TestCase, s.resolver)
	if err != nil {
		if sugg, ok := suggestions(err); ok {
			return nil, bugStatusOutput{Error: err.Error(), Suggestions: sugg}, nil
		}
		return nil, bugStatusOutput{}, fmt.Errorf("update_failure_bug_status: %w", err)
	}
	g, err := s.db.Annotate(ctx, rec.TestCase, input.IsBug, input.TesterNotes, input.FailureIndex)
	if err != nil {
		return nil, bugStatusOutput{}, fmt.Errorf("update_failure_bug_status: %w", err)
	}
	return nil, bugStatusOutput{Success: true, TestCase: rec.TestCase, Failure: g}, nil
}

func (s *Server) handleGetTesterNotes(ctx context.Context, _ *sdkmcp.CallToolRequest, input testCaseInput) (*sdkmcp.CallToolResult, notesOutput, error) {
	rec, err := s.db.Find(ctx, input.TestCase, s.resolver)
	if err != nil {
		if sugg, ok := suggestions(err); ok {
			return nil, notesOutput{Error: err.Error(), Suggestions: sugg}, nil
		}
		return nil, notesOutput{}, fmt.Errorf("get_testcase_tester_notes: %w", err)
	}
	rep, err := s.db.TesterNotes(ctx, rec.TestCase)
	if err != nil {
		return nil, notesOutput{}, fmt.Errorf("get_testcase_tester_notes: %w", err)
	}
	return nil, notesOutput{Success: true, Report: rep}, nil
}

func (s *Server) handleGetFailureStats(ctx context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, statsOutput, error) {
	st, err := s.db.Stats(ctx)
	if err != nil {
		return nil, statsOutput{}, fmt.Errorf("get_failure_stats: %w", err)
	}
	return nil, statsOutput{Success: true, Stats: st}, nil
}

func (s *Server) handleGetBugStatistics(ctx context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, bugStatsOutput, error) {
	st, err := s.db.BugStatistics(ctx)
	if err != nil {
		return nil, bugStatsOutput{}, fmt.Errorf("get_bug_statistics: %w", err)
	}
	return nil, bugStatsOutput{Success: true, Stats: st}, nil
}

func (s *Server) handleFindSimilar(ctx context.Context, _ *sdkmcp.CallToolRequest, input similarInput) (*sdkmcp.CallToolResult, similarOutput, error) {
	similar, err := s.db.FindSimilar(ctx, input.TestCase, input.Error)
	if err != nil {
		return nil, similarOutput{}, fmt.Errorf("find_similar_failures: %w", err)
	}
	return nil, similarOutput{Success: true, Count: len(similar), Similar: similar}, nil
}

func (s *Server) handleAnalyzeLatest(ctx context.Context, _ *sdkmcp.CallToolRequest, input projectInput) (*sdkmcp.CallToolResult, analyzeOutput, error) {
	project, err := s.resolveProject(ctx, input.ProjectName)
	if err != nil {
		if sugg, ok := suggestions(err); ok {
			return nil, analyzeOutput{Error: err.Error(), Suggestions: sugg}, nil
		}
		return nil, analyzeOutput{}, err
	}
	run, err := s.source.LatestResult(ctx, project.ID)
	if err != nil {
		return nil, analyzeOutput{}, fmt.Errorf("analyze_latest_result: %w", err)
	}
	snap := s.db.Analyze(run, project.Name)
	path, err := s.db.Persist(ctx, snap, project.Name)
	if err != nil {
		return nil, analyzeOutput{}, fmt.Errorf("analyze_latest_result: %w", err)
	}
	snap.SavedPath = path
	return nil, analyzeOutput{Success: true, Snapshot: &snap}, nil
}

func (s *Server) handleCleanup(ctx context.Context, _ *sdkmcp.CallToolRequest, input cleanupInput) (*sdkmcp.CallToolResult, cleanupOutput, error) {
	if !input.Confirm {
		return nil, cleanupOutput{}, fmt.Errorf("cleanup_knowledge_db: confirm must be true")
	}
	if input.OlderThanDays > 0 {
		n, err := s.db.CleanupOlderThan(ctx, input.OlderThanDays)
		if err != nil {
			return nil, cleanupOutput{}, fmt.Errorf("cleanup_knowledge_db: %w", err)
		}
		return nil, cleanupOutput{
			Success:          true,
			Message:          fmt.Sprintf("removed test cases not updated in %d days", input.OlderThanDays),
			TestcasesRemoved: n,
		}, nil
	}

	st, err := s.db.CleanupAll(ctx)
	out := cleanupOutput{
		Success:          err == nil,
		Message:          "Knowledge database cleanup completed successfully",
		Stats:            &st,
		TestcasesRemoved: st.TestcasesRemoved,
	}
	if err != nil {
		out.Message = "Knowledge database cleanup completed with errors"
	}
	return nil, out, nil
}

// --- helpers ---

// resolveProject maps a free-text project name onto a source project.
func (s *Server) resolveProject(ctx context.Context, name string) (resolve.Candidate, error) {
	if s.source == nil {
		return resolve.Candidate{}, ErrNoSource
	}
	return ResolveProject(ctx, s.source, s.resolver, name)
}

type ingestResult struct {
	projectResult
	testCases []string
}

// ingestProject is IngestProject with failures reported in the result
// rather than returned.
func (s *Server) ingestProject(ctx context.Context, project resolve.Candidate) ingestResult {
	res := ingestResult{projectResult: projectResult{Project: project.Name}, testCases: []string{}}
	fetched, batch, err := IngestProject(ctx, s.db, s.source, project)
	res.Fetched = fetched
	res.Merged = batch.Merged
	res.Skipped = batch.Skipped
	if batch.TestCases != nil {
		res.testCases = batch.TestCases
	}
	if err != nil {
		res.Error = err.Error()
		s.logger.Warn("ingest project", "project", project.Name, "error", err)
	}
	return res
}

// suggestions reports whether err is a resolution failure and, if so, the
// names the caller could retry with.
func suggestions(err error) ([]string, bool) {
	if !resolve.IsNotFound(err) && !resolve.IsAmbiguous(err) {
		return nil, false
	}
	sugg := resolve.Suggestions(err)
	if sugg == nil {
		sugg = []string{}
	}
	return sugg, true
}
