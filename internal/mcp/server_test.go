package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"gtaf/internal/kdb"
	mcpserver "gtaf/internal/mcp"
	"gtaf/internal/report"
	"gtaf/internal/resolve"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
	os.Exit(m.Run())
}

// fakeSource serves canned projects, failures and runs.
type fakeSource struct {
	mu       sync.Mutex
	projects []report.Project
	failures map[string][]report.FailureEntry
	runs     map[string]*report.RunResult
	failFor  map[string]error
	fetched  []string
}

func (f *fakeSource) Projects(context.Context) ([]report.Project, error) {
	return f.projects, nil
}

func (f *fakeSource) FailedTestCases(_ context.Context, id string) ([]report.FailureEntry, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()
	if err := f.failFor[id]; err != nil {
		return nil, err
	}
	return f.failures[id], nil
}

func (f *fakeSource) LatestResult(_ context.Context, id string) (*report.RunResult, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, errors.New("no run")
	}
	return run, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		projects: []report.Project{
			{ID: "p-1", Name: "Web Shop"},
			{ID: "p-2", Name: "Mobile App"},
		},
		failures: map[string][]report.FailureEntry{
			"p-1": {
				{TestCase: "Login Flow Test", Error: "Element not found: #login-button", FilePath: "e2e/login.cy.js"},
				{TestCase: "Login Flow Test", Error: "Element not found: #login-button", FilePath: "e2e/login.cy.js"},
				{TestCase: "Login Flow Test", Error: "Timeout waiting for /api/session"},
				{TestCase: "Checkout", Error: "Expected 200 but got 500", FilePath: "e2e/cart.cy.js"},
			},
			"p-2": {
				{TestCase: "Launch", Error: "App crashed on start"},
			},
		},
		runs: map[string]*report.RunResult{
			"p-1": {SetupID: "setup-9", Tests: []report.TestOutcome{
				{Name: "Login Flow Test", Status: "failed", Error: "Element not found", Duration: 1.5},
				{Name: "Checkout", Status: "passed"},
				{Name: "Search", Status: "passed"},
				{Name: "Profile", Status: "passed"},
			}},
		},
		failFor: map[string]error{},
	}
}

func newTestServer(t *testing.T, src mcpserver.Source) (*mcpserver.Server, *kdb.DB) {
	t.Helper()
	db, err := kdb.Open(t.TempDir(), kdb.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	srv := mcpserver.NewServer(db, mcpserver.Options{
		Source:   src,
		Policy:   resolve.FirstMatch,
		Parallel: 2,
		Version:  "test",
	})
	return srv, db
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool invokes name and decodes its JSON text content, failing the test on a tool error.
func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, toolText(res))
	}
	result := make(map[string]any)
	if err := json.Unmarshal([]byte(toolText(res)), &result); err != nil {
		t.Fatalf("unmarshal tool result: %v (text: %s)", err, toolText(res))
	}
	return result
}

// callToolErr invokes name and returns the error text, failing the test if the call succeeded.
func callToolErr(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if !res.IsError {
		t.Fatalf("CallTool(%s) succeeded, want error: %s", name, toolText(res))
	}
	return toolText(res)
}

func toolText(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestServer_ToolDiscovery(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"add",
		"analyze_latest_result",
		"cleanup_knowledge_db",
		"find_similar_failures",
		"get_bug_statistics",
		"get_failure_stats",
		"get_failures_by_project",
		"get_knowledge_db_documents",
		"get_projects",
		"get_testcase_history",
		"get_testcase_tester_notes",
		"process_all_projects",
		"save_failures_to_knowledge_db",
		"update_failure_bug_status",
	}, names)
}

func TestServer_Add(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	out := callTool(t, ctx, session, "add", map[string]any{"digit1": 2, "digit2": 40})
	assert.EqualValues(t, 42, out["result"])
}

func TestServer_NoSourceConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	msg := callToolErr(t, ctx, session, "get_projects", map[string]any{})
	assert.Contains(t, msg, "report source not configured")

	msg = callToolErr(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})
	assert.Contains(t, msg, "report source not configured")
}

func TestServer_GetProjectsAndFailures(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	out := callTool(t, ctx, session, "get_projects", map[string]any{})
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 2, out["count"])

	out = callTool(t, ctx, session, "get_failures_by_project", map[string]any{"project_name": "web shop"})
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Web Shop", out["matched_project"])
	assert.Equal(t, "p-1", out["project_id"])
	assert.EqualValues(t, 4, out["count"])
}

func TestServer_UnknownProjectSuggests(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	out := callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "desktop"})
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "desktop")
	assert.ElementsMatch(t, []any{"Web Shop", "Mobile App"}, out["suggestions"])
}

func TestServer_SaveFailuresDeduplicates(t *testing.T) {
	srv, db := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	out := callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Web Shop", out["matched_project"])
	assert.EqualValues(t, 4, out["fetched"])
	assert.EqualValues(t, 4, out["merged"])
	assert.Equal(t, []any{"Checkout", "Login Flow Test"}, out["test_cases"])

	rec, err := db.Load(ctx, "Login Flow Test")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TotalFailures)
	assert.Equal(t, 2, rec.UniqueErrors)

	docs := callTool(t, ctx, session, "get_knowledge_db_documents", map[string]any{"query": "login"})
	assert.EqualValues(t, 1, docs["count"])
	list := docs["documents"].([]any)
	first := list[0].(map[string]any)
	assert.Equal(t, "Login Flow Test", first["testCase"])
	assert.EqualValues(t, 3, first["total_failures"])

	all := callTool(t, ctx, session, "get_knowledge_db_documents", map[string]any{})
	assert.EqualValues(t, 2, all["count"])
}

func TestServer_ProcessAllProjects(t *testing.T) {
	src := newFakeSource()
	src.projects = append(src.projects, report.Project{ID: "p-3", Name: "Broken"})
	src.failFor["p-3"] = errors.New("upstream down")
	srv, db := newTestServer(t, src)
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	out := callTool(t, ctx, session, "process_all_projects", map[string]any{})
	assert.Equal(t, false, out["success"])
	assert.EqualValues(t, 5, out["merged"])
	assert.EqualValues(t, 1, out["failed_projects"])

	projects := out["projects"].([]any)
	require.Len(t, projects, 3)
	broken := projects[0].(map[string]any)
	assert.Equal(t, "Broken", broken["project"])
	assert.Contains(t, broken["error"], "upstream down")

	names, err := db.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Checkout", "Launch", "Login Flow Test"}, names)
	assert.ElementsMatch(t, []string{"p-1", "p-2", "p-3"}, src.fetched)
}

func TestServer_HistoryAndAnnotation(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)
	callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})

	hist := callTool(t, ctx, session, "get_testcase_history", map[string]any{"test_case": "login flow"})
	assert.Equal(t, true, hist["success"])
	assert.Equal(t, "Login Flow Test", hist["test_case"])
	record := hist["record"].(map[string]any)
	assert.EqualValues(t, 3, record["total_failures"])

	upd := callTool(t, ctx, session, "update_failure_bug_status", map[string]any{
		"test_case":    "login",
		"is_bug":       true,
		"tester_notes": "button id changed in release 4.2",
	})
	assert.Equal(t, true, upd["success"])
	failure := upd["failure"].(map[string]any)
	latest := failure["recent_occurrences"].([]any)[0].(map[string]any)
	assert.Equal(t, true, latest["isBug"])

	notes := callTool(t, ctx, session, "get_testcase_tester_notes", map[string]any{"test_case": "Login Flow Test"})
	rep := notes["report"].(map[string]any)
	assert.EqualValues(t, 1, rep["total_notes"])
	classes := rep["bug_classifications"].(map[string]any)
	assert.EqualValues(t, 1, classes["bugs"])
	assert.EqualValues(t, 1, classes["pending"])

	bugs := callTool(t, ctx, session, "get_bug_statistics", map[string]any{})
	st := bugs["stats"].(map[string]any)
	assert.EqualValues(t, 1, st["classified_as_bugs"])
	assert.EqualValues(t, 2, st["pending_classification"])
}

func TestServer_HistoryUnknownTestCase(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)
	callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})

	out := callTool(t, ctx, session, "get_testcase_history", map[string]any{"test_case": "Logout"})
	assert.Equal(t, false, out["success"])
	assert.ElementsMatch(t, []any{"Checkout", "Login Flow Test"}, out["suggestions"])
	assert.Nil(t, out["record"])
}

func TestServer_UpdateBugStatusIndexOutOfRange(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)
	callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})

	msg := callToolErr(t, ctx, session, "update_failure_bug_status", map[string]any{
		"test_case":     "Checkout",
		"is_bug":        false,
		"failure_index": 5,
	})
	assert.Contains(t, msg, "update_failure_bug_status")
}

func TestServer_StatsAndSimilar(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)
	callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})

	out := callTool(t, ctx, session, "get_failure_stats", map[string]any{})
	st := out["stats"].(map[string]any)
	assert.EqualValues(t, 2, st["total_testcases"])
	assert.EqualValues(t, 4, st["total_failures"])
	assert.EqualValues(t, 3, st["total_unique_errors"])
	top := st["top_failing_testcases"].([]any)[0].(map[string]any)
	assert.Equal(t, "Login Flow Test", top["testCase"])

	sim := callTool(t, ctx, session, "find_similar_failures", map[string]any{
		"test_case": "nothing-matches",
		"error":     "Element not found: #signup",
	})
	assert.EqualValues(t, 1, sim["count"])
	hit := sim["similar"].([]any)[0].(map[string]any)
	assert.Equal(t, "Login Flow Test", hit["testCase"])
}

func TestServer_AnalyzeLatestResult(t *testing.T) {
	srv, db := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	out := callTool(t, ctx, session, "analyze_latest_result", map[string]any{"project_name": "web"})
	assert.Equal(t, true, out["success"])
	snap := out["snapshot"].(map[string]any)
	assert.Equal(t, "Web Shop", snap["matchedProject"])
	assert.EqualValues(t, 4, snap["total"])
	assert.EqualValues(t, 3, snap["passed"])
	assert.EqualValues(t, 1, snap["failed"])
	assert.EqualValues(t, 75, snap["passRate"])

	path, _ := snap["savedPath"].(string)
	require.NotEmpty(t, path)
	assert.FileExists(t, path)
	rel, err := filepath.Rel(db.Root(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("analysis", "Web_Shop"), filepath.Dir(rel))
}

func TestServer_AnalyzeLatestResultSourceError(t *testing.T) {
	srv, _ := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)

	msg := callToolErr(t, ctx, session, "analyze_latest_result", map[string]any{"project_name": "mobile"})
	assert.Contains(t, msg, "no run")
}

func TestServer_Cleanup(t *testing.T) {
	srv, db := newTestServer(t, newFakeSource())
	ctx := context.Background()
	session := connectInMemory(t, ctx, srv)
	callTool(t, ctx, session, "save_failures_to_knowledge_db", map[string]any{"project_name": "shop"})
	callTool(t, ctx, session, "analyze_latest_result", map[string]any{"project_name": "shop"})

	msg := callToolErr(t, ctx, session, "cleanup_knowledge_db", map[string]any{})
	assert.Contains(t, msg, "confirm must be true")
	msg = callToolErr(t, ctx, session, "cleanup_knowledge_db", map[string]any{"confirm": false})
	assert.Contains(t, msg, "confirm must be true")
	kept, err := db.List(ctx)
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	out := callTool(t, ctx, session, "cleanup_knowledge_db", map[string]any{"confirm": true, "older_than_days": 30})
	assert.EqualValues(t, 0, out["testcases_removed"])

	out = callTool(t, ctx, session, "cleanup_knowledge_db", map[string]any{"confirm": true})
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 2, out["testcases_removed"])
	st := out["stats"].(map[string]any)
	assert.EqualValues(t, 1, st["analysis_files_removed"])
	assert.EqualValues(t, 1, st["analysis_directories_removed"])

	names, err := db.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestServer_ConcurrentSaves(t *testing.T) {
	srv, db := newTestServer(t, newFakeSource())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, srv)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
				Name:      "save_failures_to_knowledge_db",
				Arguments: map[string]any{"project_name": "shop"},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := db.Load(ctx, "Login Flow Test")
	require.NoError(t, err)
	assert.Equal(t, 24, rec.TotalFailures)
}
