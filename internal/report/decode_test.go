package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProjects_BareArray(t *testing.T) {
	got, err := DecodeProjects([]byte(`[
		{"id": "0a18", "name": "dataplatform-reporting", "platform": "web"},
		{"id": 42, "projectName": "menu-service"}
	]`))

	require.NoError(t, err)
	assert.Equal(t, []Project{
		{ID: "0a18", Name: "dataplatform-reporting"},
		{ID: "42", Name: "menu-service"},
	}, got)
}

func TestDecodeProjects_Wrapped(t *testing.T) {
	got, err := DecodeProjects([]byte(`{"success": true, "data": [{"id": "x", "name": "X"}]}`))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "X", got[0].Name)
}

func TestDecodeProjects_MissingName(t *testing.T) {
	_, err := DecodeProjects([]byte(`[{"id": "x"}]`))

	require.Error(t, err)
	assert.True(t, IsMalformed(err))
	assert.Contains(t, err.Error(), "index 0")
}

func TestDecodeProjects_UnknownShape(t *testing.T) {
	for name, payload := range map[string]string{
		"scalar":  `"hello"`,
		"object":  `{"projects": 3}`,
		"invalid": `{not json`,
		"empty":   ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeProjects([]byte(payload))
			assert.True(t, IsMalformed(err), "got %v", err)
		})
	}
}

func TestDecodeFailures_FieldAliases(t *testing.T) {
	got, err := DecodeFailures([]byte(`{"data": {"data": [
		{"testCase": "Login Flow Test", "error": "Element not found: #login-button", "stackTrace": "at x", "filePath": "cypress/e2e/login.cy.js", "failedStep": "click"},
		{"testCaseName": "Checkout", "errorMessage": "timeout"},
		{"title": "No error here"}
	]}}`))

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, FailureEntry{
		TestCase:   "Login Flow Test",
		Error:      "Element not found: #login-button",
		StackTrace: "at x",
		FilePath:   "cypress/e2e/login.cy.js",
		FailedStep: "click",
	}, got[0])
	assert.Equal(t, "Checkout", got[1].TestCase)
	assert.Equal(t, "timeout", got[1].Error)
	assert.Empty(t, got[2].Error)
}

func TestDecodeFailures_NonObjectElement(t *testing.T) {
	_, err := DecodeFailures([]byte(`[{"testCase": "a", "error": "b"}, 7]`))

	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 1, me.Index)
}

func TestDecodeRunResult_Object(t *testing.T) {
	run, err := DecodeRunResult([]byte(`{"setupId": "setup-9", "results": [
		{"name": "a", "status": "PASSED", "duration": 1.5},
		{"name": "b", "status": "failed", "errorMessage": "boom", "durationMs": "20"},
		{"name": "c", "state": "skipped"}
	]}`))

	require.NoError(t, err)
	assert.Equal(t, "setup-9", run.SetupID)
	require.Len(t, run.Tests, 3)
	assert.Equal(t, OutcomePassed, run.Tests[0].Outcome())
	assert.Equal(t, OutcomeFailed, run.Tests[1].Outcome())
	assert.Equal(t, "boom", run.Tests[1].Error)
	assert.InDelta(t, 20.0, run.Tests[1].Duration, 0.001)
	assert.Equal(t, OutcomeOther, run.Tests[2].Outcome())
}

func TestDecodeRunResult_BareArray(t *testing.T) {
	run, err := DecodeRunResult([]byte(`[{"name": "a", "status": "pass"}]`))

	require.NoError(t, err)
	assert.Empty(t, run.SetupID)
	assert.Len(t, run.Tests, 1)
}

func TestDecodeRunResult_NoTests(t *testing.T) {
	_, err := DecodeRunResult([]byte(`{"setupId": "s"}`))

	assert.True(t, IsMalformed(err))
}

func TestDecodeRunResult_EmptyRun(t *testing.T) {
	run, err := DecodeRunResult([]byte(`{"setupId": "s", "tests": []}`))

	require.NoError(t, err)
	assert.Empty(t, run.Tests)
}
