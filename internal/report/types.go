// Package report validates raw Report Source payloads at the boundary.
//
// The test platform answers with loosely shaped JSON: sometimes a bare
// array, sometimes wrapped in {"data": ...}, with field names that vary by
// endpoint version. Decode* functions accept the known shapes and turn them
// into the typed values below; anything else is a *MalformedError, so raw
// untyped data never travels further into the engine.
package report

import (
	"strings"
)

// Project is one entry of the project list.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FailureEntry is one failed test as reported by the failed-test-cases endpoint.
type FailureEntry struct {
	TestCase   string `json:"testCase"`
	Error      string `json:"error"`
	StackTrace string `json:"stackTrace,omitempty"`
	Status     string `json:"status,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	FailedStep string `json:"failedStep,omitempty"`
}

// Outcome classifies a test result status.
type Outcome int

const (
	OutcomeOther Outcome = iota
	OutcomePassed
	OutcomeFailed
)

// TestOutcome is one test result inside a run.
type TestOutcome struct {
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration"`
}

// Outcome maps the free-form status onto passed, failed or other
// (skipped, pending and unknown statuses).
func (t TestOutcome) Outcome() Outcome {
	switch strings.ToLower(strings.TrimSpace(t.Status)) {
	case "passed", "pass", "success", "succeeded", "ok":
		return OutcomePassed
	case "failed", "fail", "failure", "error", "broken":
		return OutcomeFailed
	default:
		return OutcomeOther
	}
}

// RunResult is one complete test run.
type RunResult struct {
	SetupID string        `json:"setupId"`
	Tests   []TestOutcome `json:"tests"`
}
