package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MalformedError is returned for a payload, or an element of one, that does
// not have any of the expected shapes.
type MalformedError struct {
	Shape  string
	Index  int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("report: malformed %s at index %d: %s", e.Shape, e.Index, e.Reason)
	}
	return fmt.Sprintf("report: malformed %s: %s", e.Shape, e.Reason)
}

// IsMalformed reports whether err is a *MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// wrapperKeys are the envelope fields the platform nests payloads under.
var wrapperKeys = []string{"data", "content", "items"}

var (
	projectIDKeys   = []string{"id", "projectId", "project_id"}
	projectNameKeys = []string{"name", "projectName", "project_name"}

	failureTestKeys  = []string{"testCase", "testCaseName", "test_case", "name", "title"}
	failureErrorKeys = []string{"error", "errorMessage", "error_message", "message"}
	failureStackKeys = []string{"stackTrace", "stack_trace", "stack"}
	failureFileKeys  = []string{"filePath", "file_path", "file"}
	failureStepKeys  = []string{"failedStep", "failed_step", "step"}

	runSetupKeys = []string{"setupId", "setupID", "setup_id", "id"}
	runTestsKeys = []string{"tests", "results", "testResults", "test_results"}

	outcomeNameKeys     = []string{"name", "testCase", "testCaseName", "title"}
	outcomeStatusKeys   = []string{"status", "state", "result"}
	outcomeDurationKeys = []string{"duration", "durationMs", "duration_ms"}
)

// DecodeProjects parses the project list.
func DecodeProjects(data []byte) ([]Project, error) {
	elems, err := unwrapArray(data, "project list")
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(elems))
	for i, raw := range elems {
		obj, err := object(raw, "project", i)
		if err != nil {
			return nil, err
		}
		p := Project{ID: str(obj, projectIDKeys), Name: str(obj, projectNameKeys)}
		if p.ID == "" || p.Name == "" {
			return nil, &MalformedError{Shape: "project", Index: i, Reason: "missing id or name"}
		}
		out = append(out, p)
	}
	return out, nil
}

// DecodeFailures parses a failed-test-cases payload. Entries missing a test
// name or error are kept as-is; the merge engine skips and counts them.
func DecodeFailures(data []byte) ([]FailureEntry, error) {
	elems, err := unwrapArray(data, "failure list")
	if err != nil {
		return nil, err
	}
	out := make([]FailureEntry, 0, len(elems))
	for i, raw := range elems {
		obj, err := object(raw, "failure entry", i)
		if err != nil {
			return nil, err
		}
		out = append(out, FailureEntry{
			TestCase:   str(obj, failureTestKeys),
			Error:      str(obj, failureErrorKeys),
			StackTrace: str(obj, failureStackKeys),
			Status:     str(obj, []string{"status"}),
			FilePath:   str(obj, failureFileKeys),
			FailedStep: str(obj, failureStepKeys),
		})
	}
	return out, nil
}

// DecodeRunResult parses a run result: either an object carrying a test list
// or a bare array of test outcomes.
func DecodeRunResult(data []byte) (*RunResult, error) {
	raw, err := unwrap(data)
	if err != nil {
		return nil, &MalformedError{Shape: "run result", Index: -1, Reason: err.Error()}
	}

	run := &RunResult{}
	var tests []json.RawMessage
	switch firstByte(raw) {
	case '[':
		if err := json.Unmarshal(raw, &tests); err != nil {
			return nil, &MalformedError{Shape: "run result", Index: -1, Reason: err.Error()}
		}
	case '{':
		obj, err := object(raw, "run result", -1)
		if err != nil {
			return nil, err
		}
		run.SetupID = str(obj, runSetupKeys)
		list, ok := pick(obj, runTestsKeys)
		if !ok {
			return nil, &MalformedError{Shape: "run result", Index: -1, Reason: "no test list (want one of " + strings.Join(runTestsKeys, ", ") + ")"}
		}
		if err := json.Unmarshal(list, &tests); err != nil {
			return nil, &MalformedError{Shape: "run result", Index: -1, Reason: "test list: " + err.Error()}
		}
	default:
		return nil, &MalformedError{Shape: "run result", Index: -1, Reason: "expected object or array"}
	}

	run.Tests = make([]TestOutcome, 0, len(tests))
	for i, t := range tests {
		obj, err := object(t, "test outcome", i)
		if err != nil {
			return nil, err
		}
		run.Tests = append(run.Tests, TestOutcome{
			Name:     str(obj, outcomeNameKeys),
			Status:   str(obj, outcomeStatusKeys),
			Error:    str(obj, failureErrorKeys),
			Duration: num(obj, outcomeDurationKeys),
		})
	}
	return run, nil
}

// unwrap strips {"data": ...}-style envelopes, at most two levels deep.
func unwrap(data []byte) (json.RawMessage, error) {
	raw := json.RawMessage(bytes.TrimSpace(data))
	if len(raw) == 0 {
		return nil, errors.New("empty payload")
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid JSON")
	}
	for range 2 {
		if firstByte(raw) != '{' {
			return raw, nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		inner, ok := pick(obj, wrapperKeys)
		if !ok {
			return raw, nil
		}
		raw = inner
	}
	return raw, nil
}

func unwrapArray(data []byte, shape string) ([]json.RawMessage, error) {
	raw, err := unwrap(data)
	if err != nil {
		return nil, &MalformedError{Shape: shape, Index: -1, Reason: err.Error()}
	}
	if firstByte(raw) != '[' {
		return nil, &MalformedError{Shape: shape, Index: -1, Reason: "expected an array"}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &MalformedError{Shape: shape, Index: -1, Reason: err.Error()}
	}
	return elems, nil
}

func object(raw json.RawMessage, shape string, idx int) (map[string]json.RawMessage, error) {
	if firstByte(raw) != '{' {
		return nil, &MalformedError{Shape: shape, Index: idx, Reason: "expected an object"}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &MalformedError{Shape: shape, Index: idx, Reason: err.Error()}
	}
	return obj, nil
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func pick(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

// str reads the first present key as a string; numbers are formatted.
func str(obj map[string]json.RawMessage, keys []string) string {
	v, ok := pick(obj, keys)
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}

func num(obj map[string]json.RawMessage, keys []string) float64 {
	v, ok := pick(obj, keys)
	if !ok {
		return 0
	}
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return f
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
