package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError means no candidate matched. Candidates carries the full list
// so callers can suggest alternatives.
type NotFoundError struct {
	Query      string
	Candidates []Candidate
}

func (e *NotFoundError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("no match for %q: nothing to choose from", e.Query)
	}
	return fmt.Sprintf("no match for %q; available: %s", e.Query, strings.Join(Names(e.Candidates), ", "))
}

// AmbiguousError means several candidates matched under the Strict policy.
type AmbiguousError struct {
	Query   string
	Matches []Candidate
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q is ambiguous, matches: %s", e.Query, strings.Join(Names(e.Matches), ", "))
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguous reports whether err is an *AmbiguousError.
func IsAmbiguous(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}

// Suggestions returns the names a caller could retry with, or nil when err
// is not a resolution error.
func Suggestions(err error) []string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return Names(nf.Candidates)
	}
	var ae *AmbiguousError
	if errors.As(err, &ae) {
		return Names(ae.Matches)
	}
	return nil
}
