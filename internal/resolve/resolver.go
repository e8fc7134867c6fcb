// Package resolve maps free-text names onto canonical projects or test cases.
//
// Matching is case-insensitive: an exact name wins outright, otherwise any
// candidate whose name contains the query (or is contained in it, so
// abbreviations still land) is a match. What happens when several candidates
// match is a Policy decision.
package resolve

import (
	"fmt"
	"strings"
)

// Candidate is one resolvable entity.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Policy decides the outcome when more than one candidate matches.
type Policy int

const (
	// FirstMatch returns the first match in candidate order.
	FirstMatch Policy = iota
	// Strict returns an *AmbiguousError listing every match.
	Strict
)

// ParsePolicy maps a config value ("first", "strict") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FirstMatch, nil
	case "strict":
		return Strict, nil
	default:
		return FirstMatch, fmt.Errorf("resolve: unknown policy %q (want first or strict)", s)
	}
}

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "first"
}

// Result is a successful resolution. All is set when the query was empty,
// in which case Matched holds every candidate.
type Result struct {
	Matched []Candidate
	All     bool
	Exact   bool
}

// One returns the single resolved candidate. It must not be called on an All result.
func (r Result) One() Candidate {
	return r.Matched[0]
}

// Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	policy Policy
}

// New returns a Resolver using policy for multi-match queries.
func New(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Policy returns the configured multi-match policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve maps query onto candidates.
func (r *Resolver) Resolve(query string, candidates []Candidate) (Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		all := make([]Candidate, len(candidates))
		copy(all, candidates)
		return Result{Matched: all, All: true}, nil
	}

	if c, ok := exact(q, candidates); ok {
		return Result{Matched: []Candidate{c}, Exact: true}, nil
	}

	matches := contains(q, candidates)
	switch {
	case len(matches) == 0:
		return Result{}, &NotFoundError{Query: query, Candidates: candidates}
	case len(matches) == 1 || r.policy == FirstMatch:
		return Result{Matched: matches[:1]}, nil
	default:
		return Result{}, &AmbiguousError{Query: query, Matches: matches}
	}
}

// Matches returns every candidate query matches: exact matches first, then
// substring matches, each group in candidate order. An empty query matches all.
func Matches(query string, candidates []Candidate) []Candidate {
	q := strings.TrimSpace(query)
	if q == "" {
		out := make([]Candidate, len(candidates))
		copy(out, candidates)
		return out
	}
	lq := strings.ToLower(q)
	var exactHits, rest []Candidate
	for _, c := range candidates {
		if strings.ToLower(c.Name) == lq {
			exactHits = append(exactHits, c)
			continue
		}
		if matchesName(lq, c.Name) {
			rest = append(rest, c)
		}
	}
	return append(exactHits, rest...)
}

// Names returns the candidate names in order, for suggestion lists.
func Names(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Name
	}
	return out
}

func exact(q string, candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if strings.EqualFold(c.Name, q) {
			return c, true
		}
	}
	return Candidate{}, false
}

func contains(q string, candidates []Candidate) []Candidate {
	lq := strings.ToLower(q)
	var out []Candidate
	for _, c := range candidates {
		if matchesName(lq, c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// matchesName expects lq already lower-cased. Empty names never match.
func matchesName(lq, name string) bool {
	ln := strings.ToLower(strings.TrimSpace(name))
	if ln == "" {
		return false
	}
	return strings.Contains(ln, lq) || strings.Contains(lq, ln)
}
