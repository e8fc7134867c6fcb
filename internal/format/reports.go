package format

import (
	"strings"
	"time"

	"gtaf/internal/kdb"
)

const (
	errorWidth    = 60
	testCaseWidth = 50
)

// History renders every failure group of rec, most recently seen first.
func History(rec *kdb.TestCaseRecord, m Mode, now time.Time) string {
	var b strings.Builder

	summary := NewTable(m)
	summary.Title(rec.TestCase)
	summary.Header("Created", "Last updated", "Total failures", "Unique errors")
	summary.Row(Ago(rec.Created, now), Ago(rec.LastUpdated, now), Count(rec.TotalFailures), rec.UniqueErrors)
	b.WriteString(summary.String())
	b.WriteString("\n\n")

	groups := NewTable(m)
	groups.Header("#", "Failure ID", "Error", "Count", "First seen", "Last seen", "Verdict")
	groups.Columns(
		ColumnConfig{Number: 1, Align: AlignRight},
		ColumnConfig{Number: 4, Align: AlignRight},
	)
	for i, g := range rec.Groups() {
		verdict := "pending"
		if occ := g.Latest(); occ != nil {
			verdict = Verdict(occ.IsBug)
		}
		groups.Row(i, g.FailureID, Truncate(g.Error, errorWidth), Count(g.OccurrenceCount),
			Ago(g.FirstSeen, now), Ago(g.LastSeen, now), verdict)
	}
	b.WriteString(groups.String())
	b.WriteString("\n")
	return b.String()
}

// Stats renders the knowledge base summary.
func Stats(st *kdb.FailureStats, bugs *kdb.BugStats, m Mode) string {
	var b strings.Builder

	totals := NewTable(m)
	totals.Title("Knowledge base")
	totals.Header("Test cases", "Failures", "Unique errors", "Bugs", "Not bugs", "Pending", "Classified")
	totals.Row(Count(st.TotalTestCases), Count(st.TotalFailures), Count(st.TotalUniqueErrors),
		bugs.ClassifiedAsBugs, bugs.ClassifiedAsNotBugs, bugs.Pending, Percent(bugs.ClassificationRate))
	b.WriteString(totals.String())
	b.WriteString("\n\n")

	top := NewTable(m)
	top.Title("Top failing test cases")
	top.Header("Test case", "Failures", "Unique errors")
	top.Columns(ColumnConfig{Number: 2, Align: AlignRight}, ColumnConfig{Number: 3, Align: AlignRight})
	for _, tc := range st.TopFailingTestCases {
		top.Row(Truncate(tc.TestCase, testCaseWidth), Count(tc.TotalFailures), tc.UniqueErrors)
	}
	b.WriteString(top.String())
	b.WriteString("\n\n")

	errs := NewTable(m)
	errs.Title("Most common errors")
	errs.Header("Error", "Occurrences")
	errs.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	for _, c := range st.MostCommonErrors {
		errs.Row(Truncate(c.Name, errorWidth), Count(c.Count))
	}
	b.WriteString(errs.String())
	b.WriteString("\n\n")

	files := NewTable(m)
	files.Title("Failures by file")
	files.Header("File", "Occurrences")
	files.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	for _, c := range st.FailureTypes {
		files.Row(c.Name, Count(c.Count))
	}
	b.WriteString(files.String())
	b.WriteString("\n")
	return b.String()
}

// Cleanup renders the accounting of a wipe.
func Cleanup(st kdb.CleanupStats, m Mode) string {
	t := NewTable(m)
	t.Header("Removed", "Count")
	t.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	t.Row("test case documents", st.TestcasesRemoved)
	t.Row("snapshot files", st.AnalysisFilesRemoved)
	t.Row("snapshot directories", st.AnalysisDirsRemoved)
	out := t.String() + "\n"
	for _, e := range st.Errors {
		out += "error: " + e + "\n"
	}
	return out
}

// Snapshot renders one run summary.
func Snapshot(s kdb.Snapshot, m Mode) string {
	t := NewTable(m)
	t.Title(s.MatchedProject)
	t.Header("Total", "Passed", "Failed", "Pass rate")
	t.Row(s.Total, s.Passed, s.Failed, Percent(s.PassRate))
	out := t.String() + "\n"
	if len(s.TopFailures) > 0 {
		f := NewTable(m)
		f.Header("Failing test", "Error", "Duration")
		for _, tf := range s.TopFailures {
			f.Row(Truncate(tf.Name, testCaseWidth), Truncate(tf.Error, errorWidth), tf.Duration)
		}
		out += "\n" + f.String() + "\n"
	}
	if s.SavedPath != "" {
		out += "saved: " + s.SavedPath + "\n"
	}
	return out
}
