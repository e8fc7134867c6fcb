package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Truncate shortens s to maxLen runes, appending "..." if truncated.
// Newlines are flattened so a cell stays on one line.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// Verdict renders a tester classification.
func Verdict(isBug *bool) string {
	switch {
	case isBug == nil:
		return "pending"
	case *isBug:
		return "bug"
	default:
		return "not a bug"
	}
}

// Ago renders t relative to now, e.g. "3 hours ago". The zero time is "never".
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Percent renders a 0-100 value with one decimal.
func Percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// Count renders an integer with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}
