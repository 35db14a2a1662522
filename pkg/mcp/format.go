package mcp

import (
	"fmt"
	"strings"

	"github.com/larder-app/larder/pkg/models"
)

// formatResult formats a discovery result as a header plus a text table.
func formatResult(res models.DiscoverResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outcome: %s (source: %s)\n", res.Outcome, res.Source)
	if res.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", res.Message)
	}
	if res.Partial {
		b.WriteString("Results are partial.\n")
	}
	if res.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", res.SessionID)
	}
	if len(res.Candidates) == 0 {
		b.WriteString("No recipes found.\n")
		return b.String()
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-40s %-14s %8s %6s  %s\n", "Title", "Source", "Calories", "Min", "ID")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, c := range res.Candidates {
		src := c.SourceName
		if c.Generated {
			src += "*"
		}
		fmt.Fprintf(&b, "%-40s %-14s %8.0f %6.0f  %s\n",
			truncate(c.Title, 40), truncate(src, 14), c.Calories, c.TotalTime, c.Key())
	}
	return b.String()
}

// formatSession formats a generation session snapshot.
func formatSession(st models.SessionStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", st.ID)
	fmt.Fprintf(&b, "  Term:       %s\n", st.Term)
	fmt.Fprintf(&b, "  State:      %s\n", st.State)
	fmt.Fprintf(&b, "  Shown:      %d/%d (%d from sources, %d generated)\n",
		st.TotalCount, st.Cap, st.AggregatorCount, st.GeneratedCount)
	if st.InFlight {
		b.WriteString("  A recipe is being generated.\n")
	}
	if st.Message != "" {
		fmt.Fprintf(&b, "  Message:    %s\n", st.Message)
	}
	for i, c := range st.Generated {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, c.Title)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Corrupt:  %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, stats.Corrupt, hitRate)
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-9s %-7s %-18s %-10s %5s %8s  %s\n",
		"Time", "Op", "Kind", "Outcome", "Source", "Count", "Latency", "Query")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-20s %-9s %-7s %-18s %-10s %5d %6dms  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Operation, e.Kind, e.Outcome, e.Source,
			e.CandidateCount, e.LatencyMs, truncate(e.Query, 30))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
