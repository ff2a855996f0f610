package output

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/ritzau/deps-validator/pkg/analysis"
	"github.com/ritzau/deps-validator/pkg/findings"
	"github.com/ritzau/deps-validator/pkg/model"
)

var (
	bold   = color.New(color.Bold)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func severityColor(severity string) *color.Color {
	switch severity {
	case "error":
		return red
	case "warning":
		return yellow
	default:
		return cyan
	}
}

// PrintFindings prints findings grouped by file followed by a summary
func PrintFindings(w io.Writer, fs []model.Finding) {
	sorted := slices.Clone(fs)
	findings.Sort(sorted)

	current := ""
	for _, f := range sorted {
		if f.FilePath != current {
			if current != "" {
				fmt.Fprintln(w)
			}
			current = f.FilePath
			bold.Fprintln(w, current)
		}

		pos := "-"
		if f.Span != nil {
			pos = fmt.Sprintf("%d:%d", f.Span.StartLine, f.Span.StartColumn)
		}
		fmt.Fprintf(w, "  %-8s ", pos)
		severityColor(f.Severity).Fprintf(w, "%-8s", f.Severity)
		fmt.Fprintf(w, " %s ", f.Message)
		faint.Fprintf(w, "%s", f.RuleID)
		if f.Fixable {
			green.Fprint(w, " (fixable)")
		}
		fmt.Fprintln(w)
	}
	if len(sorted) > 0 {
		fmt.Fprintln(w)
	}

	PrintStats(w, findings.ComputeStats(fs))
}

// PrintStats prints the one-line summary and the per-rule counts
func PrintStats(w io.Writer, stats model.Stats) {
	if stats.Total == 0 {
		green.Fprintln(w, "✓ No findings")
		return
	}

	summary := red
	if stats.BySeverity["error"] == 0 {
		summary = yellow
	}
	summary.Fprintf(w, "%s findings", humanize.Comma(int64(stats.Total)))
	fmt.Fprintf(w, " (%s fixable)\n", humanize.Comma(int64(stats.Fixable)))

	rules := slices.Sorted(maps.Keys(stats.ByRule))
	slices.SortStableFunc(rules, func(a, b string) int {
		return stats.ByRule[b] - stats.ByRule[a]
	})
	for _, rule := range rules {
		fmt.Fprintf(w, "  %6s  %s\n", humanize.Comma(int64(stats.ByRule[rule])), rule)
	}
}

// PrintStatus prints the session summary
func PrintStatus(w io.Writer, st analysis.Status) {
	bold.Fprintln(w, "deps-validator status")
	bold.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Workspace: %s\n", st.Root)

	if st.Initialized {
		green.Fprintln(w, "Initialized: yes")
	} else {
		yellow.Fprintln(w, "Initialized: no (run `deps-validator init`)")
	}

	fmt.Fprintf(w, "Files: %s, imports: %s\n", humanize.Comma(int64(st.Files)), humanize.Comma(int64(st.Edges)))
	if st.Cycles > 0 {
		yellow.Fprintf(w, "Import cycles: %d\n", st.Cycles)
	}

	if st.CacheSize > 0 {
		fmt.Fprintf(w, "Cache: %s, saved %s\n", humanize.Bytes(uint64(st.CacheSize)), humanize.Time(st.CacheSaved))
	}
	if st.LastRun != nil {
		fmt.Fprintf(w, "Last run: %s\n", time.Duration(st.LastRun.TookMs)*time.Millisecond)
	}
	if st.Stale {
		red.Fprintln(w, "Workspace is stale, a full regeneration is recommended")
	}
	fmt.Fprintln(w)

	PrintStats(w, st.Stats)
}

// PrintScope prints a scope preview for one file
func PrintScope(w io.Writer, ct model.ChangeType, sc model.ValidationScope) {
	bold.Fprintf(w, "%s", sc.ChangedFile)
	fmt.Fprintf(w, ": %s, reason %s\n", ct, sc.Reason)

	for i, f := range sc.AffectedFiles {
		if i == 0 {
			cyan.Fprintf(w, "  * %s\n", f)
			continue
		}
		fmt.Fprintf(w, "    %s\n", f)
	}

	fmt.Fprintf(w, "%d files, est. %s", len(sc.AffectedFiles), time.Duration(sc.EstimatedCostMs)*time.Millisecond)
	if sc.Truncated {
		yellow.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}
