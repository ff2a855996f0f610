package findings

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
)

var log = logging.New("findings")

// Merge folds a partial engine result into the live set. Current findings
// for files in the scope are replaced; findings for other files keep their
// order. Fresh findings outside the scope are discarded, and findings with
// no file path are dropped from both sides.
func Merge(current []model.Finding, scope model.ValidationScope, fresh []model.Finding) []model.Finding {
	inScope := make(map[string]struct{}, len(scope.AffectedFiles))
	for _, f := range scope.AffectedFiles {
		inScope[NormalizePath(f)] = struct{}{}
	}
	contains := func(p string) bool {
		_, ok := inScope[NormalizePath(p)]
		return ok
	}

	merged := make([]model.Finding, 0, len(current)+len(fresh))
	var pathless, replaced, added, foreign int

	for _, f := range current {
		switch {
		case f.FilePath == "":
			pathless++
		case contains(f.FilePath):
			replaced++
		default:
			merged = append(merged, f)
		}
	}

	for _, f := range fresh {
		switch {
		case f.FilePath == "":
			pathless++
		case !contains(f.FilePath):
			foreign++
		default:
			merged = append(merged, f)
			added++
		}
	}

	if pathless > 0 {
		log.Warn("Dropped findings without a file path", "count", pathless, "scope", scope.ChangedFile)
	}
	if foreign > 0 {
		log.Debug("Ignored findings outside the scope", "count", foreign, "scope", scope.ChangedFile)
	}
	log.Debug("Merged findings", "replaced", replaced, "added", added, "total", len(merged))
	return merged
}

// ComputeStats summarizes a finding set from scratch
func ComputeStats(fs []model.Finding) model.Stats {
	stats := model.Stats{
		Total:      len(fs),
		ByRule:     make(map[string]int),
		BySeverity: make(map[string]int),
	}
	for _, f := range fs {
		if f.Fixable {
			stats.Fixable++
		}
		stats.ByRule[f.RuleID]++
		stats.BySeverity[f.Severity]++
	}
	return stats
}

// ForFiles returns the findings whose path is one of files
func ForFiles(fs []model.Finding, files ...string) []model.Finding {
	want := make(map[string]struct{}, len(files))
	for _, f := range files {
		want[NormalizePath(f)] = struct{}{}
	}
	out := make([]model.Finding, 0)
	for _, f := range fs {
		if _, ok := want[NormalizePath(f.FilePath)]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Sort orders findings by path, position and rule for stable output
func Sort(fs []model.Finding) {
	slices.SortStableFunc(fs, func(a, b model.Finding) int {
		return cmp.Or(
			strings.Compare(a.FilePath, b.FilePath),
			cmp.Compare(startLine(a), startLine(b)),
			strings.Compare(a.RuleID, b.RuleID),
		)
	})
}

func startLine(f model.Finding) int {
	if f.Span == nil {
		return 0
	}
	return f.Span.StartLine
}

var findingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ritzau/deps-validator/finding"))

// FindingID derives a stable ID so the same violation keeps its ID across passes
func FindingID(ruleID, filePath string, span *model.Span, message string) string {
	key := ruleID + "\x00" + NormalizePath(filePath) + "\x00" + message
	if span != nil {
		key += fmt.Sprintf("\x00%d:%d-%d:%d", span.StartLine, span.StartColumn, span.EndLine, span.EndColumn)
	}
	return uuid.NewSHA1(findingNamespace, []byte(key)).String()
}
