package scope

import (
	"fmt"
	"slices"
	"time"

	"github.com/ritzau/deps-validator/pkg/metrics"
	"github.com/ritzau/deps-validator/pkg/model"
)

// reasonWeight orders reasons from narrowest to widest impact
var reasonWeight = map[model.ScopeReason]int{
	model.ReasonStyleChange:      0,
	model.ReasonDirectChange:     1,
	model.ReasonDependencyChange: 2,
	model.ReasonImportChange:     3,
}

// Union merges per-file scopes into one scope for a bulk pass. Every
// changed file comes first in lexical order; the remaining files follow by
// their best position in any input scope, then path. The widest reason wins.
func Union(scopes []model.ValidationScope, limit int, costPerFile time.Duration) model.ValidationScope {
	if len(scopes) == 0 {
		return model.ValidationScope{AffectedFiles: []string{}, Reason: model.ReasonDirectChange}
	}

	changed := make([]string, 0, len(scopes))
	reason := scopes[0].Reason
	truncated := false
	best := make(map[string]int)

	for _, s := range scopes {
		changed = append(changed, s.ChangedFile)
		if reasonWeight[s.Reason] > reasonWeight[reason] {
			reason = s.Reason
		}
		truncated = truncated || s.Truncated
		for i, f := range s.AffectedFiles {
			if pos, ok := best[f]; !ok || i < pos {
				best[f] = i
			}
		}
	}
	slices.Sort(changed)
	changed = slices.Compact(changed)

	items := make([]ranked, 0, len(best))
	for f, pos := range best {
		if slices.Contains(changed, f) {
			continue
		}
		items = append(items, ranked{path: f, dist: pos})
	}
	for _, f := range changed {
		items = append(items, ranked{path: f, dist: -1})
	}

	files, cut := order(items, max(limit, 1))
	if cut {
		err := fmt.Errorf("%w: batch of %d files affects %d, keeping %d", model.ErrOverflow, len(changed), len(items), limit)
		log.Warn("Batch scope truncated", "error", err)
		metrics.ScopeTruncations.Inc()
	}

	return model.ValidationScope{
		ChangedFile:     changed[0],
		AffectedFiles:   files,
		Reason:          reason,
		EstimatedCostMs: int64(len(files)) * costPerFile.Milliseconds(),
		Truncated:       truncated || cut,
	}
}
