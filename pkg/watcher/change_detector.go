package watcher

// ChangeAnalysis describes how a batch of file events should be revalidated
type ChangeAnalysis struct {
	Bulk         bool     // Revalidate everything as one batch
	ChangedFiles []string // Saved or created files, each revalidated on its own
	RemovedFiles []string
}

// AnalyzeChanges decides whether a batch is a bulk change. A batch with at
// least threshold distinct paths, such as a branch switch, is handled as
// one bulk pass covering both changed and removed files.
func AnalyzeChanges(batch Batch, threshold int) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: batch.Changed,
		RemovedFiles: batch.Removed,
	}
	if threshold > 0 && batch.Len() >= threshold {
		analysis.Bulk = true
	}
	return analysis
}

// Paths returns every path in the analysis, changed first
func (a *ChangeAnalysis) Paths() []string {
	out := make([]string, 0, len(a.ChangedFiles)+len(a.RemovedFiles))
	out = append(out, a.ChangedFiles...)
	return append(out, a.RemovedFiles...)
}
