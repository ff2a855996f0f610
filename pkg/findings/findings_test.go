package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ritzau/deps-validator/pkg/model"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		ref  FileRef
		want string
		ok   bool
	}{
		{"explicit relative", Explicit("src/a.ts"), "src/a.ts", true},
		{"explicit dot prefix", Explicit("./src/../src/a.ts"), "src/a.ts", true},
		{"explicit backslashes", Explicit(`src\util\a.ts`), "src/util/a.ts", true},
		{"explicit absolute under root", Explicit("/work/proj/src/a.ts"), "src/a.ts", true},
		{"absolute with different case", Explicit("/Work/Proj/src/a.ts"), "src/a.ts", true},
		{"absolute outside root", Explicit("/elsewhere/a.ts"), "/elsewhere/a.ts", true},
		{"location with line and column", FromLocation("src/a.ts:12:4"), "src/a.ts", true},
		{"location with line", FromLocation("/work/proj/b.py:3"), "b.py", true},
		{"location without line", FromLocation("c.go"), "c.go", true},
		{"empty explicit", Explicit("  "), "", false},
		{"empty location", FromLocation(""), "", false},
		{"zero value", FileRef{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.ref.Resolve("/work/proj")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "src/app.ts", NormalizePath(`.\Src\App.ts`))
	assert.Equal(t, NormalizePath("SRC/a.ts"), NormalizePath("src/./A.ts"))
	assert.Equal(t, "", NormalizePath(""))
}

func TestMergeReplacesOnlyScopedFiles(t *testing.T) {
	current := []model.Finding{
		{ID: "1", RuleID: "old", FilePath: "A.ts"},
		{ID: "2", RuleID: "keep", FilePath: "B.ts"},
	}
	scope := model.ValidationScope{ChangedFile: "A.ts", AffectedFiles: []string{"A.ts"}}
	fresh := []model.Finding{{ID: "3", RuleID: "X", FilePath: "A.ts"}}

	merged := Merge(current, scope, fresh)

	assert.Equal(t, []model.Finding{
		{ID: "2", RuleID: "keep", FilePath: "B.ts"},
		{ID: "3", RuleID: "X", FilePath: "A.ts"},
	}, merged)
}

func TestMergeComparesNormalizedPaths(t *testing.T) {
	current := []model.Finding{{ID: "1", FilePath: `Src\A.ts`}}
	scope := model.ValidationScope{AffectedFiles: []string{"src/a.ts"}}

	assert.Empty(t, Merge(current, scope, nil))
}

func TestMergeDropsPathlessAndForeignFindings(t *testing.T) {
	current := []model.Finding{
		{ID: "1", FilePath: ""},
		{ID: "2", FilePath: "c.ts"},
	}
	scope := model.ValidationScope{AffectedFiles: []string{"a.ts"}}
	fresh := []model.Finding{
		{ID: "3", FilePath: "a.ts"},
		{ID: "4", FilePath: "unrequested.ts"},
		{ID: "5", FilePath: ""},
	}

	merged := Merge(current, scope, fresh)

	ids := make([]string, len(merged))
	for i, f := range merged {
		ids[i] = f.ID
	}
	assert.Equal(t, []string{"2", "3"}, ids)
}

func TestMergeEmptyResultIsNotNil(t *testing.T) {
	merged := Merge(nil, model.ValidationScope{AffectedFiles: []string{"a.ts"}}, nil)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats([]model.Finding{
		{RuleID: "unused-import", Severity: "warning", Fixable: true},
		{RuleID: "unused-import", Severity: "warning", Fixable: true},
		{RuleID: "cycle", Severity: "error"},
	})

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Fixable)
	assert.Equal(t, map[string]int{"unused-import": 2, "cycle": 1}, stats.ByRule)
	assert.Equal(t, map[string]int{"warning": 2, "error": 1}, stats.BySeverity)

	empty := ComputeStats(nil)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.ByRule)
}

func TestFindingIDIsStable(t *testing.T) {
	span := &model.Span{StartLine: 3, StartColumn: 1}
	a := FindingID("rule", "src/a.ts", span, "msg")

	assert.Equal(t, a, FindingID("rule", `SRC\a.ts`, &model.Span{StartLine: 3, StartColumn: 1}, "msg"))
	assert.NotEqual(t, a, FindingID("rule", "src/a.ts", &model.Span{StartLine: 4}, "msg"))
	assert.NotEqual(t, a, FindingID("other", "src/a.ts", span, "msg"))
	assert.Len(t, a, 36)
}

func TestSortAndForFiles(t *testing.T) {
	fs := []model.Finding{
		{RuleID: "b", FilePath: "z.ts"},
		{RuleID: "a", FilePath: "a.ts", Span: &model.Span{StartLine: 9}},
		{RuleID: "a", FilePath: "a.ts", Span: &model.Span{StartLine: 2}},
	}
	Sort(fs)

	assert.Equal(t, "a.ts", fs[0].FilePath)
	assert.Equal(t, 2, fs[0].Span.StartLine)
	assert.Equal(t, "z.ts", fs[2].FilePath)

	assert.Len(t, ForFiles(fs, "A.ts"), 2)
	assert.Empty(t, ForFiles(fs, "missing.ts"))
}
