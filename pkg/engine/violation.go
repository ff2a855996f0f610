package engine

import (
	"regexp"
	"strconv"

	"github.com/ritzau/deps-validator/pkg/findings"
	"github.com/ritzau/deps-validator/pkg/model"
)

// Violation is one engine result. Engines disagree on how they name the
// file, so any of File, FilePath, Location or Locations may carry it.
type Violation struct {
	Rule      string      `json:"rule"`
	Severity  string      `json:"severity"`
	File      string      `json:"file,omitempty"`
	FilePath  string      `json:"file_path,omitempty"`
	Location  string      `json:"location,omitempty"`
	Locations []string    `json:"locations,omitempty"`
	Message   string      `json:"message"`
	Fixable   bool        `json:"fixable"`
	Span      *model.Span `json:"span,omitempty"`
}

// Ref picks the file reference, preferring explicit fields
func (v Violation) Ref() findings.FileRef {
	switch {
	case v.File != "":
		return findings.Explicit(v.File)
	case v.FilePath != "":
		return findings.Explicit(v.FilePath)
	case v.Location != "":
		return findings.FromLocation(v.Location)
	}
	for _, loc := range v.Locations {
		if ref := findings.FromLocation(loc); !ref.IsZero() {
			return ref
		}
	}
	return findings.FileRef{}
}

func (v Violation) location() string {
	if v.Location != "" {
		return v.Location
	}
	if len(v.Locations) > 0 {
		return v.Locations[0]
	}
	return ""
}

var locationPos = regexp.MustCompile(`:(\d+)(?::(\d+))?$`)

// spanFromLocation reads "path:line[:col]" when the engine sent no span
func spanFromLocation(loc string) *model.Span {
	m := locationPos.FindStringSubmatch(loc)
	if m == nil {
		return nil
	}
	line, _ := strconv.Atoi(m[1])
	col, _ := strconv.Atoi(m[2])
	return &model.Span{StartLine: line, StartColumn: col}
}

// ToFindings converts violations into findings with workspace-relative
// paths and stable IDs. Violations without a resolvable path keep an empty
// FilePath; the merger drops and reports them.
func ToFindings(root string, violations []Violation) []model.Finding {
	out := make([]model.Finding, 0, len(violations))
	for _, v := range violations {
		path, _ := v.Ref().Resolve(root)
		span := v.Span
		if span == nil {
			span = spanFromLocation(v.location())
		}
		severity := v.Severity
		if severity == "" {
			severity = "warning"
		}
		out = append(out, model.Finding{
			ID:       findings.FindingID(v.Rule, path, span, v.Message),
			RuleID:   v.Rule,
			Severity: severity,
			FilePath: path,
			Message:  v.Message,
			Fixable:  v.Fixable,
			Span:     span,
		})
	}
	return out
}
