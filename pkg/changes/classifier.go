// Package changes decides how much a file edit matters to the rest of the workspace.
package changes

import (
	"slices"

	"github.com/ritzau/deps-validator/pkg/model"
)

// Classify compares two snapshots of the same file. The first matching rule
// wins, ordered from widest to narrowest impact on other files:
//
//	no previous snapshot               new_file
//	both hashes equal                  no_change
//	import list differs                imports_changed
//	export list differs                exports_changed
//	function or class names differ     symbols_changed
//	anything else                      content_changed
func Classify(old, new *model.FileSnapshot) model.ChangeType {
	switch {
	case old == nil:
		return model.ChangeNewFile
	case old.SymbolsHash == new.SymbolsHash && old.ContentHash == new.ContentHash:
		return model.ChangeNone
	case !slices.Equal(old.Imports, new.Imports):
		return model.ChangeImportsChanged
	case !slices.Equal(old.Exports, new.Exports):
		return model.ChangeExportsChanged
	case !slices.Equal(old.Functions, new.Functions) || !slices.Equal(old.Classes, new.Classes):
		return model.ChangeSymbols
	default:
		return model.ChangeContent
	}
}

// Structural reports whether a change alters the file's import edges, which
// requires rebuilding its part of the dependency graph.
func Structural(ct model.ChangeType) bool {
	return ct == model.ChangeNewFile || ct == model.ChangeImportsChanged
}
