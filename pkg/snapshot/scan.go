package snapshot

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Language selects the comment syntax and structural patterns for a file
type Language string

const (
	LanguageUnknown    Language = ""
	LanguageECMAScript Language = "ecmascript" // TypeScript and JavaScript
	LanguagePython     Language = "python"
	LanguageGo         Language = "go"
)

var extensionLanguages = map[string]Language{
	".ts":  LanguageECMAScript,
	".tsx": LanguageECMAScript,
	".mts": LanguageECMAScript,
	".cts": LanguageECMAScript,
	".js":  LanguageECMAScript,
	".jsx": LanguageECMAScript,
	".mjs": LanguageECMAScript,
	".cjs": LanguageECMAScript,
	".py":  LanguagePython,
	".go":  LanguageGo,
}

// DetectLanguage maps a path to its language by extension
func DetectLanguage(path string) Language {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}

// SourceExtensions lists every extension the builder understands
func SourceExtensions() []string {
	exts := make([]string, 0, len(extensionLanguages))
	for ext := range extensionLanguages {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

func styleFor(lang Language) commentStyle {
	switch lang {
	case LanguagePython:
		return pythonStyle
	case LanguageECMAScript, LanguageGo:
		return cStyle
	default:
		return commentStyle{}
	}
}

// structure holds the raw name lists before canonicalization
type structure struct {
	imports   []string
	exports   []string
	functions []string
	classes   []string
}

const ident = `[A-Za-z_$][\w$]*`

var (
	esImportFrom   = regexp.MustCompile(`(?m)^[ \t]*(?:import|export)\b[^;'"]*?\bfrom\s*['"]([^'"\n]+)['"]`)
	esImportBare   = regexp.MustCompile(`(?m)^[ \t]*import\s*['"]([^'"\n]+)['"]`)
	esRequire      = regexp.MustCompile(`\brequire\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
	esDynamic      = regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
	esExportDecl   = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:declare\s+)?(?:default\s+)?(?:abstract\s+)?(?:async\s+)?(?:function\s*\*?|class|const|let|var|interface|type|enum|namespace)\s+(` + ident + `)`)
	esExportDef    = regexp.MustCompile(`(?m)^[ \t]*export\s+default\b`)
	esExportList   = regexp.MustCompile(`(?m)^[ \t]*export\s*(?:type\s+)?\{([^}]*)\}`)
	esExportStar   = regexp.MustCompile(`(?m)^[ \t]*export\s*\*\s*(?:as\s+(` + ident + `)\s*)?from\s*['"]([^'"\n]+)['"]`)
	esCommonJSName = regexp.MustCompile(`(?m)^[ \t]*(?:module\.)?exports\.(` + ident + `)\s*=`)
	esCommonJSDef  = regexp.MustCompile(`(?m)^[ \t]*module\.exports\s*=`)
	esFunction     = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?(?:async\s+)?function\s*\*?\s*(` + ident + `)`)
	esArrow        = regexp.MustCompile(`(?m)^(?:export\s+)?(?:const|let|var)\s+(` + ident + `)\s*(?::[^=\n]+)?=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::[^=\n]+)?=>|` + ident + `\s*=>)`)
	esClass        = regexp.MustCompile(`(?m)^(?:export\s+(?:default\s+)?)?(?:declare\s+)?(?:abstract\s+)?class\s+(` + ident + `)`)

	pyImport   = regexp.MustCompile(`(?m)^[ \t]*import\s+([^\n]+)$`)
	pyFrom     = regexp.MustCompile(`(?m)^[ \t]*from\s+(\.*[\w.]*)\s+import\b`)
	pyFunction = regexp.MustCompile(`(?m)^(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	pyClass    = regexp.MustCompile(`(?m)^class\s+([A-Za-z_]\w*)\b`)
	pyAssign   = regexp.MustCompile(`(?m)^([A-Za-z_]\w*)\s*(?::[^=\n]+)?=[^=]`)
	pyAll      = regexp.MustCompile(`(?m)^__all__\s*(?::[^=\n]+)?=\s*[\[(]([^\])]*)[\])]`)
	pyQuoted   = regexp.MustCompile(`['"]([A-Za-z_]\w*)['"]`)

	goImportOne   = regexp.MustCompile(`(?m)^import\s+(?:[\w.]+\s+)?"([^"]+)"`)
	goImportBlock = regexp.MustCompile(`(?ms)^import\s*\((.*?)\)`)
	goQuoted      = regexp.MustCompile(`"([^"]+)"`)
	goFunction    = regexp.MustCompile(`(?m)^func\s+(?:\(\s*(?:\w+\s+)?\*?\s*([A-Za-z_]\w*)(?:\[[^\]]*\])?\s*\)\s*)?([A-Za-z_]\w*)`)
	goType        = regexp.MustCompile(`(?m)^type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+(struct|interface)\b`)
	goTypeAny     = regexp.MustCompile(`(?m)^type\s+([A-Z]\w*)\b`)
	goValue       = regexp.MustCompile(`(?m)^(?:var|const)\s+([A-Z]\w*)\b`)
)

// scanStructure extracts imports, exports and top-level declarations from
// comment-free code. It is approximate: a missed name can only widen the
// validation scope, never shrink it.
func scanStructure(code string, lang Language) structure {
	switch lang {
	case LanguageECMAScript:
		return scanECMAScript(code)
	case LanguagePython:
		return scanPython(code)
	case LanguageGo:
		return scanGo(code)
	default:
		return structure{}
	}
}

func scanECMAScript(code string) structure {
	var s structure

	for _, re := range []*regexp.Regexp{esImportFrom, esImportBare, esRequire, esDynamic} {
		s.imports = append(s.imports, submatches(re, code, 1)...)
	}

	s.exports = append(s.exports, submatches(esExportDecl, code, 1)...)
	s.exports = append(s.exports, submatches(esCommonJSName, code, 1)...)
	if esExportDef.MatchString(code) || esCommonJSDef.MatchString(code) {
		s.exports = append(s.exports, "default")
	}
	for _, list := range submatches(esExportList, code, 1) {
		for _, item := range strings.Split(list, ",") {
			if name := exportedName(item); name != "" {
				s.exports = append(s.exports, name)
			}
		}
	}
	for _, m := range esExportStar.FindAllStringSubmatch(code, -1) {
		if m[1] != "" {
			s.exports = append(s.exports, m[1])
		} else {
			s.exports = append(s.exports, "*"+m[2])
		}
	}

	s.functions = append(submatches(esFunction, code, 1), submatches(esArrow, code, 1)...)
	s.classes = submatches(esClass, code, 1)
	return s
}

// exportedName returns the public name of one `export { ... }` entry
func exportedName(item string) string {
	fields := strings.Fields(item)
	switch {
	case len(fields) == 0:
		return ""
	case len(fields) >= 3 && fields[len(fields)-2] == "as":
		return fields[len(fields)-1]
	case fields[0] == "type" && len(fields) > 1:
		return fields[1]
	default:
		return fields[0]
	}
}

func scanPython(code string) structure {
	var s structure

	for _, stmt := range submatches(pyImport, code, 1) {
		for _, part := range strings.Split(stmt, ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 {
				s.imports = append(s.imports, strings.TrimSuffix(fields[0], "\\"))
			}
		}
	}
	s.imports = append(s.imports, submatches(pyFrom, code, 1)...)

	s.functions = submatches(pyFunction, code, 1)
	s.classes = submatches(pyClass, code, 1)

	if m := pyAll.FindStringSubmatch(code); m != nil {
		s.exports = submatches(pyQuoted, m[1], 1)
		return s
	}
	candidates := append(append([]string{}, s.functions...), s.classes...)
	candidates = append(candidates, submatches(pyAssign, code, 1)...)
	for _, name := range candidates {
		if !strings.HasPrefix(name, "_") {
			s.exports = append(s.exports, name)
		}
	}
	return s
}

func scanGo(code string) structure {
	var s structure

	s.imports = submatches(goImportOne, code, 1)
	for _, block := range submatches(goImportBlock, code, 1) {
		s.imports = append(s.imports, submatches(goQuoted, block, 1)...)
	}

	for _, m := range goFunction.FindAllStringSubmatch(code, -1) {
		recv, name := m[1], m[2]
		if recv != "" {
			s.functions = append(s.functions, recv+"."+name)
			if isExported(recv) && isExported(name) {
				s.exports = append(s.exports, recv+"."+name)
			}
			continue
		}
		s.functions = append(s.functions, name)
		if isExported(name) {
			s.exports = append(s.exports, name)
		}
	}

	s.classes = submatches(goType, code, 1)
	s.exports = append(s.exports, submatches(goTypeAny, code, 1)...)
	s.exports = append(s.exports, submatches(goValue, code, 1)...)
	return s
}

func isExported(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

func submatches(re *regexp.Regexp, s string, group int) []string {
	matches := re.FindAllStringSubmatch(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if v := strings.TrimSpace(m[group]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// canonical sorts and deduplicates a name list, never returning nil
func canonical(names []string) []string {
	out := make([]string, 0, len(names))
	out = append(out, names...)
	slices.Sort(out)
	return slices.Compact(out)
}
