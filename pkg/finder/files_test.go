package finder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte("x"), 0o644))
	}
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"src/main.ts",
		"src/util.ts",
		"src/Styles.CSS",
		"lib/helpers.py",
		"README.md",
		"node_modules/pkg/index.js",
		".git/hooks/pre-commit.py",
		".deps-validator/cache.ts",
		"bazel-out/gen.go",
		"src/generated/api.ts",
		"cmd/tool/main.go",
	)

	e, err := NewWalkEnumerator([]string{".ts", ".py", ".GO"}, []string{"**/generated/**"})
	require.NoError(t, err)

	files, err := e.Enumerate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cmd/tool/main.go",
		"lib/helpers.py",
		"src/main.ts",
		"src/util.ts",
	}, files)
}

func TestEnumerateExcludesFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.ts", "a.test.ts", "nested/b.test.ts")

	e, err := NewWalkEnumerator([]string{".ts"}, []string{"*.test.ts", "**/*.test.ts"})
	require.NoError(t, err)

	files, err := e.Enumerate(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ts"}, files)
}

func TestInvalidPattern(t *testing.T) {
	_, err := NewWalkEnumerator([]string{".ts"}, []string{"[unterminated"})
	assert.Error(t, err)
}

func TestEnumerateMissingRoot(t *testing.T) {
	e, err := NewWalkEnumerator([]string{".ts"}, nil)
	require.NoError(t, err)

	_, err = e.Enumerate(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestAcceptsSinglePaths(t *testing.T) {
	e, err := NewWalkEnumerator([]string{".ts"}, []string{"**/generated/**"})
	require.NoError(t, err)

	assert.True(t, e.Accepts("src/main.ts"))
	assert.True(t, e.Accepts("main.ts"))
	assert.False(t, e.Accepts("src/main.css"))
	assert.False(t, e.Accepts("node_modules/pkg/index.ts"))
	assert.False(t, e.Accepts(".deps-validator/x.ts"))
	assert.False(t, e.Accepts("src/generated/api.ts"))

	assert.True(t, e.SkipDir("web/node_modules"))
	assert.False(t, e.SkipDir("src"))
}
