// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// maxFixtureDepth bounds how far up from the calling test the testdata
// directory is searched for.
const maxFixtureDepth = 5

// GetTestDataPath returns the path of testdata/filename in the calling
// test's directory or the nearest parent that has it.
func GetTestDataPath(t *testing.T, filename string) string {
	t.Helper()

	_, caller, _, ok := runtime.Caller(1)
	require.True(t, ok, "cannot locate calling test")

	for dir, i := filepath.Dir(caller), 0; i < maxFixtureDepth; dir, i = filepath.Dir(dir), i+1 {
		candidate := filepath.Join(dir, "testdata", filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join("testdata", filename)
}

// LoadFixtureString returns the contents of testdata/filename.
func LoadFixtureString(t *testing.T, filename string) string {
	t.Helper()
	return ReadFile(t, GetTestDataPath(t, filename))
}

// ReadFile returns the contents of path, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "reading %s", path)
	return string(data)
}

// SyntheticFolded generates deterministic folded text of `lines` stacks,
// each `depth` frames deep with `fanout` distinct frames per level and a
// count of 1. Frame names look like fn<level>_<index>.
func SyntheticFolded(lines, depth, fanout int) string {
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		n := i
		for d := 0; d < depth; d++ {
			if d > 0 {
				sb.WriteByte(';')
			}
			sb.WriteString("fn")
			sb.WriteString(strconv.Itoa(d))
			sb.WriteByte('_')
			sb.WriteString(strconv.Itoa(n % fanout))
			n /= fanout
		}
		sb.WriteString(" 1\n")
	}
	return sb.String()
}
