package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLibrary = `name: Test
[chords]
KEY_T+KEY_H => the
[prefixes]
KEY_U+KEY_N => un
`

func writeLibrary(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.zc")
	require.NoError(t, os.WriteFile(path, []byte(testLibrary), 0600))
	return path
}

func TestParseChord(t *testing.T) {
	names, err := parseChord("t+KEY_H")
	require.NoError(t, err)
	assert.Equal(t, []string{"KEY_T", "KEY_H"}, names)

	_, err = parseChord("t+nosuchkey")
	assert.Error(t, err)

	_, err = parseChord("+")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	dir := isolate(t)
	lib := writeLibrary(t, dir)

	out, err := execute(t, "lookup", "--library", lib, "h+t", "KEY_U+KEY_N", "q+z")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY_H+KEY_T\tchords\tthe\n")
	assert.Contains(t, out, "KEY_N+KEY_U\tprefixes\tun_\n")
	assert.Contains(t, out, "KEY_Q+KEY_Z\t(no entry)\n")

	_, err = execute(t, "lookup", "--library", lib, "q+z")
	assert.Error(t, err)
}

func TestLookupUsesConfiguredLibrary(t *testing.T) {
	dir := isolate(t)
	lib := writeLibrary(t, dir)
	t.Setenv("CHORDD_LIBRARY", lib)

	out, err := execute(t, "lookup", "t+h")
	require.NoError(t, err)
	assert.Contains(t, out, "\tthe\n")
}
