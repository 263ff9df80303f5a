package library

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# English starter set
name: English
language: en
version: 0.3

[chords]
KEY_T+KEY_H => the          # most common word
KEY_H+KEY_T+KEY_E => there
key_a+key_n+key_d => and

[Prefixes]
KEY_U+KEY_N => un

[suffixes]
KEY_I+KEY_N+KEY_G => ing
KEY_U+KEY_N => never wins over the prefix

[exceptions]
KEY_A+KEY_S => as

[bogus]
KEY_X+KEY_Y => skipped
`

func parse(t *testing.T, src string) *Library {
	t.Helper()
	lib, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	return lib
}

func TestParse(t *testing.T) {
	lib := parse(t, sample)

	assert.Equal(t, Meta{Name: "English", Language: "en", Version: "0.3"}, lib.Meta)
	assert.Equal(t, map[string]string{
		"KEY_H+KEY_T":       "the",
		"KEY_E+KEY_H+KEY_T": "there",
		"KEY_A+KEY_D+KEY_N": "and",
	}, lib.Chords)
	assert.Equal(t, map[string]string{"KEY_N+KEY_U": "un"}, lib.Prefixes)
	assert.Equal(t, "ing", lib.Suffixes["KEY_G+KEY_I+KEY_N"])
	assert.Equal(t, map[string]string{"KEY_A+KEY_S": "as"}, lib.Exceptions)
	assert.Equal(t, 7, lib.Len())

	require.Len(t, lib.Warnings, 1)
	assert.Equal(t, 21, lib.Warnings[0].Line)
	assert.Contains(t, lib.Warnings[0].Message, "[bogus]")
}

func TestParseWarnings(t *testing.T) {
	lib := parse(t, strings.Join([]string{
		"KEY_A+KEY_B => early",   // 1: outside a section
		"[chords]",               // 2
		"just some words",        // 3: not a mapping
		" => nothing",            // 4: no keys
		"KEY_A+KEY_B =>  # gone", // 5: no text
		"KEY_A+KEY_B => ab",      // 6
	}, "\n"))

	assert.Equal(t, map[string]string{"KEY_A+KEY_B": "ab"}, lib.Chords)

	lines := make([]int, len(lib.Warnings))
	for i, w := range lib.Warnings {
		lines[i] = w.Line
	}
	assert.Equal(t, []int{1, 3, 4, 5}, lines)
	assert.Equal(t, "line 1: mapping outside a section: \"KEY_A+KEY_B => early\"", lib.Warnings[0].String())
}

func TestLookupOrder(t *testing.T) {
	lib := parse(t, sample)

	tests := []struct {
		name    string
		keys    []string
		want    string
		section Section
		ok      bool
	}{
		{"chord in press order", []string{"KEY_T", "KEY_H"}, "the", SectionChords, true},
		{"chord reversed", []string{"KEY_H", "KEY_T"}, "the", SectionChords, true},
		{"lower case names", []string{"key_d", "key_n", "key_a"}, "and", SectionChords, true},
		{"exception", []string{"KEY_S", "KEY_A"}, "as", SectionExceptions, true},
		{"prefix wins over suffix", []string{"KEY_N", "KEY_U"}, "un_", SectionPrefixes, true},
		{"suffix", []string{"KEY_I", "KEY_N", "KEY_G"}, "_ing", SectionSuffixes, true},
		{"unknown section entries skipped", []string{"KEY_X", "KEY_Y"}, "", SectionNone, false},
		{"single key", []string{"KEY_T"}, "", SectionNone, false},
		{"empty", nil, "", SectionNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := lib.Lookup(tt.keys)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, m.Text)
			assert.Equal(t, tt.section, m.Section)

			text, ok := lib.Resolve(tt.keys)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestNilLibraryLookup(t *testing.T) {
	var lib *Library
	_, ok := lib.Lookup([]string{"KEY_A"})
	assert.False(t, ok)
}

func writeLibrary(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "english.zc")
	writeLibrary(t, path, sample)

	lib, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "English", lib.Meta.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.zc"))
	assert.Error(t, err)
}

func TestStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "english.zc")
	writeLibrary(t, path, "[chords]\nKEY_T+KEY_H => the\n")

	s, err := OpenStore(path)
	require.NoError(t, err)

	var reloaded int
	s.OnReload(func(*Library) { reloaded++ })

	text, ok := s.Resolve([]string{"KEY_T", "KEY_H"})
	require.True(t, ok)
	assert.Equal(t, "the", text)

	writeLibrary(t, path, "[chords]\nKEY_T+KEY_H => then\n")
	require.NoError(t, s.Reload())
	text, _ = s.Resolve([]string{"KEY_T", "KEY_H"})
	assert.Equal(t, "then", text)
	assert.Equal(t, 1, reloaded)

	// A failed reload keeps the previous library.
	require.NoError(t, os.Remove(path))
	assert.Error(t, s.Reload())
	text, _ = s.Resolve([]string{"KEY_T", "KEY_H"})
	assert.Equal(t, "then", text)
	assert.Equal(t, 1, reloaded)
}

func TestStoreWithoutFile(t *testing.T) {
	s := NewStore(parse(t, sample))
	assert.Error(t, s.Reload())
	assert.Error(t, s.Watch(context.Background()))

	m, ok := s.Lookup([]string{"KEY_A", "KEY_S"})
	require.True(t, ok)
	assert.Equal(t, SectionExceptions, m.Section)
}

func TestStoreWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "english.zc")
	writeLibrary(t, path, "[chords]\nKEY_T+KEY_H => the\n")

	s, err := OpenStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Keep rewriting until the watcher has been set up and picked it up.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("[chords]\nKEY_T+KEY_H => that\n"), 0o600)
		text, _ := s.Resolve([]string{"KEY_H", "KEY_T"})
		return text == "that"
	}, 5*time.Second, 200*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
