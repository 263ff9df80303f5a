// Package library parses chord libraries and resolves finalized chords to
// the text they expand to.
//
// A library file (.zc) looks like:
//
//	name: English
//	language: en
//	version: 1.2
//
//	[chords]
//	KEY_T+KEY_H => the       # inline comment
//	[prefixes]
//	KEY_U+KEY_N => un
//	[suffixes]
//	KEY_I+KEY_N+KEY_G => ing
//	[exceptions]
//	KEY_A+KEY_N+KEY_D => and
//
// Keys are kernel key names joined with '+'. Their order does not matter.
package library

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Section is one of the mapping tables of a library.
type Section int

const (
	SectionNone Section = iota
	SectionChords
	SectionPrefixes
	SectionSuffixes
	SectionExceptions
)

func (s Section) String() string {
	switch s {
	case SectionChords:
		return "chords"
	case SectionPrefixes:
		return "prefixes"
	case SectionSuffixes:
		return "suffixes"
	case SectionExceptions:
		return "exceptions"
	default:
		return "none"
	}
}

func parseSection(name string) Section {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "chords":
		return SectionChords
	case "prefixes":
		return SectionPrefixes
	case "suffixes":
		return SectionSuffixes
	case "exceptions":
		return SectionExceptions
	default:
		return SectionNone
	}
}

// Meta is the library header.
type Meta struct {
	Name     string
	Language string
	Version  string
}

// Warning is a line the parser skipped.
type Warning struct {
	Line    int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

// Library is a parsed chord library. It is read-only after Parse.
type Library struct {
	Meta       Meta
	Chords     map[string]string
	Prefixes   map[string]string
	Suffixes   map[string]string
	Exceptions map[string]string

	Warnings []Warning
}

func newLibrary() *Library {
	return &Library{
		Chords:     make(map[string]string),
		Prefixes:   make(map[string]string),
		Suffixes:   make(map[string]string),
		Exceptions: make(map[string]string),
	}
}

// Len returns the number of mappings across all sections.
func (l *Library) Len() int {
	return len(l.Chords) + len(l.Prefixes) + len(l.Suffixes) + len(l.Exceptions)
}

func (l *Library) table(s Section) map[string]string {
	switch s {
	case SectionChords:
		return l.Chords
	case SectionPrefixes:
		return l.Prefixes
	case SectionSuffixes:
		return l.Suffixes
	case SectionExceptions:
		return l.Exceptions
	default:
		return nil
	}
}

// NormalizeKey turns key names into the canonical table key: upper-cased,
// sorted, joined with '+'.
func NormalizeKey(names []string) string {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n != "" {
			keys = append(keys, n)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, "+")
}

// Load parses the library file at path.
func Load(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	defer f.Close()

	lib, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return lib, nil
}

// Parse reads a library. Malformed lines are recorded as warnings; only
// read failures are errors.
func Parse(r io.Reader) (*Library, error) {
	lib := newLibrary()
	section := SectionNone
	inSection := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if key, value, ok := metaLine(line); ok {
			switch key {
			case "name":
				lib.Meta.Name = value
			case "language":
				lib.Meta.Language = value
			case "version":
				lib.Meta.Version = value
			}
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = parseSection(line[1 : len(line)-1])
			inSection = true
			if section == SectionNone {
				lib.warn(lineNo, "unknown section %s", line)
			}
			continue
		}

		keys, text, found := strings.Cut(line, "=>")
		if !found {
			lib.warn(lineNo, "ignoring line %q", line)
			continue
		}
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		key := NormalizeKey(strings.Split(keys, "+"))

		switch {
		case !inSection:
			lib.warn(lineNo, "mapping outside a section: %q", line)
		case section == SectionNone:
			// entries of an unknown section are skipped with it
		case key == "":
			lib.warn(lineNo, "mapping without keys: %q", line)
		case text == "":
			lib.warn(lineNo, "mapping without text: %q", line)
		default:
			lib.table(section)[key] = text
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}
	return lib, nil
}

func metaLine(line string) (key, value string, ok bool) {
	for _, k := range []string{"name", "language", "version"} {
		if strings.HasPrefix(line, k+":") {
			return k, strings.TrimSpace(line[len(k)+1:]), true
		}
	}
	return "", "", false
}

func (l *Library) warn(line int, format string, args ...any) {
	l.Warnings = append(l.Warnings, Warning{Line: line, Message: fmt.Sprintf(format, args...)})
}

// Match is a resolved expansion and the table it came from.
type Match struct {
	Text    string
	Section Section
}

// Lookup resolves key names in order: chords, exceptions, prefixes,
// suffixes. Prefix text gets a trailing '_', suffix text a leading '_'.
func (l *Library) Lookup(names []string) (Match, bool) {
	if l == nil || len(names) == 0 {
		return Match{}, false
	}
	key := NormalizeKey(names)

	if text, ok := l.Chords[key]; ok {
		return Match{Text: text, Section: SectionChords}, true
	}
	if text, ok := l.Exceptions[key]; ok {
		return Match{Text: text, Section: SectionExceptions}, true
	}
	if text, ok := l.Prefixes[key]; ok {
		return Match{Text: text + "_", Section: SectionPrefixes}, true
	}
	if text, ok := l.Suffixes[key]; ok {
		return Match{Text: "_" + text, Section: SectionSuffixes}, true
	}
	return Match{}, false
}

// Resolve returns the expansion for key names, if any.
func (l *Library) Resolve(names []string) (string, bool) {
	m, ok := l.Lookup(names)
	return m.Text, ok
}
