// Package citation resolves statute section numbers to their text.
package citation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("section not found")

// sectionHeading matches a line indented by at least two spaces that opens
// a section, e.g. "  90.100 Definitions.".
var sectionHeading = regexp.MustCompile(`^\s{2,}(\d+\.\d+)\s+(.*)$`)

// Index maps section numbers such as "90.101" to body text.
type Index struct {
	sections map[string]string
}

// NewIndex builds an index from a ready map.
func NewIndex(sections map[string]string) *Index {
	copied := make(map[string]string, len(sections))
	for k, v := range sections {
		copied[k] = v
	}
	return &Index{sections: copied}
}

// Load reads the index from path. A .json file is read as a section map,
// anything else as statute text. An empty path yields an empty index.
func Load(path string) (*Index, error) {
	if path == "" {
		return NewIndex(nil), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open citations: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var sections map[string]string
		if err := json.NewDecoder(f).Decode(&sections); err != nil {
			return nil, fmt.Errorf("decode citations: %w", err)
		}
		return NewIndex(sections), nil
	}
	return Parse(f)
}

// Parse splits statute text into sections. Text before the first heading is
// ignored; each body runs until the next heading and is trimmed.
func Parse(r io.Reader) (*Index, error) {
	sections := make(map[string]string)

	var (
		current string
		body    []string
	)
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(body, "\n"))
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := sectionHeading.FindStringSubmatch(line); m != nil {
			flush()
			current = m[1]
			body = body[:0]
			if rest := strings.TrimRight(m[2], " \t\r"); rest != "" {
				body = append(body, rest)
			}
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read citations: %w", err)
	}
	flush()

	return &Index{sections: sections}, nil
}

// Lookup returns the body of section.
func (i *Index) Lookup(section string) (string, error) {
	text, ok := i.sections[strings.TrimSpace(section)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, section)
	}
	return text, nil
}

// Len reports how many sections are indexed.
func (i *Index) Len() int { return len(i.sections) }

// Sections lists the indexed section numbers in sorted order.
func (i *Index) Sections() []string {
	out := make([]string, 0, len(i.sections))
	for k := range i.sections {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
