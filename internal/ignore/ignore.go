// Package ignore reads gitignore-style files from a project root and
// matches slash-separated relative paths against them.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultFiles are the ignore files read from a project root, in order.
var DefaultFiles = []string{".gitignore", ".chainguardignore"}

// DefaultPatterns apply to every project, with or without ignore files.
var DefaultPatterns = []string{"**/node_modules/**", "**/vendor/**"}

// Parser reads gitignore-style files.
type Parser struct {
	// Files is the list of ignore file names to look for.
	Files []string

	// Always are patterns added to whatever the files yield.
	Always []string
}

// NewParser returns a parser for the given ignore files and always-on patterns.
func NewParser(files, always []string) *Parser {
	return &Parser{Files: files, Always: always}
}

// ParseProject reads every ignore file present in root and returns the
// combined doublestar patterns, deduplicated in first-seen order.
func (p *Parser) ParseProject(root string) ([]string, error) {
	patterns := append([]string(nil), p.Always...)
	for _, name := range p.Files {
		filePatterns, err := parseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
	}
	return deduplicate(patterns), nil
}

// Load parses root and compiles the result into a Matcher.
func (p *Parser) Load(root string) (*Matcher, error) {
	patterns, err := p.ParseProject(root)
	if err != nil {
		return nil, err
	}
	return NewMatcher(patterns)
}

func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine converts one gitignore line to a doublestar pattern. Blank
// lines, comments and negations yield "".
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	// Negation is not supported.
	if strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

func toGlobPattern(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")

	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}

	// A bare name matches at any depth.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "*") {
		pattern = "**/" + pattern
	}

	// Names without an extension are treated as directories.
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		pattern += "/**"
	}
	return pattern
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher reports whether a project-relative path is ignored.
type Matcher struct {
	patterns []string
}

// NewMatcher validates patterns and returns a matcher over them.
func NewMatcher(patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	return &Matcher{patterns: patterns}, nil
}

// Patterns returns the compiled patterns.
func (m *Matcher) Patterns() []string {
	return m.patterns
}

// Match reports whether the slash-separated relative path is ignored.
// Directories are matched with a trailing slash so that "dir/**"
// patterns cover the directory itself. A nil Matcher ignores nothing.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil {
		return false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if isDir && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
