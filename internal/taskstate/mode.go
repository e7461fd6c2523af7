package taskstate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/chainguard/internal/ignore"
)

// Mode selects which checks apply to a task.
type Mode string

const (
	ModeProgramming Mode = "programming"
	ModeContent     Mode = "content"
	ModeDevOps      Mode = "devops"
	ModeResearch    Mode = "research"
	ModeGeneric     Mode = "generic"
)

// Modes lists every mode.
var Modes = []Mode{ModeProgramming, ModeContent, ModeDevOps, ModeResearch, ModeGeneric}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// Features are the per-mode switches consulted when a change is tracked.
type Features struct {
	// SyntaxValidation enables validator calls for tracked files.
	SyntaxValidation bool
	// ValidateExtensions restricts validation to these extensions. Empty
	// means every extension the validator understands.
	ValidateExtensions []string
	// SymbolScan enables the symbol scanner for tracked files.
	SymbolScan bool
	// CommandLogging records checklist commands in recent actions.
	CommandLogging bool
}

var modeFeatures = map[Mode]Features{
	ModeProgramming: {SyntaxValidation: true, SymbolScan: true},
	ModeDevOps: {
		SyntaxValidation:   true,
		ValidateExtensions: []string{".yaml", ".yml", ".json", ".toml"},
		CommandLogging:     true,
	},
	ModeContent:  {},
	ModeResearch: {},
	ModeGeneric:  {},
}

// FeaturesFor returns the features of mode, falling back to programming.
func FeaturesFor(m Mode) Features {
	if f, ok := modeFeatures[m]; ok {
		return f
	}
	return modeFeatures[ModeProgramming]
}

// ShouldValidate reports whether path should be syntax-checked in this mode.
func (f Features) ShouldValidate(path string) bool {
	if !f.SyntaxValidation {
		return false
	}
	if len(f.ValidateExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range f.ValidateExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

var modeKeywords = []struct {
	mode     Mode
	keywords []string
}{
	{ModeContent, []string{
		"book", "chapter", "article", "write", "documentation", "readme",
		"blog", "story", "novel", "essay",
	}},
	{ModeDevOps, []string{
		"server", "nginx", "apache", "docker", "kubernetes", "k8s", "deploy",
		"wordpress", "wp-cli", "ssh", "install", "setup", "infrastructure",
		"ansible", "terraform", "ci/cd", "pipeline", "backup",
	}},
	{ModeResearch, []string{
		"research", "analysis", "comparison", "investigate", "evaluate",
		"study", "report", "market",
	}},
}

var packageManifests = []string{"package.json", "composer.json", "requirements.txt", "Cargo.toml", "go.mod"}

// DetectMode guesses a mode from the task description and the contents of
// workingDir. Keyword matches win over directory heuristics; the default is
// programming. File system errors are ignored.
func DetectMode(description, workingDir string) Mode {
	lower := strings.ToLower(description)
	for _, mk := range modeKeywords {
		for _, kw := range mk.keywords {
			if strings.Contains(lower, kw) {
				return mk.mode
			}
		}
	}

	if workingDir == "" {
		return ModeProgramming
	}

	if exists(filepath.Join(workingDir, "wp-config.php")) || exists(filepath.Join(workingDir, "wp-content")) {
		return ModeDevOps
	}
	lowerDir := strings.ToLower(filepath.ToSlash(workingDir))
	for _, p := range []string{"/etc/nginx", "/etc/apache", "/var/www/html"} {
		if strings.Contains(lowerDir, p) {
			return ModeDevOps
		}
	}

	for _, m := range packageManifests {
		if exists(filepath.Join(workingDir, m)) {
			return ModeProgramming
		}
	}

	markdown, code := countFiles(workingDir, 200)
	if markdown > 5 && code < 3 {
		return ModeContent
	}
	return ModeProgramming
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".php": true,
	".rb": true, ".java": true, ".rs": true,
}

// countFiles walks at most limit entries below root and counts markdown
// and code files. Hidden directories and paths matched by the project's
// ignore files are skipped.
func countFiles(root string, limit int) (markdown, code int) {
	matcher, err := ignore.NewParser(ignore.DefaultFiles, ignore.DefaultPatterns).Load(root)
	if err != nil {
		matcher, _ = ignore.NewMatcher(ignore.DefaultPatterns)
	}
	seen := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		seen++
		if seen > limit {
			return filepath.SkipAll
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Match(rel, false) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case ext == ".md":
			markdown++
		case codeExtensions[ext]:
			code++
		}
		return nil
	})
	return markdown, code
}
