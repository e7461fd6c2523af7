package taskstate

import (
	"path"
	"strings"
	"time"
)

// ImpactPreview is what finish shows before completion is confirmed.
type ImpactPreview struct {
	UnresolvedCriteria []string `json:"unresolved_criteria,omitempty"`
	FailedCriteria     []string `json:"failed_criteria,omitempty"`
	BlockingAlerts     []Alert  `json:"blocking_alerts,omitempty"`
	OtherAlerts        []Alert  `json:"other_alerts,omitempty"`
	SymbolWarnings     []string `json:"symbol_warnings,omitempty"`
	Hints              []string `json:"hints,omitempty"`
	ChangedFiles       []string `json:"changed_files,omitempty"`
}

// Clear reports whether nothing in the preview needs attention.
func (p ImpactPreview) Clear() bool {
	return len(p.UnresolvedCriteria) == 0 && len(p.FailedCriteria) == 0 &&
		len(p.BlockingAlerts) == 0 && len(p.OtherAlerts) == 0 &&
		len(p.SymbolWarnings) == 0
}

// Summary describes a completed task. It becomes a history entry.
type Summary struct {
	Description   string    `json:"description"`
	Mode          Mode      `json:"mode"`
	PreviousPhase Phase     `json:"previous_phase"`
	Forced        bool      `json:"forced,omitempty"`
	Overridden    []Alert   `json:"overridden,omitempty"`
	CriteriaDone  int       `json:"criteria_done"`
	CriteriaTotal int       `json:"criteria_total"`
	Files         []string  `json:"files,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Preview builds the impact preview and remembers that it was shown. The
// phase is not changed.
func (s *ProjectState) Preview() (ImpactPreview, error) {
	var p ImpactPreview
	err := s.mutate(func(time.Time) error {
		if s.data.Scope == nil {
			return ErrNoScope
		}
		for _, c := range s.data.Scope.Criteria {
			switch {
			case c.Fulfilled == nil:
				p.UnresolvedCriteria = append(p.UnresolvedCriteria, c.Text)
			case !*c.Fulfilled:
				p.FailedCriteria = append(p.FailedCriteria, c.Text)
			}
		}
		for _, a := range s.data.Alerts {
			if a.Acknowledged {
				continue
			}
			if a.Blocking() {
				p.BlockingAlerts = append(p.BlockingAlerts, a)
			} else {
				p.OtherAlerts = append(p.OtherAlerts, a)
			}
		}
		p.SymbolWarnings = append([]string(nil), s.data.SymbolWarnings...)
		p.ChangedFiles = uniquePaths(s.data.Changes)
		p.Hints = impactHints(p.ChangedFiles)
		s.data.ImpactPreviewShown = true
		return nil
	})
	return p, err
}

// Complete marks the task done. Unacknowledged blocking alerts stop it
// with a *BlockedByAlertsError unless force is set. Symbol warnings and
// non-blocking alerts are dropped; the scope is kept until the next
// SetScope.
func (s *ProjectState) Complete(force bool) (Summary, error) {
	var sum Summary
	err := s.mutate(func(now time.Time) error {
		if s.data.Scope == nil {
			return ErrNoScope
		}
		var blocking []Alert
		for _, a := range s.data.Alerts {
			if a.Blocking() && !a.Acknowledged {
				blocking = append(blocking, a)
			}
		}
		if len(blocking) > 0 && !force {
			return &BlockedByAlertsError{Alerts: blocking}
		}

		done, _, _ := s.data.CriteriaProgress()
		sum = Summary{
			Description:   s.data.Scope.Description,
			Mode:          s.data.Scope.Mode,
			PreviousPhase: s.data.Phase,
			Forced:        len(blocking) > 0,
			Overridden:    blocking,
			CriteriaDone:  done,
			CriteriaTotal: len(s.data.Scope.Criteria),
			Files:         uniquePaths(s.data.Changes),
			CompletedAt:   now,
		}

		kept := s.data.Alerts[:0]
		for _, a := range s.data.Alerts {
			if a.Blocking() {
				a.Acknowledged = true
				kept = append(kept, a)
			}
		}
		s.data.Alerts = kept
		s.data.SymbolWarnings = nil
		s.data.FilesSinceValidation = 0
		s.data.ImpactPreviewShown = false
		s.data.Phase = PhaseDone
		s.pushRecent("finished")
		return nil
	})
	return sum, err
}

func uniquePaths(changes []ChangeEvent) []string {
	var out []string
	seen := make(map[string]bool, len(changes))
	for _, c := range changes {
		if !seen[c.Path] {
			seen[c.Path] = true
			out = append(out, c.Path)
		}
	}
	return out
}

var templateSuffixes = []string{".blade.php", ".twig", ".html", ".tmpl", ".gohtml", ".vue", ".svelte", ".jsx", ".tsx", ".erb"}

var schemaMarkers = []string{".sql", "migration", "migrate", "schema", "/db/", "seed", "alter_", "create_"}

var configSuffixes = []string{".env", ".yaml", ".yml", ".toml", ".ini", ".conf"}

var sourceSuffixes = []string{".go", ".py", ".js", ".ts", ".php", ".rb", ".java", ".rs"}

// impactHints derives follow-up reminders from the names of changed files.
func impactHints(paths []string) []string {
	var hints []string
	add := func(h string) {
		for _, existing := range hints {
			if existing == h {
				return
			}
		}
		hints = append(hints, h)
	}

	var sawSource, sawTest bool
	for _, p := range paths {
		lower := strings.ToLower(p)
		base := path.Base(lower)

		if hasAnySuffix(lower, templateSuffixes) {
			add("templates changed: check the matching controllers, styles and scripts")
		}
		if containsAny("/"+lower, schemaMarkers) {
			add("schema-related files changed: verify migrations against the database")
		}
		if strings.Contains(lower, "/models/") || strings.HasPrefix(lower, "models/") || strings.HasPrefix(base, "model") {
			add("models changed: check migrations and serializers")
		}
		if strings.Contains(lower, "routes") || strings.Contains(base, "router") {
			add("routes changed: exercise the affected endpoints")
		}
		if hasAnySuffix(lower, configSuffixes) || strings.HasPrefix(lower, "config/") {
			add("configuration changed: restart or redeploy the affected services")
		}

		isTest := strings.Contains(base, "_test.") || strings.Contains(base, ".test.") ||
			strings.Contains(base, ".spec.") || strings.HasPrefix(base, "test_") ||
			strings.Contains(lower, "/tests/") || strings.HasPrefix(lower, "tests/")
		if isTest {
			sawTest = true
		} else if hasAnySuffix(lower, sourceSuffixes) {
			sawSource = true
		}
	}
	if sawSource && !sawTest {
		add("source files changed without any test changes")
	}
	return hints
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
