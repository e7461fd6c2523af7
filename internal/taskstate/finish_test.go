package taskstate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview_NoScope(t *testing.T) {
	s := newTestState(t)
	_, err := s.Preview()
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestPreview_CollectsOutstandingWork(t *testing.T) {
	s := scoped(t, "src/**")
	require.NoError(t, s.MarkCriterion("payment succeeds", false))
	_, _ = s.RecordChange(ChangeInput{Path: "src/views/cart.blade.php"})
	_, _ = s.RecordChange(ChangeInput{Path: "docs/notes.md"})
	_, _ = s.AddAlert("ship blocker", SourceManual, SeverityBlocking)
	s.AddSymbolWarnings([]string{"undefined: CartRepo"})

	p, err := s.Preview()
	require.NoError(t, err)

	assert.Equal(t, []string{"cart persists"}, p.UnresolvedCriteria)
	assert.Equal(t, []string{"payment succeeds"}, p.FailedCriteria)
	require.Len(t, p.BlockingAlerts, 1)
	assert.Equal(t, "ship blocker", p.BlockingAlerts[0].Message)
	require.Len(t, p.OtherAlerts, 1)
	assert.Contains(t, p.OtherAlerts[0].Message, "docs/notes.md")
	assert.Equal(t, []string{"undefined: CartRepo"}, p.SymbolWarnings)
	assert.Equal(t, []string{"src/views/cart.blade.php", "docs/notes.md"}, p.ChangedFiles)
	assert.Contains(t, p.Hints, "templates changed: check the matching controllers, styles and scripts")
	assert.False(t, p.Clear())

	v := s.View()
	assert.True(t, v.ImpactPreviewShown)
	assert.Equal(t, PhasePlanning, v.Phase, "preview never changes the phase")
}

func TestPreview_ClearWhenNothingOutstanding(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.SetScope(ScopeInput{Description: "tidy"}))

	p, err := s.Preview()
	require.NoError(t, err)
	assert.True(t, p.Clear())
}

func TestComplete_BlockedByUnacknowledgedBlockingAlert(t *testing.T) {
	s := scoped(t)
	blocker, _ := s.AddAlert("migration untested", SourceManual, SeverityBlocking)
	rev := s.Revision()

	_, err := s.Complete(false)

	var blocked *BlockedByAlertsError
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Alerts, 1)
	assert.Equal(t, blocker.ID, blocked.Alerts[0].ID)
	assert.Contains(t, err.Error(), "migration untested")
	assert.Equal(t, PhasePlanning, s.View().Phase)
	assert.Equal(t, rev, s.Revision())
}

func TestComplete_ForceOverridesBlockingAlert(t *testing.T) {
	s := scoped(t)
	_, _ = s.AddAlert("migration untested", SourceManual, SeverityBlocking)

	sum, err := s.Complete(true)
	require.NoError(t, err)
	assert.True(t, sum.Forced)
	require.Len(t, sum.Overridden, 1)
	assert.Equal(t, PhaseDone, s.View().Phase)
}

func TestComplete_NonBlockingAlertsDoNotBlock(t *testing.T) {
	s := scoped(t, "src/**")
	_, _ = s.RecordChange(ChangeInput{Path: "docs/outside.md"})
	s.AddSymbolWarnings([]string{"maybe-missing"})
	require.NoError(t, s.MarkCriterion("cart persists", true))

	sum, err := s.Complete(false)
	require.NoError(t, err)

	assert.False(t, sum.Forced)
	assert.Equal(t, 1, sum.CriteriaDone)
	assert.Equal(t, 2, sum.CriteriaTotal)
	assert.Equal(t, []string{"docs/outside.md"}, sum.Files)
	assert.Equal(t, "Add checkout flow", sum.Description)
	assert.Equal(t, PhasePlanning, sum.PreviousPhase)

	v := s.View()
	assert.Equal(t, PhaseDone, v.Phase)
	assert.Empty(t, v.Alerts)
	assert.Empty(t, v.SymbolWarnings)
	require.NotNil(t, v.Scope, "scope is retained after finish")
	assert.Equal(t, "Add checkout flow", v.Scope.Description)
}

func TestComplete_AcknowledgedBlockingAlertDoesNotBlock(t *testing.T) {
	s := scoped(t)
	_, _ = s.AddAlert("migration untested", SourceManual, SeverityBlocking)
	s.AcknowledgeAlerts(true)

	sum, err := s.Complete(false)
	require.NoError(t, err)
	assert.False(t, sum.Forced)
}

func TestComplete_ThenNewScopeStartsFresh(t *testing.T) {
	s := scoped(t)
	_, err := s.Complete(false)
	require.NoError(t, err)

	require.NoError(t, s.SetScope(ScopeInput{Description: "next"}))
	assert.Equal(t, PhasePlanning, s.View().Phase)
}

func TestImpactHints(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"template", []string{"resources/views/home.blade.php"}, "templates changed"},
		{"migration", []string{"database/migrations/2025_add_orders.php"}, "schema-related"},
		{"sql", []string{"db/init.sql"}, "schema-related"},
		{"model", []string{"app/models/order.rb"}, "models changed"},
		{"routes", []string{"routes/web.php"}, "routes changed"},
		{"config", []string{"deploy/values.yaml"}, "configuration changed"},
		{"no tests", []string{"internal/cart.go"}, "without any test changes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints := impactHints(tt.paths)
			assert.Contains(t, strings.Join(hints, "\n"), tt.want)
		})
	}
}

func TestImpactHints_TestsSilenceTestHint(t *testing.T) {
	hints := impactHints([]string{"internal/cart.go", "internal/cart_test.go"})
	for _, h := range hints {
		assert.NotContains(t, h, "without any test changes")
	}
}
