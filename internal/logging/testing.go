package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry, Trace included, for
// assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a recording logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// AtLevel returns the entries recorded at exactly level.
func (t *TestLogger) AtLevel(level zapcore.Level) []observer.LoggedEntry {
	return t.observed.FilterLevelExact(level).All()
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.find(level, msg) == nil {
		tb.Errorf("no %s entry containing %q in %v", LevelName(level), msg, t.messages())
	}
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if e := t.find(level, msg); e != nil {
		tb.Errorf("unexpected %s entry %q", LevelName(level), e.Message)
	}
}

// AssertField fails tb unless an entry containing msg carries key with
// the expected value.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, e := range t.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key]; ok && v == expected {
			return
		}
	}
	tb.Errorf("field %s=%v not found on %q", key, expected, msg)
}

func (t *TestLogger) find(level zapcore.Level, msg string) *observer.LoggedEntry {
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return &e
		}
	}
	return nil
}

func (t *TestLogger) messages() []string {
	all := t.observed.All()
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = LevelName(e.Level) + ": " + e.Message
	}
	return out
}
