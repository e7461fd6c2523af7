package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
)

// skipPatterns are conversational prompts that never trigger a reminder.
// A prompt matches when it equals a pattern or starts with the pattern
// followed by a space.
var skipPatterns = []string{
	// short affirmations and negations
	"ja", "yes", "ok", "okay", "nein", "no", "gut", "good", "danke", "thanks",
	"weiter", "continue", "stop", "halt", "abbrechen", "cancel",
	// questions about chainguard itself
	"was ist chainguard", "what is chainguard", "hilfe", "help",
	// status checks use chainguard tools anyway
	"status", "show status", "zeig status",
	// git workflow
	"commit", "push", "pull", "merge",
}

const reminderText = `chainguard scope reminder

No active scope for this project. Declare one before starting work:

  chainguard_set_scope(
    description="what you are going to build",
    mode="programming",   # or content, devops, research, generic
    working_dir="/path/to/project"
  )

Why: file changes are tracked against the scope, syntax is validated,
acceptance criteria are checked at finish and the project context stays
available across the session.`

// ScopeReminder reminds the agent to declare a scope.
type ScopeReminder struct {
	cfg       *Config
	resolver  *project.Resolver
	store     store.Store
	cachePath string
	logger    *zap.Logger
	now       func() time.Time
}

// NewScopeReminder creates a reminder that keeps its cooldown cache in
// home.
func NewScopeReminder(cfg *Config, resolver *project.Resolver, st store.Store, home string, logger *zap.Logger) *ScopeReminder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScopeReminder{
		cfg:       cfg,
		resolver:  resolver,
		store:     st,
		cachePath: filepath.Join(home, CacheFileName),
		logger:    logger,
		now:       time.Now,
	}
}

// Handle implements HookHandler. Lookup failures are logged and produce
// no reminder.
func (r *ScopeReminder) Handle(ctx context.Context, in Input) (string, error) {
	if r.shouldSkipPrompt(in.Prompt) {
		return "", nil
	}
	dir := in.Cwd
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", nil
		}
		dir = wd
	}

	id, err := r.resolver.Resolve(ctx, dir)
	if err != nil {
		r.logger.Debug("resolving project failed", zap.String("dir", dir), zap.Error(err))
		return "", nil
	}
	if r.hasScope(ctx, id.Key) {
		return "", nil
	}

	cache := r.loadCache()
	if last, ok := cache[id.Key]; ok && r.now().Before(last.Add(r.cfg.Cooldown)) {
		return "", nil
	}
	cache[id.Key] = r.now()
	if err := r.saveCache(cache); err != nil {
		r.logger.Debug("saving reminder cache failed", zap.Error(err))
	}
	return reminderText, nil
}

func (r *ScopeReminder) shouldSkipPrompt(prompt string) bool {
	p := strings.ToLower(strings.TrimSpace(prompt))
	if len([]rune(p)) < r.cfg.MinPromptLength {
		return true
	}
	if strings.HasPrefix(p, "/") {
		return true
	}
	for _, pattern := range skipPatterns {
		if p == pattern || strings.HasPrefix(p, pattern+" ") {
			return true
		}
	}
	return false
}

// hasScope reports whether the stored state of key has a non-blank scope
// description. Missing or unreadable state counts as no scope.
func (r *ScopeReminder) hasScope(ctx context.Context, key string) bool {
	snap, err := r.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("loading project state failed", zap.String("project.key", key), zap.Error(err))
		}
		return false
	}
	return snap.Scope != nil && strings.TrimSpace(snap.Scope.Description) != ""
}

func (r *ScopeReminder) loadCache() map[string]time.Time {
	cache := make(map[string]time.Time)
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return cache
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		return make(map[string]time.Time)
	}
	return cache
}

// saveCache keeps the newest CacheEntries entries.
func (r *ScopeReminder) saveCache(cache map[string]time.Time) error {
	if len(cache) > r.cfg.CacheEntries {
		keys := make([]string, 0, len(cache))
		for k := range cache {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return cache[keys[i]].After(cache[keys[j]]) })
		for _, k := range keys[r.cfg.CacheEntries:] {
			delete(cache, k)
		}
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encoding reminder cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.cachePath), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(r.cachePath, bytes.NewReader(data))
}
