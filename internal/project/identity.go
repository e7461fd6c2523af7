package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/chainguard/internal/cache"
)

// ErrInvalidWorkingDir is returned for working directories that do not
// exist or are not directories.
var ErrInvalidWorkingDir = errors.New("invalid working directory")

// IdentitySource records which input produced a project key.
type IdentitySource string

const (
	SourceRemote  IdentitySource = "remote"
	SourceGitRoot IdentitySource = "git-root"
	SourceDir     IdentitySource = "dir"
)

// Identity is a resolved project.
type Identity struct {
	Key    string
	Root   string
	Name   string
	Source IdentitySource
}

// Resolver maps working directories to identities.
type Resolver struct {
	cache *cache.TTL[string, Identity]
	group singleflight.Group
}

// NewResolver creates a resolver caching up to entries identities for ttl.
func NewResolver(ttl time.Duration, entries int, opts ...cache.TTLOption) *Resolver {
	return &Resolver{cache: cache.NewTTL[string, Identity](entries, ttl, opts...)}
}

// Resolve returns the identity for workingDir. Concurrent lookups of the
// same directory share one resolution.
func (r *Resolver) Resolve(ctx context.Context, workingDir string) (Identity, error) {
	if workingDir == "" {
		return Identity{}, fmt.Errorf("%w: empty path", ErrInvalidWorkingDir)
	}
	dir, err := filepath.Abs(workingDir)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidWorkingDir, err)
	}

	if id, ok := r.cache.Get(dir); ok {
		return id, nil
	}

	ch := r.group.DoChan(dir, func() (interface{}, error) {
		id, err := resolveIdentity(dir)
		if err != nil {
			return Identity{}, err
		}
		r.cache.Set(dir, id)
		return id, nil
	})

	select {
	case <-ctx.Done():
		return Identity{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Identity{}, res.Err
		}
		return res.Val.(Identity), nil
	}
}

// StartJanitor sweeps expired identities until ctx is done.
func (r *Resolver) StartJanitor(ctx context.Context, interval time.Duration) <-chan struct{} {
	return r.cache.StartJanitor(ctx, interval)
}

func resolveIdentity(dir string) (Identity, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidWorkingDir, err)
	}
	if !info.IsDir() {
		return Identity{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidWorkingDir, dir)
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Identity{Key: hashKey(dir), Root: dir, Name: filepath.Base(dir), Source: SourceDir}, nil
	}

	root := dir
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 && urls[0] != "" {
			return Identity{Key: hashKey(urls[0]), Root: root, Name: filepath.Base(root), Source: SourceRemote}, nil
		}
	}
	return Identity{Key: hashKey(root), Root: root, Name: filepath.Base(root), Source: SourceGitRoot}, nil
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
