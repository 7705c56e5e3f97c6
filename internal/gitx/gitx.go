// Package gitx inspects the workspace's git state for preflight checks.
//
// Mutating operations refuse to run over uncommitted changes unless the user
// overrides, and backups record the branch and commit they were taken on. A
// workspace outside any git repository is treated as clean: devlink works
// fine without version control, it just cannot vouch for recoverability.
package gitx

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
)

// Info is a snapshot of the repository state at one workspace root.
type Info struct {
	// IsRepo reports whether the root sits inside a git repository.
	IsRepo bool `json:"isRepo"`

	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`

	// Dirty reports uncommitted changes in the worktree.
	Dirty bool `json:"dirty"`
}

// Inspector reports git state for a directory.
type Inspector interface {
	Inspect(root string) (Info, error)
}

// RealInspector implements Inspector with go-git.
type RealInspector struct{}

// NewRealInspector creates a new RealInspector.
func NewRealInspector() *RealInspector {
	return &RealInspector{}
}

// Inspect opens the repository containing root, walking up to find .git.
func (g *RealInspector) Inspect(root string) (Info, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("failed to open git repository: %w", err)
	}

	info := Info{IsRepo: true}

	// An unborn HEAD (fresh init, no commits) still counts as a repo
	if head, err := repo.Head(); err == nil {
		info.Commit = head.Hash().String()
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return info, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return info, fmt.Errorf("failed to read worktree status: %w", err)
	}
	info.Dirty = !status.IsClean()

	return info, nil
}

// FakeInspector implements Inspector with a canned answer for tests.
type FakeInspector struct {
	InfoVal Info
	Err     error
}

// NewFakeInspector creates a FakeInspector reporting a clean non-repo.
func NewFakeInspector() *FakeInspector {
	return &FakeInspector{}
}

// Inspect returns the canned state.
func (g *FakeInspector) Inspect(root string) (Info, error) {
	return g.InfoVal, g.Err
}
