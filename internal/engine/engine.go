// Package engine provides the core business logic for devlink operations.
//
// The engine is the orchestration layer between the CLI and the lower-level
// packages. It coordinates workspace discovery, planning, the lock file,
// backups, journals, and subprocess execution.
//
// Key components:
//   - ScanAndPlan: discovery + graph + plan, persisted to last-plan.json
//   - Apply: executes a plan transactionally (backup, journal, shell out)
//   - Freeze: merges a plan into lock.json
//   - ApplyLockFile: reinstalls everything a lock records
//   - Undo: reverts the last apply or freeze from its backup
//   - Status: read-only workspace report
//
// Every mutating operation follows the same discipline: git preflight,
// advisory lock, temp sweep, backup, journal pending, mutate, journal
// completed. Dry runs return before the preflight and touch nothing.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kb-labs/devlink/internal/backup"
	"github.com/kb-labs/devlink/internal/clock"
	"github.com/kb-labs/devlink/internal/config"
	"github.com/kb-labs/devlink/internal/execx"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/gitx"
	"github.com/kb-labs/devlink/internal/hash"
	"github.com/kb-labs/devlink/internal/locker"
)

// Engine orchestrates all devlink operations.
// It is the main API surface called by the CLI.
type Engine struct {
	fs     fsops.FS
	hasher hash.Hasher
	clock  clock.Clock
	git    gitx.Inspector
	runner execx.Runner
	log    *log.Logger

	paths   *config.Paths
	backups *backup.Manager

	// lockWait bounds how long a mutating operation waits for the
	// advisory lock before failing with ErrLockHeld.
	lockWait time.Duration
}

// New creates a new Engine with the given dependencies.
func New(
	fs fsops.FS,
	hasher hash.Hasher,
	clk clock.Clock,
	git gitx.Inspector,
	runner execx.Runner,
	logger *log.Logger,
	paths *config.Paths,
) *Engine {
	return &Engine{
		fs:       fs,
		hasher:   hasher,
		clock:    clk,
		git:      git,
		runner:   runner,
		log:      logger,
		paths:    paths,
		backups:  backup.NewManager(fs, hasher, clk, paths.BackupsDir),
		lockWait: locker.DefaultWait,
	}
}

// Paths returns the workspace paths the engine operates on.
func (e *Engine) Paths() *config.Paths {
	return e.paths
}

// Backups returns the engine's backup manager, for the backups subcommands.
func (e *Engine) Backups() *backup.Manager {
	return e.backups
}

// beginMutation runs the shared front half of every mutating operation:
// git preflight, advisory lock, temp sweep. The returned release function
// must be deferred; it is non-nil even on error.
func (e *Engine) beginMutation(ctx context.Context, allowDirty bool) (release func(), info gitx.Info, err error) {
	release = func() {}

	info, err = e.git.Inspect(e.paths.Root)
	if err != nil {
		return release, info, fmt.Errorf("git preflight failed: %w", err)
	}
	if info.Dirty && !allowDirty {
		return release, info, ErrPreflight
	}

	if err := e.paths.EnsureDirectories(); err != nil {
		return release, info, err
	}

	lock := locker.New(e.paths.AdvisoryLock, e.lockWait)
	if err := lock.Acquire(ctx); err != nil {
		return release, info, err
	}
	release = func() {
		if err := lock.Release(); err != nil {
			e.log.Warn("failed to release advisory lock", "err", err)
		}
	}

	if removed, err := e.fs.SweepTemp(e.paths.DevlinkDir); err != nil {
		e.log.Warn("temp sweep failed", "err", err)
	} else if removed > 0 {
		e.log.Debug("removed orphaned temp files", "count", removed)
	}

	return release, info, nil
}
