package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/kb-labs/devlink/internal/backup"
	"github.com/kb-labs/devlink/internal/journal"
	"github.com/kb-labs/devlink/internal/lockfile"
	"github.com/kb-labs/devlink/internal/planner"
)

// Freeze merges the persisted plan into lock.json. The merged lock is
// computed first; a dry run stops there, a real freeze backs up the prior
// lock, journals, persists, and journals again.
func (e *Engine) Freeze(ctx context.Context, req *FreezeRequest) (*FreezeResult, error) {
	plan, err := e.loadPlan()
	if err != nil {
		return nil, err
	}

	existing, err := e.loadLock()
	if err != nil {
		// A malformed lock must be surfaced, never silently rebuilt
		return nil, err
	}

	pin := req.Pin
	if pin == "" {
		pin = plan.Policy.Pin
	}
	if pin == "" {
		pin = planner.PinCaret
	}

	next, changes, err := lockfile.FreezeMerged(e.fs, e.hasher, e.clock.Now(), plan, existing, lockfile.FreezeOptions{
		Replace:     req.Replace,
		Prune:       req.Prune,
		Pin:         pin,
		Reason:      req.Reason,
		InitiatedBy: req.InitiatedBy,
		Command:     "devlink freeze",
	})
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.Meta.Hash != "" && existing.Meta.Hash != next.Meta.Hash {
		e.log.Warn("workspace roots changed since the last freeze",
			"was", existing.Meta.Roots, "now", next.Meta.Roots)
	}

	result := &FreezeResult{DryRun: req.DryRun, Changes: changes, Lock: next}
	if req.DryRun {
		return result, nil
	}

	release, git, err := e.beginMutation(ctx, req.AllowDirty)
	defer release()
	if err != nil {
		return nil, err
	}

	operationID := uuid.NewString()
	backupTs := ""
	bres, err := e.backups.Create(ctx, backup.CreateRequest{
		Type:      backup.TypeFreeze,
		LockPath:  e.paths.LockFile,
		GitBranch: git.Branch,
		GitCommit: git.Commit,
		GitDirty:  git.Dirty,
	})
	if err != nil {
		e.log.Warn("backup creation failed; proceeding WITHOUT a safety net", "err", err)
	} else {
		result.BackupDir = bres.Dir
		backupTs = bres.Timestamp
		operationID = bres.Metadata.OperationID
	}
	result.OperationID = operationID

	j := &journal.Journal{
		Timestamp:       e.clock.Now(),
		OperationID:     operationID,
		Operation:       journal.OpFreeze,
		Status:          journal.StatusPending,
		BackupDir:       result.BackupDir,
		BackupTimestamp: backupTs,
	}
	if err := journal.Save(e.fs, e.paths.FreezeJournal, j); err != nil {
		return nil, err
	}

	if err := lockfile.Save(e.fs, e.paths.LockFile, next); err != nil {
		return nil, err
	}

	j.Status = journal.StatusCompleted
	if err := journal.Save(e.fs, e.paths.FreezeJournal, j); err != nil {
		return nil, err
	}
	return result, nil
}

// loadLock reads lock.json, mapping a missing file to (nil, nil). Structural
// errors propagate as lockfile.ErrInvalidStructure.
func (e *Engine) loadLock() (*lockfile.LockFile, error) {
	lock, err := lockfile.Load(e.fs, e.paths.LockFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if errors.Is(err, lockfile.ErrInvalidStructure) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load lock file: %w", err)
	}
	return lock, nil
}
