// Package journal records every mutating operation so it can be undone.
//
// Each apply writes last-apply.json and each freeze writes last-freeze.json.
// A journal is written with status "pending" before the first mutation and
// rewritten "completed" after the last, so a crash mid-operation leaves a
// pending journal behind as evidence. Journals are never deleted; undo only
// flips the Undone flag, keeping the audit trail intact.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/planner"
)

// Operation is the kind of mutation a journal records.
type Operation string

const (
	OpApply  Operation = "apply"
	OpFreeze Operation = "freeze"
)

// Status tracks journal lifecycle.
type Status string

const (
	// StatusPending is written before the first mutation.
	StatusPending Status = "pending"

	// StatusCompleted is written after the last mutation.
	StatusCompleted Status = "completed"
)

var (
	// ErrNothingToUndo means no journal qualifies for undo.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrAlreadyUndone means the targeted journal was undone before.
	ErrAlreadyUndone = errors.New("operation already undone")

	// ErrBackupMissing means the journal's backup directory is gone.
	ErrBackupMissing = errors.New("backup for operation is missing")

	// ErrManifestMissing means a backed-up manifest the undo needs is gone.
	ErrManifestMissing = errors.New("backed-up manifest is missing")
)

// ManifestPatch records one manifest an apply rewrote, so undo knows what to
// restore and from where.
type ManifestPatch struct {
	// Package is the consumer package name.
	Package string `json:"package"`

	// Path is the manifest location, POSIX-relative to the workspace root.
	Path string `json:"path"`
}

// Journal is one recorded mutating operation.
type Journal struct {
	Timestamp   time.Time `json:"timestamp"`
	OperationID string    `json:"operationId"`
	Operation   Operation `json:"operation"`
	Status      Status    `json:"status"`
	Undone      bool      `json:"undone"`

	// BackupDir is empty when backup creation failed and the operation
	// proceeded without a safety net.
	BackupDir       string `json:"backupDir"`
	BackupTimestamp string `json:"backupTimestamp,omitempty"`

	Actions []planner.LinkAction `json:"actions,omitempty"`

	ManifestPatches []ManifestPatch `json:"manifestPatches,omitempty"`
}

// Load reads a journal file.
func Load(fs fsops.FS, path string) (*Journal, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to parse journal %s: %w", path, err)
	}
	return &j, nil
}

// Save writes a journal atomically.
func Save(fs fsops.FS, path string, j *Journal) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}
	data = append(data, '\n')

	if err := fs.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return nil
}

// Latest picks the undo candidate: among the given journal files, the one
// with the newest filesystem modification time that is not already undone.
// Equal mtimes fall back to the recorded operation timestamp, then to the
// operation ID, so the choice never depends on argument order. existed
// reports whether any journal file was present at all, which lets callers
// distinguish "never ran" from "everything already undone".
func Latest(fs fsops.FS, paths ...string) (j *Journal, path string, existed bool, err error) {
	var bestTime time.Time

	for _, p := range paths {
		info, statErr := fs.Lstat(p)
		if statErr != nil {
			continue
		}
		existed = true

		candidate, loadErr := Load(fs, p)
		if loadErr != nil {
			return nil, "", existed, loadErr
		}
		if candidate.Undone {
			continue
		}
		if j == nil || newer(candidate, info.ModTime(), j, bestTime) {
			j = candidate
			path = p
			bestTime = info.ModTime()
		}
	}

	if j == nil {
		return nil, "", existed, ErrNothingToUndo
	}
	return j, path, existed, nil
}

// newer ranks candidate against the current best. Filesystem mtime decides;
// ties go to the later recorded timestamp, then the larger operation ID.
func newer(candidate *Journal, candidateTime time.Time, best *Journal, bestTime time.Time) bool {
	if !candidateTime.Equal(bestTime) {
		return candidateTime.After(bestTime)
	}
	if !candidate.Timestamp.Equal(best.Timestamp) {
		return candidate.Timestamp.After(best.Timestamp)
	}
	return candidate.OperationID > best.OperationID
}
