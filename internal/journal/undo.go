package journal

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kb-labs/devlink/internal/config"
	"github.com/kb-labs/devlink/internal/fsops"
)

// UndoResult reports what an undo restored (or would restore, under dry run).
type UndoResult struct {
	Operation   Operation `json:"operation"`
	OperationID string    `json:"operationId"`
	DryRun      bool      `json:"dryRun"`

	// RestoredManifests lists POSIX-relative manifest paths put back.
	RestoredManifests []string `json:"restoredManifests,omitempty"`

	// RestoredLock reports whether lock.json was put back.
	RestoredLock bool `json:"restoredLock"`
}

// UndoLast reverts the most recent not-yet-undone operation from its backup.
// Apply journals restore every manifest in ManifestPatches; freeze journals
// byte-copy the backed-up lock.json over the live one. The journal is marked
// undone afterwards, never deleted. Dry run verifies the backup and reports
// without touching anything.
func UndoLast(fs fsops.FS, paths *config.Paths, dryRun bool) (*UndoResult, error) {
	j, journalPath, existed, err := Latest(fs, paths.ApplyJournal, paths.FreezeJournal)
	if err != nil {
		// Journals present but all flagged undone is a double-undo, not an
		// empty history.
		if errors.Is(err, ErrNothingToUndo) && existed {
			return nil, ErrAlreadyUndone
		}
		return nil, err
	}

	if j.BackupDir == "" {
		return nil, fmt.Errorf("%w: operation %s recorded no backup", ErrBackupMissing, j.OperationID)
	}
	if exists, err := fs.Exists(j.BackupDir); err != nil || !exists {
		return nil, fmt.Errorf("%w: %s", ErrBackupMissing, j.BackupDir)
	}

	result := &UndoResult{Operation: j.Operation, OperationID: j.OperationID, DryRun: dryRun}

	switch j.Operation {
	case OpApply:
		if err := undoApply(fs, paths, j, dryRun, result); err != nil {
			return nil, err
		}
	case OpFreeze:
		if err := undoFreeze(fs, paths, j, dryRun, result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("journal has unknown operation %q", j.Operation)
	}

	if !dryRun {
		j.Undone = true
		if err := Save(fs, journalPath, j); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func undoApply(fs fsops.FS, paths *config.Paths, j *Journal, dryRun bool, result *UndoResult) error {
	// Resolve every source before restoring anything, so a missing file
	// fails the undo without a half-restored workspace.
	type restore struct {
		src string
		dst string
		rel string
	}
	restores := make([]restore, 0, len(j.ManifestPatches))

	for _, patch := range j.ManifestPatches {
		src, err := backedUpManifest(fs, j.BackupDir, patch.Path)
		if err != nil {
			return err
		}
		restores = append(restores, restore{
			src: src,
			dst: filepath.Join(paths.Root, fsops.FromPosix(patch.Path)),
			rel: patch.Path,
		})
	}

	for _, r := range restores {
		if !dryRun {
			if err := fs.CopyFile(r.src, r.dst); err != nil {
				return fmt.Errorf("failed to restore %s: %w", r.rel, err)
			}
		}
		result.RestoredManifests = append(result.RestoredManifests, r.rel)
	}

	// Apply backups also capture the prior lock.json when one existed
	if src, err := backedUpLock(fs, j.BackupDir, OpApply); err == nil {
		if !dryRun {
			if err := fs.CopyFile(src, paths.LockFile); err != nil {
				return fmt.Errorf("failed to restore lock file: %w", err)
			}
		}
		result.RestoredLock = true
	}
	return nil
}

func undoFreeze(fs fsops.FS, paths *config.Paths, j *Journal, dryRun bool, result *UndoResult) error {
	src, err := backedUpLock(fs, j.BackupDir, OpFreeze)
	if err != nil {
		return err
	}
	if !dryRun {
		if err := fs.CopyFile(src, paths.LockFile); err != nil {
			return fmt.Errorf("failed to restore lock file: %w", err)
		}
	}
	result.RestoredLock = true
	return nil
}

// backedUpManifest locates a manifest inside the backup, trying the current
// type.apply/manifests/ layout first and the legacy flat layout second.
func backedUpManifest(fs fsops.FS, backupDir, rel string) (string, error) {
	native := fsops.FromPosix(rel)
	candidates := []string{
		filepath.Join(backupDir, "type.apply", "manifests", native),
		filepath.Join(backupDir, native),
	}
	for _, c := range candidates {
		if exists, err := fs.Exists(c); err == nil && exists {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrManifestMissing, rel)
}

// backedUpLock locates the backed-up lock.json, current layout first.
func backedUpLock(fs fsops.FS, backupDir string, op Operation) (string, error) {
	candidates := []string{
		filepath.Join(backupDir, "type."+string(op), "lock.json"),
		filepath.Join(backupDir, "lock.json"),
	}
	for _, c := range candidates {
		if exists, err := fs.Exists(c); err == nil && exists {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: lock.json not in backup %s", ErrBackupMissing, backupDir)
}

// Availability explains whether undo can run right now and why not.
type Availability struct {
	Available bool `json:"available"`

	// Reason is one of no-journal, already-undone, backup-missing,
	// manifest-missing; empty when available.
	Reason string `json:"reason,omitempty"`

	Type     Operation `json:"type,omitempty"`
	BackupTs string    `json:"backupTs,omitempty"`
}

// CheckAvailability reports undo availability without erroring, so status
// output can explain an unavailable undo instead of failing.
func CheckAvailability(fs fsops.FS, paths *config.Paths) Availability {
	j, _, existed, err := Latest(fs, paths.ApplyJournal, paths.FreezeJournal)
	if err != nil {
		if errors.Is(err, ErrNothingToUndo) {
			if existed {
				return Availability{Reason: "already-undone"}
			}
			return Availability{Reason: "no-journal"}
		}
		return Availability{Reason: "no-journal"}
	}

	avail := Availability{Type: j.Operation, BackupTs: j.BackupTimestamp}

	if j.BackupDir == "" {
		avail.Reason = "backup-missing"
		return avail
	}
	if exists, err := fs.Exists(j.BackupDir); err != nil || !exists {
		avail.Reason = "backup-missing"
		return avail
	}

	if j.Operation == OpApply {
		for _, patch := range j.ManifestPatches {
			if _, err := backedUpManifest(fs, j.BackupDir, patch.Path); err != nil {
				avail.Reason = "manifest-missing"
				return avail
			}
		}
	} else {
		if _, err := backedUpLock(fs, j.BackupDir, j.Operation); err != nil {
			avail.Reason = "backup-missing"
			return avail
		}
	}

	avail.Available = true
	return avail
}
