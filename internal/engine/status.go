package engine

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/journal"
	"github.com/kb-labs/devlink/internal/lockfile"
	"github.com/kb-labs/devlink/internal/planner"
)

// Status builds the read-only workspace report: plan summary, lock stats,
// manifest drift since the last freeze, undo availability, and the backup
// listing. It takes no lock and mutates nothing.
func (e *Engine) Status(ctx context.Context, req *StatusRequest) (*StatusResult, error) {
	result := &StatusResult{Root: e.paths.Root}

	if info, err := e.git.Inspect(e.paths.Root); err == nil {
		result.Git = info
	}

	if exists, err := e.fs.Exists(e.paths.PlanFile); err == nil && exists {
		if plan, err := planner.LoadPlan(e.fs, e.paths.PlanFile); err == nil {
			result.PlanFingerprint = plan.Fingerprint
			result.PlanGeneratedAt = plan.GeneratedAt
		}
	}

	lock, err := e.loadLock()
	if err != nil {
		result.LockError = err.Error()
	} else if lock != nil {
		result.LockStats = lockfile.ComputeStats(lock)
		result.Drift = e.detectDrift(lock)
	}

	result.Undo = journal.CheckAvailability(e.fs, e.paths)

	infos, err := e.backups.List()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		summary := BackupSummary{Timestamp: info.Timestamp}
		if info.Metadata != nil {
			summary.Type = string(info.Metadata.Type)
			summary.Protected = info.Metadata.IsProtected
			summary.Files = len(info.Metadata.Checksums)
		}
		result.Backups = append(result.Backups, summary)
	}

	return result, nil
}

// detectDrift rehashes every frozen consumer's manifest and reports the ones
// that changed since their freeze.
func (e *Engine) detectDrift(lock *lockfile.LockFile) []DriftEntry {
	var drift []DriftEntry
	for name, c := range lock.Consumers {
		if c == nil || c.Manifest == "" || c.Checksum == "" {
			continue
		}
		path := filepath.Join(e.paths.Root, fsops.FromPosix(c.Manifest))
		sum, err := e.hasher.HashFile(path)
		if err != nil || sum != c.Checksum {
			drift = append(drift, DriftEntry{Consumer: name, Manifest: c.Manifest})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].Consumer < drift[j].Consumer })
	return drift
}
