package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/kb-labs/devlink/internal/backup"
	"github.com/kb-labs/devlink/internal/execx"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/journal"
	"github.com/kb-labs/devlink/internal/lockfile"
	"github.com/kb-labs/devlink/internal/planner"
)

// ApplyLockFile reinstalls every dependency lock.json records, consumer by
// consumer, honoring each entry's recorded source. It follows the same
// transactional discipline as Apply and records an apply journal so the
// operation is undoable.
func (e *Engine) ApplyLockFile(ctx context.Context, req *ApplyLockRequest) (*ApplyLockResult, error) {
	lock, err := e.loadLock()
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, fmt.Errorf("%w: run `devlink freeze` first", ErrNoLock)
	}

	consumers := make([]string, 0, len(lock.Consumers))
	for name := range lock.Consumers {
		consumers = append(consumers, name)
	}
	sort.Strings(consumers)

	result := &ApplyLockResult{DryRun: req.DryRun}

	if req.DryRun {
		for _, name := range consumers {
			deps := sortedDeps(lock.Consumers[name])
			for _, dep := range deps {
				result.Installed = append(result.Installed, name+"::"+dep)
			}
		}
		result.OK = true
		return result, nil
	}

	release, git, err := e.beginMutation(ctx, req.AllowDirty)
	defer release()
	if err != nil {
		return nil, err
	}

	manifests := make(map[string]string)
	patches := make([]journal.ManifestPatch, 0, len(consumers))
	for _, name := range consumers {
		c := lock.Consumers[name]
		if c.Manifest == "" {
			continue
		}
		manifests[c.Manifest] = filepath.Join(e.paths.Root, fsops.FromPosix(c.Manifest))
		patches = append(patches, journal.ManifestPatch{Package: name, Path: c.Manifest})
	}

	operationID := uuid.NewString()
	backupTs := ""
	bres, err := e.backups.Create(ctx, backup.CreateRequest{
		Type:      backup.TypeApply,
		LockPath:  e.paths.LockFile,
		Manifests: manifests,
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
		Operation:       journal.OpApply,
		Status:          journal.StatusPending,
		BackupDir:       result.BackupDir,
		BackupTimestamp: backupTs,
		ManifestPatches: patches,
	}
	if err := journal.Save(e.fs, e.paths.ApplyJournal, j); err != nil {
		return nil, err
	}

	for _, name := range consumers {
		c := lock.Consumers[name]
		dir := filepath.Dir(filepath.Join(e.paths.Root, fsops.FromPosix(c.Manifest)))

		for _, dep := range sortedDeps(c) {
			entry := c.Deps[dep]
			cmd := installCommand(dir, dep, entry)
			e.log.Debug("run", "consumer", name, "cmd", cmd.String())
			if _, err := e.runner.Run(ctx, cmd); err != nil {
				result.Errors = append(result.Errors, ActionError{
					Action: planner.LinkAction{Target: name, Dep: dep},
					Err:    err.Error(),
				})
				// Remaining deps of this consumer are skipped; other
				// consumers still proceed
				break
			}
			result.Installed = append(result.Installed, name+"::"+dep)
		}
	}
	result.OK = len(result.Errors) == 0

	j.Status = journal.StatusCompleted
	if err := journal.Save(e.fs, e.paths.ApplyJournal, j); err != nil {
		return nil, err
	}
	return result, nil
}

// installCommand renders one lock entry as a package-manager invocation.
func installCommand(dir, dep string, entry lockfile.LockEntry) execx.Cmd {
	switch entry.Source {
	case lockfile.SourceWorkspace:
		return execx.Cmd{Dir: dir, Argv: []string{packageManager, "add", dep + "@workspace:*"}}
	case lockfile.SourceLink:
		target := entry.SourceHint
		if target == "" {
			target = dep
		}
		return execx.Cmd{Dir: dir, Argv: []string{packageManager, "link", target}}
	case lockfile.SourceGithub:
		spec := entry.SourceHint
		if spec == "" {
			spec = dep
		}
		return execx.Cmd{Dir: dir, Argv: []string{packageManager, "add", spec}}
	default: // npm
		return execx.Cmd{Dir: dir, Argv: []string{packageManager, "add", dep + "@" + entry.Version}}
	}
}

func sortedDeps(c *lockfile.LockConsumer) []string {
	deps := make([]string, 0, len(c.Deps))
	for dep := range c.Deps {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}
