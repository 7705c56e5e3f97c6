package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kb-labs/devlink/internal/backup"
	"github.com/kb-labs/devlink/internal/execx"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/journal"
	"github.com/kb-labs/devlink/internal/manifest"
	"github.com/kb-labs/devlink/internal/planner"
)

// packageManager is the package manager devlink shells out to.
const packageManager = "pnpm"

// targetBatch is every command one consumer needs, link-tool operations
// strictly before package-manager operations so the two never fight over the
// same node_modules entry.
type targetBatch struct {
	target      string
	dir         string
	manifestRel string

	linkCmds []plannedCmd
	pmCmds   []plannedCmd
}

type plannedCmd struct {
	action planner.LinkAction
	cmd    execx.Cmd
}

// Algorithm steps:
//  1. Load the persisted plan
//  2. Build per-target batches, pre-filtering no-op actions
//  3. DryRun: return the preview, zero side effects
//  4. Preflight + advisory lock + temp sweep
//  5. Backup affected manifests and the lock file (failure is a warning)
//  6. Journal pending
//  7. Execute batches target by target; a failing target is recorded and
//     skipped, the rest continue
//  8. Rescan the workspace into state.json
//  9. Journal completed
func (e *Engine) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResult, error) {
	plan, err := e.loadPlan()
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{DryRun: req.DryRun}
	batches := e.buildBatches(plan, result)

	if req.DryRun {
		for _, b := range batches {
			for _, pc := range b.linkCmds {
				result.Executed = append(result.Executed, pc.action)
			}
			for _, pc := range b.pmCmds {
				result.Executed = append(result.Executed, pc.action)
			}
		}
		result.OK = len(result.Errors) == 0
		return result, nil
	}

	release, git, err := e.beginMutation(ctx, req.AllowDirty)
	defer release()
	if err != nil {
		return nil, err
	}

	manifests := make(map[string]string, len(batches))
	patches := make([]journal.ManifestPatch, 0, len(batches))
	for _, b := range batches {
		manifests[b.manifestRel] = filepath.Join(b.dir, manifest.Filename)
		patches = append(patches, journal.ManifestPatch{Package: b.target, Path: b.manifestRel})
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
		// Warn-only: the operation proceeds without a safety net, and the
		// journal records the gap so status and undo can surface it.
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
		Actions:         plan.Actions,
		ManifestPatches: patches,
	}
	if err := journal.Save(e.fs, e.paths.ApplyJournal, j); err != nil {
		return nil, err
	}

	for _, b := range batches {
		if err := e.runBatch(ctx, b, result); err != nil {
			// recorded in result.Errors; carry on with the next target
			e.log.Error("apply failed for target", "target", b.target, "err", err)
		}
	}
	result.OK = len(result.Errors) == 0

	if err := e.persistState(ctx, plan); err != nil {
		e.log.Warn("post-apply state rescan failed", "err", err)
	}

	j.Status = journal.StatusCompleted
	if err := journal.Save(e.fs, e.paths.ApplyJournal, j); err != nil {
		return nil, err
	}
	return result, nil
}

// runBatch executes one target's commands, link tool first. The first
// failure stops this batch only.
func (e *Engine) runBatch(ctx context.Context, b targetBatch, result *ApplyResult) error {
	for _, pc := range append(append([]plannedCmd{}, b.linkCmds...), b.pmCmds...) {
		e.log.Debug("run", "target", b.target, "cmd", pc.cmd.String())
		if _, err := e.runner.Run(ctx, pc.cmd); err != nil {
			result.Errors = append(result.Errors, ActionError{Action: pc.action, Err: err.Error()})
			return err
		}
		result.Executed = append(result.Executed, pc.action)
	}
	return nil
}

// buildBatches turns the plan into per-target command batches, dropping
// no-op actions. Targets whose manifest cannot be read become errors, not
// aborts.
func (e *Engine) buildBatches(plan *planner.DevLinkPlan, result *ApplyResult) []targetBatch {
	var batches []targetBatch

	for _, target := range plan.Targets() {
		actions := plan.ActionsFor(target)
		ref, ok := plan.Packages[target]
		if !ok {
			for _, a := range actions {
				result.Errors = append(result.Errors, ActionError{Action: a, Err: "target not in plan package snapshot"})
			}
			continue
		}

		manifestPath := filepath.Join(ref.Dir, manifest.Filename)
		m, err := manifest.Load(e.fs, manifestPath)
		if err != nil {
			for _, a := range actions {
				result.Errors = append(result.Errors, ActionError{Action: a, Err: err.Error()})
			}
			continue
		}

		b := targetBatch{
			target:      target,
			dir:         ref.Dir,
			manifestRel: relToRoot(plan.RootDir, manifestPath),
		}

		for _, a := range actions {
			if reason, skip := e.skipReason(a, m, ref.Dir); skip {
				result.Skipped = append(result.Skipped, SkippedAction{Action: a, Reason: reason})
				continue
			}
			pc := plannedCmd{action: a, cmd: e.commandFor(a, m, plan, ref.Dir)}
			switch a.Kind {
			case planner.KindUnlink, planner.KindLinkLocal:
				b.linkCmds = append(b.linkCmds, pc)
			default:
				b.pmCmds = append(b.pmCmds, pc)
			}
		}

		if len(b.linkCmds)+len(b.pmCmds) > 0 {
			batches = append(batches, b)
		}
	}
	return batches
}

// skipReason pre-filters actions the workspace already satisfies.
func (e *Engine) skipReason(a planner.LinkAction, m *manifest.Manifest, dir string) (string, bool) {
	switch a.Kind {
	case planner.KindUseWorkspace:
		if r, ok := m.DeclaredRange(a.Dep); ok && r == "workspace:*" {
			return "already pinned to workspace:*", true
		}
	case planner.KindUnlink:
		if !e.depInstalled(dir, a.Dep) {
			return "no active link to remove", true
		}
	case planner.KindLinkLocal:
		if e.depSymlinked(dir, a.Dep) {
			return "already linked", true
		}
	case planner.KindUseNpm:
		// A symlinked copy still needs the registry install once unlinked
		if r, ok := m.DeclaredRange(a.Dep); ok && r != "" && r != "workspace:*" &&
			e.depInstalled(dir, a.Dep) && !e.depSymlinked(dir, a.Dep) {
			return "already installed from registry", true
		}
	}
	return "", false
}

// commandFor renders one action as a subprocess invocation in the target's
// directory.
func (e *Engine) commandFor(a planner.LinkAction, m *manifest.Manifest, plan *planner.DevLinkPlan, dir string) execx.Cmd {
	switch a.Kind {
	case planner.KindUnlink:
		// Unlinking something that is not linked is not worth failing over
		return execx.Cmd{Dir: dir, Argv: []string{packageManager, "unlink", a.Dep}, AllowFail: true}

	case planner.KindLinkLocal:
		depDir := a.Dep
		if ref, ok := plan.Packages[a.Dep]; ok {
			depDir = ref.Dir
		}
		return execx.Cmd{Dir: dir, Argv: []string{packageManager, "link", depDir}}

	case planner.KindUseWorkspace:
		argv := []string{packageManager, "add"}
		argv = append(argv, sectionFlag(m, a.Dep)...)
		argv = append(argv, a.Dep+"@workspace:*")
		return execx.Cmd{Dir: dir, Argv: argv}

	default: // KindUseNpm
		spec := a.Dep
		if r, ok := m.DeclaredRange(a.Dep); ok && r != "" && r != "workspace:*" {
			spec = a.Dep + "@" + r
		}
		argv := []string{packageManager, "add"}
		argv = append(argv, sectionFlag(m, a.Dep)...)
		argv = append(argv, spec)
		return execx.Cmd{Dir: dir, Argv: argv}
	}
}

// sectionFlag maps the manifest section declaring dep to the matching
// package-manager flag.
func sectionFlag(m *manifest.Manifest, dep string) []string {
	if _, ok := m.DevDependencies[dep]; ok {
		return []string{"--save-dev"}
	}
	if _, ok := m.PeerDependencies[dep]; ok {
		return []string{"--save-peer"}
	}
	return nil
}

func (e *Engine) depInstalled(dir, dep string) bool {
	ok, err := e.fs.Exists(filepath.Join(dir, "node_modules", filepath.FromSlash(dep)))
	return err == nil && ok
}

func (e *Engine) depSymlinked(dir, dep string) bool {
	info, err := e.fs.Lstat(filepath.Join(dir, "node_modules", filepath.FromSlash(dep)))
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

func relToRoot(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fsops.ToPosix(path)
	}
	return fsops.ToPosix(rel)
}
