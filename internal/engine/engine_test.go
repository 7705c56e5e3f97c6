package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kb-labs/devlink/internal/clock"
	"github.com/kb-labs/devlink/internal/config"
	"github.com/kb-labs/devlink/internal/execx"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/gitx"
	"github.com/kb-labs/devlink/internal/hash"
	"github.com/kb-labs/devlink/internal/journal"
	"github.com/kb-labs/devlink/internal/lockfile"
	"github.com/kb-labs/devlink/internal/planner"
)

type testEnv struct {
	engine *Engine
	runner *execx.FakeRunner
	git    *gitx.FakeInspector
	clock  *clock.FakeClock
	paths  *config.Paths
	root   string
}

// newTestEnv builds a workspace with two packages: @test/a, and @test/b
// depending on @test/a (workspace protocol, already pinned) and lodash.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	writeJSON(t, filepath.Join(root, "packages", "a", "package.json"), map[string]any{
		"name": "@test/a", "version": "1.2.0",
	})
	writeJSON(t, filepath.Join(root, "packages", "b", "package.json"), map[string]any{
		"name": "@test/b", "version": "1.0.0",
		"dependencies": map[string]string{
			"@test/a": "workspace:*",
			"lodash":  "^4.0.0",
		},
	})

	runner := execx.NewFakeRunner()
	git := gitx.NewFakeInspector()
	clk := clock.NewFakeClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	paths := config.NewPaths(root)

	e := New(fsops.NewRealFS(), hash.NewSHA256Hasher(), clk, git, runner,
		log.New(io.Discard), paths)

	return &testEnv{engine: e, runner: runner, git: git, clock: clk, paths: paths, root: root}
}

func writeJSON(t *testing.T, path string, doc map[string]any) {
	t.Helper()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) plan(t *testing.T) *PlanResult {
	t.Helper()
	res, err := env.engine.ScanAndPlan(context.Background(), &PlanRequest{
		Mode:   planner.ModeAuto,
		Policy: planner.Policy{Pin: planner.PinCaret},
	})
	if err != nil {
		t.Fatalf("ScanAndPlan() error: %v", err)
	}
	return res
}

func TestScanAndPlanPersistsPlan(t *testing.T) {
	env := newTestEnv(t)

	res := env.plan(t)

	if len(res.Plan.Actions) != 2 {
		t.Errorf("Actions = %v, want use-workspace + use-npm for @test/b", res.Plan.Actions)
	}
	if _, err := os.Stat(env.paths.PlanFile); err != nil {
		t.Errorf("plan not persisted: %v", err)
	}
}

func TestScanAndPlanStrictFailure(t *testing.T) {
	env := newTestEnv(t)
	writeJSON(t, filepath.Join(env.root, "packages", "c", "package.json"), map[string]any{
		"name": "@test/c", "version": "1.0.0",
		"dependencies": map[string]string{"@test/ghost": "^1.0.0"},
	})

	_, err := env.engine.ScanAndPlan(context.Background(), &PlanRequest{
		Mode: planner.ModeAuto, Strict: true,
		Policy: planner.Policy{Pin: planner.PinCaret},
	})
	if !errors.Is(err, ErrStrictPlan) {
		t.Errorf("error = %v, want ErrStrictPlan", err)
	}
}

func TestApplyWithoutPlanFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Apply(context.Background(), &ApplyRequest{})
	if !errors.Is(err, ErrNoPlan) {
		t.Errorf("error = %v, want ErrNoPlan", err)
	}
}

func TestApplyDryRunHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	res, err := env.engine.Apply(context.Background(), &ApplyRequest{DryRun: true})
	if err != nil {
		t.Fatalf("Apply(dryRun) error: %v", err)
	}
	if !res.OK || !res.DryRun {
		t.Errorf("result = %+v", res)
	}
	if len(env.runner.Calls) != 0 {
		t.Errorf("dry run shelled out: %v", env.runner.CommandLines())
	}
	if _, err := os.Stat(env.paths.ApplyJournal); !os.IsNotExist(err) {
		t.Error("dry run wrote a journal")
	}
	if res.BackupDir != "" {
		t.Error("dry run took a backup")
	}
}

func TestApplySkipsPinnedWorkspaceDepAndInstallsNpm(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	res, err := env.engine.Apply(context.Background(), &ApplyRequest{})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if !res.OK {
		t.Fatalf("OK = false: %+v", res.Errors)
	}

	// @test/a is already pinned workspace:* so only lodash is installed
	if len(res.Skipped) != 1 || res.Skipped[0].Action.Dep != "@test/a" {
		t.Errorf("Skipped = %+v, want the pinned workspace dep", res.Skipped)
	}
	lines := env.runner.CommandLines()
	if len(lines) != 1 || lines[0] != "pnpm add lodash@^4.0.0" {
		t.Errorf("commands = %v, want [pnpm add lodash@^4.0.0]", lines)
	}

	// Journal completed, backup taken, state rescanned
	j, err := journal.Load(fsops.NewRealFS(), env.paths.ApplyJournal)
	if err != nil {
		t.Fatalf("journal not written: %v", err)
	}
	if j.Status != journal.StatusCompleted || j.Undone {
		t.Errorf("journal = %+v, want completed and not undone", j)
	}
	if res.BackupDir == "" {
		t.Error("no backup taken")
	}
	if _, err := os.Stat(filepath.Join(res.BackupDir, "type.apply", "manifests", "packages", "b", "package.json")); err != nil {
		t.Errorf("consumer manifest not backed up: %v", err)
	}
	if _, err := os.Stat(env.paths.StateFile); err != nil {
		t.Errorf("state.json not written: %v", err)
	}
}

func TestApplySecondRunIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	if _, err := env.engine.Apply(context.Background(), &ApplyRequest{}); err != nil {
		t.Fatalf("first Apply() error: %v", err)
	}
	// The fake runner records commands without running pnpm, so materialize
	// the install it would have produced
	if err := os.MkdirAll(filepath.Join(env.root, "packages", "b", "node_modules", "lodash"), 0755); err != nil {
		t.Fatal(err)
	}
	before := len(env.runner.CommandLines())

	// Distinct backup timestamp for the second operation
	env.clock.Advance(time.Second)
	res, err := env.engine.Apply(context.Background(), &ApplyRequest{})
	if err != nil {
		t.Fatalf("second Apply() error: %v", err)
	}
	if !res.OK {
		t.Fatalf("OK = false: %+v", res.Errors)
	}
	if len(res.Executed) != 0 {
		t.Errorf("Executed = %+v, want none on an unchanged workspace", res.Executed)
	}
	if len(res.Skipped) != 2 {
		t.Errorf("Skipped = %+v, want both actions pre-filtered", res.Skipped)
	}
	if after := len(env.runner.CommandLines()); after != before {
		t.Errorf("second apply ran %d commands", after-before)
	}
}

func TestApplyCollectsErrorsWithoutAborting(t *testing.T) {
	env := newTestEnv(t)
	writeJSON(t, filepath.Join(env.root, "packages", "c", "package.json"), map[string]any{
		"name": "@test/c", "version": "1.0.0",
		"dependencies": map[string]string{"react": "^18.0.0"},
	})
	env.plan(t)
	env.runner.SetResult("pnpm add lodash@^4.0.0", execx.Result{ExitCode: 1}, errors.New("registry down"))

	res, err := env.engine.Apply(context.Background(), &ApplyRequest{})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if res.OK {
		t.Error("OK = true with a failed action")
	}
	if len(res.Errors) != 1 || res.Errors[0].Action.Dep != "lodash" {
		t.Errorf("Errors = %+v", res.Errors)
	}
	// The other target's install still ran
	found := false
	for _, line := range env.runner.CommandLines() {
		if line == "pnpm add react@^18.0.0" {
			found = true
		}
	}
	if !found {
		t.Errorf("remaining target not processed: %v", env.runner.CommandLines())
	}
}

func TestApplyPreflightRefusesDirtyWorktree(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)
	env.git.InfoVal = gitx.Info{IsRepo: true, Dirty: true}

	_, err := env.engine.Apply(context.Background(), &ApplyRequest{})
	if !errors.Is(err, ErrPreflight) {
		t.Errorf("error = %v, want ErrPreflight", err)
	}
	if len(env.runner.Calls) != 0 {
		t.Error("preflight failure still shelled out")
	}

	res, err := env.engine.Apply(context.Background(), &ApplyRequest{AllowDirty: true})
	if err != nil {
		t.Fatalf("Apply(AllowDirty) error: %v", err)
	}
	if !res.OK {
		t.Errorf("AllowDirty apply failed: %+v", res.Errors)
	}
}

func TestFreezeDryRunDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	res, err := env.engine.Freeze(context.Background(), &FreezeRequest{DryRun: true})
	if err != nil {
		t.Fatalf("Freeze(dryRun) error: %v", err)
	}
	if res.Changes.Empty() {
		t.Error("dry run reported no changes for a first freeze")
	}
	if _, err := os.Stat(env.paths.LockFile); !os.IsNotExist(err) {
		t.Error("dry run wrote lock.json")
	}
}

func TestFreezePersistsLock(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	res, err := env.engine.Freeze(context.Background(), &FreezeRequest{Reason: "ci pin"})
	if err != nil {
		t.Fatalf("Freeze() error: %v", err)
	}
	if len(res.Changes.Added) != 2 {
		t.Errorf("Added = %v, want both deps of @test/b", res.Changes.Added)
	}

	lock, err := lockfile.Load(fsops.NewRealFS(), env.paths.LockFile)
	if err != nil {
		t.Fatalf("lock not readable: %v", err)
	}
	c := lock.Consumers["@test/b"]
	if c == nil {
		t.Fatal("consumer @test/b missing from lock")
	}
	if c.Deps["@test/a"].Source != lockfile.SourceWorkspace {
		t.Errorf("@test/a source = %s, want workspace", c.Deps["@test/a"].Source)
	}
	if c.Deps["lodash"].Version != "^4.0.0" {
		t.Errorf("lodash version = %s, want ^4.0.0", c.Deps["lodash"].Version)
	}
	if lock.Meta.Reason != "ci pin" {
		t.Errorf("Meta.Reason = %s, want ci pin", lock.Meta.Reason)
	}
}

func TestUndoFreezeRestoresPriorLock(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	if _, err := env.engine.Freeze(context.Background(), &FreezeRequest{}); err != nil {
		t.Fatal(err)
	}
	firstLock, err := os.ReadFile(env.paths.LockFile)
	if err != nil {
		t.Fatal(err)
	}

	// Second freeze with exact pins changes the lock; undo restores the first
	env.clock.Advance(time.Minute)
	if _, err := env.engine.Freeze(context.Background(), &FreezeRequest{Pin: planner.PinExact, Replace: true}); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.Undo(context.Background(), &UndoRequest{})
	if err != nil {
		t.Fatalf("Undo() error: %v", err)
	}
	if res.Operation != journal.OpFreeze || !res.RestoredLock {
		t.Errorf("Undo result = %+v", res)
	}

	restored, err := os.ReadFile(env.paths.LockFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(firstLock) {
		t.Error("lock.json not restored byte-for-byte")
	}
}

func TestUndoApplyRestoresManifests(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)

	manifestPath := filepath.Join(env.root, "packages", "b", "package.json")
	before, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.Apply(context.Background(), &ApplyRequest{}); err != nil {
		t.Fatal(err)
	}
	// Simulate the package manager rewriting the manifest
	writeJSON(t, manifestPath, map[string]any{
		"name": "@test/b", "version": "1.0.0",
		"dependencies": map[string]string{"@test/a": "workspace:*", "lodash": "^4.17.21"},
	})

	res, err := env.engine.Undo(context.Background(), &UndoRequest{})
	if err != nil {
		t.Fatalf("Undo() error: %v", err)
	}
	if res.Operation != journal.OpApply || len(res.RestoredManifests) == 0 {
		t.Errorf("Undo result = %+v", res)
	}

	after, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Error("manifest not restored to its pre-apply bytes")
	}

	// A second undo of the same operation is a refusal, not an empty history
	_, err = env.engine.Undo(context.Background(), &UndoRequest{})
	if !errors.Is(err, journal.ErrAlreadyUndone) {
		t.Errorf("second undo error = %v, want ErrAlreadyUndone", err)
	}
}

func TestApplyLockFileInstallsRecordedSources(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)
	if _, err := env.engine.Freeze(context.Background(), &FreezeRequest{}); err != nil {
		t.Fatal(err)
	}
	// Distinct backup timestamp for the second operation
	env.clock.Advance(time.Second)
	env.runner.Calls = nil

	res, err := env.engine.ApplyLockFile(context.Background(), &ApplyLockRequest{})
	if err != nil {
		t.Fatalf("ApplyLockFile() error: %v", err)
	}
	if !res.OK || len(res.Installed) != 2 {
		t.Fatalf("result = %+v", res)
	}

	lines := env.runner.CommandLines()
	wantWorkspace := "pnpm add @test/a@workspace:*"
	wantNpm := "pnpm add lodash@^4.0.0"
	if len(lines) != 2 || !contains(lines, wantWorkspace) || !contains(lines, wantNpm) {
		t.Errorf("commands = %v, want %q and %q", lines, wantWorkspace, wantNpm)
	}
}

func TestApplyLockFileWithoutLockFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.ApplyLockFile(context.Background(), &ApplyLockRequest{})
	if !errors.Is(err, ErrNoLock) {
		t.Errorf("error = %v, want ErrNoLock", err)
	}
}

func TestStatusReportsDriftAndUndo(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t)
	if _, err := env.engine.Freeze(context.Background(), &FreezeRequest{}); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.Status(context.Background(), &StatusRequest{})
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if res.LockStats == nil || res.LockStats.Consumers != 1 {
		t.Errorf("LockStats = %+v, want 1 consumer", res.LockStats)
	}
	if len(res.Drift) != 0 {
		t.Errorf("Drift = %v right after freeze, want none", res.Drift)
	}
	if len(res.Backups) != 1 {
		t.Errorf("Backups = %v, want the freeze backup", res.Backups)
	}
	if res.PlanFingerprint == "" {
		t.Error("PlanFingerprint empty with a persisted plan")
	}

	// Edit a frozen manifest: drift appears
	writeJSON(t, filepath.Join(env.root, "packages", "b", "package.json"), map[string]any{
		"name": "@test/b", "version": "1.0.1",
		"dependencies": map[string]string{"@test/a": "workspace:*", "lodash": "^4.0.0"},
	})
	res, err = env.engine.Status(context.Background(), &StatusRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Drift) != 1 || res.Drift[0].Consumer != "@test/b" {
		t.Errorf("Drift = %v, want @test/b", res.Drift)
	}
}

func TestStatusSurfacesInvalidLock(t *testing.T) {
	env := newTestEnv(t)
	if err := os.MkdirAll(env.paths.DevlinkDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.paths.LockFile, []byte(`{"schemaVersion":99,"consumers":{}}`), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.Status(context.Background(), &StatusRequest{})
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if res.LockError == "" || !strings.Contains(res.LockError, "schema") {
		t.Errorf("LockError = %q, want schema complaint", res.LockError)
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
