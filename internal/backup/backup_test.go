package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kb-labs/devlink/internal/clock"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/hash"
)

func newTestManager(t *testing.T) (*Manager, *clock.FakeClock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backups")
	clk := clock.NewFakeClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	m := NewManager(fsops.NewRealFS(), hash.NewSHA256Hasher(), clk, dir)
	return m, clk, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateApplyBackupLayoutAndChecksums(t *testing.T) {
	m, _, dir := newTestManager(t)
	work := t.TempDir()
	lockPath := filepath.Join(work, "lock.json")
	manifestPath := filepath.Join(work, "packages", "b", "package.json")
	writeFile(t, lockPath, `{"schemaVersion":2}`)
	writeFile(t, manifestPath, `{"name":"@test/b"}`)

	res, err := m.Create(context.Background(), CreateRequest{
		Type:      TypeApply,
		LockPath:  lockPath,
		Manifests: map[string]string{"packages/b/package.json": manifestPath},
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if res.Timestamp != "2026-08-25T12-00-00.000Z" {
		t.Errorf("Timestamp = %s, want 2026-08-25T12-00-00.000Z", res.Timestamp)
	}
	for _, rel := range []string{
		MetadataFile,
		"type.apply/lock.json",
		"type.apply/manifests/packages/b/package.json",
	} {
		if _, err := os.Stat(filepath.Join(dir, res.Timestamp, fsops.FromPosix(rel))); err != nil {
			t.Errorf("missing backup file %s: %v", rel, err)
		}
	}
	if len(res.Metadata.Checksums) != 2 {
		t.Errorf("Checksums = %d entries, want 2", len(res.Metadata.Checksums))
	}
	if res.Metadata.OperationID == "" {
		t.Error("backup has no operation ID")
	}
}

func TestCreateFreezeBackupSkipsMissingLock(t *testing.T) {
	m, _, _ := newTestManager(t)

	res, err := m.Create(context.Background(), CreateRequest{
		Type:     TypeFreeze,
		LockPath: filepath.Join(t.TempDir(), "lock.json"), // does not exist
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(res.Metadata.Checksums) != 0 {
		t.Errorf("Checksums = %v, want none for first freeze", res.Metadata.Checksums)
	}
}

func TestValidateDetectsTamperingAndLoss(t *testing.T) {
	m, _, _ := newTestManager(t)
	work := t.TempDir()
	lockPath := filepath.Join(work, "lock.json")
	manifestPath := filepath.Join(work, "package.json")
	writeFile(t, lockPath, `{"schemaVersion":2}`)
	writeFile(t, manifestPath, `{"name":"@test/b"}`)

	res, err := m.Create(context.Background(), CreateRequest{
		Type:      TypeApply,
		LockPath:  lockPath,
		Manifests: map[string]string{"package.json": manifestPath},
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := m.Validate(context.Background(), Info{Timestamp: res.Timestamp, Dir: res.Dir})
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !report.OK() {
		t.Fatalf("fresh backup not valid: %+v", report)
	}

	// Tamper with one file, delete another
	writeFile(t, filepath.Join(res.Dir, "type.apply", "lock.json"), `{}`)
	if err := os.Remove(filepath.Join(res.Dir, "type.apply", "manifests", "package.json")); err != nil {
		t.Fatal(err)
	}

	report, err = m.Validate(context.Background(), Info{Timestamp: res.Timestamp, Dir: res.Dir})
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if len(report.Mismatched) != 1 || report.Mismatched[0] != "type.apply/lock.json" {
		t.Errorf("Mismatched = %v, want [type.apply/lock.json]", report.Mismatched)
	}
	if len(report.Missing) != 1 || report.Missing[0] != "type.apply/manifests/package.json" {
		t.Errorf("Missing = %v, want [type.apply/manifests/package.json]", report.Missing)
	}
}

func TestListNewestFirst(t *testing.T) {
	m, clk, _ := newTestManager(t)
	for i := 0; i < 3; i++ {
		if _, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze}); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Minute)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("List() = %d backups, want 3", len(infos))
	}
	if infos[0].Timestamp < infos[1].Timestamp || infos[1].Timestamp < infos[2].Timestamp {
		t.Errorf("backups not newest first: %v", []string{infos[0].Timestamp, infos[1].Timestamp, infos[2].Timestamp})
	}
}

func TestResolveTimestamp(t *testing.T) {
	m, clk, _ := newTestManager(t)
	first, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze})
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(24 * time.Hour)
	if _, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze}); err != nil {
		t.Fatal(err)
	}

	// Exact match
	info, err := m.ResolveTimestamp(first.Timestamp)
	if err != nil {
		t.Fatalf("ResolveTimestamp(exact) error: %v", err)
	}
	if info.Timestamp != first.Timestamp {
		t.Errorf("resolved %s, want %s", info.Timestamp, first.Timestamp)
	}

	// Unique day prefix
	info, err = m.ResolveTimestamp("2026-08-26")
	if err != nil {
		t.Fatalf("ResolveTimestamp(prefix) error: %v", err)
	}
	if info.Timestamp == first.Timestamp {
		t.Error("prefix resolved to the wrong backup")
	}

	// Ambiguous prefix
	_, err = m.ResolveTimestamp("2026-08")
	if !errors.Is(err, ErrAmbiguousTimestamp) {
		t.Errorf("error = %v, want ErrAmbiguousTimestamp", err)
	}

	// No match
	_, err = m.ResolveTimestamp("2030")
	if !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("error = %v, want ErrBackupNotFound", err)
	}
}

func TestCleanupRetention(t *testing.T) {
	m, clk, _ := newTestManager(t)

	// Old unprotected backup, then an old protected one, then a fresh one.
	if _, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)
	if _, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze, Protected: true}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(30 * 24 * time.Hour)
	fresh, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze})
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)

	policy := RetentionPolicy{KeepCount: 1, KeepDays: 14, MinAge: time.Hour}

	report, err := m.CleanupOldBackups(policy, true)
	if err != nil {
		t.Fatalf("CleanupOldBackups(dryRun) error: %v", err)
	}
	if len(report.Deleted) != 1 {
		t.Fatalf("dry run Deleted = %v, want exactly the old unprotected backup", report.Deleted)
	}
	infos, _ := m.List()
	if len(infos) != 3 {
		t.Errorf("dry run deleted backups: %d left, want 3", len(infos))
	}

	report, err = m.CleanupOldBackups(policy, false)
	if err != nil {
		t.Fatalf("CleanupOldBackups() error: %v", err)
	}
	if len(report.Deleted) != 1 || len(report.Kept) != 2 {
		t.Errorf("Deleted = %v Kept = %v, want 1 deleted, 2 kept", report.Deleted, report.Kept)
	}
	infos, _ = m.List()
	if len(infos) != 2 {
		t.Fatalf("List() after cleanup = %d, want 2", len(infos))
	}
	if infos[0].Timestamp != fresh.Timestamp {
		t.Errorf("newest survivor = %s, want %s", infos[0].Timestamp, fresh.Timestamp)
	}
}

func TestQuarantineMovesBackupAside(t *testing.T) {
	m, _, dir := newTestManager(t)
	res, err := m.Create(context.Background(), CreateRequest{Type: TypeFreeze})
	if err != nil {
		t.Fatal(err)
	}

	info := Info{Timestamp: res.Timestamp, Dir: res.Dir}
	dst, err := m.Quarantine(info)
	if err != nil {
		t.Fatalf("Quarantine() error: %v", err)
	}
	if dst != filepath.Join(dir, "_quarantine", res.Timestamp) {
		t.Errorf("quarantine dst = %s", dst)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("quarantined backup still listed: %v", infos)
	}
	if _, err := os.Stat(filepath.Join(dst, MetadataFile)); err != nil {
		t.Errorf("quarantined payload lost: %v", err)
	}
}
