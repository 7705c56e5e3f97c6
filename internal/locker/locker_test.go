package locker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".kb", "devlink", ".lock")
	l := New(path, time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release() error: %v", err)
	}
}

func TestAcquireBlockedBySecondLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	first := New(path, time.Second)
	if err := first.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	defer func() {
		_ = first.Release()
	}()

	second := New(path, 300*time.Millisecond)
	err := second.Acquire(context.Background())
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("second Acquire() error = %v, want ErrLockHeld", err)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	first := New(path, time.Second)
	if err := first.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	second := New(path, time.Second)
	if err := second.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() after release error: %v", err)
	}
	_ = second.Release()
}

func TestReleaseWithoutAcquire(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), ".lock"), time.Second)
	if err := l.Release(); err != nil {
		t.Errorf("Release() without Acquire error: %v", err)
	}
}
