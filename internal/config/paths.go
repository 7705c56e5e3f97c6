// Package config manages devlink configuration and filesystem paths.
//
// All durable devlink state lives under <root>/.kb/devlink/. Workspace-level
// defaults (resolution mode, pin policy, deny list, retention knobs) can be
// set in a devlink.yaml file at the workspace root, loaded with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains all the filesystem paths used by devlink for one workspace root.
type Paths struct {
	// Root is the workspace root the paths are anchored to.
	Root string

	// DevlinkDir is <root>/.kb/devlink, the state directory.
	DevlinkDir string

	// PlanFile is the persisted DevLinkPlan (last-plan.json).
	PlanFile string

	// LockFile is the frozen dependency snapshot (lock.json).
	LockFile string

	// StateFile is the post-apply workspace rescan (state.json).
	StateFile string

	// ApplyJournal is the last-apply journal (last-apply.json).
	ApplyJournal string

	// FreezeJournal is the last-freeze journal (last-freeze.json).
	FreezeJournal string

	// BackupsDir is the backup tree root.
	BackupsDir string

	// AdvisoryLock is the advisory lock file (.lock).
	AdvisoryLock string

	// ConfigFile is the optional workspace devlink.yaml.
	ConfigFile string
}

// NewPaths returns the devlink paths for the given workspace root.
func NewPaths(root string) *Paths {
	dir := filepath.Join(root, ".kb", "devlink")
	return &Paths{
		Root:          root,
		DevlinkDir:    dir,
		PlanFile:      filepath.Join(dir, "last-plan.json"),
		LockFile:      filepath.Join(dir, "lock.json"),
		StateFile:     filepath.Join(dir, "state.json"),
		ApplyJournal:  filepath.Join(dir, "last-apply.json"),
		FreezeJournal: filepath.Join(dir, "last-freeze.json"),
		BackupsDir:    filepath.Join(dir, "backups"),
		AdvisoryLock:  filepath.Join(dir, ".lock"),
		ConfigFile:    filepath.Join(root, "devlink.yaml"),
	}
}

// EnsureDirectories creates the state directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DevlinkDir, p.BackupsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
