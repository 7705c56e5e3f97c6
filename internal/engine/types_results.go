package engine

import (
	"time"

	"github.com/kb-labs/devlink/internal/gitx"
	"github.com/kb-labs/devlink/internal/journal"
	"github.com/kb-labs/devlink/internal/lockfile"
	"github.com/kb-labs/devlink/internal/planner"
)

// PlanResult represents the result of scanning and planning.
type PlanResult struct {
	// Plan is the generated plan, already persisted to last-plan.json.
	Plan *planner.DevLinkPlan `json:"plan"`
}

// ActionError records one failed action without aborting the rest.
type ActionError struct {
	Action planner.LinkAction `json:"action"`
	Err    string             `json:"error"`
}

// SkippedAction records an action the no-op pre-filter dropped.
type SkippedAction struct {
	Action planner.LinkAction `json:"action"`
	Reason string             `json:"reason"`
}

// ApplyResult represents the result of executing a plan.
type ApplyResult struct {
	// OK is true when no action failed.
	OK     bool `json:"ok"`
	DryRun bool `json:"dryRun"`

	Executed []planner.LinkAction `json:"executed"`
	Skipped  []SkippedAction      `json:"skipped,omitempty"`
	Errors   []ActionError        `json:"errors,omitempty"`

	// BackupDir is empty when backup creation failed (the apply proceeded
	// without a safety net) and for dry runs.
	BackupDir   string `json:"backupDir,omitempty"`
	OperationID string `json:"operationId,omitempty"`
}

// FreezeResult represents the result of merging a plan into the lock.
type FreezeResult struct {
	DryRun bool `json:"dryRun"`

	// Changes is what the freeze did (or would do, under dry run).
	Changes *lockfile.ChangeSet `json:"changes"`

	// Lock is the resulting lock document; not persisted under dry run.
	Lock *lockfile.LockFile `json:"lock,omitempty"`

	BackupDir   string `json:"backupDir,omitempty"`
	OperationID string `json:"operationId,omitempty"`
}

// ApplyLockResult represents the result of installing from the lock file.
type ApplyLockResult struct {
	OK     bool `json:"ok"`
	DryRun bool `json:"dryRun"`

	// Installed lists "consumer::dep" pairs processed.
	Installed []string      `json:"installed"`
	Errors    []ActionError `json:"errors,omitempty"`

	BackupDir   string `json:"backupDir,omitempty"`
	OperationID string `json:"operationId,omitempty"`
}

// BackupSummary is one backup as shown by status.
type BackupSummary struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type,omitempty"`
	Protected bool   `json:"protected,omitempty"`
	Files     int    `json:"files"`
}

// DriftEntry reports a consumer whose manifest changed since the last freeze.
type DriftEntry struct {
	Consumer string `json:"consumer"`
	Manifest string `json:"manifest"`
}

// StatusResult represents the read-only workspace report.
type StatusResult struct {
	Root string    `json:"root"`
	Git  gitx.Info `json:"git"`

	// PlanFingerprint is empty when no plan has been persisted.
	PlanFingerprint string    `json:"planFingerprint,omitempty"`
	PlanGeneratedAt time.Time `json:"planGeneratedAt,omitzero"`

	// LockStats is nil when no lock file exists.
	LockStats *lockfile.Stats `json:"lockStats,omitempty"`

	// LockError reports a present but unusable lock file.
	LockError string `json:"lockError,omitempty"`

	// Drift lists consumers whose manifests changed since they were frozen.
	Drift []DriftEntry `json:"drift,omitempty"`

	Undo journal.Availability `json:"undo"`

	Backups []BackupSummary `json:"backups,omitempty"`
}
