package engine

import "github.com/kb-labs/devlink/internal/planner"

// PlanRequest represents a request to scan the workspace and build a plan.
type PlanRequest struct {
	// Roots are the workspace roots to scan; empty means just the engine's
	// own root.
	Roots []string

	// CWD breaks duplicate-package ties in favor of the copy under it.
	CWD string

	// Mode is the resolution mode (auto, local, npm).
	Mode planner.Mode

	// Policy carries the pin policy and deny list.
	Policy planner.Policy

	// Strict fails planning on dependencies not found anywhere.
	Strict bool
}

// ApplyRequest represents a request to execute the persisted plan.
type ApplyRequest struct {
	// DryRun previews the actions without locking, backing up, or shelling out.
	DryRun bool

	// AllowDirty skips the uncommitted-changes preflight.
	AllowDirty bool
}

// FreezeRequest represents a request to merge the persisted plan into lock.json.
type FreezeRequest struct {
	// Replace rebuilds the lock from scratch instead of merging.
	Replace bool

	// Prune drops lock entries no longer planned nor declared.
	Prune bool

	// Pin overrides the pin policy recorded in the plan.
	Pin planner.PinPolicy

	// DryRun computes the change set without persisting anything.
	DryRun bool

	// AllowDirty skips the uncommitted-changes preflight.
	AllowDirty bool

	// Reason is free text recorded in the lock's meta block.
	Reason string

	// InitiatedBy names who or what triggered the freeze.
	InitiatedBy string
}

// ApplyLockRequest represents a request to install everything lock.json records.
type ApplyLockRequest struct {
	DryRun     bool
	AllowDirty bool
}

// UndoRequest represents a request to revert the last operation.
type UndoRequest struct {
	// DryRun reports what would be restored without touching anything.
	DryRun bool
}

// StatusRequest represents a request for a read-only workspace report.
type StatusRequest struct{}
