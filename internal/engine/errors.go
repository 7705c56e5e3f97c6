package engine

import "errors"

var (
	// ErrPreflight indicates uncommitted changes without an override flag.
	ErrPreflight = errors.New("workspace has uncommitted changes")

	// ErrNoPlan indicates a mutating operation found no persisted plan.
	ErrNoPlan = errors.New("no plan found")

	// ErrStrictPlan indicates strict planning failed on an unresolved dependency.
	ErrStrictPlan = errors.New("strict planning failed")

	// ErrNoLock indicates apply-lock found no lock file.
	ErrNoLock = errors.New("no lock file found")
)
