package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kb-labs/devlink/internal/discovery"
	"github.com/kb-labs/devlink/internal/planner"
)

// WorkspaceState is the post-apply rescan persisted to state.json. It is a
// convenience snapshot for status and tooling, never an input to planning.
type WorkspaceState struct {
	GeneratedAt time.Time                        `json:"generatedAt"`
	Roots       []string                         `json:"roots"`
	Packages    map[string]*discovery.PackageRef `json:"packages"`
}

// persistState rescans the plan's workspace roots and writes state.json.
func (e *Engine) persistState(ctx context.Context, plan *planner.DevLinkPlan) error {
	rootSet := make(map[string]bool)
	if plan.RootDir != "" {
		rootSet[plan.RootDir] = true
	}
	for _, ref := range plan.Packages {
		if ref.RootDir != "" {
			rootSet[ref.RootDir] = true
		}
	}
	roots := make([]string, 0, len(rootSet))
	for r := range rootSet {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	scan, err := discovery.Scan(ctx, e.fs, roots, "")
	if err != nil {
		return err
	}

	state := &WorkspaceState{
		GeneratedAt: e.clock.Now(),
		Roots:       scan.Index.RootDirs,
		Packages:    scan.Index.Packages,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace state: %w", err)
	}
	data = append(data, '\n')

	return e.fs.AtomicWrite(e.paths.StateFile, data, 0644)
}
