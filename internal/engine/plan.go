package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kb-labs/devlink/internal/discovery"
	"github.com/kb-labs/devlink/internal/graph"
	"github.com/kb-labs/devlink/internal/planner"
)

// ScanAndPlan discovers packages across the configured roots, builds the
// dependency graph, and persists the resulting plan to last-plan.json.
// Planning is read-only with respect to the workspace: no lock is taken.
func (e *Engine) ScanAndPlan(ctx context.Context, req *PlanRequest) (*PlanResult, error) {
	roots := req.Roots
	if len(roots) == 0 {
		roots = []string{e.paths.Root}
	}

	scan, err := discovery.Scan(ctx, e.fs, roots, req.CWD)
	if err != nil {
		return nil, fmt.Errorf("workspace scan failed: %w", err)
	}
	for _, d := range scan.Diagnostics {
		e.log.Warn(d)
	}

	g, err := graph.Build(scan.Index.Names(), scan.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	plan := planner.BuildPlan(e.fs, scan.Index, g, planner.Options{
		Mode:   req.Mode,
		Policy: req.Policy,
		Strict: req.Strict,
		Now:    e.clock.Now(),
	})
	plan.Diagnostics = append(scan.Diagnostics, plan.Diagnostics...)

	if req.Strict {
		for _, d := range plan.Diagnostics {
			if strings.HasPrefix(d, "strict:") {
				return &PlanResult{Plan: plan}, fmt.Errorf("%w: %s", ErrStrictPlan, strings.TrimPrefix(d, "strict: "))
			}
		}
	}

	if err := e.paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	if err := planner.SavePlan(e.fs, e.paths.PlanFile, plan); err != nil {
		return nil, err
	}

	e.log.Debug("plan persisted",
		"actions", len(plan.Actions),
		"packages", len(plan.Packages),
		"fingerprint", plan.Fingerprint)

	return &PlanResult{Plan: plan}, nil
}

// loadPlan reads the persisted plan, mapping a missing file to ErrNoPlan.
func (e *Engine) loadPlan() (*planner.DevLinkPlan, error) {
	exists, err := e.fs.Exists(e.paths.PlanFile)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: run `devlink plan` first", ErrNoPlan)
	}
	return planner.LoadPlan(e.fs, e.paths.PlanFile)
}
