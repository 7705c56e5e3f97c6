package planner

import (
	"encoding/json"
	"fmt"

	"github.com/kb-labs/devlink/internal/fsops"
)

// SavePlan writes the plan to path atomically so apply, freeze, and status
// can resume from it without rescanning the workspace.
func SavePlan(fs fsops.FS, path string, plan *DevLinkPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	data = append(data, '\n')

	if err := fs.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// LoadPlan reads a previously saved plan.
func LoadPlan(fs fsops.FS, path string) (*DevLinkPlan, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var plan DevLinkPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	return &plan, nil
}
