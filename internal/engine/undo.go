package engine

import (
	"context"

	"github.com/kb-labs/devlink/internal/journal"
)

// Undo reverts the most recent not-yet-undone apply or freeze from its
// backup. Dry run verifies and reports without the lock or any writes.
func (e *Engine) Undo(ctx context.Context, req *UndoRequest) (*journal.UndoResult, error) {
	if req.DryRun {
		return journal.UndoLast(e.fs, e.paths, true)
	}

	release, _, err := e.beginMutation(ctx, true)
	defer release()
	if err != nil {
		return nil, err
	}

	result, err := journal.UndoLast(e.fs, e.paths, false)
	if err != nil {
		return nil, err
	}
	e.log.Info("operation undone",
		"operation", result.Operation,
		"operationId", result.OperationID,
		"manifests", len(result.RestoredManifests))
	return result, nil
}
