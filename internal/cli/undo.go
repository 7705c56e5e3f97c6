package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/engine"
)

var undoDryRun bool

var undoCmd = &cobra.Command{
	Use:     "undo",
	Short:   "Revert the last apply or freeze from its backup",
	GroupID: "safety",
	Long: `Revert the most recent apply or freeze that has not already been undone,
restoring manifests (apply) or the lock file (freeze) from the operation's
backup. The journal is marked undone, never deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		result, err := eng.Undo(context.Background(), &engine.UndoRequest{DryRun: undoDryRun})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		if undoDryRun {
			PrintSection("Dry Run")
			PrintInfo(fmt.Sprintf("Would undo %s operation %s", result.Operation, result.OperationID))
			if len(result.RestoredManifests) > 0 {
				PrintSubsection("Manifests to restore:")
				PrintList(result.RestoredManifests, 1)
			}
			if result.RestoredLock {
				PrintInfo("  lock.json would be restored")
			}
			return nil
		}

		PrintSuccess(fmt.Sprintf("Undid %s operation %s", result.Operation, result.OperationID))
		if len(result.RestoredManifests) > 0 {
			PrintLabelValue("Restored manifests", fmt.Sprintf("%d", len(result.RestoredManifests)))
		}
		if result.RestoredLock {
			PrintLabelValue("Restored", "lock.json")
		}
		return nil
	},
}

func init() {
	undoCmd.Flags().BoolVar(&undoDryRun, "dry-run", false, "Report what would be restored without touching anything")
	rootCmd.AddCommand(undoCmd)
}
