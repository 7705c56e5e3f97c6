package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/engine"
)

var (
	applyDryRun     bool
	applyAllowDirty bool
)

var applyCmd = &cobra.Command{
	Use:     "apply",
	Short:   "Execute the persisted plan against the workspace",
	GroupID: "workflow",
	Long: `Execute the actions in .kb/devlink/last-plan.json: remove stale links,
create local links, and install workspace or npm dependencies.

A backup of every affected manifest is taken first and the operation is
journaled, so 'devlink undo' can revert it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		result, err := eng.Apply(context.Background(), &engine.ApplyRequest{
			DryRun:     applyDryRun,
			AllowDirty: applyAllowDirty,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		if applyDryRun {
			PrintSection("Dry Run")
			items := make([]string, 0, len(result.Executed))
			for _, a := range result.Executed {
				items = append(items, fmt.Sprintf("%s: %s %s", a.Target, a.Kind, a.Dep))
			}
			PrintInfo(fmt.Sprintf("Would execute %s", PrintCount(len(items), "action", "actions")))
			PrintList(items, 1)
			printSkipped(result.Skipped)
			return nil
		}

		printSkipped(result.Skipped)
		for _, ae := range result.Errors {
			PrintError(fmt.Sprintf("%s: %s %s: %s", ae.Action.Target, ae.Action.Kind, ae.Action.Dep, ae.Err))
		}
		if !result.OK {
			return fmt.Errorf("apply finished with %s", PrintCount(len(result.Errors), "error", "errors"))
		}

		PrintSuccess(fmt.Sprintf("Applied %s", PrintCount(len(result.Executed), "action", "actions")))
		if result.BackupDir != "" {
			PrintLabelValue("Backup", result.BackupDir)
		} else {
			PrintWarning("No backup was taken for this apply")
		}
		return nil
	},
}

func printSkipped(skipped []engine.SkippedAction) {
	for _, s := range skipped {
		PrintInfo(fmt.Sprintf("  skipped %s for %s: %s", s.Action.Dep, s.Action.Target, s.Reason))
	}
}

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Preview the actions without executing anything")
	applyCmd.Flags().BoolVar(&applyAllowDirty, "allow-dirty", false, "Proceed despite uncommitted changes")
	rootCmd.AddCommand(applyCmd)
}
