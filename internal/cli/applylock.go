package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/engine"
)

var (
	applyLockDryRun     bool
	applyLockAllowDirty bool
)

var applyLockCmd = &cobra.Command{
	Use:     "apply-lock",
	Short:   "Install every dependency the lock file records",
	GroupID: "workflow",
	Long: `Install each consumer's dependencies exactly as .kb/devlink/lock.json
records them, honoring each entry's source (npm, workspace, link, github).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		result, err := eng.ApplyLockFile(context.Background(), &engine.ApplyLockRequest{
			DryRun:     applyLockDryRun,
			AllowDirty: applyLockAllowDirty,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		if applyLockDryRun {
			PrintSection("Dry Run")
			PrintInfo(fmt.Sprintf("Would install %s", PrintCount(len(result.Installed), "dependency", "dependencies")))
			PrintList(result.Installed, 1)
			return nil
		}

		for _, ae := range result.Errors {
			PrintError(fmt.Sprintf("%s: %s: %s", ae.Action.Target, ae.Action.Dep, ae.Err))
		}
		if !result.OK {
			return fmt.Errorf("apply-lock finished with %s", PrintCount(len(result.Errors), "error", "errors"))
		}
		PrintSuccess(fmt.Sprintf("Installed %s from lock", PrintCount(len(result.Installed), "dependency", "dependencies")))
		return nil
	},
}

func init() {
	applyLockCmd.Flags().BoolVar(&applyLockDryRun, "dry-run", false, "Preview without installing anything")
	applyLockCmd.Flags().BoolVar(&applyLockAllowDirty, "allow-dirty", false, "Proceed despite uncommitted changes")
	rootCmd.AddCommand(applyLockCmd)
}
