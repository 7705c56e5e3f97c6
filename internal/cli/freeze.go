package cli

import (
	"context"
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/engine"
	"github.com/kb-labs/devlink/internal/planner"
)

var (
	freezeReplace    bool
	freezePrune      bool
	freezePin        string
	freezeDryRun     bool
	freezeAllowDirty bool
	freezeReason     string
)

var freezeCmd = &cobra.Command{
	Use:     "freeze",
	Short:   "Merge the persisted plan into the lock file",
	GroupID: "workflow",
	Long: `Merge the persisted plan into .kb/devlink/lock.json, recording one pinned
entry per consumer dependency. Consumers not touched by the plan keep their
existing entries unless --replace is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, settings, err := newEngine()
		if err != nil {
			return err
		}

		pinSetting := settings.Policy.Pin
		if cmd.Flags().Changed("pin") {
			pinSetting = freezePin
		}
		pin, err := planner.ParsePin(pinSetting)
		if err != nil {
			return err
		}

		initiatedBy := ""
		if u, err := user.Current(); err == nil {
			initiatedBy = u.Username
		}

		result, err := eng.Freeze(context.Background(), &engine.FreezeRequest{
			Replace:     freezeReplace,
			Prune:       freezePrune,
			Pin:         pin,
			DryRun:      freezeDryRun,
			AllowDirty:  freezeAllowDirty,
			Reason:      freezeReason,
			InitiatedBy: initiatedBy,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		if freezeDryRun {
			PrintSection("Dry Run")
		}
		changes := result.Changes
		if changes.Empty() {
			PrintInfo("Lock file already up to date.")
			return nil
		}
		if len(changes.Added) > 0 {
			PrintSubsection("Added:")
			PrintList(changes.Added, 1)
		}
		if len(changes.Updated) > 0 {
			PrintSubsection("Updated:")
			PrintList(changes.Updated, 1)
		}
		if len(changes.Removed) > 0 {
			PrintSubsection("Removed:")
			PrintList(changes.Removed, 1)
		}
		if !freezeDryRun {
			PrintSuccess(fmt.Sprintf("Froze %s", PrintCount(len(changes.Added)+len(changes.Updated), "entry", "entries")))
		}
		return nil
	},
}

func init() {
	freezeCmd.Flags().BoolVar(&freezeReplace, "replace", false, "Rebuild the lock from scratch instead of merging")
	freezeCmd.Flags().BoolVar(&freezePrune, "prune", false, "Drop entries no longer planned nor declared")
	freezeCmd.Flags().StringVar(&freezePin, "pin", "caret", "Pin policy (exact or caret)")
	freezeCmd.Flags().BoolVar(&freezeDryRun, "dry-run", false, "Compute the change set without writing anything")
	freezeCmd.Flags().BoolVar(&freezeAllowDirty, "allow-dirty", false, "Proceed despite uncommitted changes")
	freezeCmd.Flags().StringVar(&freezeReason, "reason", "", "Free-text reason recorded in the lock")
	rootCmd.AddCommand(freezeCmd)
}
