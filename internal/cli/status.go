package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/engine"
	"github.com/kb-labs/devlink/internal/lockfile"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Report workspace, plan, lock, and backup state",
	GroupID: "workflow",
	Long: `Report the workspace state without changing anything: git branch and
cleanliness, the persisted plan's fingerprint, lock file statistics, drift
between frozen checksums and the manifests on disk, undo availability, and
existing backups.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		result, err := eng.Status(context.Background(), &engine.StatusRequest{})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result)
		}

		PrintSection("Workspace")
		PrintLabelValue("Root", result.Root)
		if result.Git.IsRepo {
			state := "clean"
			if result.Git.Dirty {
				state = "dirty"
			}
			PrintLabelValue("Git", fmt.Sprintf("%s @ %.8s (%s)", result.Git.Branch, result.Git.Commit, state))
		} else {
			PrintLabelValue("Git", "not a repository")
		}

		PrintSection("Plan")
		if result.PlanFingerprint == "" {
			PrintInfo("  No plan persisted. Run 'devlink plan' first.")
		} else {
			PrintLabelValue("Fingerprint", result.PlanFingerprint)
			if !result.PlanGeneratedAt.IsZero() {
				PrintLabelValue("Generated", result.PlanGeneratedAt.Format("2006-01-02 15:04:05"))
			}
		}

		PrintSection("Lock")
		switch {
		case result.LockError != "":
			PrintError(result.LockError)
		case result.LockStats == nil:
			PrintInfo("  No lock file. Run 'devlink freeze' to create one.")
		default:
			stats := result.LockStats
			PrintLabelValue("Consumers", fmt.Sprintf("%d", stats.Consumers))
			PrintLabelValue("Dependencies", fmt.Sprintf("%d", stats.Deps))
			PrintLabelValue("Mode", stats.Mode)
			PrintLabelValue("Pin", stats.Pin)
			sources := make([]string, 0, len(stats.BySource))
			for source := range stats.BySource {
				sources = append(sources, string(source))
			}
			sort.Strings(sources)
			for _, source := range sources {
				PrintLabelValue("  "+source, fmt.Sprintf("%d", stats.BySource[lockfile.LockSource(source)]))
			}
		}

		if len(result.Drift) > 0 {
			PrintSubsection("Drift since freeze:")
			items := make([]string, 0, len(result.Drift))
			for _, d := range result.Drift {
				items = append(items, fmt.Sprintf("%s (%s)", d.Consumer, d.Manifest))
			}
			PrintList(items, 1)
		}

		PrintSection("Undo")
		if result.Undo.Available {
			PrintLabelValue("Available", fmt.Sprintf("yes (%s, backup %s)", result.Undo.Type, result.Undo.BackupTs))
		} else {
			PrintLabelValue("Available", fmt.Sprintf("no (%s)", result.Undo.Reason))
		}

		PrintSection("Backups")
		if len(result.Backups) == 0 {
			PrintInfo("  No backups.")
		} else {
			items := make([]string, 0, len(result.Backups))
			for _, b := range result.Backups {
				line := fmt.Sprintf("%s  %s  %s", b.Timestamp, b.Type, PrintCount(b.Files, "file", "files"))
				if b.Protected {
					line += "  [protected]"
				}
				items = append(items, line)
			}
			PrintList(items, 1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
