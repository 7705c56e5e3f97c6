package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/backup"
)

var (
	backupsCleanDryRun        bool
	backupsValidateQuarantine bool
)

var backupsCmd = &cobra.Command{
	Use:     "backups",
	Short:   "List, validate, and clean checksum backups",
	GroupID: "safety",
	Long: `Manage the backups devlink takes before every apply and freeze, stored
under .kb/devlink/backups/. Each backup carries a checksummed metadata
document so tampering and bit rot are detectable.`,
}

var backupsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		infos, err := eng.Backups().List()
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(summarize(infos))
		}

		if len(infos) == 0 {
			PrintInfo("No backups.")
			return nil
		}
		PrintSection("Backups")
		items := make([]string, 0, len(infos))
		for _, info := range infos {
			line := info.Timestamp
			if info.Metadata != nil {
				line = fmt.Sprintf("%s  %s  %s", info.Timestamp, info.Metadata.Type,
					PrintCount(len(info.Metadata.Checksums), "file", "files"))
				if info.Metadata.GitBranch != "" {
					line += "  " + info.Metadata.GitBranch
				}
				if info.Metadata.IsProtected {
					line += "  [protected]"
				}
			} else {
				line += "  (metadata unreadable)"
			}
			items = append(items, line)
		}
		PrintList(items, 1)
		return nil
	},
}

var backupsValidateCmd = &cobra.Command{
	Use:   "validate <timestamp>",
	Short: "Verify a backup's payload against its recorded checksums",
	Long: `Recompute the checksum of every file a backup recorded and report files
that are missing or altered. A unique timestamp prefix is accepted. With
--quarantine, a failing backup is moved aside instead of being trusted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}

		info, err := eng.Backups().ResolveTimestamp(args[0])
		if err != nil {
			return err
		}

		report, err := eng.Backups().Validate(context.Background(), info)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(report)
		}

		if report.OK() {
			PrintSuccess(fmt.Sprintf("Backup %s is intact", info.Timestamp))
			return nil
		}

		if len(report.Missing) > 0 {
			PrintSubsection("Missing:")
			PrintList(report.Missing, 1)
		}
		if len(report.Mismatched) > 0 {
			PrintSubsection("Checksum mismatch:")
			PrintList(report.Mismatched, 1)
		}
		if backupsValidateQuarantine {
			dst, err := eng.Backups().Quarantine(info)
			if err != nil {
				return err
			}
			PrintWarning(fmt.Sprintf("Quarantined to %s", dst))
		}
		return fmt.Errorf("backup %s failed validation", info.Timestamp)
	},
}

var backupsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete backups outside the retention policy",
	Long: `Delete backups falling outside the retention policy from devlink.yaml:
the most recent keepCount backups, anything younger than keepDays, and
anything younger than minAgeHours are kept. Protected backups are never
deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, settings, err := newEngine()
		if err != nil {
			return err
		}

		policy := backup.DefaultRetention()
		if settings.Backup.KeepCount > 0 {
			policy.KeepCount = settings.Backup.KeepCount
		}
		if settings.Backup.KeepDays > 0 {
			policy.KeepDays = settings.Backup.KeepDays
		}
		if settings.Backup.MinAgeHours > 0 {
			policy.MinAge = time.Duration(settings.Backup.MinAgeHours) * time.Hour
		}

		report, err := eng.Backups().CleanupOldBackups(policy, backupsCleanDryRun)
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(report)
		}

		if backupsCleanDryRun {
			PrintSection("Dry Run")
			PrintInfo(fmt.Sprintf("Would delete %s", PrintCount(len(report.Deleted), "backup", "backups")))
		} else {
			PrintSuccess(fmt.Sprintf("Deleted %s", PrintCount(len(report.Deleted), "backup", "backups")))
		}
		PrintList(report.Deleted, 1)
		PrintLabelValue("Kept", fmt.Sprintf("%d", len(report.Kept)))
		return nil
	},
}

// summarize flattens backup infos for JSON output.
func summarize(infos []backup.Info) []map[string]any {
	out := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{"timestamp": info.Timestamp, "dir": info.Dir}
		if info.Metadata != nil {
			entry["type"] = info.Metadata.Type
			entry["files"] = len(info.Metadata.Checksums)
			entry["protected"] = info.Metadata.IsProtected
			entry["operationId"] = info.Metadata.OperationID
		}
		out = append(out, entry)
	}
	return out
}

func init() {
	backupsValidateCmd.Flags().BoolVar(&backupsValidateQuarantine, "quarantine", false, "Move a failing backup to _quarantine/ instead of leaving it in place")
	backupsCleanCmd.Flags().BoolVar(&backupsCleanDryRun, "dry-run", false, "Report what would be deleted without deleting")
	backupsCmd.AddCommand(backupsLsCmd, backupsValidateCmd, backupsCleanCmd)
	rootCmd.AddCommand(backupsCmd)
}
