package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kb-labs/devlink/internal/engine"
	"github.com/kb-labs/devlink/internal/planner"
)

var (
	planMode   string
	planStrict bool
	planDeny   []string
	planRoots  []string
)

var planCmd = &cobra.Command{
	Use:     "plan",
	Short:   "Scan workspace roots and plan dependency wiring",
	GroupID: "workflow",
	Long: `Scan the configured workspace roots, build the package dependency graph,
and plan how every cross-package dependency should resolve. The plan is
persisted to .kb/devlink/last-plan.json for apply and freeze.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, settings, err := newEngine()
		if err != nil {
			return err
		}

		mode := settings.Mode
		if cmd.Flags().Changed("mode") {
			mode = planMode
		}
		parsedMode, err := planner.ParseMode(mode)
		if err != nil {
			return err
		}

		strict := settings.Strict || planStrict
		deny := settings.Policy.Deny
		if cmd.Flags().Changed("deny") {
			deny = planDeny
		}
		pin, err := planner.ParsePin(settings.Policy.Pin)
		if err != nil {
			return err
		}
		roots := resolveRoots(eng.Paths().Root, settings.Roots)
		if cmd.Flags().Changed("root") {
			roots = resolveRoots(eng.Paths().Root, planRoots)
		}

		result, err := eng.ScanAndPlan(context.Background(), &engine.PlanRequest{
			Roots:  roots,
			CWD:    eng.Paths().Root,
			Mode:   parsedMode,
			Strict: strict,
			Policy: planner.Policy{Pin: pin, Deny: deny},
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(result.Plan)
		}

		plan := result.Plan
		PrintSection("Plan")
		PrintLabelValue("Mode", string(plan.Mode))
		PrintLabelValue("Packages", fmt.Sprintf("%d", len(plan.Packages)))
		PrintLabelValue("Fingerprint", plan.Fingerprint)

		if len(plan.Actions) > 0 {
			PrintSubsection("Actions:")
			items := make([]string, 0, len(plan.Actions))
			for _, a := range plan.Actions {
				items = append(items, fmt.Sprintf("%s: %s %s (%s)", a.Target, a.Kind, a.Dep, a.Reason))
			}
			PrintList(items, 1)
		} else {
			PrintInfo("Nothing to do.")
		}

		for _, d := range plan.Diagnostics {
			PrintWarning(d)
		}
		PrintSuccess(fmt.Sprintf("Planned %s", PrintCount(len(plan.Actions), "action", "actions")))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVarP(&planMode, "mode", "m", "auto", "Resolution mode (auto, local, or npm)")
	planCmd.Flags().BoolVar(&planStrict, "strict", false, "Fail on dependencies not found anywhere")
	planCmd.Flags().StringSliceVar(&planDeny, "deny", nil, "Dependency names or glob patterns to never act on")
	planCmd.Flags().StringSliceVar(&planRoots, "root", nil, "Additional workspace roots to scan")
	rootCmd.AddCommand(planCmd)
}
