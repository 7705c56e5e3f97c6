package planner

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"

	"github.com/kb-labs/devlink/internal/discovery"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/graph"
)

// Options configure one plan build.
type Options struct {
	Mode   Mode
	Policy Policy

	// Strict turns "declared but not found anywhere" into a hard failure
	// (empty plan plus diagnostic) instead of a silent npm fallback.
	Strict bool

	// Now stamps the plan's generation time.
	Now time.Time
}

// BuildPlan turns the index and graph into an ordered action list. The
// result is exactly reproducible for identical inputs: edges are visited
// sorted by (consumer, dependency) and nothing depends on the wall clock
// beyond the GeneratedAt stamp.
func BuildPlan(fs fsops.FS, index *discovery.Index, g *graph.PackageGraph, opts Options) *DevLinkPlan {
	plan := &DevLinkPlan{
		RootDir:     primaryRoot(index),
		Mode:        opts.Mode,
		Policy:      opts.Policy,
		Packages:    snapshotPackages(index),
		Graph:       g,
		GeneratedAt: opts.Now,
	}

	if g.HasCycles() {
		plan.Diagnostics = append(plan.Diagnostics,
			fmt.Sprintf("Dependency cycles detected: %d cycle(s)", len(g.Cycles)))
		for _, cycle := range g.Cycles {
			plan.Diagnostics = append(plan.Diagnostics, fmt.Sprintf("  cycle: %v", cycle))
		}
	}

	deny := compileDeny(opts.Policy.Deny, plan)

	for _, pair := range consumerDepPairs(index, g) {
		consumer, dep := pair[0], pair[1]

		if denied(deny, dep) {
			plan.Diagnostics = append(plan.Diagnostics,
				fmt.Sprintf("Skipping %s for %s: denied by policy", dep, consumer))
			continue
		}

		depRef, inIndex := index.Resolve(dep)
		consumerRef, _ := index.Resolve(consumer)

		if opts.Strict && !inIndex && !installedNearby(fs, consumerRef, dep) {
			plan.Actions = nil
			plan.Diagnostics = append(plan.Diagnostics,
				fmt.Sprintf("strict: dependency %s of %s not found in any workspace root or local install", dep, consumer))
			plan.Fingerprint = fingerprint(plan.Mode, plan.Policy, plan.Actions)
			return plan
		}

		switch opts.Mode {
		case ModeNpm:
			if inIndex {
				// An active local link may exist for workspace-known deps
				plan.Actions = append(plan.Actions, LinkAction{
					Target: consumer, Dep: dep, Kind: KindUnlink,
					Reason: "mode=npm removes local links",
				})
			}
			plan.Actions = append(plan.Actions, LinkAction{
				Target: consumer, Dep: dep, Kind: KindUseNpm,
				Reason: "mode=npm",
			})

		case ModeLocal:
			if inIndex {
				plan.Actions = append(plan.Actions, LinkAction{
					Target: consumer, Dep: dep, Kind: KindLinkLocal,
					Reason: fmt.Sprintf("resolves locally at %s", depRef.Dir),
				})
			} else {
				plan.Actions = append(plan.Actions, LinkAction{
					Target: consumer, Dep: dep, Kind: KindUseNpm,
					Reason: "not found in any workspace root",
				})
				plan.Diagnostics = append(plan.Diagnostics,
					fmt.Sprintf("%s not found locally for %s; falling back to npm", dep, consumer))
			}

		case ModeAuto:
			switch {
			case inIndex && consumerRef != nil && depRef.RootDir == consumerRef.RootDir:
				plan.Actions = append(plan.Actions, LinkAction{
					Target: consumer, Dep: dep, Kind: KindUseWorkspace,
					Reason: "same workspace root",
				})
			case inIndex:
				plan.Actions = append(plan.Actions, LinkAction{
					Target: consumer, Dep: dep, Kind: KindLinkLocal,
					Reason: fmt.Sprintf("cross-repo: lives in %s", depRef.RootDir),
				})
			default:
				plan.Actions = append(plan.Actions, LinkAction{
					Target: consumer, Dep: dep, Kind: KindUseNpm,
					Reason: "external dependency",
				})
			}
		}
	}

	plan.Fingerprint = fingerprint(plan.Mode, plan.Policy, plan.Actions)
	return plan
}

// consumerDepPairs returns the distinct (consumer, dependency) pairs from the
// graph's edges, sorted. Only indexed consumers produce pairs; prod, dev, and
// peer declarations of the same dependency collapse into one pair.
func consumerDepPairs(index *discovery.Index, g *graph.PackageGraph) [][2]string {
	seen := make(map[[2]string]bool)
	var pairs [][2]string
	for _, e := range g.Edges {
		if _, ok := index.Resolve(e.From); !ok {
			continue
		}
		key := [2]string{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, key)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

type denyMatcher struct {
	pattern string
	g       glob.Glob
}

// compileDeny compiles deny entries as glob patterns. An entry that fails to
// compile is reported and skipped rather than silently matching nothing.
func compileDeny(patterns []string, plan *DevLinkPlan) []denyMatcher {
	var out []denyMatcher
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			plan.Diagnostics = append(plan.Diagnostics,
				fmt.Sprintf("Invalid deny pattern %q: %v", p, err))
			continue
		}
		out = append(out, denyMatcher{pattern: p, g: g})
	}
	return out
}

func denied(matchers []denyMatcher, dep string) bool {
	for _, m := range matchers {
		if m.g.Match(dep) {
			return true
		}
	}
	return false
}

// installedNearby reports whether dep has a manifest under the consumer's
// node_modules. Used only by strict mode to distinguish "external but
// installed" from "not found anywhere".
func installedNearby(fs fsops.FS, consumer *discovery.PackageRef, dep string) bool {
	if consumer == nil {
		return false
	}
	path := filepath.Join(consumer.Dir, "node_modules", filepath.FromSlash(dep), "package.json")
	ok, err := fs.Exists(path)
	return err == nil && ok
}

func primaryRoot(index *discovery.Index) string {
	if len(index.RootDirs) > 0 {
		return index.RootDirs[0]
	}
	return ""
}

func snapshotPackages(index *discovery.Index) map[string]PlanPackage {
	out := make(map[string]PlanPackage, len(index.Packages))
	for name, ref := range index.Packages {
		out[name] = PlanPackage{
			Dir:     ref.Dir,
			RootDir: ref.RootDir,
			Version: ref.Version,
			Private: ref.Private,
		}
	}
	return out
}
