package lockfile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/hash"
	"github.com/kb-labs/devlink/internal/manifest"
	"github.com/kb-labs/devlink/internal/planner"
)

// FreezeOptions configure one freeze.
type FreezeOptions struct {
	// Replace discards the whole consumers map and rebuilds from scratch.
	// The default (false) updates only the consumers touched by the plan.
	Replace bool

	// Prune removes lock entries for deps no longer in the plan, unless the
	// dependency is still declared in the consumer's manifest.
	Prune bool

	Pin planner.PinPolicy

	Reason      string
	InitiatedBy string
	Command     string
}

// ChangeSet reports what a freeze did (or would do, under dry run). Items
// are tagged "consumer::dep".
type ChangeSet struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

func (c *ChangeSet) sorted() {
	sort.Strings(c.Added)
	sort.Strings(c.Updated)
	sort.Strings(c.Removed)
}

// Empty reports whether the freeze changed nothing.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// FreezeMerged computes the lock resulting from freezing the plan over the
// existing lock (nil for none). It performs no writes: the caller decides
// whether to persist the returned lock, which is what makes the dry-run
// path side-effect free.
func FreezeMerged(fs fsops.FS, hasher hash.Hasher, now time.Time, plan *planner.DevLinkPlan, existing *LockFile, opts FreezeOptions) (*LockFile, *ChangeSet, error) {
	next := New()
	next.GeneratedAt = now
	next.Mode = plan.Mode
	next.Policy = Policy{Pin: opts.Pin}
	next.Meta = buildMeta(plan, opts)

	if existing != nil && !opts.Replace {
		for name, c := range existing.Consumers {
			next.Consumers[name] = cloneConsumer(c)
		}
	}

	changes := &ChangeSet{}

	for _, target := range plan.Targets() {
		ref, ok := plan.Packages[target]
		if !ok {
			return nil, nil, fmt.Errorf("plan references unknown consumer %s", target)
		}

		manifestPath := filepath.Join(ref.Dir, manifest.Filename)
		m, err := manifest.Load(fs, manifestPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load manifest for %s: %w", target, err)
		}
		checksum, err := hasher.HashFile(manifestPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to checksum manifest for %s: %w", target, err)
		}

		var prior map[string]LockEntry
		if existing != nil && !opts.Replace {
			if pc, ok := existing.Consumers[target]; ok && pc != nil {
				prior = pc.Deps
			}
		}

		consumer := next.Consumer(target)
		consumer.Manifest = relManifest(plan.RootDir, manifestPath)
		consumer.Checksum = checksum

		planned := make(map[string]bool)
		for _, action := range plan.ActionsFor(target) {
			if action.Kind == planner.KindUnlink {
				continue
			}
			planned[action.Dep] = true

			entry := freezeEntry(fs, plan, ref, m, action, opts.Pin)
			old, had := prior[action.Dep]
			consumer.Deps[action.Dep] = entry

			tag := target + "::" + action.Dep
			switch {
			case !had:
				changes.Added = append(changes.Added, tag)
			case old != entry:
				changes.Updated = append(changes.Updated, tag)
			}
		}

		if opts.Prune {
			for dep := range consumer.Deps {
				if planned[dep] {
					continue
				}
				// Safeguard: a dep still declared in the manifest keeps its pin
				if m.Declares(dep) {
					continue
				}
				delete(consumer.Deps, dep)
				changes.Removed = append(changes.Removed, target+"::"+dep)
			}
		}
	}

	changes.sorted()
	return next, changes, nil
}

// freezeEntry classifies one planned dependency and resolves its version.
func freezeEntry(fs fsops.FS, plan *planner.DevLinkPlan, consumer planner.PlanPackage, m *manifest.Manifest, action planner.LinkAction, pin planner.PinPolicy) LockEntry {
	if strings.HasPrefix(action.Dep, "github:") {
		return LockEntry{Version: "latest", Source: SourceGithub, SourceHint: action.Dep}
	}

	if depRef, ok := plan.Packages[action.Dep]; ok {
		version := depRef.Version
		if version == "" {
			version = "0.0.0"
		}
		if insideRoot(depRef.Dir, consumer.RootDir) {
			return LockEntry{Version: version, Source: SourceWorkspace, SourceHint: depRef.Dir}
		}
		return LockEntry{Version: version, Source: SourceLink, SourceHint: depRef.Dir}
	}

	// npm / unresolved: declared range, then locally installed, then latest
	version, ok := m.DeclaredRange(action.Dep)
	if !ok || version == "" {
		version = installedVersion(fs, consumer.Dir, action.Dep)
	}
	if version == "" {
		version = "latest"
	}
	return LockEntry{Version: applyPin(pin, version), Source: SourceNpm}
}

// installedVersion reads the version actually installed under the
// consumer's node_modules, if any.
func installedVersion(fs fsops.FS, consumerDir, dep string) string {
	path := filepath.Join(consumerDir, "node_modules", filepath.FromSlash(dep), manifest.Filename)
	m, err := manifest.Load(fs, path)
	if err != nil {
		return ""
	}
	return m.Version
}

func buildMeta(plan *planner.DevLinkPlan, opts FreezeOptions) Meta {
	rootSet := make(map[string]bool)
	if plan.RootDir != "" {
		rootSet[plan.RootDir] = true
	}
	for _, ref := range plan.Packages {
		rootSet[ref.RootDir] = true
	}
	roots := make([]string, 0, len(rootSet))
	for r := range rootSet {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	return Meta{
		Roots:       roots,
		Hash:        hash.Digest64(roots...),
		Reason:      opts.Reason,
		InitiatedBy: opts.InitiatedBy,
		Command:     opts.Command,
	}
}

func cloneConsumer(c *LockConsumer) *LockConsumer {
	if c == nil {
		return &LockConsumer{Deps: make(map[string]LockEntry)}
	}
	out := &LockConsumer{
		Manifest: c.Manifest,
		Checksum: c.Checksum,
		Deps:     make(map[string]LockEntry, len(c.Deps)),
	}
	for dep, entry := range c.Deps {
		out.Deps[dep] = entry
	}
	return out
}

func relManifest(rootDir, manifestPath string) string {
	rel, err := filepath.Rel(rootDir, manifestPath)
	if err != nil {
		return fsops.ToPosix(manifestPath)
	}
	return fsops.ToPosix(rel)
}

func insideRoot(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
