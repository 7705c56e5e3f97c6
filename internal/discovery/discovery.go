// Package discovery walks workspace roots and builds the package index.
//
// For each root the root manifest and every immediate child of packages/*
// and apps/* is read. Packages found under multiple roots are de-duplicated
// by name, preferring the copy whose path is under the current working
// directory. Discovery never mutates anything; its output is recomputed on
// every plan invocation and is disposable.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/graph"
	"github.com/kb-labs/devlink/internal/manifest"
)

// packageDirs are the root subdirectories whose immediate children are packages.
var packageDirs = []string{"packages", "apps"}

// PackageRef describes one discovered package. Immutable for the lifetime of
// one scan.
type PackageRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// Dir is the absolute package directory.
	Dir string `json:"dir"`

	// RootDir is the workspace root that contains the package.
	RootDir string `json:"rootDir"`

	Private bool `json:"private"`

	// Manifest is the parsed package.json. Not serialized; re-read on load.
	Manifest *manifest.Manifest `json:"-"`
}

// Index provides O(1) package lookups during planning and freezing.
type Index struct {
	// RootDirs is the sorted list of scanned workspace roots.
	RootDirs []string `json:"rootDirs"`

	// Packages maps package name to its ref.
	Packages map[string]*PackageRef `json:"packages"`

	// ByDir maps absolute package directory to its ref.
	ByDir map[string]*PackageRef `json:"byDir"`
}

// Resolve returns the package with the given name, if indexed.
func (idx *Index) Resolve(name string) (*PackageRef, bool) {
	ref, ok := idx.Packages[name]
	return ref, ok
}

// Names returns the sorted package names in the index.
func (idx *Index) Names() []string {
	names := make([]string, 0, len(idx.Packages))
	for name := range idx.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result is the output of one workspace scan.
type Result struct {
	Index       *Index
	Edges       []graph.DepEdge
	Diagnostics []string
}

// Scan walks the given workspace roots and returns the package index and
// dependency edges. Unreadable manifests become diagnostics, not errors;
// only structural failures (unreachable roots) abort the scan.
func Scan(ctx context.Context, fs fsops.FS, roots []string, cwd string) (*Result, error) {
	res := &Result{
		Index: &Index{
			Packages: make(map[string]*PackageRef),
			ByDir:    make(map[string]*PackageRef),
		},
	}

	seen := make(map[string]bool)
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		exists, err := fs.Exists(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to check root %s: %w", abs, err)
		}
		if !exists {
			return nil, fmt.Errorf("workspace root does not exist: %s", abs)
		}

		res.Index.RootDirs = append(res.Index.RootDirs, abs)
		scanRoot(fs, abs, cwd, res)
	}
	sort.Strings(res.Index.RootDirs)

	buildEdges(res)
	return res, nil
}

// scanRoot reads the root manifest plus every immediate packages/* and
// apps/* child of root.
func scanRoot(fs fsops.FS, root, cwd string, res *Result) {
	addManifest(fs, filepath.Join(root, manifest.Filename), root, cwd, res)

	for _, sub := range packageDirs {
		dir := filepath.Join(root, sub)
		entries, err := fs.ReadDir(dir)
		if err != nil {
			// packages/ or apps/ may simply not exist in this root
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), manifest.Filename)
			addManifest(fs, path, root, cwd, res)
		}
	}
}

func addManifest(fs fsops.FS, path, root, cwd string, res *Result) {
	exists, err := fs.Exists(path)
	if err != nil || !exists {
		return
	}

	m, err := manifest.Load(fs, path)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("Skipping unreadable manifest %s: %v", path, err))
		return
	}
	if m.Name == "" {
		// Nameless manifests cannot participate in the graph
		return
	}

	ref := &PackageRef{
		Name:     m.Name,
		Version:  m.Version,
		Dir:      m.Dir(),
		RootDir:  root,
		Private:  m.Private,
		Manifest: m,
	}

	if existing, ok := res.Index.Packages[m.Name]; ok {
		if !preferOver(ref, existing, cwd) {
			res.Diagnostics = append(res.Diagnostics,
				fmt.Sprintf("Duplicate package %s at %s ignored (kept %s)", m.Name, ref.Dir, existing.Dir))
			return
		}
		res.Diagnostics = append(res.Diagnostics,
			fmt.Sprintf("Duplicate package %s at %s ignored (kept %s)", m.Name, existing.Dir, ref.Dir))
		delete(res.Index.ByDir, existing.Dir)
	}

	res.Index.Packages[m.Name] = ref
	res.Index.ByDir[ref.Dir] = ref
}

// preferOver reports whether candidate should replace existing. The copy
// under the current working directory wins.
func preferOver(candidate, existing *PackageRef, cwd string) bool {
	return isUnder(candidate.Dir, cwd) && !isUnder(existing.Dir, cwd)
}

func isUnder(path, base string) bool {
	if base == "" {
		return false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// buildEdges emits one DepEdge per declared dependency of every indexed
// package, in deterministic order.
func buildEdges(res *Result) {
	for _, name := range res.Index.Names() {
		ref := res.Index.Packages[name]
		m := ref.Manifest
		if m == nil {
			continue
		}
		res.Edges = append(res.Edges, edgesOf(name, m.Dependencies, graph.EdgeProd)...)
		res.Edges = append(res.Edges, edgesOf(name, m.DevDependencies, graph.EdgeDev)...)
		res.Edges = append(res.Edges, edgesOf(name, m.PeerDependencies, graph.EdgePeer)...)
	}
}

func edgesOf(from string, deps map[string]string, typ graph.EdgeType) []graph.DepEdge {
	names := make([]string, 0, len(deps))
	for dep := range deps {
		names = append(names, dep)
	}
	sort.Strings(names)

	edges := make([]graph.DepEdge, 0, len(names))
	for _, dep := range names {
		edges = append(edges, graph.DepEdge{From: from, To: dep, Type: typ})
	}
	return edges
}
