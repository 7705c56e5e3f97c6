package planner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kb-labs/devlink/internal/discovery"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/graph"
)

// twoPackageIndex builds an index with @test/a and @test/b under the given
// roots, plus the matching graph where b depends on a.
func twoPackageIndex(t *testing.T, rootA, rootB string) (*discovery.Index, *graph.PackageGraph) {
	t.Helper()
	index := &discovery.Index{
		RootDirs: []string{rootA},
		Packages: map[string]*discovery.PackageRef{
			"@test/a": {Name: "@test/a", Version: "1.0.0", Dir: filepath.Join(rootA, "packages", "a"), RootDir: rootA},
			"@test/b": {Name: "@test/b", Version: "1.0.0", Dir: filepath.Join(rootB, "packages", "b"), RootDir: rootB},
		},
		ByDir: map[string]*discovery.PackageRef{},
	}
	g, err := graph.Build(index.Names(), []graph.DepEdge{
		{From: "@test/b", To: "@test/a", Type: graph.EdgeProd},
	})
	if err != nil {
		t.Fatalf("graph.Build() error: %v", err)
	}
	return index, g
}

func findAction(plan *DevLinkPlan, target, dep string) (LinkAction, bool) {
	for _, a := range plan.Actions {
		if a.Target == target && a.Dep == dep {
			return a, true
		}
	}
	return LinkAction{}, false
}

func TestBuildPlanAutoSameRootUsesWorkspace(t *testing.T) {
	root := t.TempDir()
	index, g := twoPackageIndex(t, root, root)

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{Mode: ModeAuto, Policy: Policy{Pin: PinCaret}})

	a, ok := findAction(plan, "@test/b", "@test/a")
	if !ok {
		t.Fatal("no action for @test/b -> @test/a")
	}
	if a.Kind != KindUseWorkspace {
		t.Errorf("Kind = %s, want %s", a.Kind, KindUseWorkspace)
	}
}

func TestBuildPlanAutoCrossRootLinksLocal(t *testing.T) {
	index, g := twoPackageIndex(t, t.TempDir(), t.TempDir())

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{Mode: ModeAuto, Policy: Policy{Pin: PinCaret}})

	a, ok := findAction(plan, "@test/b", "@test/a")
	if !ok {
		t.Fatal("no action for @test/b -> @test/a")
	}
	if a.Kind != KindLinkLocal {
		t.Errorf("Kind = %s, want %s", a.Kind, KindLinkLocal)
	}
}

func TestBuildPlanAutoExternalUsesNpm(t *testing.T) {
	root := t.TempDir()
	index, _ := twoPackageIndex(t, root, root)
	g, err := graph.Build(index.Names(), []graph.DepEdge{
		{From: "@test/b", To: "lodash", Type: graph.EdgeProd},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{Mode: ModeAuto, Policy: Policy{Pin: PinCaret}})

	a, ok := findAction(plan, "@test/b", "lodash")
	if !ok {
		t.Fatal("no action for @test/b -> lodash")
	}
	if a.Kind != KindUseNpm {
		t.Errorf("Kind = %s, want %s", a.Kind, KindUseNpm)
	}
}

func TestBuildPlanNpmModeUnlinksWorkspaceDeps(t *testing.T) {
	root := t.TempDir()
	index, g := twoPackageIndex(t, root, root)

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{Mode: ModeNpm, Policy: Policy{Pin: PinCaret}})

	var kinds []ActionKind
	for _, a := range plan.Actions {
		if a.Target == "@test/b" && a.Dep == "@test/a" {
			kinds = append(kinds, a.Kind)
		}
	}
	if len(kinds) != 2 || kinds[0] != KindUnlink || kinds[1] != KindUseNpm {
		t.Errorf("npm mode actions = %v, want [unlink use-npm]", kinds)
	}
}

func TestBuildPlanLocalModeFallsBackWithDiagnostic(t *testing.T) {
	root := t.TempDir()
	index, _ := twoPackageIndex(t, root, root)
	g, err := graph.Build(index.Names(), []graph.DepEdge{
		{From: "@test/b", To: "left-pad", Type: graph.EdgeProd},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{Mode: ModeLocal, Policy: Policy{Pin: PinCaret}})

	a, ok := findAction(plan, "@test/b", "left-pad")
	if !ok {
		t.Fatal("no fallback action for left-pad")
	}
	if a.Kind != KindUseNpm {
		t.Errorf("Kind = %s, want %s", a.Kind, KindUseNpm)
	}
	if len(plan.Diagnostics) == 0 {
		t.Error("fallback should produce a diagnostic")
	}
}

func TestBuildPlanDenyProducesNoActionAndDiagnostic(t *testing.T) {
	root := t.TempDir()
	index, g := twoPackageIndex(t, root, root)

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{
		Mode:   ModeAuto,
		Policy: Policy{Pin: PinCaret, Deny: []string{"@test/a"}},
	})

	if _, ok := findAction(plan, "@test/b", "@test/a"); ok {
		t.Error("denied dependency produced an action")
	}
	if len(plan.Diagnostics) == 0 {
		t.Error("deny should produce a diagnostic")
	}
}

func TestBuildPlanDenyGlobPattern(t *testing.T) {
	root := t.TempDir()
	index, g := twoPackageIndex(t, root, root)

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{
		Mode:   ModeAuto,
		Policy: Policy{Pin: PinCaret, Deny: []string{"@test/*"}},
	})

	if len(plan.Actions) != 0 {
		t.Errorf("glob deny left actions: %v", plan.Actions)
	}
}

func TestBuildPlanStrictFailsOnUnresolved(t *testing.T) {
	root := t.TempDir()
	index, _ := twoPackageIndex(t, root, root)
	g, err := graph.Build(index.Names(), []graph.DepEdge{
		{From: "@test/b", To: "@test/ghost", Type: graph.EdgeProd},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{
		Mode: ModeAuto, Strict: true, Policy: Policy{Pin: PinCaret},
	})

	if len(plan.Actions) != 0 {
		t.Errorf("strict plan should be empty, got %v", plan.Actions)
	}
	if len(plan.Diagnostics) == 0 {
		t.Error("strict failure should produce a diagnostic")
	}
}

func TestBuildPlanCycleDiagnostic(t *testing.T) {
	root := t.TempDir()
	index, _ := twoPackageIndex(t, root, root)
	g, err := graph.Build(index.Names(), []graph.DepEdge{
		{From: "@test/a", To: "@test/b", Type: graph.EdgeProd},
		{From: "@test/b", To: "@test/a", Type: graph.EdgeProd},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan := BuildPlan(fsops.NewRealFS(), index, g, Options{Mode: ModeAuto, Policy: Policy{Pin: PinCaret}})

	found := false
	for _, d := range plan.Diagnostics {
		if d == "Dependency cycles detected: 1 cycle(s)" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing cycle diagnostic, got %v", plan.Diagnostics)
	}
	// The plan itself must still exist
	if len(plan.Actions) == 0 {
		t.Error("cycle should not prevent planning")
	}
}

func TestBuildPlanFingerprintStable(t *testing.T) {
	root := t.TempDir()
	index, g := twoPackageIndex(t, root, root)
	opts := Options{Mode: ModeAuto, Policy: Policy{Pin: PinCaret}}

	p1 := BuildPlan(fsops.NewRealFS(), index, g, opts)
	opts.Now = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) // time must not affect it
	p2 := BuildPlan(fsops.NewRealFS(), index, g, opts)

	if p1.Fingerprint != p2.Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", p1.Fingerprint, p2.Fingerprint)
	}

	// Mode change must change the fingerprint
	opts.Mode = ModeNpm
	p3 := BuildPlan(fsops.NewRealFS(), index, g, opts)
	if p3.Fingerprint == p1.Fingerprint {
		t.Error("fingerprint did not change with mode")
	}
}

func TestSaveAndLoadPlanRoundTrip(t *testing.T) {
	fs := fsops.NewRealFS()
	root := t.TempDir()
	index, g := twoPackageIndex(t, root, root)
	plan := BuildPlan(fs, index, g, Options{Mode: ModeAuto, Policy: Policy{Pin: PinExact}})

	path := filepath.Join(t.TempDir(), "last-plan.json")
	if err := SavePlan(fs, path, plan); err != nil {
		t.Fatalf("SavePlan() error: %v", err)
	}

	loaded, err := LoadPlan(fs, path)
	if err != nil {
		t.Fatalf("LoadPlan() error: %v", err)
	}
	if loaded.Fingerprint != plan.Fingerprint {
		t.Errorf("Fingerprint = %s, want %s", loaded.Fingerprint, plan.Fingerprint)
	}
	if loaded.Mode != ModeAuto {
		t.Errorf("Mode = %s, want auto", loaded.Mode)
	}
	if len(loaded.Actions) != len(plan.Actions) {
		t.Errorf("Actions = %d, want %d", len(loaded.Actions), len(plan.Actions))
	}
	if _, ok := loaded.Packages["@test/a"]; !ok {
		t.Error("Packages snapshot lost in round trip")
	}
}
