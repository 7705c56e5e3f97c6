package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/kb-labs/devlink/internal/clock"
	"github.com/kb-labs/devlink/internal/config"
	"github.com/kb-labs/devlink/internal/engine"
	"github.com/kb-labs/devlink/internal/execx"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/gitx"
	"github.com/kb-labs/devlink/internal/hash"
)

// newEngine creates an engine with real implementations of all dependencies,
// anchored at the discovered workspace root.
func newEngine() (*engine.Engine, *config.Settings, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	paths := config.NewPaths(findRoot(cwd))
	settings, err := config.LoadSettings(paths)
	if err != nil {
		return nil, nil, err
	}

	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})

	eng := engine.New(
		fsops.NewRealFS(),
		hash.NewSHA256Hasher(),
		&clock.RealClock{},
		gitx.NewRealInspector(),
		execx.NewRealRunner(),
		logger,
		paths,
	)
	return eng, settings, nil
}

// findRoot walks up from cwd looking for a devlink marker (devlink.yaml or
// an existing .kb/devlink state directory); without one, cwd is the root.
func findRoot(cwd string) string {
	dir := cwd
	for {
		for _, marker := range []string{"devlink.yaml", filepath.Join(".kb", "devlink")} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}

// resolveRoots turns configured extra roots into absolute paths, anchored at
// the workspace root, with the workspace root itself always first.
func resolveRoots(root string, extra []string) []string {
	roots := []string{root}
	for _, r := range extra {
		if !filepath.IsAbs(r) {
			r = filepath.Join(root, r)
		}
		roots = append(roots, r)
	}
	return roots
}

// outputJSON writes a value as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
