package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kb-labs/devlink/internal/fsops"
)

// validateConcurrency bounds parallel checksum recomputation.
const validateConcurrency = 8

// ValidationReport lists what Validate found wrong with one backup.
type ValidationReport struct {
	Timestamp  string   `json:"timestamp"`
	Missing    []string `json:"missing,omitempty"`
	Mismatched []string `json:"mismatched,omitempty"`
}

// OK reports whether every payload file is present with the recorded checksum.
func (r *ValidationReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatched) == 0
}

// Validate recomputes the checksums of every file recorded in the backup's
// metadata and reports missing or altered files.
func (m *Manager) Validate(ctx context.Context, info Info) (*ValidationReport, error) {
	if info.Metadata == nil {
		meta, err := readMetadata(m.fs, info.Dir)
		if err != nil {
			return nil, err
		}
		info.Metadata = meta
	}

	report := &ValidationReport{Timestamp: info.Timestamp}
	sem := semaphore.NewWeighted(validateConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for rel, want := range info.Metadata.Checksums {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()

			path := filepath.Join(info.Dir, fsops.FromPosix(rel))
			exists, err := m.fs.Exists(path)
			if err != nil || !exists {
				mu.Lock()
				report.Missing = append(report.Missing, rel)
				mu.Unlock()
				return
			}
			got, err := m.hasher.HashFile(path)
			if err != nil || got != want {
				mu.Lock()
				report.Mismatched = append(report.Mismatched, rel)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Strings(report.Missing)
	sort.Strings(report.Mismatched)
	return report, nil
}

// Quarantine moves a backup into _quarantine/ instead of deleting it,
// preserving the evidence of what went wrong.
func (m *Manager) Quarantine(info Info) (string, error) {
	dst := filepath.Join(m.dir, quarantineDir, info.Timestamp)
	if err := m.fs.Rename(info.Dir, dst); err != nil {
		return "", fmt.Errorf("failed to quarantine backup %s: %w", info.Timestamp, err)
	}
	return dst, nil
}
