package backup

import (
	"fmt"
	"time"
)

// RetentionPolicy decides which backups cleanup keeps.
type RetentionPolicy struct {
	// KeepCount backups are always retained, newest first.
	KeepCount int

	// KeepDays retains any backup younger than this many days.
	KeepDays int

	// MinAge protects very recent backups regardless of count, so cleanup
	// right after an apply never eats the backup that apply just took.
	MinAge time.Duration
}

// DefaultRetention mirrors the documented defaults.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{KeepCount: 20, KeepDays: 14, MinAge: time.Hour}
}

// CleanupReport lists what cleanup did (or would do, under dry run).
type CleanupReport struct {
	Kept    []string `json:"kept"`
	Deleted []string `json:"deleted"`
	DryRun  bool     `json:"dryRun"`
}

// CleanupOldBackups deletes backups falling outside the retention policy.
// A backup is kept when it is protected, among the KeepCount most recent,
// younger than KeepDays, or younger than MinAge. Under dryRun nothing is
// deleted; the report shows what would go.
func (m *Manager) CleanupOldBackups(policy RetentionPolicy, dryRun bool) (*CleanupReport, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	report := &CleanupReport{DryRun: dryRun}

	// List returns newest first, so index doubles as the recency rank.
	for i, info := range infos {
		if m.retain(info, i, policy, now) {
			report.Kept = append(report.Kept, info.Timestamp)
			continue
		}
		report.Deleted = append(report.Deleted, info.Timestamp)
		if dryRun {
			continue
		}
		if err := m.fs.RemoveAll(info.Dir); err != nil {
			return report, fmt.Errorf("failed to delete backup %s: %w", info.Timestamp, err)
		}
	}
	return report, nil
}

func (m *Manager) retain(info Info, rank int, policy RetentionPolicy, now time.Time) bool {
	if info.Metadata != nil && info.Metadata.IsProtected {
		return true
	}
	if rank < policy.KeepCount {
		return true
	}

	ts, err := info.Time()
	if err != nil {
		// Unparseable directory name: keep, a human put it there
		return true
	}
	age := now.Sub(ts)
	if policy.KeepDays > 0 && age < time.Duration(policy.KeepDays)*24*time.Hour {
		return true
	}
	if policy.MinAge > 0 && age < policy.MinAge {
		return true
	}
	return false
}
