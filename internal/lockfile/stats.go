package lockfile

import "time"

// Stats is a read-only summary of a lock file for status reporting.
type Stats struct {
	GeneratedAt time.Time          `json:"generatedAt"`
	Mode        string             `json:"mode"`
	Pin         string             `json:"pin"`
	Consumers   int                `json:"consumers"`
	Deps        int                `json:"deps"`
	BySource    map[LockSource]int `json:"bySource"`
}

// ComputeStats summarizes the lock.
func ComputeStats(lock *LockFile) *Stats {
	s := &Stats{
		GeneratedAt: lock.GeneratedAt,
		Mode:        string(lock.Mode),
		Pin:         string(lock.Policy.Pin),
		Consumers:   len(lock.Consumers),
		BySource:    make(map[LockSource]int),
	}
	for _, c := range lock.Consumers {
		if c == nil {
			continue
		}
		s.Deps += len(c.Deps)
		for _, entry := range c.Deps {
			s.BySource[entry.Source]++
		}
	}
	return s
}
