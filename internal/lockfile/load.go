package lockfile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kb-labs/devlink/internal/fsops"
)

// v1Lock is the legacy flat lock format: one global packages map, no
// per-consumer rows.
type v1Lock struct {
	SchemaVersion int                `json:"schemaVersion"`
	GeneratedAt   string             `json:"generatedAt"`
	Packages      map[string]v1Entry `json:"packages"`
}

type v1Entry struct {
	Version string `json:"version"`
	Source  string `json:"source"`
}

// Load reads lock.json from path, migrating a v1 document on the fly.
// A missing file is reported through the underlying fs error; a present but
// malformed or foreign file yields ErrInvalidStructure.
func Load(fs fsops.FS, path string) (*LockFile, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var probe struct {
		SchemaVersion int             `json:"schemaVersion"`
		Consumers     json.RawMessage `json:"consumers"`
		Packages      json.RawMessage `json:"packages"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}

	// v1: flat packages map, no consumers
	if probe.Consumers == nil && probe.Packages != nil {
		var legacy v1Lock
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
		}
		return migrateV1(&legacy)
	}

	var lock LockFile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	if err := Validate(&lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

// Validate checks the structural invariants of a v2 lock.
func Validate(lock *LockFile) error {
	if lock.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrInvalidStructure, lock.SchemaVersion)
	}
	for name, c := range lock.Consumers {
		if c == nil {
			return fmt.Errorf("%w: consumer %s is null", ErrInvalidStructure, name)
		}
		for dep, entry := range c.Deps {
			if entry.Version == "" {
				return fmt.Errorf("%w: %s::%s has no version", ErrInvalidStructure, name, dep)
			}
			if !validSource(entry.Source) {
				return fmt.Errorf("%w: %s::%s has unknown source %q", ErrInvalidStructure, name, dep, entry.Source)
			}
		}
	}
	return nil
}

// migrateV1 folds a legacy flat lock into a synthetic single consumer.
func migrateV1(legacy *v1Lock) (*LockFile, error) {
	lock := New()
	if ts, err := time.Parse(time.RFC3339, legacy.GeneratedAt); err == nil {
		lock.GeneratedAt = ts
	}
	consumer := lock.Consumer(LegacyConsumer)
	for dep, entry := range legacy.Packages {
		source := LockSource(entry.Source)
		if !validSource(source) {
			source = SourceNpm
		}
		version := entry.Version
		if version == "" {
			version = "latest"
		}
		consumer.Deps[dep] = LockEntry{Version: version, Source: source}
	}
	return lock, nil
}

// Save writes the lock atomically.
func Save(fs fsops.FS, path string, lock *LockFile) error {
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock file: %w", err)
	}
	data = append(data, '\n')

	if err := fs.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}
