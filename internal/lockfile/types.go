// Package lockfile persists the per-consumer pinned dependency snapshot.
//
// The lock file (schema v2) keeps one row per consumer package rather than
// one global table. That shape is the central invariant enabling
// incremental, per-package freeze and merge without clobbering unrelated
// consumers. A legacy v1 lock (flat packages map) is migrated on read into a
// synthetic single "<root>" consumer.
package lockfile

import (
	"errors"
	"time"

	"github.com/kb-labs/devlink/internal/planner"
)

// SchemaVersion is the current lock file schema.
const SchemaVersion = 2

// LegacyConsumer is the synthetic consumer name given to migrated v1 locks.
const LegacyConsumer = "<root>"

// ErrInvalidStructure is returned for a malformed or foreign lock.json.
// Callers must surface it and refuse to proceed rather than guess.
var ErrInvalidStructure = errors.New("invalid lock file structure")

// LockSource classifies where a frozen dependency resolves from.
type LockSource string

const (
	SourceNpm       LockSource = "npm"
	SourceWorkspace LockSource = "workspace"
	SourceLink      LockSource = "link"
	SourceGithub    LockSource = "github"
)

func validSource(s LockSource) bool {
	switch s {
	case SourceNpm, SourceWorkspace, SourceLink, SourceGithub:
		return true
	}
	return false
}

// LockEntry is one frozen dependency of one consumer.
type LockEntry struct {
	Version string     `json:"version"`
	Source  LockSource `json:"source"`

	// SourceHint locates workspace and link sources (a directory path).
	SourceHint string `json:"sourceHint,omitempty"`
}

// LockConsumer is the frozen dependency set of one consumer package.
type LockConsumer struct {
	// Manifest is the consumer's package.json path, POSIX-relative to the
	// workspace root the lock belongs to.
	Manifest string `json:"manifest"`

	// Checksum is the SHA-256 of that manifest at freeze time, used for
	// drift detection.
	Checksum string `json:"checksum"`

	Deps map[string]LockEntry `json:"deps"`
}

// Meta records how and why the lock was generated.
type Meta struct {
	// Roots is the sorted list of workspace roots frozen.
	Roots []string `json:"roots"`

	// Hash is a stable digest of Roots; a mismatch on a later freeze is a
	// diagnostic, not an error.
	Hash string `json:"hash"`

	Reason      string `json:"reason,omitempty"`
	InitiatedBy string `json:"initiatedBy,omitempty"`
	Command     string `json:"command,omitempty"`
}

// Policy is the freeze policy recorded in the lock.
type Policy struct {
	Pin planner.PinPolicy `json:"pin"`
}

// LockFile is the schema v2 lock document.
type LockFile struct {
	SchemaVersion int          `json:"schemaVersion"`
	GeneratedAt   time.Time    `json:"generatedAt"`
	Mode          planner.Mode `json:"mode"`
	Policy        Policy       `json:"policy"`

	// Consumers maps consumer package name to its frozen snapshot.
	Consumers map[string]*LockConsumer `json:"consumers"`

	Meta Meta `json:"meta"`
}

// New returns an empty schema v2 lock.
func New() *LockFile {
	return &LockFile{
		SchemaVersion: SchemaVersion,
		Consumers:     make(map[string]*LockConsumer),
	}
}

// Consumer returns the snapshot for name, creating it if absent.
func (l *LockFile) Consumer(name string) *LockConsumer {
	if l.Consumers == nil {
		l.Consumers = make(map[string]*LockConsumer)
	}
	c, ok := l.Consumers[name]
	if !ok {
		c = &LockConsumer{Deps: make(map[string]LockEntry)}
		l.Consumers[name] = c
	}
	if c.Deps == nil {
		c.Deps = make(map[string]LockEntry)
	}
	return c
}
