// Package backup creates and manages pre-mutation safety snapshots.
//
// Every mutating operation first captures the files it is about to change
// into a timestamped directory under <root>/.kb/devlink/backups/:
//
//	backups/<ts>/backup.json          metadata + per-file SHA-256 checksums
//	backups/<ts>/type.apply/          prior lock.json + manifests/<rel-path>
//	backups/<ts>/type.freeze/         prior lock.json
//
// Payload paths are always recorded POSIX-style so a backup taken on one
// platform restores on another. Checksums make a backup verifiable before
// undo trusts it.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kb-labs/devlink/internal/clock"
	"github.com/kb-labs/devlink/internal/fsops"
	"github.com/kb-labs/devlink/internal/hash"
)

// Type distinguishes what operation a backup protects.
type Type string

const (
	TypeApply  Type = "apply"
	TypeFreeze Type = "freeze"
)

// TimestampLayout is the filesystem-safe backup directory name format.
// Colons are avoided for Windows compatibility.
const TimestampLayout = "2006-01-02T15-04-05.000Z"

// createConcurrency bounds parallel file copies during Create.
const createConcurrency = 32

// MetadataFile is the per-backup metadata document name.
const MetadataFile = "backup.json"

// quarantineDir holds corrupt backups moved aside instead of deleted.
const quarantineDir = "_quarantine"

var (
	// ErrBackupNotFound is returned when no backup matches a timestamp.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrAmbiguousTimestamp is returned when a timestamp prefix matches
	// more than one backup.
	ErrAmbiguousTimestamp = errors.New("ambiguous backup timestamp")
)

// Metadata is the backup.json document.
type Metadata struct {
	Timestamp   string `json:"timestamp"`
	OperationID string `json:"operationId"`
	Type        Type   `json:"type"`

	// Checksums maps each payload file, POSIX-relative to the backup
	// directory, to its SHA-256 at capture time.
	Checksums map[string]string `json:"checksums"`

	GitBranch string `json:"gitBranch,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	GitDirty  bool   `json:"gitDirty,omitempty"`

	Platform string `json:"platform"`

	IsProtected bool     `json:"isProtected,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateRequest describes one backup to capture.
type CreateRequest struct {
	Type Type

	// LockPath is the live lock.json; skipped silently when absent.
	LockPath string

	// Manifests maps POSIX-relative workspace paths to the absolute
	// manifest files to capture (apply backups only).
	Manifests map[string]string

	GitBranch string
	GitCommit string
	GitDirty  bool

	Protected bool
	Tags      []string
}

// CreateResult reports where a backup landed.
type CreateResult struct {
	Dir       string
	Timestamp string
	Metadata  *Metadata
}

// Manager owns the backups directory of one workspace.
type Manager struct {
	fs     fsops.FS
	hasher hash.Hasher
	clock  clock.Clock

	// dir is <root>/.kb/devlink/backups.
	dir string
}

// NewManager creates a Manager rooted at backupsDir.
func NewManager(fs fsops.FS, hasher hash.Hasher, clk clock.Clock, backupsDir string) *Manager {
	return &Manager{fs: fs, hasher: hasher, clock: clk, dir: backupsDir}
}

// Dir returns the backups directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create captures a backup, copying payload files with bounded concurrency
// and recording their checksums.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ts := m.clock.Now().Format(TimestampLayout)
	backupDir := filepath.Join(m.dir, ts)
	payloadDir := filepath.Join(backupDir, "type."+string(req.Type))

	if err := m.fs.MkdirAll(payloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	type capture struct {
		src string
		// rel is POSIX-relative to the backup directory.
		rel string
	}

	var captures []capture
	if req.LockPath != "" {
		exists, err := m.fs.Exists(req.LockPath)
		if err != nil {
			return nil, fmt.Errorf("failed to check lock file: %w", err)
		}
		if exists {
			captures = append(captures, capture{
				src: req.LockPath,
				rel: "type." + string(req.Type) + "/lock.json",
			})
		}
	}
	if req.Type == TypeApply {
		for rel, src := range req.Manifests {
			captures = append(captures, capture{
				src: src,
				rel: "type.apply/manifests/" + fsops.ToPosix(rel),
			})
		}
	}

	meta := &Metadata{
		Timestamp:   ts,
		OperationID: uuid.NewString(),
		Type:        req.Type,
		Checksums:   make(map[string]string, len(captures)),
		GitBranch:   req.GitBranch,
		GitCommit:   req.GitCommit,
		GitDirty:    req.GitDirty,
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		IsProtected: req.Protected,
		Tags:        req.Tags,
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(createConcurrency)

	for _, c := range captures {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(backupDir, fsops.FromPosix(c.rel))
			if err := m.fs.CopyFile(c.src, dst); err != nil {
				return fmt.Errorf("failed to back up %s: %w", c.rel, err)
			}
			sum, err := m.hasher.HashFile(dst)
			if err != nil {
				return fmt.Errorf("failed to checksum %s: %w", c.rel, err)
			}
			mu.Lock()
			meta.Checksums[c.rel] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A half-written backup must never look valid
		_ = m.fs.RemoveAll(backupDir)
		return nil, err
	}

	if err := writeMetadata(m.fs, backupDir, meta); err != nil {
		_ = m.fs.RemoveAll(backupDir)
		return nil, err
	}

	return &CreateResult{Dir: backupDir, Timestamp: ts, Metadata: meta}, nil
}

// List returns all backups, newest first. Backups whose backup.json is
// unreadable are listed with nil Metadata so cleanup can still see them.
func (m *Manager) List() ([]Info, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == quarantineDir {
			continue
		}
		info := Info{
			Timestamp: entry.Name(),
			Dir:       filepath.Join(m.dir, entry.Name()),
		}
		if meta, err := readMetadata(m.fs, info.Dir); err == nil {
			info.Metadata = meta
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp > infos[j].Timestamp
	})
	return infos, nil
}

// Info is one backup as seen by List.
type Info struct {
	Timestamp string
	Dir       string

	// Metadata is nil when backup.json is missing or unreadable.
	Metadata *Metadata
}

// Time parses the backup's directory timestamp.
func (i Info) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, i.Timestamp)
}

// ResolveTimestamp resolves a full timestamp or unique prefix to the backup
// it names.
func (m *Manager) ResolveTimestamp(prefix string) (Info, error) {
	infos, err := m.List()
	if err != nil {
		return Info{}, err
	}

	var matches []Info
	for _, info := range infos {
		if info.Timestamp == prefix {
			return info, nil
		}
		if len(prefix) > 0 && len(info.Timestamp) > len(prefix) && info.Timestamp[:len(prefix)] == prefix {
			matches = append(matches, info)
		}
	}

	switch len(matches) {
	case 0:
		return Info{}, fmt.Errorf("%w: %s", ErrBackupNotFound, prefix)
	case 1:
		return matches[0], nil
	}
	return Info{}, fmt.Errorf("%w: %q matches %d backups", ErrAmbiguousTimestamp, prefix, len(matches))
}
