package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/kb-labs/devlink/internal/fsops"
)

func writeMetadata(fs fsops.FS, backupDir string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup metadata: %w", err)
	}
	data = append(data, '\n')

	if err := fs.AtomicWrite(filepath.Join(backupDir, MetadataFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}
	return nil
}

func readMetadata(fs fsops.FS, backupDir string) (*Metadata, error) {
	data, err := fs.ReadFile(filepath.Join(backupDir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read backup metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse backup metadata: %w", err)
	}
	return &meta, nil
}
