// Package manifest reads and writes package.json files.
//
// Manifests are the only files devlink mutates outside its own state
// directory. A Manifest keeps the raw JSON of every field it does not
// understand so that rewriting a manifest never drops fields added by other
// tools. Byte-exact restoration after an apply is guaranteed by backups, not
// by re-serialization.
package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/kb-labs/devlink/internal/fsops"
)

// Filename is the manifest file name devlink looks for in package directories.
const Filename = "package.json"

// Manifest is a parsed package.json.
type Manifest struct {
	// Path is the absolute path the manifest was loaded from.
	Path string

	Name    string
	Version string
	Private bool

	// Workspaces is the root manifest's workspace glob list, if present.
	Workspaces []string

	Dependencies     map[string]string
	DevDependencies  map[string]string
	PeerDependencies map[string]string

	// raw holds every top-level field as loaded, including ones devlink
	// does not model. Save folds the dependency maps back into it.
	raw map[string]json.RawMessage
}

// Load reads and parses the manifest at path.
func Load(fs fsops.FS, path string) (*Manifest, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	m := &Manifest{
		Path:             path,
		Dependencies:     map[string]string{},
		DevDependencies:  map[string]string{},
		PeerDependencies: map[string]string{},
		raw:              raw,
	}

	if err := unmarshalField(raw, "name", &m.Name); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := unmarshalField(raw, "version", &m.Version); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := unmarshalField(raw, "private", &m.Private); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := unmarshalField(raw, "dependencies", &m.Dependencies); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := unmarshalField(raw, "devDependencies", &m.DevDependencies); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := unmarshalField(raw, "peerDependencies", &m.PeerDependencies); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.Workspaces = parseWorkspaces(raw)

	return m, nil
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// DeclaredRange returns the version range declared for dep, looking at
// dependencies, then devDependencies, then peerDependencies.
func (m *Manifest) DeclaredRange(dep string) (string, bool) {
	if r, ok := m.Dependencies[dep]; ok {
		return r, true
	}
	if r, ok := m.DevDependencies[dep]; ok {
		return r, true
	}
	if r, ok := m.PeerDependencies[dep]; ok {
		return r, true
	}
	return "", false
}

// Declares reports whether dep appears in any dependency section.
func (m *Manifest) Declares(dep string) bool {
	_, ok := m.DeclaredRange(dep)
	return ok
}

// SetRange updates the declared range of dep in whichever section declares
// it. Returns false if the manifest does not declare dep.
func (m *Manifest) SetRange(dep, version string) bool {
	if _, ok := m.Dependencies[dep]; ok {
		m.Dependencies[dep] = version
		return true
	}
	if _, ok := m.DevDependencies[dep]; ok {
		m.DevDependencies[dep] = version
		return true
	}
	if _, ok := m.PeerDependencies[dep]; ok {
		m.PeerDependencies[dep] = version
		return true
	}
	return false
}

// Save writes the manifest back to its path atomically, folding the
// dependency maps into the raw document. Unknown fields are preserved.
func (m *Manifest) Save(fs fsops.FS) error {
	if m.raw == nil {
		m.raw = map[string]json.RawMessage{}
	}
	for key, deps := range map[string]map[string]string{
		"dependencies":     m.Dependencies,
		"devDependencies":  m.DevDependencies,
		"peerDependencies": m.PeerDependencies,
	} {
		if len(deps) == 0 {
			// Do not invent an empty section the manifest never had
			if _, had := m.raw[key]; !had {
				continue
			}
		}
		data, err := json.Marshal(deps)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		m.raw[key] = data
	}

	out, err := json.MarshalIndent(m.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	out = append(out, '\n')

	if err := fs.AtomicWrite(m.Path, out, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", m.Path, err)
	}
	return nil
}

func unmarshalField(raw map[string]json.RawMessage, key string, out any) error {
	data, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid %q field: %w", key, err)
	}
	return nil
}

// parseWorkspaces tolerates both forms: a bare array and the yarn-style
// {"packages": [...]} object.
func parseWorkspaces(raw map[string]json.RawMessage) []string {
	data, ok := raw["workspaces"]
	if !ok {
		return nil
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr
	}

	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.Packages
	}
	return nil
}
