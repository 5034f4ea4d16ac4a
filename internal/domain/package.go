package domain

import "time"

// DefaultMetadataDir is the per-package folder holding the manifest and other metadata.
// It is never deployed and never part of a package's file set.
const DefaultMetadataDir = "modinfo"

// Package is an installed content bundle
type Package struct {
	Name   string `json:"name"`
	Folder string `json:"folder"` // directory name under the packages directory
	Root   string `json:"root"`   // absolute payload root
}

// ManifestEntry is one recorded path of a package, relative and slash-separated
type ManifestEntry struct {
	Path    string    `json:"path" yaml:"path"`
	IsDir   bool      `json:"is_dir,omitempty" yaml:"is_dir,omitempty"`
	Size    int64     `json:"size,omitempty" yaml:"size,omitempty"`
	ModTime time.Time `json:"mtime,omitempty" yaml:"mtime,omitempty"`
}

// Manifest is the file listing captured at import or last refresh
type Manifest struct {
	Version    string          `json:"version" yaml:"version"`
	Package    string          `json:"package" yaml:"package"`
	RecordedAt time.Time       `json:"recorded_at" yaml:"recorded_at"`
	Entries    []ManifestEntry `json:"entries" yaml:"entries"`
}

// Paths returns the recorded paths, directories included
func (m *Manifest) Paths() []string {
	if m == nil {
		return nil
	}
	paths := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		paths = append(paths, e.Path)
	}
	return paths
}

// FileCount returns the number of non-directory entries
func (m *Manifest) FileCount() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, e := range m.Entries {
		if !e.IsDir {
			n++
		}
	}
	return n
}

// PackageState is the persisted per-package flags
type PackageState struct {
	Enabled    bool      `json:"enabled"`
	Favorite   bool      `json:"favorite"`
	Ignored    bool      `json:"ignored"`
	ImportTime time.Time `json:"import_time,omitempty"`
	EnabledAt  time.Time `json:"enabled_at,omitempty"` // last transition to enabled
}

// PackageInfo is the listing view of a package combined with its state
type PackageInfo struct {
	Name        string       `json:"name"`
	Folder      string       `json:"folder"`
	State       PackageState `json:"state"`
	HasManifest bool         `json:"has_manifest"`
	FileCount   int          `json:"file_count"`
}

// IntegrityReport is the result of comparing a package's disk tree against its manifest
type IntegrityReport struct {
	Package     string   `json:"package"`
	Complete    bool     `json:"complete"`
	HasManifest bool     `json:"has_manifest"`
	Missing     []string `json:"missing"`
	Extra       []string `json:"extra"`
}
