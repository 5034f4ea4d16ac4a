package pack

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

const (
	// ManifestFileName is the manifest file inside a package's metadata folder
	ManifestFileName = "manifest.yaml"
	// LegacyManifestFileName is the XML metadata file older installs carry
	LegacyManifestFileName = "modinfo.xml"

	manifestVersion = "1.0"
)

// ManifestStore records and loads package manifests
type ManifestStore struct {
	library *Library
	now     func() time.Time
}

// NewManifestStore creates a ManifestStore over the library's filesystem
func NewManifestStore(library *Library) *ManifestStore {
	return &ManifestStore{library: library, now: time.Now}
}

// Path returns the manifest location of a package
func (s *ManifestStore) Path(pkg domain.Package) string {
	return filepath.Join(pkg.Root, s.library.MetadataDir(), ManifestFileName)
}

func (s *ManifestStore) legacyPath(pkg domain.Package) string {
	return filepath.Join(pkg.Root, s.library.MetadataDir(), LegacyManifestFileName)
}

// Record walks the package payload and persists a fresh manifest
func (s *ManifestStore) Record(ctx context.Context, pkg domain.Package) (*domain.Manifest, error) {
	entries, err := s.library.Walk(ctx, pkg)
	if err != nil {
		return nil, err
	}
	s.library.Remember(pkg, entries)

	manifest := &domain.Manifest{
		Version:    manifestVersion,
		Package:    pkg.Name,
		RecordedAt: s.now().UTC(),
		Entries:    entries,
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := atomicWrite(s.library.Fs(), s.Path(pkg), data); err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrIOFailure, "failed to write manifest", 500, err,
			map[string]any{"package": pkg.Name})
	}

	log.Info().
		Str("package", pkg.Name).
		Int("entries", len(entries)).
		Msg("Manifest recorded")

	return manifest, nil
}

// Load returns the stored manifest of a package, or nil when none exists.
// A legacy XML manifest is read when no YAML manifest is present.
func (s *ManifestStore) Load(ctx context.Context, pkg domain.Package) (*domain.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs := s.library.Fs()

	data, err := afero.ReadFile(fs, s.Path(pkg))
	if err == nil {
		return s.Parse(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	data, err = afero.ReadFile(fs, s.legacyPath(pkg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read legacy manifest: %w", err)
	}
	return ParseLegacyManifest(data)
}

// Parse parses manifest content from bytes
func (s *ManifestStore) Parse(data []byte) (*domain.Manifest, error) {
	var manifest domain.Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if manifest.Version == "" {
		manifest.Version = manifestVersion
	}
	return &manifest, nil
}

// ParseLegacyManifest reads the file_structure section of a modinfo.xml document.
// Returns nil when the document has no file_structure, which callers treat as
// "nothing to check".
func ParseLegacyManifest(data []byte) (*domain.Manifest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse legacy manifest XML: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, nil
	}
	structure := root.SelectElement("file_structure")
	if structure == nil {
		return nil, nil
	}

	manifest := &domain.Manifest{Version: "legacy"}
	if name := root.SelectElement("name"); name != nil {
		manifest.Package = strings.TrimSpace(name.Text())
	}

	for _, el := range structure.SelectElements("file") {
		p := strings.TrimSpace(el.Text())
		if p == "" {
			continue
		}
		p = strings.ReplaceAll(p, "\\", "/")

		entry := domain.ManifestEntry{Path: strings.TrimSuffix(p, "/"), IsDir: strings.HasSuffix(p, "/")}
		if size, err := strconv.ParseInt(el.SelectAttrValue("size", ""), 10, 64); err == nil {
			entry.Size = size
		}
		if mtime, err := strconv.ParseFloat(el.SelectAttrValue("mtime", ""), 64); err == nil {
			sec, frac := math.Modf(mtime)
			entry.ModTime = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		manifest.Entries = append(manifest.Entries, entry)
	}

	return manifest, nil
}

// recordedName returns the package name stored in a metadata folder, if any
func recordedName(fs afero.Fs, metadataDir string) string {
	if data, err := afero.ReadFile(fs, filepath.Join(metadataDir, ManifestFileName)); err == nil {
		var head struct {
			Package string `yaml:"package"`
		}
		if yaml.Unmarshal(data, &head) == nil {
			return head.Package
		}
	}
	if data, err := afero.ReadFile(fs, filepath.Join(metadataDir, LegacyManifestFileName)); err == nil {
		doc := etree.NewDocument()
		if doc.ReadFromBytes(data) == nil && doc.Root() != nil {
			if name := doc.Root().SelectElement("name"); name != nil {
				return strings.TrimSpace(name.Text())
			}
		}
	}
	return ""
}

// atomicWrite writes data to path via a temp file in the same directory and a rename
func atomicWrite(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
