// Package pack manages installed packages: discovery, payload file sets,
// manifests and removal.
package pack

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// LibraryConfig holds configuration for the Library
type LibraryConfig struct {
	PackagesDir    string
	MetadataDir    string
	IgnorePatterns []string
}

// Library is the set of packages installed under one packages directory
type Library struct {
	fs          afero.Fs
	dir         string
	metadataDir string
	ignore      []string
	cache       domain.FileSetCache
	mu          sync.RWMutex
}

// NewLibrary creates a Library. cache may be nil.
func NewLibrary(fs afero.Fs, config LibraryConfig, cache domain.FileSetCache) *Library {
	metadataDir := config.MetadataDir
	if metadataDir == "" {
		metadataDir = domain.DefaultMetadataDir
	}

	var ignore []string
	for _, p := range config.IgnorePatterns {
		if p = strings.TrimSpace(p); p != "" {
			ignore = append(ignore, p)
		}
	}

	dir := config.PackagesDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	return &Library{
		fs:          fs,
		dir:         dir,
		metadataDir: metadataDir,
		ignore:      ignore,
		cache:       cache,
	}
}

// FolderName maps a package name to its folder under the packages directory
func FolderName(name string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return r.Replace(name)
}

// displayName is the inverse of FolderName for folders without a recorded name
func displayName(folder string) string {
	return strings.ReplaceAll(folder, "_", " ")
}

// Dir returns the absolute packages directory
func (l *Library) Dir() string {
	return l.dir
}

// MetadataDir returns the metadata folder name excluded from payloads
func (l *Library) MetadataDir() string {
	return l.metadataDir
}

// Fs returns the filesystem the library reads from
func (l *Library) Fs() afero.Fs {
	return l.fs
}

// List returns all installed packages sorted by name
func (l *Library) List(ctx context.Context) ([]domain.Package, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read packages directory: %w", err)
	}

	var packages []domain.Package
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		packages = append(packages, l.packageFor(entry.Name()))
	}

	slices.SortFunc(packages, func(a, b domain.Package) int {
		return strings.Compare(a.Name, b.Name)
	})
	return packages, nil
}

// Get returns the installed package with the given name
func (l *Library) Get(ctx context.Context, name string) (domain.Package, error) {
	if err := ctx.Err(); err != nil {
		return domain.Package{}, err
	}

	folder := FolderName(name)
	if folder == "" || folder == "." || folder == ".." {
		return domain.Package{}, domain.PackageNotFound(name)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	ok, err := afero.DirExists(l.fs, filepath.Join(l.dir, folder))
	if err != nil {
		return domain.Package{}, fmt.Errorf("failed to stat package %s: %w", name, err)
	}
	if !ok {
		return domain.Package{}, domain.PackageNotFound(name)
	}

	return l.packageFor(folder), nil
}

// packageFor builds the Package value of a folder, preferring the recorded name
func (l *Library) packageFor(folder string) domain.Package {
	pkg := domain.Package{
		Name:   displayName(folder),
		Folder: folder,
		Root:   filepath.Join(l.dir, folder),
	}
	if recorded := recordedName(l.fs, filepath.Join(pkg.Root, l.metadataDir)); recorded != "" && FolderName(recorded) == folder {
		pkg.Name = recorded
	}
	return pkg
}

// Excluded reports whether a slash-separated payload-relative path is outside the payload
func (l *Library) Excluded(rel string) bool {
	if rel == l.metadataDir || strings.HasPrefix(rel, l.metadataDir+"/") {
		return true
	}
	for _, pattern := range l.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// a pattern naming a directory excludes everything below it
		if ok, _ := doublestar.Match(pattern, path.Dir(rel)); ok && path.Dir(rel) != "." {
			return true
		}
	}
	return false
}

// Walk enumerates the payload of a package: every file and directory,
// metadata folder and ignored paths excluded, sorted by path
func (l *Library) Walk(ctx context.Context, pkg domain.Package) ([]domain.ManifestEntry, error) {
	var entries []domain.ManifestEntry

	err := afero.Walk(l.fs, pkg.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == pkg.Root {
				return err
			}
			log.Debug().Err(err).Str("path", p).Msg("Skipping unreadable path")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == pkg.Root {
			return nil
		}

		rel, err := filepath.Rel(pkg.Root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if l.Excluded(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entry := domain.ManifestEntry{Path: rel, IsDir: info.IsDir()}
		if !info.IsDir() {
			entry.Size = info.Size()
			entry.ModTime = info.ModTime()
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.PackageNotFound(pkg.Name)
		}
		return nil, fmt.Errorf("failed to walk package %s: %w", pkg.Name, err)
	}

	slices.SortFunc(entries, func(a, b domain.ManifestEntry) int {
		return strings.Compare(a.Path, b.Path)
	})
	return entries, nil
}

// FileSet returns the deployable files of a package (directories excluded),
// served from the cache when fresh
func (l *Library) FileSet(ctx context.Context, pkg domain.Package) ([]string, error) {
	if l.cache != nil {
		if files, ok := l.cache.Get(pkg.Name); ok {
			return files, nil
		}
	}

	entries, err := l.Walk(ctx, pkg)
	if err != nil {
		return nil, err
	}
	return l.Remember(pkg, entries), nil
}

// Remember stores the file set derived from a fresh walk and returns it
func (l *Library) Remember(pkg domain.Package, entries []domain.ManifestEntry) []string {
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			files = append(files, e.Path)
		}
	}
	if l.cache != nil {
		l.cache.Set(pkg.Name, files)
	}
	return files
}

// Forget drops any cached state of a package
func (l *Library) Forget(name string) {
	if l.cache != nil {
		l.cache.Invalidate(name)
	}
}

// SourcePath returns the absolute source path of a payload-relative file
func (l *Library) SourcePath(pkg domain.Package, rel string) string {
	return filepath.Join(pkg.Root, filepath.FromSlash(rel))
}

// Uninstall removes a package folder with its payload and manifest
func (l *Library) Uninstall(ctx context.Context, name string) error {
	pkg, err := l.Get(ctx, name)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !isSubPath(l.dir, pkg.Root) || pkg.Root == l.dir {
		return domain.NewAppError(domain.ErrValidationFailed, "package folder escapes the packages directory", 422,
			map[string]any{"package": name})
	}

	if err := l.fs.RemoveAll(pkg.Root); err != nil {
		return domain.NewAppErrorWithCause(domain.ErrIOFailure, "failed to remove package", 500, err,
			map[string]any{"package": name})
	}
	l.Forget(name)

	log.Info().Str("package", name).Str("root", pkg.Root).Msg("Package uninstalled")
	return nil
}

// isSubPath checks if child is a subpath of parent
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
