// Package testutil holds fixtures shared by package-level tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// Workspace is a packages directory plus a target directory on one filesystem
type Workspace struct {
	Fs          afero.Fs
	Root        string
	PackagesDir string
	TargetDir   string
	DataDir     string
}

// NewOsWorkspace creates a workspace on the real filesystem under t.TempDir().
// Needed for anything involving symbolic links.
func NewOsWorkspace(t *testing.T) *Workspace {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return newWorkspace(t, afero.NewOsFs(), root)
}

// NewMemWorkspace creates a workspace on an in-memory filesystem
func NewMemWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return newWorkspace(t, afero.NewMemMapFs(), string(filepath.Separator)+"ws")
}

func newWorkspace(t *testing.T, fs afero.Fs, root string) *Workspace {
	w := &Workspace{
		Fs:          fs,
		Root:        root,
		PackagesDir: filepath.Join(root, "mods"),
		TargetDir:   filepath.Join(root, "game"),
		DataDir:     filepath.Join(root, "data"),
	}
	for _, dir := range []string{w.PackagesDir, w.TargetDir, w.DataDir} {
		require.NoError(t, fs.MkdirAll(dir, 0755))
	}
	return w
}

// AddPackage creates a package folder with the given payload files (slash-separated paths)
func (w *Workspace) AddPackage(t *testing.T, folder string, files map[string]string) string {
	t.Helper()

	root := filepath.Join(w.PackagesDir, folder)
	require.NoError(t, w.Fs.MkdirAll(root, 0755))
	for rel, content := range files {
		w.AddFile(t, folder, rel, content)
	}
	return root
}

// AddFile writes one payload file into a package folder
func (w *Workspace) AddFile(t *testing.T, folder, rel, content string) {
	t.Helper()

	p := filepath.Join(w.PackagesDir, folder, filepath.FromSlash(rel))
	require.NoError(t, w.Fs.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, afero.WriteFile(w.Fs, p, []byte(content), 0644))
}

// RemoveFile deletes one payload file from a package folder
func (w *Workspace) RemoveFile(t *testing.T, folder, rel string) {
	t.Helper()
	require.NoError(t, w.Fs.Remove(filepath.Join(w.PackagesDir, folder, filepath.FromSlash(rel))))
}

// AddTargetFile writes a file directly into the target directory
func (w *Workspace) AddTargetFile(t *testing.T, rel, content string) {
	t.Helper()

	p := w.TargetPath(rel)
	require.NoError(t, w.Fs.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, afero.WriteFile(w.Fs, p, []byte(content), 0644))
}

// TargetPath returns the absolute target path of a slash-separated relative path
func (w *Workspace) TargetPath(rel string) string {
	return filepath.Join(w.TargetDir, filepath.FromSlash(rel))
}

// SourcePath returns the absolute path of a payload file
func (w *Workspace) SourcePath(folder, rel string) string {
	return filepath.Join(w.PackagesDir, folder, filepath.FromSlash(rel))
}

// TargetTree returns every entry under the target directory as relative path to content.
// Directories map to "/" so empty-directory cleanup is observable.
func (w *Workspace) TargetTree(t *testing.T) map[string]string {
	t.Helper()

	tree := map[string]string{}
	err := afero.Walk(w.Fs, w.TargetDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == w.TargetDir {
			return nil
		}
		rel, _ := filepath.Rel(w.TargetDir, p)
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			tree[rel] = "/"
			return nil
		}
		data, err := afero.ReadFile(w.Fs, p)
		if err != nil {
			tree[rel] = "<broken>"
			return nil
		}
		tree[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

// ReadTarget reads a deployed file, following links
func (w *Workspace) ReadTarget(t *testing.T, rel string) (string, bool) {
	t.Helper()

	data, err := afero.ReadFile(w.Fs, w.TargetPath(rel))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// LinkDest returns the destination of a deployed symbolic link
func (w *Workspace) LinkDest(t *testing.T, rel string) (string, bool) {
	t.Helper()

	reader, ok := w.Fs.(afero.LinkReader)
	if !ok {
		return "", false
	}
	dest, err := reader.ReadlinkIfPossible(w.TargetPath(rel))
	if err != nil {
		return "", false
	}
	return dest, true
}

// IsLink reports whether a target entry is a symbolic link
func (w *Workspace) IsLink(t *testing.T, rel string) bool {
	t.Helper()

	lstater, ok := w.Fs.(afero.Lstater)
	if !ok {
		return false
	}
	info, _, err := lstater.LstatIfPossible(w.TargetPath(rel))
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// Files returns the keys of a tree that are files, for set comparisons
func Files(tree map[string]string) []string {
	var files []string
	for rel, content := range tree {
		if content != "/" {
			files = append(files, rel)
		}
	}
	return files
}

// HasPrefix reports whether any tree key starts with prefix
func HasPrefix(tree map[string]string, prefix string) bool {
	for rel := range tree {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}
