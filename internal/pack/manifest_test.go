package pack

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestStore_RecordAndLoad(t *testing.T) {
	lib, ws := newTestLibrary(t)
	store := NewManifestStore(lib)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	ws.AddPackage(t, "alpha", map[string]string{"a.txt": "aaa", "data/b.bin": "b"})
	pkg, err := lib.Get(ctx, "alpha")
	require.NoError(t, err)

	recorded, err := store.Record(ctx, pkg)
	require.NoError(t, err)
	assert.Equal(t, "alpha", recorded.Package)
	assert.Equal(t, fixed, recorded.RecordedAt)
	assert.Equal(t, 2, recorded.FileCount())

	exists, err := afero.Exists(ws.Fs, store.Path(pkg))
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := store.Load(ctx, pkg)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []string{"a.txt", "data", "data/b.bin"}, loaded.Paths())
	assert.Equal(t, int64(3), loaded.Entries[0].Size)

	// the manifest itself never shows up in a later walk
	entries, err := lib.Walk(ctx, pkg)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestManifestStore_LoadMissingIsNil(t *testing.T) {
	lib, ws := newTestLibrary(t)
	store := NewManifestStore(lib)
	ws.AddPackage(t, "alpha", map[string]string{"a.txt": "a"})

	pkg, err := lib.Get(context.Background(), "alpha")
	require.NoError(t, err)

	manifest, err := store.Load(context.Background(), pkg)
	require.NoError(t, err)
	assert.Nil(t, manifest)
}

const legacyXML = `<?xml version='1.0' encoding='utf-8'?>
<mod>
  <name>Better Trees</name>
  <file_structure>
    <file>data/</file>
    <file size="12" mtime="1700000000.5">data/trees.bin</file>
    <file size="3" mtime="1700000001.0">readme.txt</file>
  </file_structure>
</mod>`

func TestManifestStore_LoadLegacyXML(t *testing.T) {
	lib, ws := newTestLibrary(t)
	store := NewManifestStore(lib)
	ws.AddPackage(t, "Better_Trees", map[string]string{
		"data/trees.bin":      "x",
		"modinfo/modinfo.xml": legacyXML,
	})

	pkg, err := lib.Get(context.Background(), "Better Trees")
	require.NoError(t, err)
	assert.Equal(t, "Better Trees", pkg.Name)

	manifest, err := store.Load(context.Background(), pkg)
	require.NoError(t, err)
	require.NotNil(t, manifest)

	assert.Equal(t, "legacy", manifest.Version)
	assert.Equal(t, "Better Trees", manifest.Package)
	require.Len(t, manifest.Entries, 3)
	assert.Equal(t, "data", manifest.Entries[0].Path)
	assert.True(t, manifest.Entries[0].IsDir)
	assert.Equal(t, int64(12), manifest.Entries[1].Size)
	assert.Equal(t, time.Unix(1700000000, 500000000).UTC(), manifest.Entries[1].ModTime)
}

func TestParseLegacyManifest_NoFileStructure(t *testing.T) {
	manifest, err := ParseLegacyManifest([]byte(`<mod><name>x</name></mod>`))
	require.NoError(t, err)
	assert.Nil(t, manifest)

	_, err = ParseLegacyManifest([]byte(`<mod><name>`))
	assert.Error(t, err)
}

func TestManifestStore_YAMLTakesPrecedence(t *testing.T) {
	lib, ws := newTestLibrary(t)
	store := NewManifestStore(lib)
	ctx := context.Background()
	ws.AddPackage(t, "alpha", map[string]string{
		"a.txt":               "a",
		"modinfo/modinfo.xml": legacyXML,
	})

	pkg, err := lib.Get(ctx, "alpha")
	require.NoError(t, err)
	_, err = store.Record(ctx, pkg)
	require.NoError(t, err)

	manifest, err := store.Load(ctx, pkg)
	require.NoError(t, err)
	assert.Equal(t, "1.0", manifest.Version)
	assert.Equal(t, []string{"a.txt"}, manifest.Paths())
}
