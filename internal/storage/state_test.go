package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

func newTestStateStore(t *testing.T) (*StateStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "package_states.json")
	s := NewStateStore(path)
	require.NoError(t, s.Load(context.Background()))
	return s, path
}

// fakeClock returns a clock that advances one second per call
func fakeClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestStateStore_LoadMissingFileIsEmpty(t *testing.T) {
	s, _ := newTestStateStore(t)
	assert.Empty(t, s.All())
	assert.Empty(t, s.EnabledPackages())
	assert.False(t, s.IsEnabled("anything"))
}

func TestStateStore_SetEnabledPersists(t *testing.T) {
	s, path := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, "alpha", true))
	assert.True(t, s.IsEnabled("alpha"))

	reloaded := NewStateStore(path)
	require.NoError(t, reloaded.Load(ctx))
	st, ok := reloaded.Get("alpha")
	require.True(t, ok)
	assert.True(t, st.Enabled)
	assert.False(t, st.EnabledAt.IsZero())
	assert.False(t, st.ImportTime.IsZero())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestStateStore_EnabledPackagesInEnableOrder(t *testing.T) {
	s, _ := newTestStateStore(t)
	s.now = fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, "zeta", true))
	require.NoError(t, s.SetEnabled(ctx, "alpha", true))
	require.NoError(t, s.SetEnabled(ctx, "mid", true))
	require.NoError(t, s.SetEnabled(ctx, "off", false))

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, s.EnabledPackages())

	// re-enabling an already enabled package keeps its position
	require.NoError(t, s.SetEnabled(ctx, "zeta", true))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, s.EnabledPackages())

	require.NoError(t, s.SetEnabled(ctx, "zeta", false))
	require.NoError(t, s.SetEnabled(ctx, "zeta", true))
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, s.EnabledPackages())
}

func TestStateStore_SetFlags(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()
	yes, no := true, false

	st, err := s.SetFlags(ctx, "alpha", &yes, nil)
	require.NoError(t, err)
	assert.True(t, st.Favorite)
	assert.False(t, st.Ignored)

	st, err = s.SetFlags(ctx, "alpha", nil, &yes)
	require.NoError(t, err)
	assert.True(t, st.Favorite, "nil leaves favorite unchanged")
	assert.True(t, st.Ignored)

	st, err = s.SetFlags(ctx, "alpha", &no, &no)
	require.NoError(t, err)
	assert.False(t, st.Favorite)
	assert.False(t, st.Ignored)
}

func TestStateStore_TouchAndDelete(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()
	imported := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Touch(ctx, "alpha", imported))
	st, ok := s.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, imported, st.ImportTime)
	assert.False(t, st.Enabled)

	require.NoError(t, s.Delete(ctx, "alpha"))
	_, ok = s.Get("alpha")
	assert.False(t, ok)
	assert.NoError(t, s.Delete(ctx, "alpha"), "deleting an unknown package is a no-op")
}

func TestStateStore_MigratesBoolMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mod_states.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alpha": true, "beta": false}`), 0644))

	s := NewStateStore(path)
	require.NoError(t, s.Load(context.Background()))

	assert.True(t, s.IsEnabled("alpha"))
	beta, ok := s.Get("beta")
	require.True(t, ok)
	assert.False(t, beta.Enabled)
	assert.Equal(t, true, s.GetStats(context.Background())["migrated"])

	// rewritten in the current layout
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file StateFile
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Equal(t, stateFileVersion, file.Version)
	assert.Len(t, file.Packages, 2)
}

func TestStateStore_MigratesFlatObjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mod_states.json")
	legacy := `{
		"Better Trees": {"enabled": true, "favorite": true, "ignored": false, "import_time": 1700000000.25},
		"Old": {"enabled": false, "import_time": "2024-01-02T03:04:05Z"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	s := NewStateStore(path)
	require.NoError(t, s.Load(context.Background()))

	trees, ok := s.Get("Better Trees")
	require.True(t, ok)
	assert.True(t, trees.Enabled)
	assert.True(t, trees.Favorite)
	assert.Equal(t, time.Unix(1700000000, 250000000).UTC(), trees.ImportTime)

	old, ok := s.Get("Old")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), old.ImportTime)
}

func TestStateStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "package_states.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2"), 0644))

	err := NewStateStore(path).Load(context.Background())
	assert.True(t, domain.HasCode(err, domain.ErrStorage))
}

func TestStateStore_LoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStateStore(filepath.Join(t.TempDir(), "s.json")).Load(ctx)
	assert.True(t, domain.IsTimeout(err))
}

func TestStateStore_SaveFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	// parent of the state file is a regular file, so every save fails
	s := NewStateStore(filepath.Join(blocker, "states.json"))
	err := s.SetEnabled(context.Background(), "alpha", true)
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrStorage))
	_, ok := s.Get("alpha")
	assert.False(t, ok)
}

func TestStateStore_StrategyPersists(t *testing.T) {
	s, path := newTestStateStore(t)
	ctx := context.Background()
	assert.Empty(t, s.Strategy())

	require.NoError(t, s.SetEnabled(ctx, "alpha", true))
	require.NoError(t, s.SetStrategy(ctx, domain.StrategyLink))

	reloaded := NewStateStore(path)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, domain.StrategyLink, reloaded.Strategy())
	assert.True(t, reloaded.IsEnabled("alpha"), "packages survive alongside the strategy")

	err := s.SetStrategy(ctx, domain.Strategy("hardlink"))
	assert.True(t, domain.HasCode(err, domain.ErrInvalidInput))
	assert.Equal(t, domain.StrategyLink, s.Strategy())
}

func TestStateStore_UnknownStoredStrategyIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "package_states.json")
	content := `{"version": "1.0", "strategy": "hardlink", "packages": {"alpha": {"enabled": true}}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s := NewStateStore(path)
	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Strategy())
	assert.True(t, s.IsEnabled("alpha"))
}

func TestStateStore_StrategySaveFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	s := NewStateStore(filepath.Join(blocker, "states.json"))
	err := s.SetStrategy(context.Background(), domain.StrategyLink)
	assert.True(t, domain.HasCode(err, domain.ErrStorage))
	assert.Empty(t, s.Strategy())
}

func TestStateStore_HealthAndStats(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()
	yes := true

	require.NoError(t, s.SetEnabled(ctx, "a", true))
	_, err := s.SetFlags(ctx, "b", &yes, &yes)
	require.NoError(t, err)

	stats := s.GetStats(ctx)
	assert.Equal(t, 2, stats["packages"])
	assert.Equal(t, 1, stats["enabled"])
	assert.Equal(t, 1, stats["favorite"])
	assert.Equal(t, 1, stats["ignored"])

	assert.Equal(t, domain.HealthStatusHealthy, s.HealthCheck(ctx).Status)

	broken := NewStateStore(filepath.Join(t.TempDir(), "gone", "deeper", "s.json"))
	assert.Equal(t, domain.HealthStatusUnhealthy, broken.HealthCheck(ctx).Status)
}
