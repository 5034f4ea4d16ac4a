package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/testutil"
)

func newLinkHarness(t *testing.T) *harness {
	t.Helper()

	h := newHarness(t, testutil.NewOsWorkspace(t), domain.StrategyLink)
	if !h.engine.CanCreateLinks(context.Background()) {
		t.Skipf("symbolic links unavailable: %v", h.engine.links.Reason())
	}
	return h
}

func TestLink_EnableCreatesLinks(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddPackage(t, "alpha", map[string]string{"a.txt": "a", "data/b.bin": "b"})

	res := h.on(t, "alpha")
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Written)

	assert.True(t, h.ws.IsLink(t, "data/b.bin"))
	dest, ok := h.ws.LinkDest(t, "data/b.bin")
	require.True(t, ok)
	assert.Equal(t, h.ws.SourcePath("alpha", "data/b.bin"), dest)

	content, ok := h.ws.ReadTarget(t, "a.txt")
	require.True(t, ok)
	assert.Equal(t, "a", content)
}

func TestLink_EnableReplacesExistingFile(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddTargetFile(t, "a.txt", "vanilla")
	h.ws.AddPackage(t, "alpha", map[string]string{"a.txt": "patched"})

	h.on(t, "alpha")
	assert.True(t, h.ws.IsLink(t, "a.txt"))
	content, _ := h.ws.ReadTarget(t, "a.txt")
	assert.Equal(t, "patched", content)
}

func TestLink_OverrideThenDisableRepointsToRemaining(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddPackage(t, "A", map[string]string{"f1": "A1", "f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"f2": "B2", "f3": "B3"})

	h.on(t, "B")
	h.on(t, "A")
	dest, _ := h.ws.LinkDest(t, "f2")
	assert.Equal(t, h.ws.SourcePath("A", "f2"), dest, "override overwrites the shared path")

	res := h.off(t, "A")
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Repointed)
	assert.Equal(t, "B", res.Fallback)

	tree := h.ws.TargetTree(t)
	assert.NotContains(t, tree, "f1")
	dest, ok := h.ws.LinkDest(t, "f2")
	require.True(t, ok)
	assert.Equal(t, h.ws.SourcePath("B", "f2"), dest)
	assert.Equal(t, "B3", tree["f3"])
}

func TestLink_DisableOnlyMemberRemovesLinks(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddPackage(t, "A", map[string]string{"f1": "A1", "f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"f2": "B2"})

	h.on(t, "B")
	h.on(t, "A")
	h.off(t, "B")

	res := h.off(t, "A")
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Repointed)
	assert.Empty(t, h.ws.TargetTree(t))
}

func TestLink_DisableSkipsPathsOwnedByOthers(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddPackage(t, "A", map[string]string{"f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"f2": "B2"})

	h.on(t, "A")
	h.on(t, "B")

	// f2 now belongs to B; disabling A must not touch it
	res := h.off(t, "A")
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Deleted)
	dest, _ := h.ws.LinkDest(t, "f2")
	assert.Equal(t, h.ws.SourcePath("B", "f2"), dest)
}

func TestLink_DisableRemovesCopiesFromCopyMode(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddPackage(t, "A", map[string]string{"f1": "A1", "sub/f2": "A2"})

	h.engine.SetStrategy(domain.StrategyCopy)
	h.on(t, "A")
	require.False(t, h.ws.IsLink(t, "f1"))

	h.engine.SetStrategy(domain.StrategyLink)
	res := h.off(t, "A")
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Skipped)
	assert.Empty(t, h.ws.TargetTree(t))
}

func TestLink_DisableRepointsCopyToRemainingProvider(t *testing.T) {
	h := newLinkHarness(t)
	h.ws.AddPackage(t, "A", map[string]string{"f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"f2": "B2"})

	h.engine.SetStrategy(domain.StrategyCopy)
	h.on(t, "B")
	h.on(t, "A")

	h.engine.SetStrategy(domain.StrategyLink)
	res := h.off(t, "A")
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Repointed)
	assert.Equal(t, "B", res.Fallback)

	dest, ok := h.ws.LinkDest(t, "f2")
	require.True(t, ok)
	assert.Equal(t, h.ws.SourcePath("B", "f2"), dest)
}

func TestLink_FallbackFollowsSavedOrder(t *testing.T) {
	h := newLinkHarness(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C"} {
		h.ws.AddPackage(t, name, map[string]string{"shared.dat": name})
	}

	h.on(t, "B")
	h.on(t, "C")
	h.on(t, "A")
	require.NoError(t, h.orders.Save(ctx, domain.PriorityOrder{"A", "C", "B"}))

	res := h.off(t, "A")
	assert.Equal(t, "C", res.Fallback, "the next enabled package in the saved order takes over")
	content, _ := h.ws.ReadTarget(t, "shared.dat")
	assert.Equal(t, "C", content)
}

func TestLink_OrderedEnableKeepsHigherPriority(t *testing.T) {
	h := newLinkHarness(t)
	ctx := context.Background()
	h.ws.AddPackage(t, "A", map[string]string{"f1": "A1", "f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"f2": "B2"})

	h.on(t, "B")
	order := domain.PriorityOrder{"B", "A"}
	require.NoError(t, h.orders.Save(ctx, order))

	res, err := h.engine.ApplyOrdered(ctx, h.pkg(t, "A"), order)
	require.NoError(t, err)
	h.enabled.add("A")
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Skipped)

	dest, _ := h.ws.LinkDest(t, "f2")
	assert.Equal(t, h.ws.SourcePath("B", "f2"), dest)

	// disabling B hands f2 to A, the next enabled package in the order
	off := h.off(t, "B")
	assert.Equal(t, "A", off.Fallback)
	dest, _ = h.ws.LinkDest(t, "f2")
	assert.Equal(t, h.ws.SourcePath("A", "f2"), dest)
}

func TestLink_ConvertLinksToCopies(t *testing.T) {
	h := newLinkHarness(t)
	ctx := context.Background()
	h.ws.AddPackage(t, "A", map[string]string{"f1": "A1", "sub/f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"sub/f2": "B2"})

	h.on(t, "A")
	h.on(t, "B")

	res, err := h.engine.ConvertLinksToCopies(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Converted)
	assert.Zero(t, res.Failed)

	assert.False(t, h.ws.IsLink(t, "f1"))
	assert.False(t, h.ws.IsLink(t, "sub/f2"))
	content, _ := h.ws.ReadTarget(t, "sub/f2")
	assert.Equal(t, "B2", content, "the copy keeps the content the link pointed at")
}

func TestOwner(t *testing.T) {
	h := newLinkHarness(t)
	ctx := context.Background()
	h.ws.AddPackage(t, "A", map[string]string{"f1": "A1", "f2": "A2"})
	h.ws.AddPackage(t, "B", map[string]string{"f2": "B2"})
	h.ws.AddTargetFile(t, "vanilla.txt", "v")

	h.on(t, "A")
	h.on(t, "B")

	owner, ok, err := h.engine.Owner(ctx, "f2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", owner)

	_, ok, err = h.engine.Owner(ctx, "vanilla.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = h.engine.Owner(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = h.engine.Owner(ctx, "../escape")
	assert.True(t, domain.HasCode(err, domain.ErrInvalidInput))

	// after conversion Copy mode attributes by enable order
	_, err = h.engine.ConvertLinksToCopies(ctx)
	require.NoError(t, err)
	h.engine.SetStrategy(domain.StrategyCopy)
	owner, ok, err = h.engine.Owner(ctx, "f2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", owner)
	owner, _, _ = h.engine.Owner(ctx, "f1")
	assert.Equal(t, "A", owner)
}
