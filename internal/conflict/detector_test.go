package conflict

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// staticSource serves fixed file sets without touching a filesystem
type staticSource map[string][]string

func (s staticSource) Get(ctx context.Context, name string) (domain.Package, error) {
	if _, ok := s[name]; !ok {
		return domain.Package{}, domain.PackageNotFound(name)
	}
	return domain.Package{Name: name, Folder: name}, nil
}

func (s staticSource) FileSet(ctx context.Context, pkg domain.Package) ([]string, error) {
	return s[pkg.Name], nil
}

func TestConflictsAgainstEnabled_Scenario(t *testing.T) {
	d := NewDetector(staticSource{
		"A": {"f1", "f2"},
		"B": {"f2", "f3"},
	})

	report, err := d.ConflictsAgainstEnabled(context.Background(), "A", []string{"B"})
	require.NoError(t, err)
	assert.True(t, report.HasConflict)
	assert.Equal(t, []string{"B"}, report.ConflictingPackages)
	assert.Equal(t, []string{"f2"}, report.SharedPaths["B"])
}

func TestConflictsAgainstEnabled_SkipsCandidateAndMissing(t *testing.T) {
	d := NewDetector(staticSource{
		"A": {"f1"},
		"C": {"f9"},
	})

	report, err := d.ConflictsAgainstEnabled(context.Background(), "A", []string{"A", "gone", "C"})
	require.NoError(t, err)
	assert.False(t, report.HasConflict)
	assert.Empty(t, report.ConflictingPackages)
}

func TestConflictsAgainstEnabled_UnknownCandidate(t *testing.T) {
	d := NewDetector(staticSource{})
	_, err := d.ConflictsAgainstEnabled(context.Background(), "nope", nil)
	assert.True(t, domain.IsNotFound(err))
}

func TestConflictsAgainstEnabled_KeepsEnabledOrder(t *testing.T) {
	d := NewDetector(staticSource{
		"A": {"x", "y"},
		"B": {"y"},
		"C": {"x"},
	})

	report, err := d.ConflictsAgainstEnabled(context.Background(), "A", []string{"C", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B"}, report.ConflictingPackages)
}

func TestPairwiseConflicts(t *testing.T) {
	d := NewDetector(staticSource{
		"A": {"f1", "f2", "shared"},
		"B": {"f2", "f3", "shared"},
		"C": {"f4"},
	})

	conflicts, err := d.PairwiseConflicts(context.Background(), []string{"A", "B", "C", "A"})
	require.NoError(t, err)
	assert.Equal(t, []domain.PathConflict{
		{A: "A", B: "B", Path: "f2"},
		{A: "A", B: "B", Path: "shared"},
	}, conflicts)
}

func TestSharedPaths(t *testing.T) {
	d := NewDetector(staticSource{
		"A": {"a", "b", "c"},
		"B": {"c", "b"},
	})

	shared, err := d.SharedPaths(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, shared)
}

func TestProperty_DisjointSetsNeverConflict(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("packages with disjoint file sets report no conflict in either mode", prop.ForAll(
		func(sizeA, sizeB int) bool {
			src := staticSource{}
			for i := 0; i < sizeA; i++ {
				src["A"] = append(src["A"], fmt.Sprintf("a/%d.dat", i))
			}
			for i := 0; i < sizeB; i++ {
				src["B"] = append(src["B"], fmt.Sprintf("b/%d.dat", i))
			}
			d := NewDetector(src)
			ctx := context.Background()

			report, err := d.ConflictsAgainstEnabled(ctx, "A", []string{"B"})
			if err != nil || report.HasConflict {
				return false
			}
			pairs, err := d.PairwiseConflicts(ctx, []string{"A", "B"})
			return err == nil && len(pairs) == 0
		},
		gen.IntRange(1, 30),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_PairwiseIsSymmetric(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("the number of shared paths does not depend on argument order", prop.ForAll(
		func(a, b []int) bool {
			src := staticSource{"A": nil, "B": nil}
			for _, n := range a {
				src["A"] = append(src["A"], fmt.Sprintf("%d", n))
			}
			for _, n := range b {
				src["B"] = append(src["B"], fmt.Sprintf("%d", n))
			}
			d := NewDetector(src)
			ctx := context.Background()

			ab, err1 := d.PairwiseConflicts(ctx, []string{"A", "B"})
			ba, err2 := d.PairwiseConflicts(ctx, []string{"B", "A"})
			return err1 == nil && err2 == nil && len(ab) == len(ba)
		},
		gen.SliceOf(gen.IntRange(0, 20)),
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
