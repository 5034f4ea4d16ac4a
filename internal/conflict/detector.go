// Package conflict finds packages that write the same target paths and keeps
// the user's priority orders for those groups.
package conflict

import (
	"context"
	"slices"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// FileSetSource resolves package names to their deployable file sets
type FileSetSource interface {
	Get(ctx context.Context, name string) (domain.Package, error)
	FileSet(ctx context.Context, pkg domain.Package) ([]string, error)
}

// Detector computes path-set intersections between packages
type Detector struct {
	source FileSetSource
}

// NewDetector creates a new conflict detector
func NewDetector(source FileSetSource) *Detector {
	return &Detector{source: source}
}

// fileSet loads one package's files as a set
func (d *Detector) fileSet(ctx context.Context, name string) (map[string]struct{}, error) {
	pkg, err := d.source.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	files, err := d.source.FileSet(ctx, pkg)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}
	return set, nil
}

// intersect returns the sorted paths present in both sets
func intersect(a, b map[string]struct{}) []string {
	if len(b) < len(a) {
		a, b = b, a
	}
	var shared []string
	for p := range a {
		if _, ok := b[p]; ok {
			shared = append(shared, p)
		}
	}
	slices.Sort(shared)
	return shared
}

// PairwiseConflicts reports every shared path for every pair in names.
// Pairs follow input order and paths are sorted within a pair.
func (d *Detector) PairwiseConflicts(ctx context.Context, names []string) ([]domain.PathConflict, error) {
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(unique, n) {
			unique = append(unique, n)
		}
	}

	sets := make([]map[string]struct{}, len(unique))
	for i, name := range unique {
		set, err := d.fileSet(ctx, name)
		if err != nil {
			return nil, err
		}
		sets[i] = set
	}

	conflicts := []domain.PathConflict{}
	for i := 0; i < len(unique); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(unique); j++ {
			for _, p := range intersect(sets[i], sets[j]) {
				conflicts = append(conflicts, domain.PathConflict{A: unique[i], B: unique[j], Path: p})
			}
		}
	}
	return conflicts, nil
}

// ConflictsAgainstEnabled checks one candidate against the enabled set.
// The candidate's file set is computed once; enabled packages that no longer
// exist are skipped.
func (d *Detector) ConflictsAgainstEnabled(ctx context.Context, candidate string, enabled []string) (domain.ConflictReport, error) {
	report := domain.ConflictReport{
		Candidate:           candidate,
		ConflictingPackages: []string{},
		SharedPaths:         map[string][]string{},
	}

	candidateSet, err := d.fileSet(ctx, candidate)
	if err != nil {
		return report, err
	}
	if len(candidateSet) == 0 {
		return report, nil
	}

	for _, name := range enabled {
		if name == candidate || slices.Contains(report.ConflictingPackages, name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		set, err := d.fileSet(ctx, name)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return report, err
		}

		if shared := intersect(candidateSet, set); len(shared) > 0 {
			report.ConflictingPackages = append(report.ConflictingPackages, name)
			report.SharedPaths[name] = shared
		}
	}

	report.HasConflict = len(report.ConflictingPackages) > 0
	return report, nil
}

// SharedPaths returns the paths two packages both provide
func (d *Detector) SharedPaths(ctx context.Context, a, b string) ([]string, error) {
	setA, err := d.fileSet(ctx, a)
	if err != nil {
		return nil, err
	}
	setB, err := d.fileSet(ctx, b)
	if err != nil {
		return nil, err
	}
	return intersect(setA, setB), nil
}
