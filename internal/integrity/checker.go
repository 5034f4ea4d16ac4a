// Package integrity compares a package's payload on disk with its recorded manifest.
package integrity

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/pack"
)

// Checker verifies packages against their manifests by path presence.
// Recorded size and modification time are informational and never compared.
type Checker struct {
	library   *pack.Library
	manifests *pack.ManifestStore
}

// NewChecker creates a Checker
func NewChecker(library *pack.Library, manifests *pack.ManifestStore) *Checker {
	return &Checker{library: library, manifests: manifests}
}

// Check walks the package and diffs its paths against the manifest.
// A package without a manifest is complete.
func (c *Checker) Check(ctx context.Context, pkg domain.Package) (domain.IntegrityReport, error) {
	report := domain.IntegrityReport{
		Package:  pkg.Name,
		Complete: true,
		Missing:  []string{},
		Extra:    []string{},
	}

	manifest, err := c.manifests.Load(ctx, pkg)
	if err != nil {
		return report, err
	}

	entries, err := c.library.Walk(ctx, pkg)
	if err != nil {
		return report, err
	}
	// a fresh walk is the best file set there is
	c.library.Remember(pkg, entries)

	if manifest == nil {
		return report, nil
	}
	report.HasManifest = true

	onDisk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		onDisk[e.Path] = struct{}{}
	}

	recorded := make(map[string]struct{}, len(manifest.Entries))
	for _, e := range manifest.Entries {
		// legacy manifests may list metadata paths; those are never payload
		if c.library.Excluded(e.Path) {
			continue
		}
		recorded[e.Path] = struct{}{}
		// only files count as missing; directories carry no payload
		if e.IsDir {
			continue
		}
		if _, ok := onDisk[e.Path]; !ok {
			report.Missing = append(report.Missing, e.Path)
		}
	}

	for _, e := range entries {
		if _, ok := recorded[e.Path]; !ok {
			report.Extra = append(report.Extra, e.Path)
		}
	}

	slices.Sort(report.Missing)
	report.Missing = slices.Compact(report.Missing)
	slices.Sort(report.Extra)

	report.Complete = len(report.Missing) == 0 && len(report.Extra) == 0
	if !report.Complete {
		log.Warn().
			Str("package", pkg.Name).
			Int("missing", len(report.Missing)).
			Int("extra", len(report.Extra)).
			Msg("Package differs from its manifest")
	}

	return report, nil
}
