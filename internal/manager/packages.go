package manager

import (
	"context"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// List returns every installed package with its persisted flags
func (m *Manager) List(ctx context.Context) ([]domain.PackageInfo, error) {
	packages, err := m.library.List(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]domain.PackageInfo, 0, len(packages))
	for _, pkg := range packages {
		info, err := m.info(ctx, pkg)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Info returns one package's listing view
func (m *Manager) Info(ctx context.Context, name string) (domain.PackageInfo, error) {
	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return domain.PackageInfo{}, err
	}
	return m.info(ctx, pkg)
}

func (m *Manager) info(ctx context.Context, pkg domain.Package) (domain.PackageInfo, error) {
	st, _ := m.states.Get(pkg.Name)
	info := domain.PackageInfo{
		Name:   pkg.Name,
		Folder: pkg.Folder,
		State:  st,
	}

	manifest, err := m.manifests.Load(ctx, pkg)
	if err != nil {
		return info, err
	}
	if manifest != nil {
		info.HasManifest = true
		info.FileCount = manifest.FileCount()
		return info, nil
	}

	files, err := m.library.FileSet(ctx, pkg)
	if err != nil {
		return info, err
	}
	info.FileCount = len(files)
	return info, nil
}

// Integrity checks a package against its manifest without changing anything
func (m *Manager) Integrity(ctx context.Context, name string) (domain.IntegrityReport, error) {
	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return domain.IntegrityReport{}, err
	}
	return m.checker.Check(ctx, pkg)
}

// RecordManifest snapshots the package's current tree as its manifest
func (m *Manager) RecordManifest(ctx context.Context, name string) (*domain.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.manifests.Record(ctx, pkg)
}

// SetFlags updates the favorite and ignored flags; nil leaves a flag untouched
func (m *Manager) SetFlags(ctx context.Context, name string, favorite, ignored *bool) (domain.PackageState, error) {
	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return domain.PackageState{}, err
	}
	return m.states.SetFlags(ctx, pkg.Name, favorite, ignored)
}

// Owner reports which enabled package provides a target path
func (m *Manager) Owner(ctx context.Context, rel string) (string, bool, error) {
	return m.engine.Owner(ctx, rel)
}

// Enabled returns the enabled package names in enable order
func (m *Manager) Enabled() []string {
	return m.states.EnabledPackages()
}
