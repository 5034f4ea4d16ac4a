// Package deploy materializes package payloads in the target directory,
// either as copies or as symbolic links back into the packages directory.
package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// PackageSource resolves packages and their deployable files
type PackageSource interface {
	Get(ctx context.Context, name string) (domain.Package, error)
	FileSet(ctx context.Context, pkg domain.Package) ([]string, error)
	SourcePath(pkg domain.Package, rel string) string
}

// EnabledLister returns enabled package names, oldest enable first
type EnabledLister interface {
	EnabledPackages() []string
}

// GroupSource returns the saved priority orders that include a package
type GroupSource interface {
	GroupsContaining(name string) []domain.ConflictGroup
}

// Config holds configuration for the Engine
type Config struct {
	TargetDir string
	Strategy  domain.Strategy
}

// Engine applies and removes packages in the target directory.
// Callers serialize Apply calls; the engine does not lock the target tree.
type Engine struct {
	fs       afero.Fs
	packages PackageSource
	enabled  EnabledLister
	groups   GroupSource

	mu        sync.RWMutex
	targetDir string
	strategy  domain.Strategy
	links     *LinkCapability
}

// linkError marks a failure of the link creation itself, as opposed to
// removing what was in the way
type linkError struct {
	err error
}

func (e *linkError) Error() string { return "create link: " + e.err.Error() }
func (e *linkError) Unwrap() error { return e.err }

// NewEngine creates a deployment engine
func NewEngine(fs afero.Fs, config Config, packages PackageSource, enabled EnabledLister, groups GroupSource) *Engine {
	strategy := config.Strategy
	if strategy == "" {
		strategy = domain.StrategyCopy
	}

	targetDir := config.TargetDir
	if targetDir != "" {
		if abs, err := filepath.Abs(targetDir); err == nil {
			targetDir = abs
		}
	}

	return &Engine{
		fs:        fs,
		packages:  packages,
		enabled:   enabled,
		groups:    groups,
		targetDir: targetDir,
		strategy:  strategy,
		links:     NewLinkCapability(fs, targetDir),
	}
}

// Strategy returns the active deployment strategy
func (e *Engine) Strategy() domain.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy
}

// SetStrategy switches the deployment strategy for subsequent calls.
// Files already deployed are left as they are. Entering Link mode probes
// link capability again, since rights may have changed since the last probe.
func (e *Engine) SetStrategy(strategy domain.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.strategy == strategy {
		return
	}
	log.Info().Str("from", string(e.strategy)).Str("to", string(strategy)).Msg("Deployment strategy changed")
	if strategy == domain.StrategyLink {
		e.links.Reset()
	}
	e.strategy = strategy
}

// TargetDir returns the absolute target directory, empty when unset
func (e *Engine) TargetDir() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.targetDir
}

// CanCreateLinks reports the memoized link capability of the target directory
func (e *Engine) CanCreateLinks(ctx context.Context) bool {
	return e.links.CanCreateLinks(ctx)
}

func (e *Engine) settings() (domain.Strategy, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy, e.targetDir
}

// CheckTarget fails when the target directory is unset or does not exist
func (e *Engine) CheckTarget() error {
	_, target := e.settings()
	return e.checkTarget(target)
}

func (e *Engine) checkTarget(target string) error {
	if target == "" {
		return domain.NewAppError(domain.ErrTargetUnavailable, "target directory is not configured", 412, nil)
	}
	ok, err := afero.DirExists(e.fs, target)
	if err != nil || !ok {
		return domain.NewAppErrorWithCause(domain.ErrTargetUnavailable, "target directory does not exist", 412, err,
			map[string]any{"target": target})
	}
	return nil
}

// Apply enables or disables a package. Conflicting paths are overwritten on
// enable. The error return is reserved for failed preconditions, raised
// before anything is written; per-file failures are only counted.
func (e *Engine) Apply(ctx context.Context, pkg domain.Package, enable bool) (domain.ApplyResult, error) {
	if enable {
		return e.enable(ctx, pkg, nil)
	}
	return e.disable(ctx, pkg)
}

// ApplyOrdered enables a package honoring a priority order: in Link mode a
// path already linked to an enabled package ranked before pkg is left alone.
// Copy mode cannot honor an order and behaves like Apply.
func (e *Engine) ApplyOrdered(ctx context.Context, pkg domain.Package, order domain.PriorityOrder) (domain.ApplyResult, error) {
	return e.enable(ctx, pkg, order)
}

func (e *Engine) enable(ctx context.Context, pkg domain.Package, order domain.PriorityOrder) (domain.ApplyResult, error) {
	strategy, target := e.settings()
	result := domain.ApplyResult{Package: pkg.Name, Enable: true, Strategy: strategy}

	if err := e.checkTarget(target); err != nil {
		return result, err
	}
	files, err := e.packages.FileSet(ctx, pkg)
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		return finalize(result), nil
	}

	var outranking map[string]string
	if strategy == domain.StrategyLink {
		if !e.links.CanCreateLinks(ctx) {
			reason := e.links.Reason()
			if errors.Is(reason, errLinksUnsupported) {
				return result, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "filesystem does not support symbolic links", 400, reason, nil)
			}
			if !isPrivilegeError(reason) {
				return result, domain.NewAppErrorWithCause(domain.ErrIOFailure, "cannot create symbolic links in the target directory", 500, reason,
					map[string]any{"target": target})
			}
			result.ElevationRequired = true
			result.Outcome = domain.OutcomeFailed
			log.Warn().Str("package", pkg.Name).Msg("Link deployment needs elevated privileges")
			return result, nil
		}
		outranking = e.outranking(ctx, pkg, order)
	}

	for _, rel := range files {
		dst := filepath.Join(target, filepath.FromSlash(rel))
		src := e.packages.SourcePath(pkg, rel)

		if _, err := e.fs.Stat(src); err != nil {
			if os.IsNotExist(err) {
				result.SourceMissing++
			}
			e.countFailure(&result, err, rel)
			continue
		}
		if err := e.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			e.countFailure(&result, err, rel)
			continue
		}

		switch strategy {
		case domain.StrategyLink:
			if owner := e.linkedToAny(dst, outranking); owner != "" {
				log.Debug().Str("package", pkg.Name).Str("path", rel).Str("owner", owner).Msg("Path kept by higher priority package")
				result.Skipped++
				continue
			}
			err = e.link(src, dst)
		default:
			err = copyFile(e.fs, src, dst)
		}
		if err != nil {
			e.countFailure(&result, err, rel)
			continue
		}
		result.Written++
	}

	result = finalize(result)
	e.logResult(result)
	return result, nil
}

func (e *Engine) disable(ctx context.Context, pkg domain.Package) (domain.ApplyResult, error) {
	strategy, target := e.settings()
	result := domain.ApplyResult{Package: pkg.Name, Enable: false, Strategy: strategy}

	if err := e.checkTarget(target); err != nil {
		return result, err
	}
	files, err := e.packages.FileSet(ctx, pkg)
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		return finalize(result), nil
	}

	touched := make(map[string]struct{})

	switch strategy {
	case domain.StrategyLink:
		fallback, provides := e.fallbackFor(ctx, pkg, files)
		for _, rel := range files {
			dst := filepath.Join(target, filepath.FromSlash(rel))
			info, err := lstat(e.fs, dst)
			if err != nil {
				if !os.IsNotExist(err) {
					e.countFailure(&result, err, rel)
				}
				continue
			}
			if info.IsDir() {
				result.Skipped++
				continue
			}
			// regular files are copies left from Copy mode and go like our own links
			if isSymlink(info) {
				dest, err := readLink(e.fs, dst)
				if err != nil {
					e.countFailure(&result, err, rel)
					continue
				}
				if !pointsInto(dest, pkg.Root) {
					// materialized from another package
					result.Skipped++
					continue
				}
			}

			touched[filepath.Dir(dst)] = struct{}{}
			if _, ok := provides[rel]; ok {
				if err := e.link(e.packages.SourcePath(fallback, rel), dst); err != nil {
					e.countFailure(&result, err, rel)
					continue
				}
				result.Repointed++
				continue
			}
			if err := e.fs.Remove(dst); err != nil {
				e.countFailure(&result, err, rel)
				continue
			}
			result.Deleted++
		}
		if result.Repointed > 0 {
			result.Fallback = fallback.Name
		}

	default:
		providers := e.copyProviders(ctx, pkg)
		for _, rel := range files {
			dst := filepath.Join(target, filepath.FromSlash(rel))
			info, err := lstat(e.fs, dst)
			if err != nil {
				if !os.IsNotExist(err) {
					e.countFailure(&result, err, rel)
				}
				continue
			}
			if info.IsDir() {
				result.Skipped++
				continue
			}

			touched[filepath.Dir(dst)] = struct{}{}
			if provider, ok := providers[rel]; ok {
				if err := copyFile(e.fs, e.packages.SourcePath(provider, rel), dst); err != nil {
					e.countFailure(&result, err, rel)
					continue
				}
				result.Repointed++
				continue
			}
			if err := e.fs.Remove(dst); err != nil {
				e.countFailure(&result, err, rel)
				continue
			}
			result.Deleted++
		}
	}

	removed := removeEmptyDirs(e.fs, target, touched)
	log.Debug().Str("package", pkg.Name).Int("dirs", removed).Msg("Removed empty directories")

	result = finalize(result)
	e.logResult(result)
	return result, nil
}

// link replaces whatever is at dst with a link to src
func (e *Engine) link(src, dst string) error {
	if abs, err := filepath.Abs(src); err == nil {
		src = abs
	}
	if err := removeEntry(e.fs, dst); err != nil {
		return err
	}
	if err := symlink(e.fs, src, dst); err != nil {
		return &linkError{err: err}
	}
	return nil
}

func (e *Engine) countFailure(result *domain.ApplyResult, err error, rel string) {
	result.Failed++

	var le *linkError
	if errors.As(err, &le) && isPrivilegeError(le.err) {
		result.PrivilegeFailures++
		log.Warn().Err(err).Str("package", result.Package).Str("path", rel).Msg("Link creation denied")
		return
	}
	log.Debug().Err(err).Str("package", result.Package).Str("path", rel).Msg("File operation failed")
}

// otherEnabled returns the enabled packages except name, in enable order
func (e *Engine) otherEnabled(ctx context.Context, name string) []domain.Package {
	if e.enabled == nil {
		return nil
	}

	var packages []domain.Package
	for _, other := range e.enabled.EnabledPackages() {
		if other == name {
			continue
		}
		p, err := e.packages.Get(ctx, other)
		if err != nil {
			log.Debug().Err(err).Str("package", other).Msg("Enabled package not installed")
			continue
		}
		packages = append(packages, p)
	}
	return packages
}

// outranking maps the roots of enabled packages that come before pkg in order to their names
func (e *Engine) outranking(ctx context.Context, pkg domain.Package, order domain.PriorityOrder) map[string]string {
	before := order.Before(pkg.Name)
	if len(before) == 0 {
		return nil
	}

	roots := make(map[string]string)
	for _, other := range e.otherEnabled(ctx, pkg.Name) {
		if domain.PriorityOrder(before).Contains(other.Name) {
			roots[other.Root] = other.Name
		}
	}
	return roots
}

// linkedToAny returns the package whose root the link at dst points into, if listed
func (e *Engine) linkedToAny(dst string, roots map[string]string) string {
	if len(roots) == 0 {
		return ""
	}
	info, err := lstat(e.fs, dst)
	if err != nil || !isSymlink(info) {
		return ""
	}
	dest, err := readLink(e.fs, dst)
	if err != nil {
		return ""
	}
	for root, name := range roots {
		if pointsInto(dest, root) {
			return name
		}
	}
	return ""
}

// fallbackFor picks the package that takes over pkg's shared paths on disable:
// the next enabled package after pkg in a saved order (groups in key order),
// otherwise the first enabled package sharing a path with it
func (e *Engine) fallbackFor(ctx context.Context, pkg domain.Package, files []string) (domain.Package, map[string]struct{}) {
	others := e.otherEnabled(ctx, pkg.Name)
	if len(others) == 0 {
		return domain.Package{}, nil
	}

	byName := make(map[string]domain.Package, len(others))
	for _, p := range others {
		byName[p.Name] = p
	}
	own := make(map[string]struct{}, len(files))
	for _, rel := range files {
		own[rel] = struct{}{}
	}

	shared := func(p domain.Package) map[string]struct{} {
		theirs, err := e.packages.FileSet(ctx, p)
		if err != nil {
			return nil
		}
		common := make(map[string]struct{})
		for _, rel := range theirs {
			if _, ok := own[rel]; ok {
				common[rel] = struct{}{}
			}
		}
		return common
	}

	if e.groups != nil {
		for _, group := range e.groups.GroupsContaining(pkg.Name) {
			for _, name := range group.Order.After(pkg.Name) {
				p, ok := byName[name]
				if !ok {
					continue
				}
				if common := shared(p); len(common) > 0 {
					return p, common
				}
			}
		}
	}

	for _, p := range others {
		if common := shared(p); len(common) > 0 {
			return p, common
		}
	}
	return domain.Package{}, nil
}

// copyProviders maps each path of pkg to the most recently enabled other
// package that also provides it
func (e *Engine) copyProviders(ctx context.Context, pkg domain.Package) map[string]domain.Package {
	providers := make(map[string]domain.Package)
	for _, p := range e.otherEnabled(ctx, pkg.Name) {
		files, err := e.packages.FileSet(ctx, p)
		if err != nil {
			continue
		}
		for _, rel := range files {
			providers[rel] = p
		}
	}
	return providers
}

// finalize derives OK and Outcome from the counts
func finalize(r domain.ApplyResult) domain.ApplyResult {
	if r.PrivilegeFailures > 0 {
		r.ElevationRequired = true
	}

	succeeded := r.Succeeded() + r.Skipped
	switch {
	case r.Failed == 0 && succeeded == 0:
		r.OK = true
		r.Outcome = domain.OutcomeNoop
	case r.Failed == 0:
		r.OK = true
		r.Outcome = domain.OutcomeOK
	case succeeded > 0:
		r.Outcome = domain.OutcomePartial
		// link partials without privilege trouble are still usable
		r.OK = r.Enable && r.Strategy == domain.StrategyLink && r.PrivilegeFailures == 0
	default:
		r.OK = false
		r.Outcome = domain.OutcomeFailed
	}
	return r
}

func (e *Engine) logResult(r domain.ApplyResult) {
	event := log.Info()
	if !r.OK {
		event = log.Warn()
	}
	action := "disable"
	if r.Enable {
		action = "enable"
	}
	event.
		Str("package", r.Package).
		Str("action", action).
		Str("strategy", string(r.Strategy)).
		Str("outcome", string(r.Outcome)).
		Int("written", r.Written).
		Int("deleted", r.Deleted).
		Int("repointed", r.Repointed).
		Int("skipped", r.Skipped).
		Int("failed", r.Failed).
		Msgf("Package %s applied", action)
}
