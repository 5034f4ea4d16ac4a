package deploy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// ConvertLinksToCopies replaces every link in the target that points into an
// enabled package with a copy of the file it points to. Used when leaving
// Link mode so the target keeps working without the packages directory.
func (e *Engine) ConvertLinksToCopies(ctx context.Context) (domain.ConversionResult, error) {
	_, target := e.settings()
	var result domain.ConversionResult

	if err := e.checkTarget(target); err != nil {
		return result, err
	}

	enabled := e.otherEnabled(ctx, "")
	seen := make(map[string]struct{})

	for _, pkg := range enabled {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		files, err := e.packages.FileSet(ctx, pkg)
		if err != nil {
			log.Warn().Err(err).Str("package", pkg.Name).Msg("Skipping package during link conversion")
			continue
		}

		for _, rel := range files {
			if _, done := seen[rel]; done {
				continue
			}
			seen[rel] = struct{}{}

			dst := filepath.Join(target, filepath.FromSlash(rel))
			info, err := lstat(e.fs, dst)
			if err != nil || !isSymlink(info) {
				continue
			}
			dest, err := readLink(e.fs, dst)
			if err != nil {
				result.Failed++
				continue
			}
			if !e.ownedByAny(dest, enabled) {
				continue
			}

			// copyFile drops the link before writing
			if err := copyFile(e.fs, dest, dst); err != nil {
				log.Debug().Err(err).Str("path", rel).Msg("Link conversion failed")
				result.Failed++
				continue
			}
			result.Converted++
		}
	}

	log.Info().Int("converted", result.Converted).Int("failed", result.Failed).Msg("Links converted to copies")
	return result, nil
}

func (e *Engine) ownedByAny(dest string, packages []domain.Package) bool {
	for _, p := range packages {
		if pointsInto(dest, p.Root) {
			return true
		}
	}
	return false
}

// Owner reports which enabled package currently provides a target path.
// In Link mode it follows the link; in Copy mode the most recently enabled
// provider wins, matching how copies overwrite each other.
func (e *Engine) Owner(ctx context.Context, rel string) (string, bool, error) {
	strategy, target := e.settings()
	if err := e.checkTarget(target); err != nil {
		return "", false, err
	}

	rel = filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	dst := filepath.Join(target, filepath.FromSlash(rel))
	if !pointsInto(dst, target) {
		return "", false, domain.NewAppError(domain.ErrInvalidInput, "path escapes the target directory", 400,
			map[string]any{"path": rel})
	}

	info, err := lstat(e.fs, dst)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	enabled := e.otherEnabled(ctx, "")

	if isSymlink(info) {
		dest, err := readLink(e.fs, dst)
		if err != nil {
			return "", false, err
		}
		for _, p := range enabled {
			if pointsInto(dest, p.Root) {
				return p.Name, true, nil
			}
		}
		return "", false, nil
	}
	if strategy == domain.StrategyLink {
		// only links are attributed in Link mode
		return "", false, nil
	}

	owner := ""
	for _, p := range enabled {
		files, err := e.packages.FileSet(ctx, p)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f == rel {
				owner = p.Name
				break
			}
		}
	}
	return owner, owner != "", nil
}
