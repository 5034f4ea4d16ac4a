package deploy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// errPrivilegeNotHeld is ERROR_PRIVILEGE_NOT_HELD, returned on Windows when
// symbolic links need developer mode or an elevated process
const errPrivilegeNotHeld syscall.Errno = 1314

var errLinksUnsupported = errors.New("filesystem does not support symbolic links")

// isPrivilegeError reports whether a link failure was caused by missing rights
func isPrivilegeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPERM || errno == syscall.EACCES || errno == errPrivilegeNotHeld
	}
	return false
}

// lstat stats name without following a final symbolic link when the Fs allows it
func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

func isSymlink(info os.FileInfo) bool {
	return info != nil && info.Mode()&os.ModeSymlink != 0
}

// readLink returns the destination of the link at name
func readLink(fsys afero.Fs, name string) (string, error) {
	r, ok := fsys.(afero.LinkReader)
	if !ok {
		return "", errLinksUnsupported
	}
	dest, err := r.ReadlinkIfPossible(name)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(name), dest)
	}
	return filepath.Clean(dest), nil
}

// symlink creates newname pointing at oldname
func symlink(fsys afero.Fs, oldname, newname string) error {
	l, ok := fsys.(afero.Linker)
	if !ok {
		return errLinksUnsupported
	}
	return l.SymlinkIfPossible(oldname, newname)
}

// removeEntry deletes a file or link; a directory in the way is an error
func removeEntry(fsys afero.Fs, name string) error {
	info, err := lstat(fsys, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() && !isSymlink(info) {
		return fmt.Errorf("%s is a directory", name)
	}
	return fsys.Remove(name)
}

// copyFile copies src to dst, replacing whatever is at dst. A link at dst is
// removed first so the write never lands in the file it points to.
func copyFile(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	if existing, err := lstat(fsys, dst); err == nil && isSymlink(existing) {
		if err := fsys.Remove(dst); err != nil {
			return err
		}
	}

	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// keep the source mtime like a plain copy tool would; failure is harmless
	_ = fsys.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// pointsInto reports whether dest lies inside root
func pointsInto(dest, root string) bool {
	rel, err := filepath.Rel(root, dest)
	if err != nil {
		return false
	}
	return rel != "." && !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// removeEmptyDirs deletes the given directories bottom-up when empty,
// never going above root. Errors are ignored.
func removeEmptyDirs(fsys afero.Fs, root string, dirs map[string]struct{}) int {
	var all []string
	seen := make(map[string]struct{})
	for dir := range dirs {
		for d := dir; d != root && pointsInto(d, root); d = filepath.Dir(d) {
			if _, ok := seen[d]; ok {
				break
			}
			seen[d] = struct{}{}
			all = append(all, d)
		}
	}

	// deepest first
	slices.SortFunc(all, func(a, b string) int {
		if da, db := strings.Count(a, string(filepath.Separator)), strings.Count(b, string(filepath.Separator)); da != db {
			return db - da
		}
		return strings.Compare(a, b)
	})

	removed := 0
	for _, dir := range all {
		empty, err := afero.IsEmpty(fsys, dir)
		if err != nil || !empty {
			continue
		}
		if info, err := lstat(fsys, dir); err != nil || !info.IsDir() {
			continue
		}
		if fsys.Remove(dir) == nil {
			removed++
		}
	}
	return removed
}
