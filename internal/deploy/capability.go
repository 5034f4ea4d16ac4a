package deploy

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// LinkCapability answers whether symbolic links can be created in a directory.
// The probe runs once; later calls return the memoized answer until Reset.
type LinkCapability struct {
	fs  afero.Fs
	dir string

	mu      sync.Mutex
	checked bool
	ok      bool
	reason  error
}

// NewLinkCapability creates a capability probe for dir
func NewLinkCapability(fs afero.Fs, dir string) *LinkCapability {
	return &LinkCapability{fs: fs, dir: dir}
}

// CanCreateLinks creates and removes a throwaway link in the directory
func (c *LinkCapability) CanCreateLinks(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checked {
		return c.ok
	}
	if ctx.Err() != nil {
		return false
	}

	probe := filepath.Join(c.dir, ".modlink-probe-"+uuid.NewString())
	err := symlink(c.fs, filepath.Join(c.dir, ".modlink-probe-target"), probe)
	if err == nil {
		_ = c.fs.Remove(probe)
	}

	c.checked = true
	c.ok = err == nil
	c.reason = err

	if err != nil {
		log.Warn().Err(err).Str("dir", c.dir).Bool("privilege", isPrivilegeError(err)).Msg("Symbolic links unavailable")
	} else {
		log.Debug().Str("dir", c.dir).Msg("Symbolic link probe succeeded")
	}
	return c.ok
}

// Reason returns the probe error, if any
func (c *LinkCapability) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Reset forgets the memoized answer so the next call probes again
func (c *LinkCapability) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked, c.ok, c.reason = false, false, nil
}
