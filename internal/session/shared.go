package session

import (
	"errors"

	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
)

var errInvalidHandle = errors.New("invalid shared handle")

type sharedEntry struct {
	handle uint32
	tex    gpu.Texture
	km     gpu.KeyedMutex
}

// sharedCache maps producer handles to opened textures. Renderers cycle
// through a handful of textures, so lookups are linear and entries live
// until the session is torn down.
type sharedCache struct {
	dev     gpu.Device
	entries []*sharedEntry
}

func newSharedCache(dev gpu.Device) *sharedCache {
	return &sharedCache{dev: dev}
}

func (c *sharedCache) resolve(handle uint32) (*sharedEntry, error) {
	if handle == gpu.InvalidHandle {
		return nil, nverrors.NewHandleResolutionError(handle, errInvalidHandle)
	}
	for _, e := range c.entries {
		if e.handle == handle {
			return e, nil
		}
	}

	tex, err := c.dev.OpenShared(handle)
	if err != nil {
		return nil, nverrors.NewHandleResolutionError(handle, err)
	}
	km, err := tex.KeyedMutex()
	if err != nil {
		tex.Release()
		return nil, nverrors.NewHandleResolutionError(handle, err)
	}
	tex.SetEvictionPriority(gpu.EvictionPriorityMaximum)

	e := &sharedEntry{handle: handle, tex: tex, km: km}
	c.entries = append(c.entries, e)
	return e, nil
}

func (c *sharedCache) len() int {
	return len(c.entries)
}

// flush releases every cached texture and mutex.
func (c *sharedCache) flush() {
	if c == nil {
		return
	}
	for _, e := range c.entries {
		e.km.Release()
		e.tex.Release()
	}
	c.entries = nil
}
