package session

import (
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/nvenc"
)

// surfaceSlot is an NV12 texture registered as encoder input. mapped is
// non-zero only while the encoder owns the surface, from submission until
// its packet is retrieved.
type surfaceSlot struct {
	tex    gpu.Texture
	res    nvenc.Resource
	mapped nvenc.MappedResource
}

func allocSurface(dev gpu.Device, enc nvenc.Encoder, width, height uint32) (*surfaceSlot, error) {
	tex, err := dev.CreateTexture(width, height, gpu.FormatNV12)
	if err != nil {
		return nil, nverrors.NewSurfaceError("create input texture", err)
	}

	res, err := enc.RegisterResource(nvenc.RegisterParams{
		Texture: tex,
		Width:   width,
		Height:  height,
		Format:  nvenc.BufferFormatNV12,
	})
	if err != nil {
		tex.Release()
		return nil, nverrors.NewSurfaceError("register input surface", err)
	}

	return &surfaceSlot{tex: tex, res: res}, nil
}

// release unmaps, unregisters and releases the surface. Safe to call on a
// nil or released slot.
func (s *surfaceSlot) release(enc nvenc.Encoder) {
	if s == nil {
		return
	}
	if s.mapped != 0 {
		_ = enc.UnmapInput(s.mapped)
		s.mapped = 0
	}
	if s.res != 0 {
		_ = enc.UnregisterResource(s.res)
		s.res = 0
	}
	if s.tex != nil {
		s.tex.Release()
		s.tex = nil
	}
}
