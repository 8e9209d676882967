package session

import (
	"errors"
	"testing"

	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/nvenc"
	"github.com/five82/nvpipe/internal/sim"
)

func TestSharedCacheResolve(t *testing.T) {
	dev := sim.NewDevice()
	handle, src, err := dev.CreateShared(64, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	c := newSharedCache(dev)
	first, err := c.resolve(handle)
	if err != nil {
		t.Fatalf("resolve() error = %v", err)
	}
	second, err := c.resolve(handle)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || c.len() != 1 {
		t.Errorf("second resolve opened a new entry (len %d)", c.len())
	}
	if got := sim.EvictionPriority(first.tex); got != gpu.EvictionPriorityMaximum {
		t.Errorf("eviction priority = %#x, want %#x", got, gpu.EvictionPriorityMaximum)
	}

	c.flush()
	if c.len() != 0 || dev.LiveTextures() != 1 || dev.LiveMutexes() != 0 {
		t.Errorf("after flush: len=%d textures=%d mutexes=%d", c.len(), dev.LiveTextures(), dev.LiveMutexes())
	}
}

func TestSharedCacheFailures(t *testing.T) {
	dev := sim.NewDevice()
	c := newSharedCache(dev)

	for _, handle := range []uint32{gpu.InvalidHandle, 0x1234} {
		_, err := c.resolve(handle)
		if !nverrors.IsKind(err, nverrors.KindHandleResolution) {
			t.Errorf("resolve(%#x) error = %v, want HandleResolutionError", handle, err)
		}
	}
	if c.len() != 0 || dev.LiveTextures() != 0 {
		t.Errorf("failed resolves leaked: len=%d textures=%d", c.len(), dev.LiveTextures())
	}
}

// noMutexDevice opens shared textures that lack a keyed mutex.
type noMutexDevice struct {
	*sim.Device
}

type noMutexTexture struct {
	gpu.Texture
}

var errNoMutex = errors.New("E_NOINTERFACE")

func (noMutexTexture) KeyedMutex() (gpu.KeyedMutex, error) {
	return nil, errNoMutex
}

func (d noMutexDevice) OpenShared(handle uint32) (gpu.Texture, error) {
	tex, err := d.Device.OpenShared(handle)
	if err != nil {
		return nil, err
	}
	return noMutexTexture{tex}, nil
}

func TestSharedCacheMissingMutex(t *testing.T) {
	dev := sim.NewDevice()
	handle, src, _ := dev.CreateShared(64, 32)
	defer src.Release()

	c := newSharedCache(noMutexDevice{dev})
	_, err := c.resolve(handle)
	if !errors.Is(err, errNoMutex) || !nverrors.IsKind(err, nverrors.KindHandleResolution) {
		t.Errorf("resolve() error = %v", err)
	}
	if dev.LiveTextures() != 1 {
		t.Errorf("opened texture not released: %d live", dev.LiveTextures())
	}
}

func openInitialized(t *testing.T, lib *sim.Library, dev *sim.Device) nvenc.Encoder {
	t.Helper()
	enc, err := lib.OpenSession(dev)
	if err != nil {
		t.Fatal(err)
	}
	p := plan(t, nil, allCaps())
	if err := enc.Initialize(&p.Init); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = enc.Destroy() })
	return enc
}

func TestBitstreamSlotRelease(t *testing.T) {
	dev := sim.NewDevice()
	lib := sim.NewLibrary(sim.Options{})
	enc := openInitialized(t, lib, dev)

	b, err := allocBitstream(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got := lib.Live(); got.Bitstreams != 1 || got.Events != 1 {
		t.Errorf("Live() = %+v, want one bitstream and one event", got)
	}
	b.release(enc)
	b.release(enc)
	(*bitstreamSlot)(nil).release(enc)
	if got := lib.Live(); got.Bitstreams != 0 || got.Events != 0 {
		t.Errorf("Live() after release = %+v", got)
	}

	lib.Inject(sim.StepRegisterEvent, sim.Fault{})
	if _, err := allocBitstream(enc); !nverrors.IsKind(err, nverrors.KindBuffer) {
		t.Errorf("allocBitstream() error = %v, want BufferError", err)
	}
	if got := lib.Live(); got.Bitstreams != 0 {
		t.Errorf("buffer leaked after event failure: %+v", got)
	}
}

func TestSurfaceSlotRelease(t *testing.T) {
	dev := sim.NewDevice()
	lib := sim.NewLibrary(sim.Options{})
	enc := openInitialized(t, lib, dev)

	s, err := allocSurface(dev, enc, 64, 32)
	if err != nil {
		t.Fatal(err)
	}
	s.mapped, err = enc.MapInput(s.res)
	if err != nil {
		t.Fatal(err)
	}
	s.release(enc)
	s.release(enc)
	if got := lib.Live(); got.Resources != 0 || got.Mapped != 0 {
		t.Errorf("Live() after release = %+v", got)
	}
	if dev.LiveTextures() != 0 {
		t.Errorf("LiveTextures() = %d, want 0", dev.LiveTextures())
	}

	lib.Inject(sim.StepRegisterResource, sim.Fault{})
	if _, err := allocSurface(dev, enc, 64, 32); !nverrors.IsKind(err, nverrors.KindSurface) {
		t.Errorf("allocSurface() error = %v, want SurfaceError", err)
	}
	if dev.LiveTextures() != 0 {
		t.Error("texture leaked after registration failure")
	}
}
