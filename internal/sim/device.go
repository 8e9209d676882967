// Package sim is an in-process stand-in for a D3D11 device and an NVENC
// session. It completes encodes asynchronously, reorders B-frames the way
// the hardware does and emits a parseable Annex-B stream, so the session
// engine can be exercised without a GPU.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/five82/nvpipe/internal/gpu"
)

var (
	// ErrNotShared is returned by OpenShared for unknown handles.
	ErrNotShared = errors.New("sim: handle does not name a shared texture")
	// ErrNoKeyedMutex is returned by KeyedMutex on textures created
	// without one.
	ErrNoKeyedMutex = errors.New("sim: texture has no keyed mutex")
	// ErrWaitTimeout is returned when a keyed mutex acquire times out.
	ErrWaitTimeout = errors.New("sim: keyed mutex wait timed out")
	// ErrReleased is returned by calls on released objects.
	ErrReleased = errors.New("sim: object already released")
)

type store struct {
	width, height uint32
	format        gpu.Format
	data          []byte
}

// Device is a simulated D3D11 device.
type Device struct {
	mu         sync.Mutex
	shared     map[uint32]*sharedTexture
	nextHandle uint32
	nextID     uintptr
	released   bool

	textures atomic.Int64
	mutexes  atomic.Int64

	// FailOpenShared makes every OpenShared call fail.
	FailOpenShared bool
}

type sharedTexture struct {
	store *store
	km    *keyedMutex
}

// NewDevice creates a simulated device.
func NewDevice() *Device {
	return &Device{
		shared:     make(map[uint32]*sharedTexture),
		nextHandle: 0x100,
		nextID:     0x1000,
	}
}

func frameBytes(width, height uint32, format gpu.Format) int {
	if format == gpu.FormatNV12 {
		return int(width) * int(height) * 3 / 2
	}
	return int(width) * int(height) * 4
}

func (d *Device) newTexture(s *store, km *keyedMutex) *texture {
	d.mu.Lock()
	d.nextID += 0x10
	id := d.nextID
	d.mu.Unlock()
	d.textures.Add(1)
	return &texture{dev: d, id: id, store: s, km: km}
}

// CreateTexture creates a texture without a keyed mutex.
func (d *Device) CreateTexture(width, height uint32, format gpu.Format) (gpu.Texture, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("sim: CreateTexture %dx%d: E_INVALIDARG", width, height)
	}
	s := &store{width: width, height: height, format: format, data: make([]byte, frameBytes(width, height, format))}
	return d.newTexture(s, nil), nil
}

// CreateShared creates a texture guarded by a keyed mutex and returns the
// handle other devices use to open it.
func (d *Device) CreateShared(width, height uint32) (uint32, gpu.Texture, error) {
	if width == 0 || height == 0 {
		return 0, nil, fmt.Errorf("sim: CreateShared %dx%d: E_INVALIDARG", width, height)
	}
	s := &store{width: width, height: height, format: gpu.FormatNV12, data: make([]byte, frameBytes(width, height, gpu.FormatNV12))}
	km := newKeyedMutex()
	tex := d.newTexture(s, km)

	d.mu.Lock()
	handle := d.nextHandle
	d.nextHandle += 4
	d.shared[handle] = &sharedTexture{store: s, km: km}
	d.mu.Unlock()
	return handle, tex, nil
}

// Publish plays the producer side of the keyed-mutex handshake: it
// acquires key 0, writes data into the shared texture and releases the
// mutex to key.
func (d *Device) Publish(handle uint32, key uint64, data []byte) error {
	d.mu.Lock()
	st, ok := d.shared[handle]
	d.mu.Unlock()
	if !ok {
		return ErrNotShared
	}
	if err := st.km.acquire(0, 1000); err != nil {
		return err
	}
	copy(st.store.data, data)
	return st.km.releaseSync(key)
}

// OpenShared opens a texture created by CreateShared.
func (d *Device) OpenShared(handle uint32) (gpu.Texture, error) {
	d.mu.Lock()
	st, ok := d.shared[handle]
	fail := d.FailOpenShared
	d.mu.Unlock()
	if fail || !ok {
		return nil, fmt.Errorf("OpenSharedResource(0x%08X): %w", handle, ErrNotShared)
	}
	return d.newTexture(st.store, st.km), nil
}

// Copy copies src into dst. Both must have the same size and format.
func (d *Device) Copy(dst, src gpu.Texture) error {
	dt, ok1 := dst.(*texture)
	st, ok2 := src.(*texture)
	if !ok1 || !ok2 {
		return errors.New("sim: Copy of foreign texture")
	}
	if dt.released || st.released {
		return ErrReleased
	}
	if dt.store.width != st.store.width || dt.store.height != st.store.height || dt.store.format != st.store.format {
		return fmt.Errorf("sim: Copy %dx%d into %dx%d: E_INVALIDARG",
			st.store.width, st.store.height, dt.store.width, dt.store.height)
	}
	copy(dt.store.data, st.store.data)
	return nil
}

// Adapter describes a fictional adapter.
func (d *Device) Adapter() gpu.AdapterInfo {
	return gpu.AdapterInfo{
		Description:          "nvpipe simulated adapter",
		VendorID:             0x10DE,
		DeviceID:             0x1C82,
		DedicatedVideoMemory: 4 << 30,
	}
}

// Native returns a fake, non-zero device pointer.
func (d *Device) Native() uintptr { return 0xD3D11 }

// Release releases the device.
func (d *Device) Release() {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
}

// Released reports whether Release was called.
func (d *Device) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// LiveTextures counts textures not yet released, shared originals included.
func (d *Device) LiveTextures() int { return int(d.textures.Load()) }

// LiveMutexes counts keyed mutex interfaces not yet released.
func (d *Device) LiveMutexes() int { return int(d.mutexes.Load()) }

// Data returns a texture's backing bytes.
func Data(t gpu.Texture) []byte {
	if tex, ok := t.(*texture); ok {
		return tex.store.data
	}
	return nil
}

type texture struct {
	dev      *Device
	id       uintptr
	store    *store
	km       *keyedMutex
	priority uint32
	released bool
}

func (t *texture) KeyedMutex() (gpu.KeyedMutex, error) {
	if t.km == nil {
		return nil, ErrNoKeyedMutex
	}
	t.dev.mutexes.Add(1)
	return &mutexRef{dev: t.dev, km: t.km}, nil
}

func (t *texture) SetEvictionPriority(priority uint32) { t.priority = priority }

// EvictionPriority returns the priority last set on a texture.
func EvictionPriority(t gpu.Texture) uint32 {
	if tex, ok := t.(*texture); ok {
		return tex.priority
	}
	return 0
}

func (t *texture) Native() uintptr { return t.id }

func (t *texture) Release() {
	if t.released {
		return
	}
	t.released = true
	t.dev.textures.Add(-1)
}

type keyedMutex struct {
	mu   sync.Mutex
	cond *sync.Cond
	held bool
	key  uint64
}

func newKeyedMutex() *keyedMutex {
	k := &keyedMutex{}
	k.cond = sync.NewCond(&k.mu)
	return k
}

func (k *keyedMutex) acquire(key uint64, timeoutMs uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var deadline time.Time
	if timeoutMs != gpu.Infinite {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
		timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			k.mu.Lock()
			k.cond.Broadcast()
			k.mu.Unlock()
		})
		defer timer.Stop()
	}

	for k.held || k.key != key {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}
		k.cond.Wait()
	}
	k.held = true
	return nil
}

func (k *keyedMutex) releaseSync(key uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.held {
		return errors.New("sim: ReleaseSync without Acquire")
	}
	k.held = false
	k.key = key
	k.cond.Broadcast()
	return nil
}

type mutexRef struct {
	dev      *Device
	km       *keyedMutex
	released bool
}

func (m *mutexRef) Acquire(key uint64, timeoutMs uint32) error {
	return m.km.acquire(key, timeoutMs)
}

func (m *mutexRef) ReleaseSync(key uint64) error {
	return m.km.releaseSync(key)
}

func (m *mutexRef) Release() {
	if m.released {
		return
	}
	m.released = true
	m.dev.mutexes.Add(-1)
}
