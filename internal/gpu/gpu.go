// Package gpu binds a Direct3D 11 device to an adapter and exposes the
// handful of texture operations the encode session needs: NV12 input
// surfaces, shared textures opened from another process, keyed mutexes and
// GPU-side copies.
package gpu

// InvalidHandle is the shared handle value producers use for "no texture".
const InvalidHandle uint32 = 0xFFFFFFFF

// EvictionPriorityMaximum is DXGI_RESOURCE_PRIORITY_MAXIMUM.
const EvictionPriorityMaximum uint32 = 0x28000000

// Infinite waits on a keyed mutex without a timeout.
const Infinite uint32 = 0xFFFFFFFF

// Format is a DXGI_FORMAT value.
type Format uint32

// FormatNV12 is DXGI_FORMAT_NV12, the layout the encoder consumes.
const FormatNV12 Format = 103

// AdapterInfo describes the adapter a device was created on.
type AdapterInfo struct {
	Index                int
	Description          string
	VendorID             uint32
	DeviceID             uint32
	DedicatedVideoMemory uint64
}

// Device is a D3D11 device together with its immediate context.
type Device interface {
	// CreateTexture creates a GPU-only 2D texture.
	CreateTexture(width, height uint32, format Format) (Texture, error)
	// OpenShared opens a texture shared by another device or process.
	OpenShared(handle uint32) (Texture, error)
	// Copy copies src into dst on the immediate context.
	Copy(dst, src Texture) error
	Adapter() AdapterInfo
	// Native returns the ID3D11Device pointer handed to the encoder.
	Native() uintptr
	Release()
}

// Texture is a 2D texture owned by a Device.
type Texture interface {
	// KeyedMutex queries the IDXGIKeyedMutex guarding a shared texture.
	KeyedMutex() (KeyedMutex, error)
	SetEvictionPriority(priority uint32)
	Native() uintptr
	Release()
}

// KeyedMutex serializes access to a shared texture across devices.
type KeyedMutex interface {
	// Acquire blocks until the mutex is released with key, or timeoutMs
	// elapses. Pass Infinite to wait forever.
	Acquire(key uint64, timeoutMs uint32) error
	// ReleaseSync hands the mutex over to the holder of key.
	ReleaseSync(key uint64) error
	// Release drops the interface reference.
	Release()
}
