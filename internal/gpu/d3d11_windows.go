//go:build windows

package gpu

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	nverrors "github.com/five82/nvpipe/internal/errors"
)

const (
	dxgiErrorNotFound    = 0x887A0002
	waitTimeout          = 0x00000102
	d3dDriverTypeUnknown = 0
	d3d11SDKVersion      = 7

	d3d11UsageDefault     = 0
	d3d11BindRenderTarget = 0x20

	// COM vtable indices
	vtblQueryInterface         = 0
	vtblRelease                = 2
	dxgiFactory1EnumAdapters1  = 12 // IDXGIFactory1
	dxgiAdapter1GetDesc1       = 10 // IDXGIAdapter1
	d3d11DeviceCreateTexture2D = 5  // ID3D11Device
	d3d11DeviceOpenShared      = 28 // ID3D11Device
	d3d11ResourceSetEviction   = 8  // ID3D11Resource
	d3d11CtxCopyResource       = 47 // ID3D11DeviceContext
	dxgiKeyedMutexAcquireSync  = 8  // IDXGIKeyedMutex
	dxgiKeyedMutexReleaseSync  = 9  // IDXGIKeyedMutex
)

var (
	modDXGI                = windows.NewLazySystemDLL("dxgi.dll")
	procCreateDXGIFactory1 = modDXGI.NewProc("CreateDXGIFactory1")

	modD3D11              = windows.NewLazySystemDLL("d3d11.dll")
	procD3D11CreateDevice = modD3D11.NewProc("D3D11CreateDevice")

	iidIDXGIFactory1   = windows.GUID{Data1: 0x770aae78, Data2: 0xf26f, Data3: 0x4dba, Data4: [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87}}
	iidID3D11Texture2D = windows.GUID{Data1: 0x6f15aaf2, Data2: 0xd208, Data3: 0x4e89, Data4: [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
	iidIDXGIKeyedMutex = windows.GUID{Data1: 0x9d8e1289, Data2: 0xd7b3, Data3: 0x465f, Data4: [8]byte{0x81, 0x26, 0x25, 0x0e, 0x34, 0x9a, 0xf8, 0x5d}}

	errKeyedMutexTimeout = errors.New("keyed mutex acquire timed out")
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC.
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// dxgiAdapterDesc1 matches DXGI_ADAPTER_DESC1.
type dxgiAdapterDesc1 struct {
	Description           [128]uint16
	VendorID              uint32
	DeviceID              uint32
	SubSysID              uint32
	Revision              uint32
	DedicatedVideoMemory  uintptr
	DedicatedSystemMemory uintptr
	SharedSystemMemory    uintptr
	AdapterLuid           windows.LUID
	Flags                 uint32
}

// comCall invokes a COM vtable method and fails on a negative HRESULT.
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	ret := comCallRaw(obj, vtableIdx, args...)
	if failedHRESULT(ret) {
		return ret, hresultError(fmt.Sprintf("vtable[%d]", vtableIdx), uint32(ret))
	}
	return ret, nil
}

func comCallRaw(obj uintptr, vtableIdx int, args ...uintptr) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(fnPtr, allArgs...)
	return ret
}

func comRelease(obj uintptr) {
	if obj != 0 {
		comCallRaw(obj, vtblRelease)
	}
}

func failedHRESULT(hr uintptr) bool {
	return int32(hr) < 0
}

func hresultError(op string, hr uint32) error {
	return fmt.Errorf("%s failed (HRESULT=0x%08X)", op, hr)
}

func createFactory() (uintptr, error) {
	if err := procCreateDXGIFactory1.Find(); err != nil {
		return 0, fmt.Errorf("dxgi: CreateDXGIFactory1 unavailable: %w", err)
	}
	var factory uintptr
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if failedHRESULT(hr) {
		return 0, hresultError("CreateDXGIFactory1", uint32(hr))
	}
	return factory, nil
}

// enumAdapter returns adapter idx, or ok=false when idx is past the end.
func enumAdapter(factory uintptr, idx int) (adapter uintptr, info AdapterInfo, ok bool, err error) {
	hr := comCallRaw(factory, dxgiFactory1EnumAdapters1, uintptr(idx), uintptr(unsafe.Pointer(&adapter)))
	if uint32(hr) == dxgiErrorNotFound {
		return 0, AdapterInfo{}, false, nil
	}
	if failedHRESULT(hr) {
		return 0, AdapterInfo{}, false, hresultError(fmt.Sprintf("IDXGIFactory1::EnumAdapters1(%d)", idx), uint32(hr))
	}

	var desc dxgiAdapterDesc1
	if _, err := comCall(adapter, dxgiAdapter1GetDesc1, uintptr(unsafe.Pointer(&desc))); err != nil {
		comRelease(adapter)
		return 0, AdapterInfo{}, false, fmt.Errorf("IDXGIAdapter1::GetDesc1: %w", err)
	}
	info = AdapterInfo{
		Index:                idx,
		Description:          windows.UTF16ToString(desc.Description[:]),
		VendorID:             desc.VendorID,
		DeviceID:             desc.DeviceID,
		DedicatedVideoMemory: uint64(desc.DedicatedVideoMemory),
	}
	return adapter, info, true, nil
}

// Adapters lists the DXGI adapters in enumeration order.
func Adapters() ([]AdapterInfo, error) {
	factory, err := createFactory()
	if err != nil {
		return nil, err
	}
	defer comRelease(factory)

	var out []AdapterInfo
	for idx := 0; ; idx++ {
		adapter, info, ok, err := enumAdapter(factory, idx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		comRelease(adapter)
		out = append(out, info)
	}
}

// Bind creates a D3D11 device and immediate context on the given adapter.
func Bind(adapterIdx int) (Device, error) {
	if err := procD3D11CreateDevice.Find(); err != nil {
		return nil, nverrors.NewDeviceInitError("load d3d11.dll", err)
	}

	factory, err := createFactory()
	if err != nil {
		return nil, nverrors.NewDeviceInitError("create DXGI factory", err)
	}
	defer comRelease(factory)

	adapter, info, ok, err := enumAdapter(factory, adapterIdx)
	if err != nil {
		return nil, nverrors.NewDeviceInitError("enumerate adapters", err)
	}
	if !ok {
		return nil, nverrors.NewDeviceInitError(fmt.Sprintf("adapter %d", adapterIdx), errors.New("adapter index out of range"))
	}
	defer comRelease(adapter)

	var device, context uintptr
	hr, _, _ := procD3D11CreateDevice.Call(
		adapter,
		uintptr(d3dDriverTypeUnknown),
		0,
		0,
		0,
		0,
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)),
		0,
		uintptr(unsafe.Pointer(&context)),
	)
	if failedHRESULT(hr) {
		comRelease(context)
		comRelease(device)
		return nil, nverrors.NewDeviceInitError(
			fmt.Sprintf("create device on %s", info.Description),
			hresultError("D3D11CreateDevice", uint32(hr)),
		)
	}

	return &d3d11Device{device: device, context: context, info: info}, nil
}

type d3d11Device struct {
	device  uintptr
	context uintptr
	info    AdapterInfo
}

func (d *d3d11Device) CreateTexture(width, height uint32, format Format) (Texture, error) {
	desc := d3d11Texture2DDesc{
		Width:       width,
		Height:      height,
		MipLevels:   1,
		ArraySize:   1,
		Format:      uint32(format),
		SampleCount: 1,
		Usage:       d3d11UsageDefault,
		BindFlags:   d3d11BindRenderTarget,
	}
	var tex uintptr
	if _, err := comCall(d.device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&desc)), 0, uintptr(unsafe.Pointer(&tex))); err != nil {
		return nil, fmt.Errorf("ID3D11Device::CreateTexture2D %dx%d: %w", width, height, err)
	}
	return &d3d11Texture{ptr: tex}, nil
}

func (d *d3d11Device) OpenShared(handle uint32) (Texture, error) {
	var tex uintptr
	if _, err := comCall(d.device, d3d11DeviceOpenShared,
		uintptr(handle), uintptr(unsafe.Pointer(&iidID3D11Texture2D)), uintptr(unsafe.Pointer(&tex))); err != nil {
		return nil, fmt.Errorf("ID3D11Device::OpenSharedResource: %w", err)
	}
	return &d3d11Texture{ptr: tex}, nil
}

func (d *d3d11Device) Copy(dst, src Texture) error {
	if dst == nil || src == nil {
		return errors.New("copy: nil texture")
	}
	comCallRaw(d.context, d3d11CtxCopyResource, dst.Native(), src.Native())
	return nil
}

func (d *d3d11Device) Adapter() AdapterInfo { return d.info }

func (d *d3d11Device) Native() uintptr { return d.device }

func (d *d3d11Device) Release() {
	comRelease(d.context)
	comRelease(d.device)
	d.context = 0
	d.device = 0
}

type d3d11Texture struct {
	ptr uintptr
}

func (t *d3d11Texture) KeyedMutex() (KeyedMutex, error) {
	var km uintptr
	if _, err := comCall(t.ptr, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIKeyedMutex)), uintptr(unsafe.Pointer(&km))); err != nil {
		return nil, fmt.Errorf("QueryInterface(IDXGIKeyedMutex): %w", err)
	}
	return &dxgiKeyedMutex{ptr: km}, nil
}

func (t *d3d11Texture) SetEvictionPriority(priority uint32) {
	comCallRaw(t.ptr, d3d11ResourceSetEviction, uintptr(priority))
}

func (t *d3d11Texture) Native() uintptr { return t.ptr }

func (t *d3d11Texture) Release() {
	comRelease(t.ptr)
	t.ptr = 0
}

type dxgiKeyedMutex struct {
	ptr uintptr
}

func (k *dxgiKeyedMutex) Acquire(key uint64, timeoutMs uint32) error {
	hr, err := comCall(k.ptr, dxgiKeyedMutexAcquireSync, uintptr(key), uintptr(timeoutMs))
	if err != nil {
		return fmt.Errorf("IDXGIKeyedMutex::AcquireSync(%d): %w", key, err)
	}
	if uint32(hr) == waitTimeout {
		return errKeyedMutexTimeout
	}
	return nil
}

func (k *dxgiKeyedMutex) ReleaseSync(key uint64) error {
	if _, err := comCall(k.ptr, dxgiKeyedMutexReleaseSync, uintptr(key)); err != nil {
		return fmt.Errorf("IDXGIKeyedMutex::ReleaseSync(%d): %w", key, err)
	}
	return nil
}

func (k *dxgiKeyedMutex) Release() {
	comRelease(k.ptr)
	k.ptr = 0
}
