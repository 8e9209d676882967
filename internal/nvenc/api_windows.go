//go:build windows

package nvenc

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/five82/nvpipe/internal/event"
	"github.com/five82/nvpipe/internal/gpu"
)

var (
	modNVENC                       = windows.NewLazySystemDLL("nvEncodeAPI64.dll")
	procNvEncodeAPICreateInstance  = modNVENC.NewProc("NvEncodeAPICreateInstance")
	procNvEncodeAPIGetMaxSupported = modNVENC.NewProc("NvEncodeAPIGetMaxSupportedVersion")
)

// ErrDriverTooOld is returned when the installed driver cannot serve the
// API version this binding was built against.
var ErrDriverTooOld = errors.New("NVENC driver too old")

type library struct {
	fns nvEncAPIFunctionList
}

// Load resolves the driver's NVENC entry points into a function table owned
// by the returned Library.
func Load() (Library, error) {
	if err := procNvEncodeAPICreateInstance.Find(); err != nil {
		return nil, fmt.Errorf("load nvEncodeAPI64.dll: %w", err)
	}

	if v, err := MaxSupportedVersion(); err == nil && !v.Supports(BuiltAgainst) {
		return nil, fmt.Errorf("%w: driver supports %s, need %s", ErrDriverTooOld, v, BuiltAgainst)
	}

	lib := &library{}
	lib.fns.version = verFunctionList
	ret, _, _ := procNvEncodeAPICreateInstance.Call(uintptr(unsafe.Pointer(&lib.fns)))
	if err := Status(int32(ret)).Check(); err != nil {
		return nil, fmt.Errorf("NvEncodeAPICreateInstance: %w", err)
	}
	if lib.fns.nvEncOpenEncodeSessionEx == 0 {
		return nil, errors.New("NvEncodeAPICreateInstance: empty function table")
	}
	return lib, nil
}

// MaxSupportedVersion asks the driver for the newest API it implements.
func MaxSupportedVersion() (APIVersion, error) {
	if err := procNvEncodeAPIGetMaxSupported.Find(); err != nil {
		return APIVersion{}, fmt.Errorf("load nvEncodeAPI64.dll: %w", err)
	}
	var v uint32
	ret, _, _ := procNvEncodeAPIGetMaxSupported.Call(uintptr(unsafe.Pointer(&v)))
	if err := Status(int32(ret)).Check(); err != nil {
		return APIVersion{}, fmt.Errorf("NvEncodeAPIGetMaxSupportedVersion: %w", err)
	}
	return decodeMaxVersion(v), nil
}

func call(fn uintptr, args ...uintptr) error {
	ret, _, _ := syscall.SyscallN(fn, args...)
	return Status(int32(ret)).Check()
}

func (l *library) OpenSession(device gpu.Device) (Encoder, error) {
	params := nvEncOpenEncodeSessionExParams{
		version:    verOpenSession,
		deviceType: deviceTypeDirectX,
		device:     device.Native(),
		apiVersion: apiVersion,
	}
	var handle uintptr
	if err := call(l.fns.nvEncOpenEncodeSessionEx,
		uintptr(unsafe.Pointer(&params)), uintptr(unsafe.Pointer(&handle))); err != nil {
		return nil, fmt.Errorf("nvEncOpenEncodeSessionEx: %w", err)
	}
	return &encoder{fns: &l.fns, handle: handle}, nil
}

type encoder struct {
	fns    *nvEncAPIFunctionList
	handle uintptr

	// init and its config are referenced by the driver after Initialize.
	init   nvEncInitializeParams
	config *nvEncConfig
}

func (e *encoder) Caps(codec GUID, c Cap) (int, error) {
	param := nvEncCapsParam{version: verCapsParam, capsToQuery: uint32(c)}
	var val int32
	if err := call(e.fns.nvEncGetEncodeCaps, e.handle,
		uintptr(unsafe.Pointer(&codec)), uintptr(unsafe.Pointer(&param)), uintptr(unsafe.Pointer(&val))); err != nil {
		return 0, fmt.Errorf("nvEncGetEncodeCaps(%d): %w", c, err)
	}
	return int(val), nil
}

func (e *encoder) PresetConfig(codec, preset GUID) (*Config, error) {
	pc := &nvEncPresetConfig{version: verPresetConfig}
	pc.presetCfg.version = verConfig
	if err := call(e.fns.nvEncGetEncodePresetConfig, e.handle,
		uintptr(unsafe.Pointer(&codec)), uintptr(unsafe.Pointer(&preset)), uintptr(unsafe.Pointer(pc))); err != nil {
		return nil, fmt.Errorf("nvEncGetEncodePresetConfig(%s): %w", PresetName(preset), err)
	}
	cfg := pc.presetCfg
	return fromNative(&cfg), nil
}

func (e *encoder) fillInit(dst *nvEncInitializeParams, p *InitParams) {
	*dst = nvEncInitializeParams{
		version:           verInitParams,
		encodeGUID:        p.EncodeGUID,
		presetGUID:        p.PresetGUID,
		encodeWidth:       p.Width,
		encodeHeight:      p.Height,
		darWidth:          p.DarWidth,
		darHeight:         p.DarHeight,
		frameRateNum:      p.FrameRateNum,
		frameRateDen:      p.FrameRateDen,
		enableEncodeAsync: boolU32(p.EnableEncodeAsync),
		enablePTD:         boolU32(p.EnablePTD),
		maxEncodeWidth:    p.MaxWidth,
		maxEncodeHeight:   p.MaxHeight,
	}
	if p.Config != nil {
		e.config = toNative(p.Config)
		dst.encodeConfig = e.config
	}
}

func (e *encoder) Initialize(p *InitParams) error {
	e.fillInit(&e.init, p)
	if err := call(e.fns.nvEncInitializeEncoder, e.handle, uintptr(unsafe.Pointer(&e.init))); err != nil {
		return fmt.Errorf("nvEncInitializeEncoder: %w", err)
	}
	return nil
}

func (e *encoder) Reconfigure(p *InitParams) error {
	params := nvEncReconfigureParams{version: verReconfigure}
	e.fillInit(&params.reInitEncodeParams, p)
	if err := call(e.fns.nvEncReconfigureEncoder, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return fmt.Errorf("nvEncReconfigureEncoder: %w", err)
	}
	e.init = params.reInitEncodeParams
	return nil
}

func (e *encoder) CreateBitstream() (Bitstream, error) {
	params := nvEncCreateBitstreamBuffer{version: verCreateBuffer}
	if err := call(e.fns.nvEncCreateBitstreamBuffer, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return 0, fmt.Errorf("nvEncCreateBitstreamBuffer: %w", err)
	}
	return Bitstream(params.bitstreamBuffer), nil
}

func (e *encoder) DestroyBitstream(b Bitstream) error {
	if err := call(e.fns.nvEncDestroyBitstreamBuffer, e.handle, uintptr(b)); err != nil {
		return fmt.Errorf("nvEncDestroyBitstreamBuffer: %w", err)
	}
	return nil
}

func (e *encoder) RegisterAsyncEvent(ev event.Event) error {
	params := nvEncEventParams{version: verEventParams, completionEvent: ev.Handle()}
	if err := call(e.fns.nvEncRegisterAsyncEvent, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return fmt.Errorf("nvEncRegisterAsyncEvent: %w", err)
	}
	return nil
}

func (e *encoder) UnregisterAsyncEvent(ev event.Event) error {
	params := nvEncEventParams{version: verEventParams, completionEvent: ev.Handle()}
	if err := call(e.fns.nvEncUnregisterAsyncEvent, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return fmt.Errorf("nvEncUnregisterAsyncEvent: %w", err)
	}
	return nil
}

func (e *encoder) RegisterResource(p RegisterParams) (Resource, error) {
	params := nvEncRegisterResource{
		version:            verRegisterRes,
		resourceType:       resourceTypeDirectX,
		width:              p.Width,
		height:             p.Height,
		resourceToRegister: p.Texture.Native(),
		bufferFormat:       uint32(p.Format),
	}
	if err := call(e.fns.nvEncRegisterResource, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return 0, fmt.Errorf("nvEncRegisterResource: %w", err)
	}
	return Resource(params.registeredResource), nil
}

func (e *encoder) UnregisterResource(r Resource) error {
	if err := call(e.fns.nvEncUnregisterResource, e.handle, uintptr(r)); err != nil {
		return fmt.Errorf("nvEncUnregisterResource: %w", err)
	}
	return nil
}

func (e *encoder) MapInput(r Resource) (MappedResource, error) {
	params := nvEncMapInputResource{version: verMapInput, registeredResource: uintptr(r)}
	if err := call(e.fns.nvEncMapInputResource, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return 0, fmt.Errorf("nvEncMapInputResource: %w", err)
	}
	return MappedResource(params.mappedResource), nil
}

func (e *encoder) UnmapInput(m MappedResource) error {
	if err := call(e.fns.nvEncUnmapInputResource, e.handle, uintptr(m)); err != nil {
		return fmt.Errorf("nvEncUnmapInputResource: %w", err)
	}
	return nil
}

func (e *encoder) EncodePicture(p *PicParams) error {
	params := nvEncPicParams{
		version:         verPicParams,
		inputWidth:      p.Width,
		inputHeight:     p.Height,
		inputPitch:      p.Pitch,
		encodePicFlags:  uint32(p.Flags),
		frameIdx:        p.FrameIdx,
		inputTimeStamp:  p.InputTimeStamp,
		inputBuffer:     uintptr(p.Input),
		outputBitstream: uintptr(p.Output),
		bufferFmt:       uint32(p.Format),
		pictureStruct:   uint32(p.Struct),
	}
	if p.Completion != nil {
		params.completionEvent = p.Completion.Handle()
	}
	ret, _, _ := syscall.SyscallN(e.fns.nvEncEncodePicture, e.handle, uintptr(unsafe.Pointer(&params)))
	return Status(int32(ret)).Check()
}

func (e *encoder) LockBitstream(b Bitstream) (*LockedBitstream, error) {
	params := nvEncLockBitstream{version: verLockBitstream, outputBitstream: uintptr(b)}
	if err := call(e.fns.nvEncLockBitstream, e.handle, uintptr(unsafe.Pointer(&params))); err != nil {
		return nil, fmt.Errorf("nvEncLockBitstream: %w", err)
	}
	var data []byte
	if params.bitstreamSizeInBytes > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(params.bitstreamBufferPtr)), params.bitstreamSizeInBytes)
	}
	return &LockedBitstream{
		Data:            data,
		OutputTimeStamp: params.outputTimeStamp,
		PictureType:     PicType(params.pictureType),
		FrameIdx:        params.frameIdx,
	}, nil
}

func (e *encoder) UnlockBitstream(b Bitstream) error {
	if err := call(e.fns.nvEncUnlockBitstream, e.handle, uintptr(b)); err != nil {
		return fmt.Errorf("nvEncUnlockBitstream: %w", err)
	}
	return nil
}

func (e *encoder) Destroy() error {
	if e.handle == 0 {
		return nil
	}
	err := call(e.fns.nvEncDestroyEncoder, e.handle)
	e.handle = 0
	if err != nil {
		return fmt.Errorf("nvEncDestroyEncoder: %w", err)
	}
	return nil
}
