// Package nvenc describes the NVIDIA hardware encoder interface the session
// drives: its entry points, status codes, capability flags and the subset of
// the encode configuration nvpipe sets.
//
// The Windows build binds the driver's nvEncodeAPI64.dll. Other platforms
// can still probe the installed driver's API version.
package nvenc

import (
	"fmt"

	"github.com/five82/nvpipe/internal/event"
	"github.com/five82/nvpipe/internal/gpu"
)

// Status is an NVENCSTATUS value.
type Status int32

const (
	StatusSuccess                Status = 0
	StatusNoEncodeDevice         Status = 1
	StatusUnsupportedDevice      Status = 2
	StatusInvalidEncoderDevice   Status = 3
	StatusInvalidDevice          Status = 4
	StatusDeviceNotExist         Status = 5
	StatusInvalidPtr             Status = 6
	StatusInvalidEvent           Status = 7
	StatusInvalidParam           Status = 8
	StatusInvalidCall            Status = 9
	StatusOutOfMemory            Status = 10
	StatusEncoderNotInitialized  Status = 11
	StatusUnsupportedParam       Status = 12
	StatusLockBusy               Status = 13
	StatusNotEnoughBuffer        Status = 14
	StatusInvalidVersion         Status = 15
	StatusMapFailed              Status = 16
	StatusNeedMoreInput          Status = 17
	StatusEncoderBusy            Status = 18
	StatusEventNotRegistered     Status = 19
	StatusGeneric                Status = 20
	StatusIncompatibleClientKey  Status = 21
	StatusUnimplemented          Status = 22
	StatusResourceRegisterFailed Status = 23
	StatusResourceNotRegistered  Status = 24
	StatusResourceNotMapped      Status = 25
)

var statusNames = map[Status]string{
	StatusSuccess:                "NV_ENC_SUCCESS",
	StatusNoEncodeDevice:         "NV_ENC_ERR_NO_ENCODE_DEVICE",
	StatusUnsupportedDevice:      "NV_ENC_ERR_UNSUPPORTED_DEVICE",
	StatusInvalidEncoderDevice:   "NV_ENC_ERR_INVALID_ENCODERDEVICE",
	StatusInvalidDevice:          "NV_ENC_ERR_INVALID_DEVICE",
	StatusDeviceNotExist:         "NV_ENC_ERR_DEVICE_NOT_EXIST",
	StatusInvalidPtr:             "NV_ENC_ERR_INVALID_PTR",
	StatusInvalidEvent:           "NV_ENC_ERR_INVALID_EVENT",
	StatusInvalidParam:           "NV_ENC_ERR_INVALID_PARAM",
	StatusInvalidCall:            "NV_ENC_ERR_INVALID_CALL",
	StatusOutOfMemory:            "NV_ENC_ERR_OUT_OF_MEMORY",
	StatusEncoderNotInitialized:  "NV_ENC_ERR_ENCODER_NOT_INITIALIZED",
	StatusUnsupportedParam:       "NV_ENC_ERR_UNSUPPORTED_PARAM",
	StatusLockBusy:               "NV_ENC_ERR_LOCK_BUSY",
	StatusNotEnoughBuffer:        "NV_ENC_ERR_NOT_ENOUGH_BUFFER",
	StatusInvalidVersion:         "NV_ENC_ERR_INVALID_VERSION",
	StatusMapFailed:              "NV_ENC_ERR_MAP_FAILED",
	StatusNeedMoreInput:          "NV_ENC_ERR_NEED_MORE_INPUT",
	StatusEncoderBusy:            "NV_ENC_ERR_ENCODER_BUSY",
	StatusEventNotRegistered:     "NV_ENC_ERR_EVENT_NOT_REGISTERD",
	StatusGeneric:                "NV_ENC_ERR_GENERIC",
	StatusIncompatibleClientKey:  "NV_ENC_ERR_INCOMPATIBLE_CLIENT_KEY",
	StatusUnimplemented:          "NV_ENC_ERR_UNIMPLEMENTED",
	StatusResourceRegisterFailed: "NV_ENC_ERR_RESOURCE_REGISTER_FAILED",
	StatusResourceNotRegistered:  "NV_ENC_ERR_RESOURCE_NOT_REGISTERED",
	StatusResourceNotMapped:      "NV_ENC_ERR_RESOURCE_NOT_MAPPED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NVENCSTATUS(%d)", int32(s))
}

// Error makes a non-success Status usable as an error. Compare with
// errors.Is(err, StatusNeedMoreInput).
func (s Status) Error() string {
	return s.String()
}

// Check returns nil for StatusSuccess and the status itself otherwise.
func (s Status) Check() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

// Cap is an NV_ENC_CAPS query.
type Cap int32

const (
	CapNumMaxBFrames           Cap = 0
	CapSupportedRateControl    Cap = 1
	CapWidthMax                Cap = 16
	CapHeightMax               Cap = 17
	CapSupportDynBitrateChange Cap = 20
	CapAsyncEncodeSupport      Cap = 30
	CapSupportLosslessEncode   Cap = 34
	CapSupportLookahead        Cap = 37
	CapSupportTemporalAQ       Cap = 38
)

// RCMode is an NV_ENC_PARAMS_RC_MODE.
type RCMode uint32

const (
	RCConstQP        RCMode = 0x0
	RCVBR            RCMode = 0x1
	RCCBR            RCMode = 0x2
	RCTwoPassQuality RCMode = 0x8
)

func (m RCMode) String() string {
	switch m {
	case RCConstQP:
		return "CONSTQP"
	case RCVBR:
		return "VBR"
	case RCCBR:
		return "CBR"
	case RCTwoPassQuality:
		return "2_PASS_QUALITY"
	}
	return fmt.Sprintf("RC(0x%x)", uint32(m))
}

// PicType is an NV_ENC_PIC_TYPE.
type PicType uint32

const (
	PicTypeP            PicType = 0
	PicTypeB            PicType = 1
	PicTypeI            PicType = 2
	PicTypeIDR          PicType = 3
	PicTypeBI           PicType = 4
	PicTypeSkipped      PicType = 5
	PicTypeIntraRefresh PicType = 6
	PicTypeUnknown      PicType = 0xFF
)

// PicFlag is a bit of NV_ENC_PIC_FLAGS.
type PicFlag uint32

const (
	PicFlagForceIntra   PicFlag = 0x1
	PicFlagForceIDR     PicFlag = 0x2
	PicFlagOutputSPSPPS PicFlag = 0x4
	PicFlagEOS          PicFlag = 0x8
)

// PicStruct is an NV_ENC_PIC_STRUCT.
type PicStruct uint32

// PicStructFrame encodes progressive frames.
const PicStructFrame PicStruct = 0x1

// BufferFormat is an NV_ENC_BUFFER_FORMAT.
type BufferFormat uint32

// BufferFormatNV12 is the semi-planar 4:2:0 input layout.
const BufferFormatNV12 BufferFormat = 0x1

// Handles returned by the encoder. They are opaque driver pointers.
type (
	Bitstream      uintptr
	Resource       uintptr
	MappedResource uintptr
)

// QP holds per-picture-type quantizers.
type QP struct {
	InterP uint32
	InterB uint32
	Intra  uint32
}

// RCParams is the subset of NV_ENC_RC_PARAMS nvpipe sets.
type RCParams struct {
	Mode             RCMode
	ConstQP          QP
	AverageBitRate   uint32
	MaxBitRate       uint32
	EnableAQ         bool
	EnableLookahead  bool
	EnableTemporalAQ bool
	LookaheadDepth   uint16
}

// VUI is the subset of NV_ENC_CONFIG_H264_VUI_PARAMETERS nvpipe sets.
type VUI struct {
	VideoSignalTypePresent   bool
	FullRange                bool
	ColourDescriptionPresent bool
	ColourPrimaries          uint32
	TransferCharacteristics  uint32
	ColourMatrix             uint32
}

// H264Config is the subset of NV_ENC_CONFIG_H264 nvpipe sets.
type H264Config struct {
	Level                    uint32
	IDRPeriod                uint32
	OutputBufferingPeriodSEI bool
	OutputPictureTimingSEI   bool
	VUI                      VUI
}

// Config mirrors NV_ENC_CONFIG. It is obtained from PresetConfig so that
// fields nvpipe does not model keep the preset's values.
type Config struct {
	Profile        GUID
	GOPLength      uint32
	FrameIntervalP int32
	RC             RCParams
	H264           H264Config

	// native holds the driver's full preset structure on platforms that
	// have one.
	native any
}

// InitParams mirrors NV_ENC_INITIALIZE_PARAMS.
type InitParams struct {
	EncodeGUID        GUID
	PresetGUID        GUID
	Width             uint32
	Height            uint32
	DarWidth          uint32
	DarHeight         uint32
	FrameRateNum      uint32
	FrameRateDen      uint32
	EnableEncodeAsync bool
	EnablePTD         bool
	MaxWidth          uint32
	MaxHeight         uint32
	Config            *Config
}

// PicParams mirrors NV_ENC_PIC_PARAMS.
type PicParams struct {
	Width          uint32
	Height         uint32
	Pitch          uint32
	Flags          PicFlag
	FrameIdx       uint32
	InputTimeStamp uint64
	Input          MappedResource
	Output         Bitstream
	Completion     event.Event
	Format         BufferFormat
	Struct         PicStruct
}

// LockedBitstream is the result of LockBitstream. Data aliases driver memory
// and is valid until UnlockBitstream.
type LockedBitstream struct {
	Data            []byte
	OutputTimeStamp uint64
	PictureType     PicType
	FrameIdx        uint32
}

// RegisterParams describes a texture to register as an encode input.
type RegisterParams struct {
	Texture gpu.Texture
	Width   uint32
	Height  uint32
	Format  BufferFormat
}

// Library opens encode sessions on a device.
type Library interface {
	OpenSession(device gpu.Device) (Encoder, error)
}

// Encoder is one open NVENC session. All methods except the event-driven
// completion are called from a single goroutine.
type Encoder interface {
	Caps(codec GUID, c Cap) (int, error)
	PresetConfig(codec, preset GUID) (*Config, error)
	Initialize(p *InitParams) error
	Reconfigure(p *InitParams) error

	CreateBitstream() (Bitstream, error)
	DestroyBitstream(b Bitstream) error
	RegisterAsyncEvent(ev event.Event) error
	UnregisterAsyncEvent(ev event.Event) error

	RegisterResource(p RegisterParams) (Resource, error)
	UnregisterResource(r Resource) error
	MapInput(r Resource) (MappedResource, error)
	UnmapInput(m MappedResource) error

	// EncodePicture queues a picture. StatusNeedMoreInput means the
	// picture was accepted but produced no output yet.
	EncodePicture(p *PicParams) error
	// LockBitstream blocks until b holds a completed picture.
	LockBitstream(b Bitstream) (*LockedBitstream, error)
	UnlockBitstream(b Bitstream) error

	Destroy() error
}

// APIVersion is an NVENC API version as reported by the driver.
type APIVersion struct {
	Major int
	Minor int
}

func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// decodeMaxVersion unpacks NvEncodeAPIGetMaxSupportedVersion's
// (major << 4 | minor) encoding.
func decodeMaxVersion(v uint32) APIVersion {
	return APIVersion{Major: int(v >> 4), Minor: int(v & 0xF)}
}

// Supports reports whether a driver exposing v can serve the API version
// this package is built against.
func (v APIVersion) Supports(want APIVersion) bool {
	if v.Major != want.Major {
		return v.Major > want.Major
	}
	return v.Minor >= want.Minor
}

// BuiltAgainst is the API version the Windows binding targets.
var BuiltAgainst = APIVersion{Major: 8, Minor: 1}
