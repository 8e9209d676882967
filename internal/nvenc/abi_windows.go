//go:build windows

package nvenc

// Native structures from nvEncodeAPI.h (API 8.1). Field order and reserved
// padding follow the header so the driver sees the expected sizes.

const (
	apiMajorVersion = 8
	apiMinorVersion = 1
	apiVersion      = apiMajorVersion | apiMinorVersion<<24
)

func structVersion(ver uint32) uint32 {
	return apiVersion | ver<<16 | 0x7<<28
}

var (
	verFunctionList  = structVersion(2)
	verOpenSession   = structVersion(1)
	verCapsParam     = structVersion(1)
	verConfig        = structVersion(6) | 1<<31
	verRCParams      = structVersion(1)
	verPresetConfig  = structVersion(4) | 1<<31
	verInitParams    = structVersion(5) | 1<<31
	verCreateBuffer  = structVersion(1)
	verEventParams   = structVersion(1)
	verRegisterRes   = structVersion(3)
	verMapInput      = structVersion(4)
	verPicParams     = structVersion(4) | 1<<31
	verLockBitstream = structVersion(1)
	verReconfigure   = structVersion(1) | 1<<31
)

const (
	deviceTypeDirectX   = 0
	resourceTypeDirectX = 0
	levelAutoSelect     = 0
)

// rc bitfield positions in NV_ENC_RC_PARAMS
const (
	rcEnableAQ         = 1 << 3
	rcEnableLookahead  = 1 << 5
	rcEnableTemporalAQ = 1 << 8
)

// h264 bitfield positions in NV_ENC_CONFIG_H264
const (
	h264BufferingPeriodSEI = 1 << 4
	h264PictureTimingSEI   = 1 << 5
)

type nvEncAPIFunctionList struct {
	version                        uint32
	reserved                       uint32
	nvEncOpenEncodeSession         uintptr
	nvEncGetEncodeGUIDCount        uintptr
	nvEncGetEncodeProfileGUIDCount uintptr
	nvEncGetEncodeProfileGUIDs     uintptr
	nvEncGetEncodeGUIDs            uintptr
	nvEncGetInputFormatCount       uintptr
	nvEncGetInputFormats           uintptr
	nvEncGetEncodeCaps             uintptr
	nvEncGetEncodePresetCount      uintptr
	nvEncGetEncodePresetGUIDs      uintptr
	nvEncGetEncodePresetConfig     uintptr
	nvEncInitializeEncoder         uintptr
	nvEncCreateInputBuffer         uintptr
	nvEncDestroyInputBuffer        uintptr
	nvEncCreateBitstreamBuffer     uintptr
	nvEncDestroyBitstreamBuffer    uintptr
	nvEncEncodePicture             uintptr
	nvEncLockBitstream             uintptr
	nvEncUnlockBitstream           uintptr
	nvEncLockInputBuffer           uintptr
	nvEncUnlockInputBuffer         uintptr
	nvEncGetEncodeStats            uintptr
	nvEncGetSequenceParams         uintptr
	nvEncRegisterAsyncEvent        uintptr
	nvEncUnregisterAsyncEvent      uintptr
	nvEncMapInputResource          uintptr
	nvEncUnmapInputResource        uintptr
	nvEncDestroyEncoder            uintptr
	nvEncInvalidateRefFrames       uintptr
	nvEncOpenEncodeSessionEx       uintptr
	nvEncRegisterResource          uintptr
	nvEncUnregisterResource        uintptr
	nvEncReconfigureEncoder        uintptr
	reserved1                      uintptr
	nvEncCreateMVBuffer            uintptr
	nvEncDestroyMVBuffer           uintptr
	nvEncRunMotionEstimationOnly   uintptr
	reserved2                      [281]uintptr
}

type nvEncOpenEncodeSessionExParams struct {
	version    uint32
	deviceType uint32
	device     uintptr
	reserved   uintptr
	apiVersion uint32
	reserved1  [253]uint32
	reserved2  [64]uintptr
}

type nvEncCapsParam struct {
	version     uint32
	capsToQuery uint32
	reserved    [62]uint32
}

type nvEncQP struct {
	qpInterP uint32
	qpInterB uint32
	qpIntra  uint32
}

type nvEncRCParams struct {
	version              uint32
	rateControlMode      uint32
	constQP              nvEncQP
	averageBitRate       uint32
	maxBitRate           uint32
	vbvBufferSize        uint32
	vbvInitialDelay      uint32
	bits                 uint32
	minQP                nvEncQP
	maxQP                nvEncQP
	initialRCQP          nvEncQP
	temporallayerIdxMask uint32
	temporalLayerQP      [8]uint8
	targetQuality        uint8
	targetQualityLSB     uint8
	lookaheadDepth       uint16
	reserved1            uint32
	qpMapMode            uint32
	reserved             [7]uint32
}

type nvEncConfigH264VUI struct {
	overscanInfoPresentFlag      uint32
	overscanInfo                 uint32
	videoSignalTypePresentFlag   uint32
	videoFormat                  uint32
	videoFullRangeFlag           uint32
	colourDescriptionPresentFlag uint32
	colourPrimaries              uint32
	transferCharacteristics      uint32
	colourMatrix                 uint32
	chromaSampleLocationFlag     uint32
	chromaSampleLocationTop      uint32
	chromaSampleLocationBot      uint32
	bitstreamRestrictionFlag     uint32
	reserved                     [15]uint32
}

type nvEncConfigH264 struct {
	bits                       uint32
	level                      uint32
	idrPeriod                  uint32
	separateColourPlaneFlag    uint32
	disableDeblockingFilterIDC uint32
	numTemporalLayers          uint32
	spsID                      uint32
	ppsID                      uint32
	adaptiveTransformMode      uint32
	fmoMode                    uint32
	bdirectMode                uint32
	entropyCodingMode          uint32
	stereoMode                 uint32
	intraRefreshPeriod         uint32
	intraRefreshCnt            uint32
	maxNumRefFrames            uint32
	sliceMode                  uint32
	sliceModeData              uint32
	vui                        nvEncConfigH264VUI
	ltrNumFrames               uint32
	ltrTrustMode               uint32
	chromaFormatIDC            uint32
	maxTemporalLayers          uint32
	useBFramesAsRef            uint32
	numRefL0                   uint32
	numRefL1                   uint32
	reserved1                  [267]uint32
	reserved2                  [64]uintptr
}

type nvEncConfig struct {
	version            uint32
	profileGUID        GUID
	gopLength          uint32
	frameIntervalP     int32
	monoChromeEncoding uint32
	frameFieldMode     uint32
	mvPrecision        uint32
	rcParams           nvEncRCParams
	h264               nvEncConfigH264 // NV_ENC_CODEC_CONFIG union, H.264 member
	reserved           [278]uint32
	reserved2          [64]uintptr
}

type nvEncPresetConfig struct {
	version   uint32
	presetCfg nvEncConfig
	reserved1 [255]uint32
	reserved2 [64]uintptr
}

type nvEncMEHintCounts struct {
	bits      uint32
	reserved1 [3]uint32
}

type nvEncInitializeParams struct {
	version                 uint32
	encodeGUID              GUID
	presetGUID              GUID
	encodeWidth             uint32
	encodeHeight            uint32
	darWidth                uint32
	darHeight               uint32
	frameRateNum            uint32
	frameRateDen            uint32
	enableEncodeAsync       uint32
	enablePTD               uint32
	bits                    uint32
	privDataSize            uint32
	privData                uintptr
	encodeConfig            *nvEncConfig
	maxEncodeWidth          uint32
	maxEncodeHeight         uint32
	maxMEHintCountsPerBlock [2]nvEncMEHintCounts
	reserved                [289]uint32
	reserved2               [64]uintptr
}

type nvEncReconfigureParams struct {
	version            uint32
	reInitEncodeParams nvEncInitializeParams
	bits               uint32
}

type nvEncCreateBitstreamBuffer struct {
	version            uint32
	size               uint32
	memoryHeap         uint32
	reserved           uint32
	bitstreamBuffer    uintptr
	bitstreamBufferPtr uintptr
	reserved1          [58]uint32
	reserved2          [64]uintptr
}

type nvEncEventParams struct {
	version         uint32
	reserved        uint32
	completionEvent uintptr
	reserved1       [253]uint32
	reserved2       [64]uintptr
}

type nvEncRegisterResource struct {
	version            uint32
	resourceType       uint32
	width              uint32
	height             uint32
	pitch              uint32
	subResourceIndex   uint32
	resourceToRegister uintptr
	registeredResource uintptr
	bufferFormat       uint32
	bufferUsage        uint32
	reserved1          [247]uint32
	reserved2          [62]uintptr
}

type nvEncMapInputResource struct {
	version            uint32
	subResourceIndex   uint32
	inputResource      uintptr
	registeredResource uintptr
	mappedResource     uintptr
	mappedBufferFmt    uint32
	reserved1          [251]uint32
	reserved2          [63]uintptr
}

type nvEncPicParams struct {
	version              uint32
	inputWidth           uint32
	inputHeight          uint32
	inputPitch           uint32
	encodePicFlags       uint32
	frameIdx             uint32
	inputTimeStamp       uint64
	inputDuration        uint64
	inputBuffer          uintptr
	outputBitstream      uintptr
	completionEvent      uintptr
	bufferFmt            uint32
	pictureStruct        uint32
	pictureType          uint32
	codecPicParams       [192]uint64 // NV_ENC_CODEC_PIC_PARAMS union
	meHintCountsPerBlock [2]nvEncMEHintCounts
	meExternalHints      uintptr
	reserved1            [6]uint32
	reserved2            [2]uintptr
	qpDeltaMap           uintptr
	qpDeltaMapSize       uint32
	reservedBitFields    uint32
	meHintRefPicDist     [2]uint16
	reserved3            [286]uint32
	reserved4            [60]uintptr
}

type nvEncLockBitstream struct {
	version              uint32
	bits                 uint32
	outputBitstream      uintptr
	sliceOffsets         uintptr
	frameIdx             uint32
	hwEncodeStatus       uint32
	numSlices            uint32
	bitstreamSizeInBytes uint32
	outputTimeStamp      uint64
	outputDuration       uint64
	bitstreamBufferPtr   uintptr
	pictureType          uint32
	pictureStruct        uint32
	frameAvgQP           uint32
	frameSatd            uint32
	ltrFrameIdx          uint32
	ltrFrameBitmap       uint32
	reserved             [13]uint32
	intraMBCount         uint32
	interMBCount         uint32
	averageMVX           int32
	averageMVY           int32
	reserved1            [219]uint32
	reserved2            [64]uintptr
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func setBit(bits *uint32, mask uint32, on bool) {
	if on {
		*bits |= mask
	} else {
		*bits &^= mask
	}
}

// fromNative copies the modelled fields of a preset into a Config.
func fromNative(n *nvEncConfig) *Config {
	rc := &n.rcParams
	h := &n.h264
	return &Config{
		Profile:        n.profileGUID,
		GOPLength:      n.gopLength,
		FrameIntervalP: n.frameIntervalP,
		RC: RCParams{
			Mode:             RCMode(rc.rateControlMode),
			ConstQP:          QP{InterP: rc.constQP.qpInterP, InterB: rc.constQP.qpInterB, Intra: rc.constQP.qpIntra},
			AverageBitRate:   rc.averageBitRate,
			MaxBitRate:       rc.maxBitRate,
			EnableAQ:         rc.bits&rcEnableAQ != 0,
			EnableLookahead:  rc.bits&rcEnableLookahead != 0,
			EnableTemporalAQ: rc.bits&rcEnableTemporalAQ != 0,
			LookaheadDepth:   rc.lookaheadDepth,
		},
		H264: H264Config{
			Level:                    h.level,
			IDRPeriod:                h.idrPeriod,
			OutputBufferingPeriodSEI: h.bits&h264BufferingPeriodSEI != 0,
			OutputPictureTimingSEI:   h.bits&h264PictureTimingSEI != 0,
			VUI: VUI{
				VideoSignalTypePresent:   h.vui.videoSignalTypePresentFlag != 0,
				FullRange:                h.vui.videoFullRangeFlag != 0,
				ColourDescriptionPresent: h.vui.colourDescriptionPresentFlag != 0,
				ColourPrimaries:          h.vui.colourPrimaries,
				TransferCharacteristics:  h.vui.transferCharacteristics,
				ColourMatrix:             h.vui.colourMatrix,
			},
		},
		native: n,
	}
}

// toNative writes the modelled fields of c over its preset structure.
func toNative(c *Config) *nvEncConfig {
	n, _ := c.native.(*nvEncConfig)
	if n == nil {
		n = &nvEncConfig{}
		n.h264.level = levelAutoSelect
	}
	n.version = verConfig
	n.profileGUID = c.Profile
	n.gopLength = c.GOPLength
	n.frameIntervalP = c.FrameIntervalP

	rc := &n.rcParams
	rc.version = verRCParams
	rc.rateControlMode = uint32(c.RC.Mode)
	rc.constQP = nvEncQP{qpInterP: c.RC.ConstQP.InterP, qpInterB: c.RC.ConstQP.InterB, qpIntra: c.RC.ConstQP.Intra}
	rc.averageBitRate = c.RC.AverageBitRate
	rc.maxBitRate = c.RC.MaxBitRate
	setBit(&rc.bits, rcEnableAQ, c.RC.EnableAQ)
	setBit(&rc.bits, rcEnableLookahead, c.RC.EnableLookahead)
	setBit(&rc.bits, rcEnableTemporalAQ, c.RC.EnableTemporalAQ)
	rc.lookaheadDepth = c.RC.LookaheadDepth

	h := &n.h264
	h.level = c.H264.Level
	h.idrPeriod = c.H264.IDRPeriod
	setBit(&h.bits, h264BufferingPeriodSEI, c.H264.OutputBufferingPeriodSEI)
	setBit(&h.bits, h264PictureTimingSEI, c.H264.OutputPictureTimingSEI)
	h.vui.videoSignalTypePresentFlag = boolU32(c.H264.VUI.VideoSignalTypePresent)
	h.vui.videoFullRangeFlag = boolU32(c.H264.VUI.FullRange)
	h.vui.colourDescriptionPresentFlag = boolU32(c.H264.VUI.ColourDescriptionPresent)
	h.vui.colourPrimaries = c.H264.VUI.ColourPrimaries
	h.vui.transferCharacteristics = c.H264.VUI.TransferCharacteristics
	h.vui.colourMatrix = c.H264.VUI.ColourMatrix

	c.native = n
	return n
}
