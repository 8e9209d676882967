package session

import (
	"log/slog"

	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/nvenc"
)

const (
	// extraBuffers is the slack added to the pipeline depth on top of the
	// encoder's reorder and lookahead needs.
	extraBuffers = 5
)

// Caps are the capability flags configuration depends on.
type Caps struct {
	MaxBFrames     int
	MaxWidth       int
	MaxHeight      int
	Async          bool
	DynamicBitrate bool
	Lossless       bool
	Lookahead      bool
	TemporalAQ     bool
}

// QueryCaps reads the H.264 capabilities of an open session.
func QueryCaps(enc nvenc.Encoder) (Caps, error) {
	var c Caps
	queries := []struct {
		cap nvenc.Cap
		num *int
		set *bool
	}{
		{cap: nvenc.CapNumMaxBFrames, num: &c.MaxBFrames},
		{cap: nvenc.CapWidthMax, num: &c.MaxWidth},
		{cap: nvenc.CapHeightMax, num: &c.MaxHeight},
		{cap: nvenc.CapAsyncEncodeSupport, set: &c.Async},
		{cap: nvenc.CapSupportDynBitrateChange, set: &c.DynamicBitrate},
		{cap: nvenc.CapSupportLosslessEncode, set: &c.Lossless},
		{cap: nvenc.CapSupportLookahead, set: &c.Lookahead},
		{cap: nvenc.CapSupportTemporalAQ, set: &c.TemporalAQ},
	}
	for _, q := range queries {
		v, err := enc.Caps(nvenc.CodecH264, q.cap)
		if err != nil {
			return Caps{}, nverrors.NewConfigurationError("query encoder capabilities", err)
		}
		if q.num != nil {
			*q.num = v
		} else {
			*q.set = v != 0
		}
	}
	return c, nil
}

// Plan is the encoder configuration derived from settings and capabilities.
type Plan struct {
	Preset nvenc.GUID
	Init   nvenc.InitParams
	Config nvenc.Config

	CBR     bool
	BFrames bool
	GOP     uint32

	// Depth is the number of bitstream buffers and input surfaces.
	Depth int
	// OutputDelay is Depth-1, the frames held before output begins.
	OutputDelay int
}

// presetGUID resolves the speed/latency axes and the lossless override.
func presetGUID(s config.Settings) (preset nvenc.GUID, hp, ll bool) {
	switch s.Preset {
	case config.PresetHQ:
		preset = nvenc.PresetHQ
	case config.PresetHP:
		preset, hp = nvenc.PresetHP, true
	case config.PresetBD:
		preset = nvenc.PresetBD
	case config.PresetLL:
		preset, ll = nvenc.PresetLowLatencyDefault, true
	case config.PresetLLHQ:
		preset, ll = nvenc.PresetLowLatencyHQ, true
	case config.PresetLLHP:
		preset, hp, ll = nvenc.PresetLowLatencyHP, true, true
	default:
		preset = nvenc.PresetDefault
	}

	if s.RateControl == config.RateControlLossless {
		if hp {
			preset = nvenc.PresetLosslessHP
		} else {
			preset = nvenc.PresetLosslessDefault
		}
	}
	return preset, hp, ll
}

func profileGUID(p config.Profile) nvenc.GUID {
	switch p {
	case config.ProfileBaseline:
		return nvenc.ProfileBaseline
	case config.ProfileMain:
		return nvenc.ProfileMain
	case config.ProfileHigh444P:
		return nvenc.ProfileHigh444
	default:
		return nvenc.ProfileHigh
	}
}

// buildPlan fills a preset's config from settings. It does not talk to the
// encoder.
func buildPlan(s config.Settings, video config.Video, caps Caps, base *nvenc.Config, log *slog.Logger) *Plan {
	preset, hp, _ := presetGUID(s)

	p := &Plan{Preset: preset, Config: *base}
	cfg := &p.Config
	rc := &cfg.RC

	bf := s.BFrames
	if bf > caps.MaxBFrames {
		log.Warn("B-frames limited by hardware", "requested", bf, "max", caps.MaxBFrames)
		bf = caps.MaxBFrames
	}

	p.GOP = video.GOPSize(s.KeyintSec)
	cfg.GOPLength = p.GOP
	cfg.H264.IDRPeriod = p.GOP
	cfg.FrameIntervalP = int32(1 + bf)
	cfg.Profile = profileGUID(s.Profile)
	cfg.H264.Level = s.Level.Value()
	p.BFrames = bf > 0

	cfg.H264.VUI = nvenc.VUI{
		VideoSignalTypePresent:   true,
		FullRange:                video.FullRange,
		ColourDescriptionPresent: true,
		ColourPrimaries:          1,
		TransferCharacteristics:  1,
		ColourMatrix:             5,
	}
	if video.Colorspace == config.Colorspace709 {
		cfg.H264.VUI.ColourMatrix = 1
	}

	rc.EnableLookahead = false
	rc.LookaheadDepth = 0
	if s.Lookahead {
		if caps.Lookahead && !hp {
			rc.EnableLookahead = true
			rc.LookaheadDepth = uint16(s.LookaheadDepth)
		} else {
			log.Debug("lookahead skipped", "supported", caps.Lookahead, "hp_preset", hp)
		}
	}

	if caps.TemporalAQ {
		rc.EnableAQ = s.TemporalAQ
		rc.EnableTemporalAQ = s.TemporalAQ
	} else if s.TemporalAQ {
		log.Debug("temporal AQ not supported by hardware")
	}

	switch s.RateControl {
	case config.RateControlCQP:
		qp := uint32(s.CQP)
		rc.Mode = nvenc.RCConstQP
		rc.ConstQP = nvenc.QP{InterP: qp, InterB: qp, Intra: qp}
		rc.AverageBitRate = 0
		rc.MaxBitRate = 0

	case config.RateControlLossless:
		rc.Mode = nvenc.RCConstQP
		rc.ConstQP = nvenc.QP{}
		rc.AverageBitRate = 0
		rc.MaxBitRate = 0

	default:
		if s.RateControl == config.RateControlVBR {
			log.Warn("VBR is not available for this encoder, using CBR")
		}
		p.CBR = true
		rc.Mode = nvenc.RCCBR
		if s.TwoPass {
			rc.Mode = nvenc.RCTwoPassQuality
		}
		rc.ConstQP = nvenc.QP{}
		rc.AverageBitRate = uint32(s.Bitrate) * 1000
		rc.MaxBitRate = uint32(s.Bitrate) * 1000
		cfg.H264.OutputBufferingPeriodSEI = true
		cfg.H264.OutputPictureTimingSEI = true
	}

	p.Init = nvenc.InitParams{
		EncodeGUID:        nvenc.CodecH264,
		PresetGUID:        preset,
		Width:             video.Width,
		Height:            video.Height,
		DarWidth:          video.Width,
		DarHeight:         video.Height,
		FrameRateNum:      video.FPSNum,
		FrameRateDen:      video.FPSDen,
		EnableEncodeAsync: true,
		EnablePTD:         true,
		MaxWidth:          video.Width,
		MaxHeight:         video.Height,
		Config:            cfg,
	}

	p.Depth = int(cfg.FrameIntervalP) + int(rc.LookaheadDepth) + extraBuffers
	p.OutputDelay = p.Depth - 1
	return p
}

// configure fetches the preset, builds the plan and initializes the encoder.
func configure(enc nvenc.Encoder, s config.Settings, video config.Video, caps Caps, log *slog.Logger) (*Plan, error) {
	if s.RateControl == config.RateControlLossless && !caps.Lossless {
		return nil, nverrors.NewConfigurationError("lossless encoding not supported by hardware", nil)
	}

	preset, _, _ := presetGUID(s)
	base, err := enc.PresetConfig(nvenc.CodecH264, preset)
	if err != nil {
		return nil, nverrors.NewConfigurationError("get preset config "+nvenc.PresetName(preset), err)
	}

	plan := buildPlan(s, video, caps, base, log)
	if err := enc.Initialize(&plan.Init); err != nil {
		return nil, nverrors.NewConfigurationError("initialize encoder", err)
	}

	log.Info("encoder configured",
		"rate_control", s.RateControl,
		"mode", plan.Config.RC.Mode,
		"bitrate", plan.Config.RC.MaxBitRate/1000,
		"cqp", s.CQP,
		"keyint", plan.GOP,
		"preset", nvenc.PresetName(preset),
		"profile", s.Profile,
		"level", s.Level,
		"width", video.Width,
		"height", video.Height,
		"2pass", s.TwoPass,
		"bframes", plan.Config.FrameIntervalP-1,
		"depth", plan.Depth,
		"gpu", s.GPU)
	return plan, nil
}
