package ffmpeg

import (
	"fmt"

	"github.com/five82/nvpipe/internal/config"
	"github.com/five82/nvpipe/internal/metrics"
)

// DefaultCodec is the software encoder used when Params.Codec is empty.
const DefaultCodec = "libx264"

// Params describes one fallback encode.
type Params struct {
	// Binary is the ffmpeg executable; "ffmpeg" when empty.
	Binary   string
	Codec    string
	Settings config.Settings
	Video    config.Video
	// Metrics is optional.
	Metrics *metrics.Metrics
}

func (p Params) binary() string {
	if p.Binary == "" {
		return "ffmpeg"
	}
	return p.Binary
}

func (p Params) codec() string {
	if p.Codec == "" {
		return DefaultCodec
	}
	return p.Codec
}

// x264Preset maps the hardware preset families onto x264 speed presets.
func x264Preset(p config.Preset) (preset, tune string) {
	switch p {
	case config.PresetHP:
		return "ultrafast", ""
	case config.PresetLLHP:
		return "ultrafast", "zerolatency"
	case config.PresetLL, config.PresetLLHQ:
		return "veryfast", "zerolatency"
	case config.PresetHQ, config.PresetBD:
		return "slow", ""
	default:
		return "medium", ""
	}
}

func x264Profile(p config.Profile) (profile, pixFmt string) {
	switch p {
	case config.ProfileBaseline:
		return "baseline", "yuv420p"
	case config.ProfileHigh:
		return "high", "yuv420p"
	case config.ProfileHigh444P:
		return "high444", "yuv444p"
	default:
		return "main", "yuv420p"
	}
}

// BuildArgs builds the ffmpeg argument list. Raw NV12 is read from stdin
// and an Annex-B elementary stream is written to stdout. B-frames are off so
// output order equals input order.
func BuildArgs(p Params) []string {
	s, v := p.Settings, p.Video
	codec := p.codec()
	x264 := codec == DefaultCodec

	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-f", "rawvideo",
		"-pix_fmt", "nv12",
		"-s", fmt.Sprintf("%dx%d", v.Width, v.Height),
		"-r", fmt.Sprintf("%d/%d", v.FPSNum, v.FPSDen),
		"-i", "pipe:0",
		"-an",
	}

	profile, pixFmt := x264Profile(s.Profile)
	if s.RateControl == config.RateControlLossless {
		profile, pixFmt = "high444", "yuv444p"
	}
	filters := NewVideoFilterChain().AddColorParams(v).AddFormat(pixFmt)
	if !filters.IsEmpty() {
		args = append(args, "-vf", filters.Build())
	}

	args = append(args, "-c:v", codec)
	if x264 {
		preset, tune := x264Preset(s.Preset)
		args = append(args, "-preset", preset)
		if tune != "" {
			args = append(args, "-tune", tune)
		}
		args = append(args, "-profile:v", profile)
	}
	if s.Level != config.LevelAuto && s.Level != "" {
		args = append(args, "-level:v", s.Level.String())
	}

	gop := v.GOPSize(s.KeyintSec)
	args = append(args, "-bf", "0", "-g", fmt.Sprintf("%d", gop))

	hrd := "none"
	switch s.RateControl {
	case config.RateControlCQP:
		args = append(args, "-qp", fmt.Sprintf("%d", s.CQP))
	case config.RateControlLossless:
		args = append(args, "-qp", "0")
	default:
		// VBR is served as CBR, matching the hardware path.
		kbps := s.Bitrate
		args = append(args,
			"-b:v", fmt.Sprintf("%dk", kbps),
			"-maxrate", fmt.Sprintf("%dk", kbps),
			"-bufsize", fmt.Sprintf("%dk", 2*kbps),
		)
		hrd = "cbr"
	}

	if x264 {
		xp := NewX264ParamsBuilder().
			WithAUD(true).
			WithRepeatHeaders(true).
			WithForceCFR(true).
			WithNALHRD(hrd).
			AddParam("keyint-min", fmt.Sprintf("%d", gop)).
			AddParam("scenecut", "0")
		if s.Lookahead {
			xp.WithLookahead(s.LookaheadDepth)
		}
		args = append(args, "-x264-params", xp.Build())
	}

	args = append(args,
		"-bsf:v", "h264_mp4toannexb",
		"-f", "h264",
		"pipe:1",
	)
	return args
}
