package session

import (
	"testing"

	"github.com/five82/nvpipe/internal/config"
	"github.com/five82/nvpipe/internal/nvenc"
)

func allCaps() Caps {
	return Caps{
		MaxBFrames:     4,
		MaxWidth:       4096,
		MaxHeight:      4096,
		Async:          true,
		DynamicBitrate: true,
		Lossless:       true,
		Lookahead:      true,
		TemporalAQ:     true,
	}
}

func plan(t *testing.T, modify func(*config.Settings), caps Caps) *Plan {
	t.Helper()
	s := config.Default()
	if modify != nil {
		modify(&s)
	}
	return buildPlan(s, testVideo(), caps, &nvenc.Config{}, quietLogger())
}

func TestPresetSelection(t *testing.T) {
	tests := []struct {
		preset config.Preset
		rc     config.RateControl
		want   nvenc.GUID
	}{
		{config.PresetDefault, config.RateControlCBR, nvenc.PresetDefault},
		{config.PresetHQ, config.RateControlCBR, nvenc.PresetHQ},
		{config.PresetHP, config.RateControlCBR, nvenc.PresetHP},
		{config.PresetBD, config.RateControlCBR, nvenc.PresetBD},
		{config.PresetLL, config.RateControlCBR, nvenc.PresetLowLatencyDefault},
		{config.PresetLLHQ, config.RateControlCQP, nvenc.PresetLowLatencyHQ},
		{config.PresetLLHP, config.RateControlCBR, nvenc.PresetLowLatencyHP},
		{config.PresetDefault, config.RateControlLossless, nvenc.PresetLosslessDefault},
		{config.PresetHQ, config.RateControlLossless, nvenc.PresetLosslessDefault},
		{config.PresetHP, config.RateControlLossless, nvenc.PresetLosslessHP},
		{config.PresetLLHP, config.RateControlLossless, nvenc.PresetLosslessHP},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset)+"/"+string(tt.rc), func(t *testing.T) {
			p := plan(t, func(s *config.Settings) {
				s.Preset = tt.preset
				s.RateControl = tt.rc
			}, allCaps())
			if p.Preset != tt.want || p.Init.PresetGUID != tt.want {
				t.Errorf("preset = %s, want %s", nvenc.PresetName(p.Preset), nvenc.PresetName(tt.want))
			}
		})
	}
}

func TestRateControl(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*config.Settings)
		wantMode nvenc.RCMode
		wantQP   uint32
		wantRate uint32
		wantCBR  bool
	}{
		{"cbr two-pass", nil, nvenc.RCTwoPassQuality, 0, 2500000, true},
		{"cbr single pass", func(s *config.Settings) { s.TwoPass = false }, nvenc.RCCBR, 0, 2500000, true},
		{"vbr falls back to cbr", func(s *config.Settings) {
			s.RateControl = config.RateControlVBR
			s.TwoPass = false
			s.Bitrate = 8000
		}, nvenc.RCCBR, 0, 8000000, true},
		{"cqp", func(s *config.Settings) {
			s.RateControl = config.RateControlCQP
			s.CQP = 30
		}, nvenc.RCConstQP, 30, 0, false},
		{"lossless", func(s *config.Settings) { s.RateControl = config.RateControlLossless }, nvenc.RCConstQP, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plan(t, tt.modify, allCaps())
			rc := p.Config.RC
			if rc.Mode != tt.wantMode {
				t.Errorf("Mode = %v, want %v", rc.Mode, tt.wantMode)
			}
			want := nvenc.QP{InterP: tt.wantQP, InterB: tt.wantQP, Intra: tt.wantQP}
			if rc.ConstQP != want {
				t.Errorf("ConstQP = %+v, want %+v", rc.ConstQP, want)
			}
			if rc.AverageBitRate != tt.wantRate || rc.MaxBitRate != tt.wantRate {
				t.Errorf("bitrate = %d/%d, want %d", rc.AverageBitRate, rc.MaxBitRate, tt.wantRate)
			}
			if p.CBR != tt.wantCBR {
				t.Errorf("CBR = %v, want %v", p.CBR, tt.wantCBR)
			}
			h := p.Config.H264
			if h.OutputBufferingPeriodSEI != tt.wantCBR || h.OutputPictureTimingSEI != tt.wantCBR {
				t.Errorf("timing SEI = %v/%v, want %v", h.OutputBufferingPeriodSEI, h.OutputPictureTimingSEI, tt.wantCBR)
			}
		})
	}
}

func TestGOP(t *testing.T) {
	p := plan(t, func(s *config.Settings) { s.KeyintSec = 2 }, allCaps())
	if p.Config.GOPLength != 60 || p.Config.H264.IDRPeriod != 60 {
		t.Errorf("GOPLength/IDRPeriod = %d/%d, want 60", p.Config.GOPLength, p.Config.H264.IDRPeriod)
	}
}

func TestLookahead(t *testing.T) {
	noLookahead := allCaps()
	noLookahead.Lookahead = false

	tests := []struct {
		name      string
		preset    config.Preset
		caps      Caps
		wantLA    bool
		wantDepth int
	}{
		{"enabled", config.PresetHQ, allCaps(), true, 3 + 16 + 5},
		{"hp preset", config.PresetHP, allCaps(), false, 8},
		{"llhp preset", config.PresetLLHP, allCaps(), false, 8},
		{"unsupported", config.PresetDefault, noLookahead, false, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plan(t, func(s *config.Settings) {
				s.Preset = tt.preset
				s.Lookahead = true
				s.LookaheadDepth = 16
			}, tt.caps)
			if p.Config.RC.EnableLookahead != tt.wantLA {
				t.Errorf("EnableLookahead = %v, want %v", p.Config.RC.EnableLookahead, tt.wantLA)
			}
			if p.Depth != tt.wantDepth || p.OutputDelay != tt.wantDepth-1 {
				t.Errorf("Depth/OutputDelay = %d/%d, want %d/%d", p.Depth, p.OutputDelay, tt.wantDepth, tt.wantDepth-1)
			}
		})
	}
}

func TestTemporalAQ(t *testing.T) {
	noAQ := allCaps()
	noAQ.TemporalAQ = false

	tests := []struct {
		name    string
		setting bool
		caps    Caps
		want    bool
	}{
		{"on", true, allCaps(), true},
		{"off", false, allCaps(), false},
		{"unsupported", true, noAQ, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plan(t, func(s *config.Settings) { s.TemporalAQ = tt.setting }, tt.caps)
			if p.Config.RC.EnableAQ != tt.want || p.Config.RC.EnableTemporalAQ != tt.want {
				t.Errorf("AQ = %v/%v, want %v", p.Config.RC.EnableAQ, p.Config.RC.EnableTemporalAQ, tt.want)
			}
		})
	}
}

func TestBFramesLimitedByCaps(t *testing.T) {
	caps := allCaps()
	caps.MaxBFrames = 0
	p := plan(t, nil, caps)
	if p.Config.FrameIntervalP != 1 || p.BFrames {
		t.Errorf("FrameIntervalP = %d BFrames = %v, want 1 and false", p.Config.FrameIntervalP, p.BFrames)
	}
	if p.Depth != 6 {
		t.Errorf("Depth = %d, want 6", p.Depth)
	}
}

func TestProfileLevelAndVUI(t *testing.T) {
	tests := []struct {
		profile config.Profile
		want    nvenc.GUID
	}{
		{config.ProfileBaseline, nvenc.ProfileBaseline},
		{config.ProfileMain, nvenc.ProfileMain},
		{config.ProfileHigh, nvenc.ProfileHigh},
		{config.ProfileHigh444P, nvenc.ProfileHigh444},
	}
	for _, tt := range tests {
		p := plan(t, func(s *config.Settings) { s.Profile = tt.profile }, allCaps())
		if p.Config.Profile != tt.want {
			t.Errorf("profile %s = %s, want %s", tt.profile, p.Config.Profile, tt.want)
		}
	}

	p := plan(t, func(s *config.Settings) { s.Level = "4.1" }, allCaps())
	if p.Config.H264.Level != 41 {
		t.Errorf("Level = %d, want 41", p.Config.H264.Level)
	}

	vui := p.Config.H264.VUI
	if !vui.VideoSignalTypePresent || !vui.ColourDescriptionPresent || vui.FullRange {
		t.Errorf("VUI flags = %+v", vui)
	}
	if vui.ColourMatrix != 1 || vui.ColourPrimaries != 1 || vui.TransferCharacteristics != 1 {
		t.Errorf("VUI colour = %+v, want BT.709", vui)
	}

	v := testVideo()
	v.Colorspace = config.Colorspace601
	v.FullRange = true
	p = buildPlan(config.Default(), v, allCaps(), &nvenc.Config{}, quietLogger())
	if p.Config.H264.VUI.ColourMatrix != 5 || !p.Config.H264.VUI.FullRange {
		t.Errorf("601 full range VUI = %+v", p.Config.H264.VUI)
	}
}

func TestInitParams(t *testing.T) {
	p := plan(t, nil, allCaps())
	in := p.Init
	v := testVideo()
	if in.EncodeGUID != nvenc.CodecH264 || !in.EnableEncodeAsync || !in.EnablePTD {
		t.Errorf("Init = %+v", in)
	}
	if in.Width != v.Width || in.DarWidth != v.Width || in.MaxWidth != v.Width ||
		in.Height != v.Height || in.DarHeight != v.Height || in.MaxHeight != v.Height {
		t.Errorf("Init sizes = %+v", in)
	}
	if in.FrameRateNum != 30 || in.FrameRateDen != 1 {
		t.Errorf("Init rate = %d/%d", in.FrameRateNum, in.FrameRateDen)
	}
	if in.Config != &p.Config {
		t.Error("Init.Config must point at the plan's config")
	}
}
