package ffmpeg

import (
	"slices"
	"strings"
	"testing"

	"github.com/five82/nvpipe/internal/config"
)

func testParams(modify func(*Params)) Params {
	p := Params{
		Settings: config.Default(),
		Video:    config.Video{Width: 1280, Height: 720, FPSNum: 30, FPSDen: 1, Colorspace: config.Colorspace709},
	}
	if modify != nil {
		modify(&p)
	}
	return p
}

// value returns the argument following flag.
func value(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestBuildArgsStream(t *testing.T) {
	args := BuildArgs(testParams(nil))

	want := map[string]string{
		"-f":       "rawvideo",
		"-pix_fmt": "nv12",
		"-s":       "1280x720",
		"-r":       "30/1",
		"-i":       "pipe:0",
		"-c:v":     "libx264",
		"-bf":      "0",
		"-g":       "250",
		"-bsf:v":   "h264_mp4toannexb",
		"-preset":  "medium",
	}
	for flag, v := range want {
		if got, ok := value(args, flag); !ok || got != v {
			t.Errorf("%s = %q, want %q", flag, got, v)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("last arg = %q, want pipe:1", args[len(args)-1])
	}
	if got, _ := value(args[len(args)-3:], "-f"); got != "h264" {
		t.Errorf("output format = %q, want h264", got)
	}
	xp, _ := value(args, "-x264-params")
	if !strings.Contains(xp, "aud=1") {
		t.Errorf("x264 params %q missing aud=1", xp)
	}
}

func TestBuildArgsRateControl(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Params)
		flag    string
		want    string
		hrd     string
		missing string
	}{
		{
			name:    "cbr",
			modify:  func(p *Params) { p.Settings.Bitrate = 4000 },
			flag:    "-b:v",
			want:    "4000k",
			hrd:     "nal-hrd=cbr",
			missing: "-qp",
		},
		{
			name: "vbr served as cbr",
			modify: func(p *Params) {
				p.Settings.RateControl = config.RateControlVBR
				p.Settings.Bitrate = 3000
			},
			flag:    "-maxrate",
			want:    "3000k",
			hrd:     "nal-hrd=cbr",
			missing: "-qp",
		},
		{
			name: "cqp",
			modify: func(p *Params) {
				p.Settings.RateControl = config.RateControlCQP
				p.Settings.CQP = 28
			},
			flag:    "-qp",
			want:    "28",
			hrd:     "nal-hrd=none",
			missing: "-b:v",
		},
		{
			name:    "lossless",
			modify:  func(p *Params) { p.Settings.RateControl = config.RateControlLossless },
			flag:    "-profile:v",
			want:    "high444",
			hrd:     "nal-hrd=none",
			missing: "-b:v",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := BuildArgs(testParams(tt.modify))
			if got, ok := value(args, tt.flag); !ok || got != tt.want {
				t.Errorf("%s = %q, want %q", tt.flag, got, tt.want)
			}
			if xp, _ := value(args, "-x264-params"); !strings.Contains(xp, tt.hrd) {
				t.Errorf("x264 params %q missing %q", xp, tt.hrd)
			}
			if slices.Contains(args, tt.missing) {
				t.Errorf("args unexpectedly contain %s: %v", tt.missing, args)
			}
		})
	}
}

func TestBuildArgsPresetProfileLevel(t *testing.T) {
	tests := []struct {
		preset  config.Preset
		profile config.Profile
		level   config.Level
		wantP   string
		tune    string
		wantPrf string
	}{
		{config.PresetDefault, config.ProfileMain, config.LevelAuto, "medium", "", "main"},
		{config.PresetHQ, config.ProfileHigh, "4.1", "slow", "", "high"},
		{config.PresetLLHP, config.ProfileBaseline, config.LevelAuto, "ultrafast", "zerolatency", "baseline"},
		{config.PresetLLHQ, config.ProfileHigh444P, "5.1", "veryfast", "zerolatency", "high444"},
	}

	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			args := BuildArgs(testParams(func(p *Params) {
				p.Settings.Preset = tt.preset
				p.Settings.Profile = tt.profile
				p.Settings.Level = tt.level
			}))
			if got, _ := value(args, "-preset"); got != tt.wantP {
				t.Errorf("-preset = %q, want %q", got, tt.wantP)
			}
			if got, _ := value(args, "-tune"); got != tt.tune {
				t.Errorf("-tune = %q, want %q", got, tt.tune)
			}
			if got, _ := value(args, "-profile:v"); got != tt.wantPrf {
				t.Errorf("-profile:v = %q, want %q", got, tt.wantPrf)
			}
			got, ok := value(args, "-level:v")
			if tt.level == config.LevelAuto {
				if ok {
					t.Errorf("-level:v = %q, want absent", got)
				}
			} else if got != string(tt.level) {
				t.Errorf("-level:v = %q, want %q", got, tt.level)
			}
		})
	}
}

func TestBuildArgsGOPAndLookahead(t *testing.T) {
	args := BuildArgs(testParams(func(p *Params) {
		p.Settings.KeyintSec = 2
		p.Settings.Lookahead = true
		p.Settings.LookaheadDepth = 20
	}))
	if got, _ := value(args, "-g"); got != "60" {
		t.Errorf("-g = %q, want 60", got)
	}
	xp, _ := value(args, "-x264-params")
	for _, want := range []string{"rc-lookahead=20", "keyint-min=60", "scenecut=0"} {
		if !strings.Contains(xp, want) {
			t.Errorf("x264 params %q missing %s", xp, want)
		}
	}
}

func TestBuildArgsOtherCodec(t *testing.T) {
	args := BuildArgs(testParams(func(p *Params) { p.Codec = "h264_vaapi" }))
	if got, _ := value(args, "-c:v"); got != "h264_vaapi" {
		t.Errorf("-c:v = %q, want h264_vaapi", got)
	}
	for _, flag := range []string{"-x264-params", "-preset", "-tune"} {
		if slices.Contains(args, flag) {
			t.Errorf("args for non-x264 codec contain %s", flag)
		}
	}
	if got, _ := value(args, "-bf"); got != "0" {
		t.Errorf("-bf = %q, want 0", got)
	}
}
