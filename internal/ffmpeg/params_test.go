package ffmpeg

import (
	"strings"
	"testing"

	"github.com/five82/nvpipe/internal/config"
)

func TestX264ParamsBuilder(t *testing.T) {
	tests := []struct {
		name     string
		build    func() string
		contains []string
	}{
		{
			name: "stream framing",
			build: func() string {
				return NewX264ParamsBuilder().
					WithAUD(true).
					WithRepeatHeaders(true).
					WithNALHRD("cbr").
					Build()
			},
			contains: []string{"aud=1", "repeat-headers=1", "nal-hrd=cbr"},
		},
		{
			name: "disabled flags",
			build: func() string {
				return NewX264ParamsBuilder().
					WithAUD(false).
					WithForceCFR(false).
					WithLookahead(16).
					Build()
			},
			contains: []string{"aud=0", "force-cfr=0", "rc-lookahead=16"},
		},
		{
			name: "custom params",
			build: func() string {
				return NewX264ParamsBuilder().
					AddParam("keyint-min", "30").
					AddParam("scenecut", "0").
					Build()
			},
			contains: []string{"keyint-min=30", "scenecut=0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.build()
			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("result %q does not contain %q", result, want)
				}
			}
		})
	}
}

func TestX264ParamsBuilderSeparator(t *testing.T) {
	got := NewX264ParamsBuilder().WithAUD(true).WithNALHRD("none").Build()
	if got != "aud=1:nal-hrd=none" {
		t.Errorf("got %q, want %q", got, "aud=1:nal-hrd=none")
	}
}

func TestVideoFilterChain(t *testing.T) {
	tests := []struct {
		name  string
		build func() string
		want  string
	}{
		{
			name: "empty chain",
			build: func() string {
				return NewVideoFilterChain().Build()
			},
			want: "",
		},
		{
			name: "limited range bt709",
			build: func() string {
				return NewVideoFilterChain().AddColorParams(config.Video{Colorspace: config.Colorspace709}).Build()
			},
			want: "setparams=range=tv:colorspace=bt709:color_primaries=bt709:color_trc=bt709",
		},
		{
			name: "full range bt601 with format",
			build: func() string {
				return NewVideoFilterChain().
					AddColorParams(config.Video{FullRange: true, Colorspace: config.Colorspace601}).
					AddFormat("yuv444p").
					Build()
			},
			want: "setparams=range=pc:colorspace=smpte170m:color_primaries=smpte170m:color_trc=smpte170m,format=yuv444p",
		},
		{
			name: "empty filters ignored",
			build: func() string {
				return NewVideoFilterChain().
					AddFormat("").
					AddFilter("").
					AddFilter("scale=1280:720").
					Build()
			},
			want: "scale=1280:720",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.build()
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
