package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/five82/nvpipe"
	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/config"
	"github.com/five82/nvpipe/internal/reporter"
	"github.com/five82/nvpipe/internal/validation"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

var (
	testSPS = []byte{0, 0, 0, 1, 0x67, 0x64, 0x00, 0x1f}
	testPPS = []byte{0, 0, 0, 1, 0x68, 0xee, 0x3c, 0x80}
	testSEI = []byte{0, 0, 0, 1, 0x06, 0x05, 0x01, 0x80}
	testAUD = []byte{0, 0, 0, 1, 0x09, 0xf0}
	testIDR = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestStreamWriterFirstPacket(t *testing.T) {
	header := concat(testSPS, testPPS)

	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{
			name: "stripped packet gets headers back",
			data: testIDR,
			want: concat(testSPS, testPPS, testSEI, testIDR),
		},
		{
			name: "headers follow the delimiter",
			data: concat(testAUD, testIDR),
			want: concat(testAUD, testSPS, testPPS, testSEI, testIDR),
		},
		{
			name: "packet with parameter sets is kept",
			data: concat(testAUD, testSPS, testPPS, testIDR),
			want: concat(testAUD, testSPS, testPPS, testIDR),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := newStreamWriter(nopCloser{&buf})
			if err := w.WriteFirst(tt.data, header, testSEI); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Errorf("wrote % x, want % x", buf.Bytes(), tt.want)
			}
			if w.Bytes() != uint64(len(tt.want)) {
				t.Errorf("Bytes() = %d, want %d", w.Bytes(), len(tt.want))
			}
		})
	}
}

func TestFillPattern(t *testing.T) {
	video := config.Video{Width: 8, Height: 4, FPSNum: 30, FPSDen: 1}
	a := make([]byte, video.FrameSize())
	b := make([]byte, video.FrameSize())
	fillPattern(a, video, 0)
	fillPattern(b, video, 1)

	if bytes.Equal(a, b) {
		t.Error("consecutive frames are identical")
	}
	if a[len(a)-2] != 128 || a[len(a)-1] != 128 {
		t.Errorf("frame 0 chroma = %d,%d, want 128,128", a[len(a)-2], a[len(a)-1])
	}
}

func TestLoadSettingsFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(s config.Settings) bool
		wantErr bool
	}{
		{
			name: "defaults",
			args: nil,
			check: func(s config.Settings) bool {
				d := config.Default()
				return s.Bitrate == d.Bitrate && s.Preset == d.Preset && s.BFrames == d.BFrames
			},
		},
		{
			name: "overrides",
			args: []string{"--bitrate", "6000", "--preset", "llhq", "--bf", "0"},
			check: func(s config.Settings) bool {
				return s.Bitrate == 6000 && s.Preset == config.PresetLLHQ && s.BFrames == 0
			},
		},
		{
			name:    "bad preset",
			args:    []string{"--preset", "ultrafast"},
			wantErr: true,
		},
		{
			name:    "bitrate out of range",
			args:    []string{"--bitrate", "10"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newSimulateCmd()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatal(err)
			}
			var sa simulateArgs
			sa.bitrate, _ = cmd.Flags().GetInt("bitrate")
			sa.preset, _ = cmd.Flags().GetString("preset")
			sa.bframes, _ = cmd.Flags().GetInt("bf")

			s, err := loadSettings(cmd, sa)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !tt.check(s) {
				t.Errorf("loadSettings() = %+v", s)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "nvpipe version ") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestSimRunProducesValidStream(t *testing.T) {
	tests := []struct {
		name     string
		settings func(s *config.Settings)
	}{
		{name: "b-frames", settings: func(s *config.Settings) {}},
		{name: "ip only", settings: func(s *config.Settings) { s.BFrames = 0 }},
		{name: "cqp", settings: func(s *config.Settings) { s.RateControl = config.RateControlCQP }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Default()
			tt.settings(&s)
			video := config.Video{Width: 64, Height: 32, FPSNum: 30, FPSDen: 1, Colorspace: config.Colorspace709}

			dev, opts, err := backendOptions(simulateArgs{backend: backendSim})
			if err != nil {
				t.Fatal(err)
			}
			opts = append(opts, nvpipe.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			enc, err := nvpipe.Open(context.Background(), s, video, opts...)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer enc.Close()

			path := filepath.Join(t.TempDir(), "out.h264")
			file, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			run := &simRun{enc: enc, dev: dev, video: video, out: newStreamWriter(file), rep: reporter.NullReporter{}}
			if err := run.encode(context.Background(), 40); err != nil {
				t.Fatalf("encode() error = %v", err)
			}
			if err := run.out.Close(); err != nil {
				t.Fatal(err)
			}

			header, _ := enc.Header()
			result := validation.Check(run.packets, run.submitted, validation.Options{Header: header})
			exp := validation.Expectation{Frames: 40}
			if err := validation.ValidateFile(context.Background(), validation.ParserAnalyzer{}, path, exp, result); err != nil {
				t.Fatal(err)
			}
			if !result.IsValid() {
				t.Errorf("validation failed: %v", result.GetFailures())
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if nals := avc.Split(data); len(nals) == 0 || avc.Type(nals[0]) != avc.NALSPS {
				t.Error("output does not start with an SPS")
			}
		})
	}
}

func TestSimRunCancelled(t *testing.T) {
	video := config.Video{Width: 64, Height: 32, FPSNum: 30, FPSDen: 1, Colorspace: config.Colorspace709}
	dev, opts, err := backendOptions(simulateArgs{backend: backendSim})
	if err != nil {
		t.Fatal(err)
	}
	opts = append(opts, nvpipe.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	enc, err := nvpipe.Open(context.Background(), config.Default(), video, opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	run := &simRun{enc: enc, dev: dev, video: video, out: newStreamWriter(nopCloser{&buf}), rep: reporter.NullReporter{}}
	if err := run.encode(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("encode() error = %v, want context.Canceled", err)
	}
	if len(run.submitted) != 0 || len(run.packets) != 0 {
		t.Errorf("submitted %d frames and got %d packets after cancellation", len(run.submitted), len(run.packets))
	}
}

func TestBackendOptionsUnknown(t *testing.T) {
	if _, _, err := backendOptions(simulateArgs{backend: "cuda"}); err == nil {
		t.Error("backendOptions(cuda) should fail")
	}
}
