package ffprobe

import (
	"testing"
)

const h264Probe = `{
    "streams": [
        {
            "index": 0,
            "codec_name": "h264",
            "profile": "Main",
            "codec_type": "video",
            "width": 1280,
            "height": 720,
            "pix_fmt": "yuv420p",
            "level": 31,
            "color_range": "tv",
            "color_space": "bt709",
            "nb_read_frames": "240"
        }
    ]
}`

func TestParseFFprobeOutput(t *testing.T) {
	probe, err := parseFFprobeOutput([]byte(h264Probe))
	if err != nil {
		t.Fatalf("parseFFprobeOutput() error = %v", err)
	}
	info, err := videoStream(probe, "out.h264")
	if err != nil {
		t.Fatalf("videoStream() error = %v", err)
	}

	want := StreamInfo{
		CodecName:  "h264",
		Profile:    "Main",
		Level:      31,
		Width:      1280,
		Height:     720,
		PixFmt:     "yuv420p",
		ColorRange: "tv",
		ColorSpace: "bt709",
		Frames:     240,
	}
	if *info != want {
		t.Errorf("videoStream() = %+v, want %+v", *info, want)
	}
}

func TestVideoStreamErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"no streams", `{"streams": []}`},
		{"audio only", `{"streams": [{"codec_type": "audio", "codec_name": "opus"}]}`},
		{"zero size", `{"streams": [{"codec_type": "video", "codec_name": "h264", "width": 0, "height": 720}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe, err := parseFFprobeOutput([]byte(tt.json))
			if err != nil {
				t.Fatalf("parseFFprobeOutput() error = %v", err)
			}
			if _, err := videoStream(probe, "x.h264"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFrameCountFallsBackToNbFrames(t *testing.T) {
	probe, err := parseFFprobeOutput([]byte(`{"streams": [{"codec_type": "video", "width": 2, "height": 2, "nb_frames": "12"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	info, err := videoStream(probe, "x.h264")
	if err != nil {
		t.Fatal(err)
	}
	if info.Frames != 12 {
		t.Errorf("Frames = %d, want 12", info.Frames)
	}
}

func TestParseFFprobeOutputInvalid(t *testing.T) {
	if _, err := parseFFprobeOutput([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
