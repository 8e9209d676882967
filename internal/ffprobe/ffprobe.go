// Package ffprobe inspects encoded elementary streams with ffprobe.
package ffprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	nverrors "github.com/five82/nvpipe/internal/errors"
)

// StreamInfo describes the first video stream of a file.
type StreamInfo struct {
	CodecName  string
	Profile    string
	Level      int
	Width      uint32
	Height     uint32
	PixFmt     string
	ColorRange string
	ColorSpace string
	// Frames is the decoded frame count. It is only known when the probe
	// counted frames.
	Frames uint64
}

// ffprobeOutput represents the JSON output from ffprobe.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Profile      string `json:"profile"`
	Level        int    `json:"level"`
	Width        int64  `json:"width"`
	Height       int64  `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	ColorRange   string `json:"color_range"`
	ColorSpace   string `json:"color_space"`
	NbFrames     string `json:"nb_frames"`
	NbReadFrames string `json:"nb_read_frames"`
}

// IsAvailable reports whether ffprobe is on PATH.
func IsAvailable() bool {
	_, err := exec.LookPath("ffprobe")
	return err == nil
}

// Probe runs ffprobe on path, decoding every frame to count them.
func Probe(ctx context.Context, path string) (*StreamInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-count_frames",
		"-select_streams", "v:0",
		"-show_streams",
		path,
	}
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, nverrors.WrapExecError("ffprobe", err, stderr.String())
	}

	probe, err := parseFFprobeOutput(output)
	if err != nil {
		return nil, err
	}
	return videoStream(probe, path)
}

func parseFFprobeOutput(data []byte) (*ffprobeOutput, error) {
	var result ffprobeOutput
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &result, nil
}

func videoStream(probe *ffprobeOutput, path string) (*StreamInfo, error) {
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return nil, fmt.Errorf("invalid dimensions in %s: %dx%d", path, s.Width, s.Height)
		}
		info := &StreamInfo{
			CodecName:  s.CodecName,
			Profile:    s.Profile,
			Level:      s.Level,
			Width:      uint32(s.Width),
			Height:     uint32(s.Height),
			PixFmt:     s.PixFmt,
			ColorRange: s.ColorRange,
			ColorSpace: s.ColorSpace,
		}
		frames := s.NbReadFrames
		if frames == "" {
			frames = s.NbFrames
		}
		if frames != "" {
			if n, err := strconv.ParseUint(frames, 10, 64); err == nil {
				info.Frames = n
			}
		}
		return info, nil
	}
	return nil, fmt.Errorf("no video stream found in %s", path)
}
