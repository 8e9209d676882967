package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/ffprobe"
)

// ParserAnalyzer counts access units by parsing the Annex-B stream itself.
// It cannot decode, so it reports no dimensions.
type ParserAnalyzer struct{}

// Analyze reads the whole file.
func (ParserAnalyzer) Analyze(ctx context.Context, path string) (*StreamProperties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	props := &StreamProperties{Codec: "h264"}
	r := avc.NewAccessUnitReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		au, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		props.Frames++
		if avc.IsKeyframe(au) {
			props.Keyframes++
		}
	}
	return props, nil
}

// ProbeAnalyzer asks ffprobe to decode the file.
type ProbeAnalyzer struct{}

// Analyze runs ffprobe with frame counting.
func (ProbeAnalyzer) Analyze(ctx context.Context, path string) (*StreamProperties, error) {
	info, err := ffprobe.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return &StreamProperties{
		Codec:  info.CodecName,
		Width:  info.Width,
		Height: info.Height,
		Frames: info.Frames,
	}, nil
}

// NewDefaultAnalyzer prefers ffprobe and falls back to the stream parser.
func NewDefaultAnalyzer() StreamAnalyzer {
	if ffprobe.IsAvailable() {
		return ProbeAnalyzer{}
	}
	return ParserAnalyzer{}
}
