package validation

import (
	"context"
	"fmt"
	"slices"

	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/session"
)

// Options contains optional parameters for validation.
type Options struct {
	// Header is the SPS/PPS blob the encoder extracted. When empty the first
	// packet must carry the parameter sets itself.
	Header []byte
}

// Expectation is what the output file should contain. Zero fields are not
// checked.
type Expectation struct {
	Frames uint64
	Width  uint32
	Height uint32
}

// Check validates packets, in the order the encoder returned them, against
// the presentation timestamps that were submitted.
func Check(packets []session.Packet, submitted []int64, opts Options) *Result {
	result := &Result{
		Packets:       len(packets),
		IsFileCorrect: true,
		FileMessage:   "File validation skipped",
	}

	result.IsDTSMonotonic, result.DTSMessage = validateDecodeOrder(packets)
	result.IsDTSNotAfterPTS, result.OrderMessage = validateDTSBeforePTS(packets)
	validateTimestamps(result, packets, submitted)

	for _, p := range packets {
		if p.Keyframe {
			result.Keyframes++
		}
	}
	switch {
	case len(packets) == 0:
		result.KeyframeMessage = "No packets"
	case packets[0].Keyframe:
		result.IsFirstKeyframe = true
		result.KeyframeMessage = fmt.Sprintf("Stream starts on a keyframe (%d keyframes)", result.Keyframes)
	default:
		result.KeyframeMessage = fmt.Sprintf("First packet (PTS %d) is not a keyframe", packets[0].PTS)
	}

	header := opts.Header
	if len(header) == 0 && len(packets) > 0 {
		header = packets[0].Data
	}
	result.HasHeader, result.HeaderMessage = validateHeader(header)

	return result
}

// validateDecodeOrder checks that DTS never goes backwards.
func validateDecodeOrder(packets []session.Packet) (bool, string) {
	for i := 1; i < len(packets); i++ {
		if packets[i].DTS < packets[i-1].DTS {
			return false, fmt.Sprintf("DTS goes backwards at packet %d: %d after %d",
				i, packets[i].DTS, packets[i-1].DTS)
		}
	}
	return true, "DTS is non-decreasing"
}

// validateDTSBeforePTS checks that no packet is decoded after it is shown.
func validateDTSBeforePTS(packets []session.Packet) (bool, string) {
	for i, p := range packets {
		if p.DTS > p.PTS {
			return false, fmt.Sprintf("Packet %d has DTS %d after PTS %d", i, p.DTS, p.PTS)
		}
	}
	return true, "DTS never exceeds PTS"
}

// validateTimestamps checks that every submitted PTS comes back exactly once.
func validateTimestamps(result *Result, packets []session.Packet, submitted []int64) {
	want := make(map[int64]bool, len(submitted))
	for _, pts := range submitted {
		want[pts] = true
	}
	seen := make(map[int64]int, len(packets))
	for _, p := range packets {
		seen[p.PTS]++
	}

	for pts := range want {
		if seen[pts] == 0 {
			result.Missing = append(result.Missing, pts)
		}
	}
	for pts, n := range seen {
		if n > 1 {
			result.Duplicates = append(result.Duplicates, pts)
		}
		if !want[pts] {
			result.Unexpected = append(result.Unexpected, pts)
		}
	}
	slices.Sort(result.Missing)
	slices.Sort(result.Duplicates)
	slices.Sort(result.Unexpected)

	result.IsPTSComplete = len(result.Missing) == 0 && len(result.Duplicates) == 0 && len(result.Unexpected) == 0
	switch {
	case result.IsPTSComplete:
		result.PTSMessage = fmt.Sprintf("All %d timestamps present once", len(want))
	case len(result.Missing) > 0:
		result.PTSMessage = "Missing PTS " + formatTimestamps(result.Missing)
	case len(result.Duplicates) > 0:
		result.PTSMessage = "Duplicate PTS " + formatTimestamps(result.Duplicates)
	default:
		result.PTSMessage = "Unexpected PTS " + formatTimestamps(result.Unexpected)
	}
}

// validateHeader checks for both parameter sets.
func validateHeader(data []byte) (bool, string) {
	var sps, pps bool
	for _, nal := range avc.Split(data) {
		switch avc.Type(nal) {
		case avc.NALSPS:
			sps = true
		case avc.NALPPS:
			pps = true
		}
	}
	switch {
	case sps && pps:
		return true, "SPS and PPS present"
	case sps:
		return false, "PPS missing"
	case pps:
		return false, "SPS missing"
	default:
		return false, "No parameter sets found"
	}
}

// ValidateFile analyzes the written file and records the outcome in result.
func ValidateFile(ctx context.Context, analyzer StreamAnalyzer, path string, exp Expectation, result *Result) error {
	props, err := analyzer.Analyze(ctx, path)
	if err != nil {
		result.IsFileCorrect = false
		result.FileMessage = "Failed to analyze output"
		return fmt.Errorf("failed to analyze %s: %w", path, err)
	}

	result.IsFileCorrect = true
	switch {
	case props.Codec != "" && props.Codec != "h264":
		result.IsFileCorrect = false
		result.FileMessage = "Expected h264, got " + props.Codec
	case exp.Frames > 0 && props.Frames != exp.Frames:
		result.IsFileCorrect = false
		result.FileMessage = fmt.Sprintf("Frame count mismatch: got %d, expected %d", props.Frames, exp.Frames)
	case exp.Width > 0 && props.Width > 0 && (props.Width != exp.Width || props.Height != exp.Height):
		result.IsFileCorrect = false
		result.FileMessage = fmt.Sprintf("Dimension mismatch: got %dx%d, expected %dx%d",
			props.Width, props.Height, exp.Width, exp.Height)
	default:
		result.FileMessage = fmt.Sprintf("%d frames of %s", props.Frames, props.Codec)
	}
	return nil
}
