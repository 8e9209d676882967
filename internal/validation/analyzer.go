package validation

import "context"

// StreamAnalyzer inspects an encoded Annex-B file.
// This interface allows validation logic to be tested without external tools.
type StreamAnalyzer interface {
	Analyze(ctx context.Context, path string) (*StreamProperties, error)
}

// StreamProperties contains what an analyzer could learn about a file.
// Zero values mean unknown.
type StreamProperties struct {
	Codec     string
	Width     uint32
	Height    uint32
	Frames    uint64
	Keyframes uint64
}
