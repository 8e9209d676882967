package ffmpeg

import (
	"strings"

	"github.com/five82/nvpipe/internal/config"
)

// VideoFilterChain builds video filter chains.
type VideoFilterChain struct {
	filters []string
}

// NewVideoFilterChain creates a new empty filter chain.
func NewVideoFilterChain() *VideoFilterChain {
	return &VideoFilterChain{}
}

// AddColorParams tags frames with the range and matrix of the source so
// they are carried into the VUI.
func (c *VideoFilterChain) AddColorParams(video config.Video) *VideoFilterChain {
	rng := "tv"
	if video.FullRange {
		rng = "pc"
	}
	matrix := "bt709"
	if video.Colorspace == config.Colorspace601 {
		matrix = "smpte170m"
	}
	return c.AddFilter("setparams=range=" + rng + ":colorspace=" + matrix +
		":color_primaries=" + primariesFor(matrix) + ":color_trc=" + matrix)
}

// AddFormat converts to the pixel format the selected profile needs.
func (c *VideoFilterChain) AddFormat(pixFmt string) *VideoFilterChain {
	if pixFmt == "" {
		return c
	}
	return c.AddFilter("format=" + pixFmt)
}

// AddFilter adds a custom filter to the chain.
func (c *VideoFilterChain) AddFilter(filter string) *VideoFilterChain {
	if filter != "" {
		c.filters = append(c.filters, filter)
	}
	return c
}

// Build builds the filter chain into a single filter string.
// Returns empty string if no filters are present.
func (c *VideoFilterChain) Build() string {
	if len(c.filters) == 0 {
		return ""
	}
	return strings.Join(c.filters, ",")
}

// IsEmpty returns true if no filters are present.
func (c *VideoFilterChain) IsEmpty() bool {
	return len(c.filters) == 0
}

func primariesFor(matrix string) string {
	if matrix == "smpte170m" {
		return "smpte170m"
	}
	return "bt709"
}
