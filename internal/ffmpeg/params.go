// Package ffmpeg runs a software H.264 encode in an ffmpeg subprocess. It is
// the fallback used when the hardware session cannot be opened.
package ffmpeg

import (
	"fmt"
	"strings"
)

// X264ParamsBuilder builds the -x264-params option with method chaining.
type X264ParamsBuilder struct {
	params []paramKV
}

type paramKV struct {
	key   string
	value string
}

// NewX264ParamsBuilder creates a new x264 parameters builder.
func NewX264ParamsBuilder() *X264ParamsBuilder {
	return &X264ParamsBuilder{}
}

// WithAUD toggles access unit delimiters. The stdout splitter relies on
// them to cut access units without waiting for the next slice.
func (b *X264ParamsBuilder) WithAUD(enabled bool) *X264ParamsBuilder {
	b.params = append(b.params, paramKV{"aud", boolParam(enabled)})
	return b
}

// WithNALHRD sets the HRD signalling mode ("none", "vbr" or "cbr").
func (b *X264ParamsBuilder) WithNALHRD(mode string) *X264ParamsBuilder {
	b.params = append(b.params, paramKV{"nal-hrd", mode})
	return b
}

// WithRepeatHeaders emits SPS/PPS before every IDR.
func (b *X264ParamsBuilder) WithRepeatHeaders(enabled bool) *X264ParamsBuilder {
	b.params = append(b.params, paramKV{"repeat-headers", boolParam(enabled)})
	return b
}

// WithLookahead sets the rate-control lookahead in frames.
func (b *X264ParamsBuilder) WithLookahead(frames int) *X264ParamsBuilder {
	b.params = append(b.params, paramKV{"rc-lookahead", fmt.Sprintf("%d", frames)})
	return b
}

// WithForceCFR tells x264 the input timestamps are constant frame rate.
func (b *X264ParamsBuilder) WithForceCFR(enabled bool) *X264ParamsBuilder {
	b.params = append(b.params, paramKV{"force-cfr", boolParam(enabled)})
	return b
}

// AddParam adds a custom parameter.
func (b *X264ParamsBuilder) AddParam(key, value string) *X264ParamsBuilder {
	b.params = append(b.params, paramKV{key, value})
	return b
}

// Build builds the parameters into a colon-separated string.
func (b *X264ParamsBuilder) Build() string {
	var parts []string
	for _, p := range b.params {
		parts = append(parts, fmt.Sprintf("%s=%s", p.key, p.value))
	}
	return strings.Join(parts, ":")
}

func boolParam(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
