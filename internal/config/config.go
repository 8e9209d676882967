// Package config provides encoder settings, their defaults and validation.
package config

import (
	"fmt"
	"strings"
)

// Default constants
const (
	// DefaultBitrate is the target bitrate in kbps.
	DefaultBitrate = 2500

	// DefaultCQP is the constant quantizer used by CQP rate control.
	DefaultCQP = 23

	// DefaultKeyintSec is the keyframe interval in seconds (0 means auto).
	DefaultKeyintSec = 0

	// DefaultBFrames is the number of consecutive B-frames.
	DefaultBFrames = 2

	// DefaultGPU is the adapter index the device is bound to.
	DefaultGPU = 0

	// DefaultTwoPass enables two-pass rate control for CBR.
	DefaultTwoPass = true

	// DefaultTemporalAQ enables temporal adaptive quantization where supported.
	DefaultTemporalAQ = true

	// MinBitrate is the minimum accepted bitrate in kbps.
	MinBitrate = 50

	// MaxBitrate is the maximum accepted bitrate in kbps.
	MaxBitrate = 300000

	// MaxCQP is the maximum constant quantizer value.
	MaxCQP = 50

	// MaxKeyintSec is the maximum keyframe interval in seconds.
	MaxKeyintSec = 10

	// MaxGPU is the highest adapter index accepted.
	MaxGPU = 8

	// MaxBFrames is the maximum number of consecutive B-frames.
	MaxBFrames = 4

	// MaxLookaheadDepth is the deepest lookahead the encoder accepts.
	MaxLookaheadDepth = 32

	// DefaultGOP is the keyframe interval in frames when keyint_sec is 0.
	DefaultGOP = 250
)

// Preset selects the encoder speed/quality and latency trade-off.
type Preset string

const (
	PresetDefault Preset = "default"
	PresetHQ      Preset = "hq"
	PresetHP      Preset = "hp"
	PresetBD      Preset = "bd"
	PresetLL      Preset = "ll"
	PresetLLHQ    Preset = "llhq"
	PresetLLHP    Preset = "llhp"
)

// ParsePreset parses a string into a Preset.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(s)); p {
	case PresetDefault, PresetHQ, PresetHP, PresetBD, PresetLL, PresetLLHQ, PresetLLHP:
		return p, nil
	default:
		return "", fmt.Errorf("%w: '%s', valid options: default, hq, hp, bd, ll, llhq, llhp", ErrInvalidPreset, s)
	}
}

// String returns the string representation of the preset.
func (p Preset) String() string {
	return string(p)
}

// HighPerformance reports whether the preset trades quality for speed.
func (p Preset) HighPerformance() bool {
	return p == PresetHP || p == PresetLLHP
}

// LowLatency reports whether the preset belongs to the low-latency family.
func (p Preset) LowLatency() bool {
	return p == PresetLL || p == PresetLLHQ || p == PresetLLHP
}

// Profile is the H.264 profile.
type Profile string

const (
	ProfileBaseline Profile = "baseline"
	ProfileMain     Profile = "main"
	ProfileHigh     Profile = "high"
	ProfileHigh444P Profile = "high444p"
)

// ParseProfile parses a string into a Profile.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(s)); p {
	case ProfileBaseline, ProfileMain, ProfileHigh, ProfileHigh444P:
		return p, nil
	default:
		return "", fmt.Errorf("%w: '%s', valid options: baseline, main, high, high444p", ErrInvalidProfile, s)
	}
}

func (p Profile) String() string {
	return string(p)
}

// RateControl is the rate-control mode.
type RateControl string

const (
	RateControlCBR      RateControl = "CBR"
	RateControlVBR      RateControl = "VBR"
	RateControlCQP      RateControl = "CQP"
	RateControlLossless RateControl = "lossless"
)

// ParseRateControl parses a string into a RateControl.
func ParseRateControl(s string) (RateControl, error) {
	switch strings.ToLower(s) {
	case "cbr":
		return RateControlCBR, nil
	case "vbr":
		return RateControlVBR, nil
	case "cqp":
		return RateControlCQP, nil
	case "lossless":
		return RateControlLossless, nil
	default:
		return "", fmt.Errorf("%w: '%s', valid options: CBR, VBR, CQP, lossless", ErrInvalidRateControl, s)
	}
}

func (r RateControl) String() string {
	return string(r)
}

// Level is the H.264 level, or "auto".
type Level string

// LevelAuto lets the encoder select the level.
const LevelAuto Level = "auto"

var levelValues = map[Level]uint32{
	LevelAuto: 0,
	"1":       10,
	"1b":      9,
	"1.1":     11,
	"1.2":     12,
	"1.3":     13,
	"2":       20,
	"2.1":     21,
	"2.2":     22,
	"3":       30,
	"3.1":     31,
	"3.2":     32,
	"4":       40,
	"4.1":     41,
	"4.2":     42,
	"5":       50,
	"5.1":     51,
}

// ParseLevel parses a level such as "4.1" or "auto".
func ParseLevel(s string) (Level, error) {
	l := Level(strings.TrimSuffix(strings.ToLower(s), ".0"))
	if _, ok := levelValues[l]; !ok {
		return "", fmt.Errorf("%w: '%s', valid options: auto, 1, 1b, 1.1 ... 5.1", ErrInvalidLevel, s)
	}
	return l, nil
}

// Value returns the level_idc the encoder expects (0 for auto).
func (l Level) Value() uint32 {
	return levelValues[l]
}

func (l Level) String() string {
	return string(l)
}

// Settings holds the user-facing encoder settings. The mapstructure keys are
// the setting names accepted from files, environment and FromMap.
type Settings struct {
	Bitrate        int         `mapstructure:"bitrate"`
	CQP            int         `mapstructure:"cqp"`
	KeyintSec      int         `mapstructure:"keyint_sec"`
	Preset         Preset      `mapstructure:"preset"`
	Profile        Profile     `mapstructure:"profile"`
	Level          Level       `mapstructure:"level"`
	RateControl    RateControl `mapstructure:"rate_control"`
	TwoPass        bool        `mapstructure:"2pass"`
	TemporalAQ     bool        `mapstructure:"temporal_aq"`
	Lookahead      bool        `mapstructure:"la"`
	LookaheadDepth int         `mapstructure:"la_depth"`
	GPU            int         `mapstructure:"gpu"`
	BFrames        int         `mapstructure:"bf"`
}

// Default returns Settings populated with default values.
func Default() Settings {
	return Settings{
		Bitrate:     DefaultBitrate,
		CQP:         DefaultCQP,
		KeyintSec:   DefaultKeyintSec,
		Preset:      PresetDefault,
		Profile:     ProfileMain,
		Level:       LevelAuto,
		RateControl: RateControlCBR,
		TwoPass:     DefaultTwoPass,
		TemporalAQ:  DefaultTemporalAQ,
		GPU:         DefaultGPU,
		BFrames:     DefaultBFrames,
	}
}

// Normalize canonicalizes the enum fields, so "HQ" becomes "hq" and "cqp"
// becomes "CQP".
func (s *Settings) Normalize() error {
	var err error
	if s.Preset, err = ParsePreset(string(s.Preset)); err != nil {
		return err
	}
	if s.Profile, err = ParseProfile(string(s.Profile)); err != nil {
		return err
	}
	if s.Level, err = ParseLevel(string(s.Level)); err != nil {
		return err
	}
	if s.RateControl, err = ParseRateControl(string(s.RateControl)); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	if s.Bitrate < MinBitrate || s.Bitrate > MaxBitrate {
		return fmt.Errorf("%w: must be %d-%d kbps, got %d", ErrInvalidBitrate, MinBitrate, MaxBitrate, s.Bitrate)
	}

	if s.CQP < 0 || s.CQP > MaxCQP {
		return fmt.Errorf("%w: must be 0-%d, got %d", ErrInvalidCQP, MaxCQP, s.CQP)
	}

	if s.KeyintSec < 0 || s.KeyintSec > MaxKeyintSec {
		return fmt.Errorf("%w: must be 0-%d seconds, got %d", ErrInvalidKeyint, MaxKeyintSec, s.KeyintSec)
	}

	if s.GPU < 0 || s.GPU > MaxGPU {
		return fmt.Errorf("%w: must be 0-%d, got %d", ErrInvalidGPU, MaxGPU, s.GPU)
	}

	if s.BFrames < 0 || s.BFrames > MaxBFrames {
		return fmt.Errorf("%w: must be 0-%d, got %d", ErrInvalidBFrames, MaxBFrames, s.BFrames)
	}

	if s.LookaheadDepth < 0 || s.LookaheadDepth > MaxLookaheadDepth {
		return fmt.Errorf("%w: depth must be 0-%d, got %d", ErrInvalidLookahead, MaxLookaheadDepth, s.LookaheadDepth)
	}

	if s.Lookahead && s.LookaheadDepth == 0 {
		return fmt.Errorf("%w: lookahead enabled with depth 0", ErrInvalidLookahead)
	}

	if _, err := ParsePreset(string(s.Preset)); err != nil {
		return err
	}
	if _, err := ParseProfile(string(s.Profile)); err != nil {
		return err
	}
	if _, err := ParseLevel(string(s.Level)); err != nil {
		return err
	}
	if _, err := ParseRateControl(string(s.RateControl)); err != nil {
		return err
	}

	return nil
}

// Colorspace is the color matrix signalled in the stream's VUI.
type Colorspace string

const (
	Colorspace601 Colorspace = "601"
	Colorspace709 Colorspace = "709"
)

// Video describes the stream the session encodes.
type Video struct {
	Width      uint32
	Height     uint32
	FPSNum     uint32
	FPSDen     uint32
	FullRange  bool
	Colorspace Colorspace
}

// Validate checks the stream description for errors.
func (v Video) Validate() error {
	if v.Width == 0 || v.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidVideo, v.Width, v.Height)
	}
	if v.Width%2 != 0 || v.Height%2 != 0 {
		return fmt.Errorf("%w: NV12 needs even dimensions, got %dx%d", ErrInvalidVideo, v.Width, v.Height)
	}
	if v.FPSNum == 0 || v.FPSDen == 0 {
		return fmt.Errorf("%w: frame rate %d/%d", ErrInvalidVideo, v.FPSNum, v.FPSDen)
	}
	return nil
}

// FrameSize returns the size in bytes of one NV12 frame.
func (v Video) FrameSize() int {
	return int(v.Width) * int(v.Height) * 3 / 2
}

// GOPSize converts a keyframe interval in seconds to frames.
func (v Video) GOPSize(keyintSec int) uint32 {
	if keyintSec <= 0 || v.FPSDen == 0 {
		return DefaultGOP
	}
	gop := uint32(keyintSec) * v.FPSNum / v.FPSDen
	if gop == 0 {
		gop = 1
	}
	return gop
}
