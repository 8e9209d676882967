package config

import "errors"

// Sentinel errors for configuration validation.
var (
	// ErrInvalidPreset indicates an unknown preset name was provided.
	ErrInvalidPreset = errors.New("invalid preset")

	// ErrInvalidProfile indicates an unknown H.264 profile.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrInvalidLevel indicates an unknown H.264 level.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrInvalidRateControl indicates an unknown rate-control mode.
	ErrInvalidRateControl = errors.New("invalid rate control")

	// ErrInvalidBitrate indicates a bitrate outside the accepted range.
	ErrInvalidBitrate = errors.New("bitrate out of range")

	// ErrInvalidCQP indicates a constant quantizer outside 0-50.
	ErrInvalidCQP = errors.New("CQP value out of range")

	// ErrInvalidKeyint indicates a keyframe interval outside 0-10 seconds.
	ErrInvalidKeyint = errors.New("keyframe interval out of range")

	// ErrInvalidGPU indicates an adapter index outside 0-8.
	ErrInvalidGPU = errors.New("GPU index out of range")

	// ErrInvalidBFrames indicates a B-frame count outside 0-4.
	ErrInvalidBFrames = errors.New("B-frame count out of range")

	// ErrInvalidLookahead indicates an inconsistent lookahead configuration.
	ErrInvalidLookahead = errors.New("lookahead configuration invalid")

	// ErrInvalidVideo indicates an unusable stream description.
	ErrInvalidVideo = errors.New("invalid video format")
)
