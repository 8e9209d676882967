// Package reporter provides progress reporting interfaces and implementations.
package reporter

import "time"

// HardwareSummary contains host and adapter information.
type HardwareSummary struct {
	Hostname      string
	Platform      string
	CPUCores      int
	MemoryTotal   uint64
	Adapter       string
	DriverVersion string
}

// SessionConfigSummary describes the encoder that was opened.
type SessionConfigSummary struct {
	Encoder     string
	SessionID   string
	Resolution  string
	FrameRate   string
	Preset      string
	Profile     string
	Level       string
	RateControl string
	Bitrate     string
	GOP         uint32
	BFrames     bool
	Depth       int
	OutputDelay int
	Fallback    bool
}

// ProgressSnapshot contains encoding progress information.
type ProgressSnapshot struct {
	CurrentFrame uint64
	TotalFrames  uint64
	Packets      uint64
	Bytes        uint64
	Queued       int
	Percent      float32
	FPS          float32
	ETA          time.Duration
}

// ValidationSummary contains validation results.
type ValidationSummary struct {
	Passed bool
	Steps  []ValidationStep
}

// ValidationStep represents a single validation check.
type ValidationStep struct {
	Name    string
	Passed  bool
	Details string
}

// EncodingOutcome contains final encoding results.
type EncodingOutcome struct {
	Encoder     string
	OutputFile  string
	Frames      uint64
	Packets     uint64
	Dropped     uint64
	RawSize     uint64
	EncodedSize uint64
	TotalTime   time.Duration
	AverageFPS  float32
}

// ReporterError contains error information.
type ReporterError struct {
	Title      string
	Message    string
	Context    string
	Suggestion string
}
