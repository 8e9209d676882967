package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/five82/nvpipe/internal/util"
)

// JSONReporter outputs NDJSON events, one object per line.
type JSONReporter struct {
	writer             io.Writer
	mu                 sync.Mutex
	lastProgressBucket int
	lastProgressTime   time.Time
}

// NewJSONReporter creates a new JSON reporter that writes to stdout.
func NewJSONReporter() *JSONReporter {
	return NewJSONReporterWithWriter(os.Stdout)
}

// NewJSONReporterWithWriter creates a JSON reporter with a custom writer.
func NewJSONReporterWithWriter(w io.Writer) *JSONReporter {
	return &JSONReporter{
		writer:             w,
		lastProgressBucket: -1,
	}
}

func (r *JSONReporter) timestamp() int64 {
	return time.Now().Unix()
}

func (r *JSONReporter) write(v map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v["timestamp"] = r.timestamp()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) Hardware(summary HardwareSummary) {
	r.write(map[string]any{
		"type":           "hardware",
		"hostname":       summary.Hostname,
		"platform":       summary.Platform,
		"cpu_cores":      summary.CPUCores,
		"memory_total":   summary.MemoryTotal,
		"adapter":        summary.Adapter,
		"driver_version": summary.DriverVersion,
	})
}

func (r *JSONReporter) SessionConfig(summary SessionConfigSummary) {
	r.write(map[string]any{
		"type":         "session_config",
		"encoder":      summary.Encoder,
		"session_id":   summary.SessionID,
		"resolution":   summary.Resolution,
		"frame_rate":   summary.FrameRate,
		"preset":       summary.Preset,
		"profile":      summary.Profile,
		"level":        summary.Level,
		"rate_control": summary.RateControl,
		"bitrate":      summary.Bitrate,
		"gop":          summary.GOP,
		"bframes":      summary.BFrames,
		"depth":        summary.Depth,
		"output_delay": summary.OutputDelay,
		"fallback":     summary.Fallback,
	})
}

func (r *JSONReporter) EncodingStarted(totalFrames uint64) {
	r.mu.Lock()
	r.lastProgressBucket = -1
	r.lastProgressTime = time.Time{}
	r.mu.Unlock()

	r.write(map[string]any{
		"type":         "encoding_started",
		"total_frames": totalFrames,
	})
}

// EncodingProgress emits at most one event per percent, plus one every few
// seconds while the percentage stalls.
func (r *JSONReporter) EncodingProgress(progress ProgressSnapshot) {
	const progressBucketSize = 1
	const minInterval = 5 * time.Second

	bucket := int(progress.Percent) / progressBucketSize
	now := time.Now()

	r.mu.Lock()
	intervalElapsed := r.lastProgressTime.IsZero() || now.Sub(r.lastProgressTime) >= minInterval
	shouldEmit := bucket > r.lastProgressBucket || intervalElapsed || progress.Percent >= 99.0

	if !shouldEmit {
		r.mu.Unlock()
		return
	}

	if bucket > r.lastProgressBucket {
		r.lastProgressBucket = bucket
	}
	r.lastProgressTime = now
	r.mu.Unlock()

	r.write(map[string]any{
		"type":          "encoding_progress",
		"current_frame": progress.CurrentFrame,
		"total_frames":  progress.TotalFrames,
		"packets":       progress.Packets,
		"bytes":         progress.Bytes,
		"queued":        progress.Queued,
		"percent":       progress.Percent,
		"fps":           progress.FPS,
		"eta_seconds":   int64(progress.ETA.Seconds()),
	})
}

func (r *JSONReporter) ValidationComplete(summary ValidationSummary) {
	steps := make([]map[string]any, len(summary.Steps))
	for i, step := range summary.Steps {
		steps[i] = map[string]any{
			"step":    step.Name,
			"passed":  step.Passed,
			"details": step.Details,
		}
	}

	r.write(map[string]any{
		"type":              "validation_complete",
		"validation_passed": summary.Passed,
		"validation_steps":  steps,
	})
}

func (r *JSONReporter) EncodingComplete(summary EncodingOutcome) {
	reduction := util.CalculateSizeReduction(summary.RawSize, summary.EncodedSize)

	r.write(map[string]any{
		"type":                   "encoding_complete",
		"encoder":                summary.Encoder,
		"output_file":            summary.OutputFile,
		"frames":                 summary.Frames,
		"packets":                summary.Packets,
		"dropped":                summary.Dropped,
		"raw_size":               summary.RawSize,
		"encoded_size":           summary.EncodedSize,
		"average_fps":            summary.AverageFPS,
		"duration_seconds":       summary.TotalTime.Seconds(),
		"size_reduction_percent": reduction,
	})
}

func (r *JSONReporter) Warning(message string) {
	r.write(map[string]any{
		"type":    "warning",
		"message": message,
	})
}

func (r *JSONReporter) Error(err ReporterError) {
	r.write(map[string]any{
		"type":       "error",
		"title":      err.Title,
		"message":    err.Message,
		"context":    err.Context,
		"suggestion": err.Suggestion,
	})
}

func (r *JSONReporter) OperationComplete(message string) {
	r.write(map[string]any{
		"type":    "operation_complete",
		"message": message,
	})
}

func (r *JSONReporter) Verbose(message string) {
	r.write(map[string]any{
		"type":    "verbose",
		"message": message,
	})
}
