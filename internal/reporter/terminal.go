package reporter

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/nvpipe/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal.
type TerminalReporter struct {
	mu         sync.Mutex
	out        io.Writer
	errOut     io.Writer
	verbose    bool
	progress   *progressbar.ProgressBar
	maxPercent float32
	cyan       *color.Color
	green      *color.Color
	greenBold  *color.Color
	yellow     *color.Color
	red        *color.Color
	magenta    *color.Color
	bold       *color.Color
}

// NewTerminalReporter creates a terminal reporter on stdout and stderr.
func NewTerminalReporter(verbose bool) *TerminalReporter {
	return NewTerminalReporterWithWriter(os.Stdout, os.Stderr, verbose)
}

// NewTerminalReporterWithWriter creates a terminal reporter on custom writers.
// The progress bar is drawn on errOut.
func NewTerminalReporterWithWriter(out, errOut io.Writer, verbose bool) *TerminalReporter {
	return &TerminalReporter{
		out:       out,
		errOut:    errOut,
		verbose:   verbose,
		cyan:      color.New(color.FgCyan, color.Bold),
		green:     color.New(color.FgGreen),
		greenBold: color.New(color.FgGreen, color.Bold),
		yellow:    color.New(color.FgYellow, color.Bold),
		red:       color.New(color.FgRed, color.Bold),
		magenta:   color.New(color.FgMagenta),
		bold:      color.New(color.Bold),
	}
}

func (r *TerminalReporter) finishProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		_ = r.progress.Finish()
		r.progress = nil
	}
	r.maxPercent = 0
}

func (r *TerminalReporter) section(title string) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = r.cyan.Fprintln(r.out, title)
}

// printLabel prints a bold label with fixed width padding followed by a value.
// Width is applied to the plain text before styling to ensure proper alignment.
func (r *TerminalReporter) printLabel(width int, label, value string) {
	paddedLabel := fmt.Sprintf("%-*s", width, label)
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint(paddedLabel), value)
}

func (r *TerminalReporter) Hardware(summary HardwareSummary) {
	r.section("HARDWARE")
	const w = 9
	r.printLabel(w, "Hostname:", summary.Hostname)
	if summary.Platform != "" {
		r.printLabel(w, "Platform:", summary.Platform)
	}
	r.printLabel(w, "CPU:", fmt.Sprintf("%d cores", summary.CPUCores))
	if summary.MemoryTotal > 0 {
		r.printLabel(w, "Memory:", util.FormatBytes(summary.MemoryTotal))
	}
	if summary.Adapter != "" {
		r.printLabel(w, "GPU:", summary.Adapter)
	}
	if summary.DriverVersion != "" {
		r.printLabel(w, "Driver:", summary.DriverVersion)
	}
}

func (r *TerminalReporter) SessionConfig(summary SessionConfigSummary) {
	r.section("SESSION")
	const w = 13
	encoder := summary.Encoder
	if summary.Fallback {
		encoder = r.yellow.Sprint(encoder + " (fallback)")
	}
	r.printLabel(w, "Encoder:", encoder)
	if summary.SessionID != "" {
		r.printLabel(w, "Session:", summary.SessionID)
	}
	r.printLabel(w, "Resolution:", summary.Resolution+" @ "+summary.FrameRate)
	r.printLabel(w, "Preset:", summary.Preset)
	r.printLabel(w, "Profile:", summary.Profile+" level "+summary.Level)
	r.printLabel(w, "Rate control:", summary.RateControl+" "+summary.Bitrate)
	r.printLabel(w, "GOP:", fmt.Sprintf("%d frames", summary.GOP))
	if summary.Depth > 0 {
		bframes := "off"
		if summary.BFrames {
			bframes = "on"
		}
		r.printLabel(w, "Pipeline:", fmt.Sprintf("depth %d, output delay %d, B-frames %s",
			summary.Depth, summary.OutputDelay, bframes))
	}
}

func (r *TerminalReporter) EncodingStarted(totalFrames uint64) {
	r.finishProgress()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = progressbar.NewOptions64(
		100,
		progressbar.OptionSetDescription(""),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(r.errOut),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "Encoding [",
			BarEnd:        "]",
		}),
	)
}

func (r *TerminalReporter) EncodingProgress(progress ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress == nil {
		return
	}

	clamped := progress.Percent
	if clamped > 100 {
		clamped = 100
	}
	if clamped < 0 {
		clamped = 0
	}

	if clamped >= r.maxPercent {
		r.maxPercent = clamped
		_ = r.progress.Set64(int64(clamped))
	}

	desc := fmt.Sprintf("fps %.1f, queued %d, %s, eta %s",
		progress.FPS, progress.Queued, util.FormatBytes(progress.Bytes),
		util.FormatDurationFromSecs(int64(progress.ETA.Seconds())))
	r.progress.Describe(desc)
}

func (r *TerminalReporter) ValidationComplete(summary ValidationSummary) {
	r.finishProgress()
	r.section("VALIDATION")

	if summary.Passed {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.greenBold.Sprint("All checks passed"))
	} else {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.red.Sprint("Validation failed"))
	}

	// Find the longest step name for alignment
	maxLen := 0
	for _, step := range summary.Steps {
		if len(step.Name) > maxLen {
			maxLen = len(step.Name)
		}
	}

	for _, step := range summary.Steps {
		var status string
		if step.Passed {
			status = r.green.Sprint("✓")
		} else {
			status = r.red.Sprint("✗")
		}
		paddedName := fmt.Sprintf("%-*s", maxLen, step.Name)
		_, _ = fmt.Fprintf(r.out, "  - %s: %s (%s)\n", paddedName, status, step.Details)
	}
}

func (r *TerminalReporter) EncodingComplete(summary EncodingOutcome) {
	r.finishProgress()
	reduction := util.CalculateSizeReduction(summary.RawSize, summary.EncodedSize)

	r.section("RESULTS")
	const w = 8
	r.printLabel(w, "Encoder:", summary.Encoder)
	r.printLabel(w, "Frames:", fmt.Sprintf("%d in, %d packets out, %d dropped",
		summary.Frames, summary.Packets, summary.Dropped))
	r.printLabel(w, "Size:", fmt.Sprintf("%s raw -> %s (%.1f%% smaller)",
		util.FormatBytes(summary.RawSize), util.FormatBytes(summary.EncodedSize), reduction))
	r.printLabel(w, "Time:", fmt.Sprintf("%s (avg %.1f fps)",
		util.FormatDurationFromSecs(int64(summary.TotalTime.Seconds())), summary.AverageFPS))
	if summary.OutputFile != "" {
		_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.bold.Sprint("Saved to"), r.green.Sprint(summary.OutputFile))
	}
}

func (r *TerminalReporter) Warning(message string) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = r.yellow.Fprintf(r.out, "WARN: %s\n", message)
}

func (r *TerminalReporter) Error(err ReporterError) {
	_, _ = fmt.Fprintln(r.errOut)
	_, _ = r.red.Fprintf(r.errOut, "ERROR %s\n", err.Title)
	_, _ = fmt.Fprintf(r.errOut, "  %s\n", err.Message)
	if err.Context != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Context: %s\n", err.Context)
	}
	if err.Suggestion != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Suggestion: %s\n", err.Suggestion)
	}
}

func (r *TerminalReporter) OperationComplete(message string) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "%s %s\n", r.greenBold.Sprint("✓"), r.bold.Sprint(message))
}

func (r *TerminalReporter) Verbose(message string) {
	if !r.verbose {
		return
	}
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", r.magenta.Sprint("›"), message)
}
