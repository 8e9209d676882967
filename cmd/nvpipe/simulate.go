package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/nvpipe"
	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/nvenc"
	"github.com/five82/nvpipe/internal/reporter"
	"github.com/five82/nvpipe/internal/sim"
	"github.com/five82/nvpipe/internal/util"
	"github.com/five82/nvpipe/internal/validation"
)

const (
	backendSim      = "sim"
	backendSoftware = "software"
)

// simulateArgs holds the parsed arguments for the simulate command.
type simulateArgs struct {
	cfgFile     string
	verbose     bool
	frames      int
	width       uint32
	height      uint32
	fpsNum      uint32
	fpsDen      uint32
	colorspace  string
	fullRange   bool
	backend     string
	fault       string
	faultAfter  int
	latency     time.Duration
	output      string
	logDir      string
	noLog       bool
	jsonOutput  bool
	metricsAddr string
	ffmpegPath  string
	ffprobe     bool
	// Settings overrides, applied only when the flag is set.
	bitrate     int
	preset      string
	rateControl string
	bframes     int
	keyintSec   int
}

func newSimulateCmd() *cobra.Command {
	var sa simulateArgs
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Encode a synthetic clip through the full pipeline and validate the result",
		Long: `Encode a synthetic clip through the full pipeline and validate the result.

The sim backend runs the pipelined session against an in-process encoder
that models asynchronous completion and B-frame reordering. The software
backend forces the fallback path, which needs ffmpeg on PATH.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sa.cfgFile, _ = cmd.Flags().GetString("config")
			sa.verbose, _ = cmd.Flags().GetBool("verbose")
			s, err := loadSettings(cmd, sa)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return executeSimulate(ctx, s, sa)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&sa.frames, "frames", "n", 300, "Number of frames to encode")
	f.Uint32Var(&sa.width, "width", 1280, "Frame width")
	f.Uint32Var(&sa.height, "height", 720, "Frame height")
	f.Uint32Var(&sa.fpsNum, "fps", 30, "Frame rate numerator")
	f.Uint32Var(&sa.fpsDen, "fps-den", 1, "Frame rate denominator")
	f.StringVar(&sa.colorspace, "colorspace", string(config.Colorspace709), "Color matrix (601 or 709)")
	f.BoolVar(&sa.fullRange, "full-range", false, "Signal full-range luma")
	f.StringVar(&sa.backend, "backend", backendSim, "Encoder backend (sim or software)")
	f.StringVar(&sa.fault, "fault", "", "Make a simulated encoder step fail, e.g. open or initialize")
	f.IntVar(&sa.faultAfter, "fault-after", 0, "Successful calls before --fault triggers")
	f.DurationVar(&sa.latency, "latency", 0, "Simulated encode latency per picture")
	f.StringVarP(&sa.output, "output", "o", "", "Output file or directory (default nvpipe_sim.h264)")
	f.StringVarP(&sa.logDir, "log-dir", "l", "", "Log directory (defaults to OUTPUT_DIR/logs)")
	f.BoolVar(&sa.noLog, "no-log", false, "Disable log file creation")
	f.BoolVar(&sa.jsonOutput, "json", false, "Emit NDJSON progress events instead of terminal output")
	f.StringVar(&sa.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	f.StringVar(&sa.ffmpegPath, "ffmpeg", "", "ffmpeg binary for the software fallback")
	f.BoolVar(&sa.ffprobe, "ffprobe", false, "Decode the output with ffprobe when validating")

	f.IntVar(&sa.bitrate, "bitrate", config.DefaultBitrate, "Target bitrate in kbps")
	f.StringVar(&sa.preset, "preset", "", "Encoder preset (default, hq, hp, ll, llhq, llhp, bd)")
	f.StringVar(&sa.rateControl, "rate-control", "", "Rate control (CBR, VBR, CQP, lossless)")
	f.IntVar(&sa.bframes, "bf", 0, "Maximum consecutive B-frames")
	f.IntVar(&sa.keyintSec, "keyint-sec", 0, "Seconds between keyframes (0 for the default GOP)")
	return cmd
}

// loadSettings reads the config file and environment, then applies the
// flags the user set explicitly.
func loadSettings(cmd *cobra.Command, sa simulateArgs) (config.Settings, error) {
	s, err := config.Load(sa.cfgFile)
	if err != nil {
		return config.Settings{}, err
	}

	f := cmd.Flags()
	if f.Changed("bitrate") {
		s.Bitrate = sa.bitrate
	}
	if f.Changed("preset") {
		if s.Preset, err = config.ParsePreset(sa.preset); err != nil {
			return config.Settings{}, err
		}
	}
	if f.Changed("rate-control") {
		if s.RateControl, err = config.ParseRateControl(sa.rateControl); err != nil {
			return config.Settings{}, err
		}
	}
	if f.Changed("bf") {
		s.BFrames = sa.bframes
	}
	if f.Changed("keyint-sec") {
		s.KeyintSec = sa.keyintSec
	}

	if err := s.Normalize(); err != nil {
		return config.Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func executeSimulate(ctx context.Context, s config.Settings, sa simulateArgs) error {
	video := config.Video{
		Width:      sa.width,
		Height:     sa.height,
		FPSNum:     sa.fpsNum,
		FPSDen:     sa.fpsDen,
		FullRange:  sa.fullRange,
		Colorspace: config.Colorspace(sa.colorspace),
	}
	if err := video.Validate(); err != nil {
		return fmt.Errorf("invalid video: %w", err)
	}
	if sa.frames <= 0 {
		return fmt.Errorf("--frames must be positive, got %d", sa.frames)
	}

	outPath := util.ResolveOutputPath(sa.output, "nvpipe_sim", ".h264")
	outDir := filepath.Dir(outPath)
	if err := util.EnsureDirectory(outDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logDir := sa.logDir
	if logDir == "" {
		logDir = filepath.Join(outDir, "logs")
	}
	runLog, err := logging.Setup(logDir, sa.verbose, sa.noLog)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = runLog.Close() }()

	level := logging.LevelInfo
	if sa.verbose {
		level = logging.LevelDebug
	}
	var logOut io.Writer = runLog.Writer()
	if sa.verbose && !sa.jsonOutput {
		logOut = io.MultiWriter(os.Stderr, logOut)
	}
	logging.Init(level, logOut)

	var rep reporter.Reporter = reporter.NewTerminalReporter(sa.verbose)
	if sa.jsonOutput {
		rep = reporter.NewJSONReporter()
	}

	m := metrics.New()
	if sa.metricsAddr != "" {
		srv, err := metrics.Listen(sa.metricsAddr, m)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", sa.metricsAddr, err)
		}
		go srv.Run()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		rep.Verbose(fmt.Sprintf("Metrics at http://%s/metrics", srv.Addr()))
	}

	if util.FileExists(outPath) {
		runLog.Info("Overwriting %s", outPath)
	}
	runLog.Info("Output file: %s", outPath)
	runLog.Info("Memory available: %s", util.FormatBytes(util.AvailableMemoryBytes()))
	runLog.Info("Video: %dx%d @ %s, colorspace %s", video.Width, video.Height,
		util.FormatFrameRate(video.FPSNum, video.FPSDen), video.Colorspace)
	runLog.Info("Settings: preset=%s profile=%s rc=%s bitrate=%d bf=%d", s.Preset, s.Profile, s.RateControl, s.Bitrate, s.BFrames)

	dev, opts, err := backendOptions(sa)
	if err != nil {
		return err
	}
	opts = append(opts, nvpipe.WithMetrics(m), nvpipe.WithFFmpegPath(sa.ffmpegPath))

	enc, err := nvpipe.Open(ctx, s, video, opts...)
	if err != nil {
		rep.Error(reporter.ReporterError{
			Title:      "Failed to open an encoder",
			Message:    err.Error(),
			Suggestion: "Check the driver with 'nvpipe probe', or install ffmpeg for the software fallback",
		})
		return err
	}
	defer func() { _ = enc.Close() }()

	info := enc.Info()
	if info.Fallback {
		rep.Warning(fmt.Sprintf("Hardware encoder unavailable, using %s", info.Name))
		runLog.Warn("Falling back to %s", info.Name)
	}
	reportSetup(rep, s, video, info)

	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	out := newStreamWriter(file)

	run := &simRun{
		enc:   enc,
		dev:   dev,
		video: video,
		out:   out,
		rep:   rep,
		log:   runLog,
	}
	start := time.Now()
	runErr := run.encode(ctx, sa.frames)
	elapsed := time.Since(start)

	if err := out.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		rep.Error(reporter.ReporterError{Title: "Encoding failed", Message: runErr.Error()})
		return runErr
	}

	header, _ := enc.Header()
	result := validation.Check(run.packets, run.submitted, validation.Options{Header: header})
	var analyzer validation.StreamAnalyzer = validation.ParserAnalyzer{}
	if sa.ffprobe {
		analyzer = validation.NewDefaultAnalyzer()
	}
	exp := validation.Expectation{Frames: uint64(len(run.packets)), Width: video.Width, Height: video.Height}
	if err := validation.ValidateFile(context.Background(), analyzer, outPath, exp, result); err != nil {
		runLog.Warn("Output analysis failed: %v", err)
	}
	reportValidation(rep, result)

	stats := enc.Stats()
	encoded := out.Bytes()
	if size, err := util.GetFileSize(outPath); err == nil {
		encoded = size
	}
	raw := uint64(len(run.submitted)) * uint64(video.FrameSize())
	var fps float32
	if elapsed > 0 {
		fps = float32(float64(len(run.submitted)) / elapsed.Seconds())
	}
	rep.EncodingComplete(reporter.EncodingOutcome{
		Encoder:     info.Name,
		OutputFile:  outPath,
		Frames:      stats.Submitted,
		Packets:     uint64(len(run.packets)),
		Dropped:     stats.Dropped,
		RawSize:     raw,
		EncodedSize: encoded,
		TotalTime:   elapsed,
		AverageFPS:  fps,
	})
	runLog.Info("Encoded %d frames into %d packets (%s) in %s", stats.Submitted, len(run.packets),
		util.FormatBytes(encoded), util.FormatDuration(elapsed.Seconds()))

	if runErr != nil {
		rep.Warning(fmt.Sprintf("Interrupted after %d frames", len(run.submitted)))
		return runErr
	}
	if !result.IsValid() {
		return fmt.Errorf("validation failed: %s", strings.Join(result.GetFailures(), "; "))
	}
	rep.OperationComplete("Simulation complete")
	return nil
}

// backendOptions returns the simulated device frames are published on, if
// any, and the Open options selecting the backend.
func backendOptions(sa simulateArgs) (*sim.Device, []nvpipe.Option, error) {
	switch sa.backend {
	case backendSim:
		simOpts := sim.Options{Latency: sa.latency}
		if sa.fault != "" {
			simOpts.Faults = map[sim.Step]sim.Fault{sim.Step(sa.fault): {After: sa.faultAfter}}
		}
		dev := sim.NewDevice()
		lib := sim.NewLibrary(simOpts)
		return dev, []nvpipe.Option{nvpipe.WithBackend(
			func(int) (gpu.Device, error) { return dev, nil },
			func() (nvenc.Library, error) { return lib, nil },
		)}, nil
	case backendSoftware:
		return nil, []nvpipe.Option{nvpipe.WithBackend(
			func(int) (gpu.Device, error) {
				return nil, nverrors.NewDeviceInitError("bind adapter", errors.New("hardware disabled by --backend software"))
			},
			nvenc.Load,
		)}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want %s or %s)", sa.backend, backendSim, backendSoftware)
	}
}

func reportSetup(rep reporter.Reporter, s config.Settings, video config.Video, info nvpipe.Info) {
	sys := util.GetSystemInfo()
	platform := sys.OS + "/" + sys.Arch
	if sys.Platform != "" {
		platform = fmt.Sprintf("%s %s (%s)", sys.Platform, sys.PlatformVersion, sys.Arch)
	}
	rep.Hardware(reporter.HardwareSummary{
		Hostname:    sys.Hostname,
		Platform:    platform,
		CPUCores:    sys.LogicalCores,
		MemoryTotal: sys.MemoryTotal,
		Adapter:     info.Adapter.Description,
	})

	bitrate := util.FormatBitrate(s.Bitrate)
	switch s.RateControl {
	case config.RateControlCQP:
		bitrate = fmt.Sprintf("QP %d", s.CQP)
	case config.RateControlLossless:
		bitrate = ""
	}
	rep.SessionConfig(reporter.SessionConfigSummary{
		Encoder:     info.Name,
		SessionID:   info.SessionID,
		Resolution:  fmt.Sprintf("%dx%d", video.Width, video.Height),
		FrameRate:   util.FormatFrameRate(video.FPSNum, video.FPSDen),
		Preset:      s.Preset.String(),
		Profile:     s.Profile.String(),
		Level:       s.Level.String(),
		RateControl: s.RateControl.String(),
		Bitrate:     bitrate,
		GOP:         info.GOP,
		BFrames:     info.BFrames,
		Depth:       info.Depth,
		OutputDelay: info.OutputDelay,
		Fallback:    info.Fallback,
	})
}

func reportValidation(rep reporter.Reporter, result *validation.Result) {
	steps := result.GetValidationSteps()
	summary := reporter.ValidationSummary{
		Passed: result.IsValid(),
		Steps:  make([]reporter.ValidationStep, len(steps)),
	}
	for i, st := range steps {
		summary.Steps[i] = reporter.ValidationStep{Name: st.Name, Passed: st.Passed, Details: st.Details}
	}
	rep.ValidationComplete(summary)
}
