package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/five82/nvpipe/internal/avc"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/session"
	"github.com/five82/nvpipe/internal/util"
)

// ErrNoFrameData is returned when a frame reaches the software encoder
// without system-memory NV12.
var ErrNoFrameData = errors.New("frame has no NV12 data")

// Progress is the last progress line ffmpeg printed.
type Progress struct {
	Frame       uint64
	FPS         float32
	Speed       float32
	Bitrate     string
	ElapsedSecs float64
}

var timeRegex = regexp.MustCompile(`time=(\d{2}:\d{2}:\d{2}\.?\d*)`)

// Encoder feeds raw frames to an ffmpeg process and returns access units as
// they come back. It is not safe for concurrent use.
type Encoder struct {
	params    Params
	frameSize int
	log       *slog.Logger
	m         *metrics.Session

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser

	mu       sync.Mutex
	units    [][]byte
	readErr  error
	progress Progress
	stderr   tailBuffer

	stdoutDone chan struct{}
	stderrDone chan struct{}

	timestamps deque.Deque[int64]
	header     []byte
	sei        []byte
	hasHeader  bool
	stats      session.Stats
	finished   bool
	closed     bool
}

// Start launches ffmpeg for p. The process lives until Flush or Close.
func Start(ctx context.Context, p Params) (*Encoder, error) {
	if err := p.Settings.Normalize(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid settings", err)
	}
	if err := p.Settings.Validate(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid settings", err)
	}
	if err := p.Video.Validate(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid video description", err)
	}
	return start(ctx, p.binary(), BuildArgs(p), p)
}

func start(ctx context.Context, binary string, args []string, p Params) (*Encoder, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, nverrors.NewCommandStartError(binary, fmt.Errorf("failed to get stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, nverrors.NewCommandStartError(binary, fmt.Errorf("failed to get stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, nverrors.NewCommandStartError(binary, fmt.Errorf("failed to get stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nverrors.NewCommandStartError(binary, err)
	}

	e := &Encoder{
		params:     p,
		frameSize:  p.Video.FrameSize(),
		log:        logging.L("ffmpeg"),
		m:          p.Metrics.Session(uuid.NewString(), "ffmpeg"),
		cmd:        cmd,
		cancel:     cancel,
		stdin:      stdin,
		stdoutDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go e.readUnits(stdout)
	go e.parseProgress(stderr)

	e.log.Info("software encoder started",
		"codec", p.codec(),
		"width", p.Video.Width,
		"height", p.Video.Height,
		"pid", cmd.Process.Pid)
	return e, nil
}

func (e *Encoder) readUnits(stdout io.Reader) {
	defer close(e.stdoutDone)
	r := avc.NewAccessUnitReader(stdout)
	for {
		au, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
		e.mu.Lock()
		e.units = append(e.units, au)
		e.mu.Unlock()
	}
}

// stderrTail is how much of ffmpeg's stderr is kept for error reports.
const stderrTail = 16 << 10

// tailBuffer keeps the last max bytes written to it. The zero value keeps
// stderrTail bytes.
type tailBuffer struct {
	buf []byte
	max int
}

func (t *tailBuffer) WriteByte(b byte) error {
	if t.max == 0 {
		t.max = stderrTail
	}
	t.buf = append(t.buf, b)
	if len(t.buf) >= 2*t.max {
		n := copy(t.buf, t.buf[len(t.buf)-t.max:])
		t.buf = t.buf[:n]
	}
	return nil
}

func (t *tailBuffer) String() string {
	if len(t.buf) > t.max {
		return string(t.buf[len(t.buf)-t.max:])
	}
	return string(t.buf)
}

// parseProgress reads ffmpeg stderr, keeping its tail for error reports and
// the latest progress line for Progress.
func (e *Encoder) parseProgress(stderr io.Reader) {
	defer close(e.stderrDone)
	reader := bufio.NewReader(stderr)
	var lineBuf strings.Builder

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return
		}

		e.mu.Lock()
		e.stderr.WriteByte(b)
		e.mu.Unlock()

		// Progress lines end with \r or \n
		if b == '\r' || b == '\n' {
			line := lineBuf.String()
			lineBuf.Reset()

			if strings.Contains(line, "frame=") {
				if p := parseProgressLine(line); p != nil {
					e.mu.Lock()
					e.progress = *p
					e.mu.Unlock()
				}
			}
		} else {
			lineBuf.WriteByte(b)
		}
	}
}

// Encode writes one frame to ffmpeg and returns the oldest finished access
// unit, if any. The write blocks while the pipe is full.
func (e *Encoder) Encode(f session.Frame) (session.Packet, bool, error) {
	start := time.Now()
	pkt, ok, err := e.encode(f)
	if err != nil {
		e.stats.Dropped++
		e.m.Dropped()
		return pkt, ok, err
	}
	e.m.Submitted(time.Since(start))
	e.m.Queued(e.timestamps.Len())
	return pkt, ok, nil
}

func (e *Encoder) encode(f session.Frame) (session.Packet, bool, error) {
	if e.finished || e.closed {
		return session.Packet{}, false, nverrors.NewEncodeSubmissionError("encoder is draining or closed", session.ErrSessionClosed)
	}
	if len(f.NV12) == 0 {
		return session.Packet{}, false, nverrors.NewEncodeSubmissionError("software encoder needs system-memory frames", ErrNoFrameData)
	}
	if len(f.NV12) != e.frameSize {
		return session.Packet{}, false, nverrors.NewEncodeSubmissionError(
			fmt.Sprintf("frame is %d bytes, want %d", len(f.NV12), e.frameSize), ErrNoFrameData)
	}

	if _, err := e.stdin.Write(f.NV12); err != nil {
		return session.Packet{}, false, nverrors.NewEncodeSubmissionError("write to ffmpeg failed", err)
	}
	e.timestamps.PushBack(f.PTS)
	e.stats.Submitted++

	units := e.take(1)
	if len(units) == 0 {
		return session.Packet{}, false, nil
	}
	return e.packet(units[0]), true, nil
}

// take removes up to n finished access units; n < 0 takes all of them.
func (e *Encoder) take(n int) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < 0 || n > len(e.units) {
		n = len(e.units)
	}
	out := e.units[:n:n]
	e.units = e.units[n:]
	return out
}

func (e *Encoder) packet(au []byte) session.Packet {
	var pts int64
	if e.timestamps.Len() > 0 {
		pts = e.timestamps.PopFront()
	} else {
		e.log.Warn("access unit without a pending timestamp")
	}

	if !e.hasHeader {
		e.header, e.sei, _ = avc.ExtractHeaders(au)
		e.hasHeader = true
	}
	e.stats.Produced++
	e.m.Produced(len(au))
	return session.Packet{
		Data:     au,
		PTS:      pts,
		DTS:      pts,
		Keyframe: avc.IsKeyframe(au),
	}
}

// Flush closes ffmpeg's input and returns every remaining access unit once
// the process exits.
func (e *Encoder) Flush() ([]session.Packet, error) {
	if e.closed || e.finished {
		return nil, nil
	}
	e.finished = true

	_ = e.stdin.Close()
	<-e.stdoutDone
	<-e.stderrDone
	waitErr := e.cmd.Wait()
	e.cancel()

	var out []session.Packet
	for _, au := range e.take(-1) {
		out = append(out, e.packet(au))
	}

	e.mu.Lock()
	readErr := e.readErr
	e.mu.Unlock()

	if waitErr != nil {
		return out, e.failure(waitErr)
	}
	if readErr != nil {
		return out, nverrors.NewRetrievalError("failed to read ffmpeg output", readErr)
	}
	if pending := e.timestamps.Len(); pending > 0 {
		e.log.Warn("ffmpeg returned fewer access units than frames", "missing", pending)
		e.stats.Dropped += uint64(pending)
		e.timestamps.Clear()
	}
	e.m.Queued(0)
	return out, nil
}

func (e *Encoder) failure(err error) error {
	e.mu.Lock()
	stderr := e.stderr.String()
	e.mu.Unlock()
	return nverrors.WrapExecError(e.params.binary(), err, stderr)
}

// Close flushes if needed and reaps the process. Safe to call twice.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	var err error
	if !e.finished {
		_, err = e.Flush()
	}
	e.closed = true
	e.log.Info("software encoder closed",
		"submitted", e.stats.Submitted,
		"produced", e.stats.Produced,
		"dropped", e.stats.Dropped,
		"speed", e.Progress().Speed)
	return err
}

// Header returns the SPS/PPS of the first access unit.
func (e *Encoder) Header() ([]byte, bool) { return e.header, e.hasHeader && len(e.header) > 0 }

// SEI returns the SEI NALs of the first access unit.
func (e *Encoder) SEI() ([]byte, bool) { return e.sei, e.hasHeader && len(e.sei) > 0 }

// Stats reports frame counts. Queued is the number of frames ffmpeg holds.
func (e *Encoder) Stats() session.Stats {
	s := e.stats
	s.Queued = e.timestamps.Len()
	return s
}

// Progress returns the latest progress line parsed from stderr.
func (e *Encoder) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// parseProgressLine extracts progress information from an FFmpeg progress line.
func parseProgressLine(line string) *Progress {
	p := &Progress{}
	if matches := timeRegex.FindStringSubmatch(line); len(matches) >= 2 {
		if secs, ok := util.ParseFFmpegTime(matches[1]); ok {
			p.ElapsedSecs = secs
		}
	}

	if v, ok := field(line, "frame="); ok {
		f, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil
		}
		p.Frame = f
	}
	if v, ok := field(line, "fps="); ok {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			p.FPS = float32(f)
		}
	}
	if v, ok := field(line, "bitrate="); ok {
		p.Bitrate = v
	}
	if v, ok := field(line, "speed="); ok {
		if s, err := strconv.ParseFloat(strings.TrimSuffix(v, "x"), 32); err == nil {
			p.Speed = float32(s)
		}
	}
	return p
}

// field returns the value following key, up to the next whitespace.
func field(line, key string) (string, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexAny(rest, " \t\r\n"); end >= 0 {
		rest = rest[:end]
	}
	return rest, rest != ""
}
