// Package session drives an asynchronous NVENC encoder through a fixed ring
// of bitstream buffers and input surfaces, turning shared renderer textures
// into timestamped H.264 packets.
//
// A Session is not safe for concurrent use: frames are submitted, and
// packets retrieved, from one goroutine. Encode and Flush block while the
// encoder finishes pictures.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/nvenc"
)

var (
	// ErrSessionClosed is wrapped by errors from a draining or closed session.
	ErrSessionClosed = errors.New("session is draining or closed")
	// ErrPipelineFull is wrapped when every ring slot holds a packet that
	// has not been retrieved yet.
	ErrPipelineFull = errors.New("every bitstream slot is awaiting retrieval")
	// ErrReconfigureUnsupported is wrapped when the bitrate cannot change
	// mid-stream.
	ErrReconfigureUnsupported = errors.New("dynamic bitrate change not supported")
)

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Frame is one renderer frame. Handle names a shared texture whose keyed
// mutex the producer released with Key. NV12 is an optional system-memory
// copy used only by software fallbacks.
type Frame struct {
	Handle uint32
	Key    uint64
	PTS    int64
	NV12   []byte
}

// Packet is one compressed access unit. Data returned by Encode is reused
// by the next call.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Keyframe bool
}

// Stats counts frames through the session.
type Stats struct {
	Submitted uint64
	Produced  uint64
	Dropped   uint64
	Queued    int
}

// Options are optional session collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Label names the encoder in metrics. Defaults to "nvenc".
	Label string
}

// Session is one open hardware encode session.
type Session struct {
	id  uuid.UUID
	log *slog.Logger
	m   *metrics.Session

	dev  gpu.Device
	enc  nvenc.Encoder
	caps Caps
	plan *Plan

	bitstreams []*bitstreamSlot
	surfaces   []*surfaceSlot
	shared     *sharedCache

	nextBitstream int
	curBitstream  int
	buffersQueued int
	timestamps    deque.Deque[int64]

	state         State
	encodeStarted bool
	eosSent       bool
	firstPacket   bool
	header        []byte
	sei           []byte
	packet        []byte
	stats         Stats
}

// Open creates a session on dev. The session owns dev from then on and
// releases it in Close; on error the caller still owns dev. Construction
// runs in order: encode session, capabilities, configuration, bitstream
// buffers, input surfaces. A failure unwinds the completed steps.
func Open(dev gpu.Device, lib nvenc.Library, s config.Settings, video config.Video, opts Options) (*Session, error) {
	if err := s.Normalize(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid settings", err)
	}
	if err := s.Validate(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid settings", err)
	}
	if err := video.Validate(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid video", err)
	}

	id := uuid.New()
	label := opts.Label
	if label == "" {
		label = "nvenc"
	}
	log := opts.Logger
	if log == nil {
		log = logging.L("session")
	}

	sess := &Session{
		id:          id,
		log:         log.With("session", id.String()),
		m:           opts.Metrics.Session(id.String(), label),
		dev:         dev,
		firstPacket: true,
	}
	ready := false
	defer func() {
		if !ready {
			sess.release()
		}
	}()

	enc, err := lib.OpenSession(dev)
	if err != nil {
		return nil, nverrors.NewDeviceInitError("open encode session", err)
	}
	sess.enc = enc

	if sess.caps, err = QueryCaps(enc); err != nil {
		return nil, err
	}

	if sess.plan, err = configure(enc, s, video, sess.caps, sess.log); err != nil {
		return nil, err
	}

	depth := sess.plan.Depth
	sess.bitstreams = make([]*bitstreamSlot, 0, depth)
	for i := 0; i < depth; i++ {
		b, err := allocBitstream(enc)
		if err != nil {
			return nil, err
		}
		sess.bitstreams = append(sess.bitstreams, b)
	}

	sess.surfaces = make([]*surfaceSlot, 0, depth)
	for i := 0; i < depth; i++ {
		surf, err := allocSurface(dev, enc, video.Width, video.Height)
		if err != nil {
			return nil, err
		}
		sess.surfaces = append(sess.surfaces, surf)
	}

	sess.shared = newSharedCache(dev)
	ready = true
	sess.log.Debug("session ready", "depth", depth, "output_delay", sess.plan.OutputDelay)
	return sess, nil
}

// release frees everything but the device, in reverse construction order.
func (s *Session) release() {
	for _, surf := range s.surfaces {
		surf.release(s.enc)
	}
	s.surfaces = nil
	for _, b := range s.bitstreams {
		b.release(s.enc)
	}
	s.bitstreams = nil
	if s.enc != nil {
		if err := s.enc.Destroy(); err != nil {
			s.log.Warn("destroy encoder failed", "error", err)
		}
		s.enc = nil
	}
	s.shared.flush()
}

// Close drains any in-flight pictures, then releases the surfaces, buffers,
// encoder, shared textures and device. Packets drained here are discarded;
// call Flush first to keep them. Close is idempotent.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}

	var err error
	if s.encodeStarted && (s.state == StateStreaming || s.buffersQueued > 0) {
		var pkts []Packet
		pkts, err = s.Flush()
		if len(pkts) > 0 {
			s.log.Debug("discarded packets at close", "count", len(pkts))
		}
	}

	s.release()
	if s.dev != nil {
		s.dev.Release()
		s.dev = nil
	}
	s.state = StateClosed
	s.log.Info("session closed",
		"submitted", s.stats.Submitted,
		"produced", s.stats.Produced,
		"dropped", s.stats.Dropped)
	return err
}

// ID identifies the session in logs and metrics.
func (s *Session) ID() string {
	return s.id.String()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Plan returns the configuration the encoder was initialized with.
func (s *Session) Plan() Plan {
	return *s.plan
}

// Caps returns the capabilities queried at open.
func (s *Session) Caps() Caps {
	return s.caps
}

// Adapter describes the adapter the session encodes on.
func (s *Session) Adapter() gpu.AdapterInfo {
	if s.dev == nil {
		return gpu.AdapterInfo{}
	}
	return s.dev.Adapter()
}

// Header returns the SPS/PPS split from the first packet.
func (s *Session) Header() ([]byte, bool) {
	return s.header, !s.firstPacket
}

// SEI returns the SEI split from the first packet.
func (s *Session) SEI() ([]byte, bool) {
	return s.sei, !s.firstPacket
}

// Stats returns the frame counters.
func (s *Session) Stats() Stats {
	st := s.stats
	st.Queued = s.buffersQueued
	return st
}

// UpdateBitrate changes the CBR target mid-stream. It needs CBR rate
// control and hardware support for dynamic bitrate changes.
func (s *Session) UpdateBitrate(kbps int) error {
	if s.state == StateClosed || s.enc == nil {
		return nverrors.NewConfigurationError("update bitrate", ErrSessionClosed)
	}
	if kbps < config.MinBitrate || kbps > config.MaxBitrate {
		return nverrors.NewConfigurationError("update bitrate",
			fmt.Errorf("%w: must be %d-%d kbps, got %d", config.ErrInvalidBitrate, config.MinBitrate, config.MaxBitrate, kbps))
	}
	if !s.plan.CBR || !s.caps.DynamicBitrate {
		s.log.Info("bitrate change ignored", "cbr", s.plan.CBR, "supported", s.caps.DynamicBitrate)
		return nverrors.NewConfigurationError("update bitrate", ErrReconfigureUnsupported)
	}

	cfg := s.plan.Config
	cfg.RC.AverageBitRate = uint32(kbps) * 1000
	cfg.RC.MaxBitRate = uint32(kbps) * 1000
	params := s.plan.Init
	params.Config = &cfg
	if err := s.enc.Reconfigure(&params); err != nil {
		return nverrors.NewConfigurationError("reconfigure encoder", err)
	}

	s.plan.Config = cfg
	s.plan.Init.Config = &s.plan.Config
	s.log.Info("bitrate updated", "kbps", kbps)
	return nil
}
