// Package nvpipe encodes renderer frames to H.264 on the GPU that drew them.
//
// Frames arrive as D3D11 shared texture handles guarded by a keyed mutex.
// Open binds the configured adapter and opens an asynchronous NVENC
// session; if the hardware path cannot be brought up it falls back to a
// software encoder fed from a system-memory NV12 copy of each frame.
//
// Basic usage:
//
//	enc, err := nvpipe.Open(ctx, nvpipe.DefaultSettings(), nvpipe.Video{
//	    Width: 1920, Height: 1080, FPSNum: 60, FPSDen: 1,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer enc.Close()
//
//	pkt, ok, err := enc.Encode(nvpipe.Frame{Handle: h, Key: 1, PTS: pts})
//	if ok {
//	    mux.Write(pkt.Data, pkt.PTS, pkt.DTS)
//	}
//
// An Encoder is not safe for concurrent use.
package nvpipe

import (
	"context"
	"log/slog"

	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/fallback"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/nvenc"
	"github.com/five82/nvpipe/internal/session"
)

// Re-exported session types.
type (
	Frame    = session.Frame
	Packet   = session.Packet
	Stats    = session.Stats
	Settings = config.Settings
	Video    = config.Video
)

// DefaultSettings returns the encoder defaults.
func DefaultSettings() Settings {
	return config.Default()
}

// ErrReconfigureUnsupported is wrapped by UpdateBitrate when the active
// encoder cannot change bitrate mid-stream.
var ErrReconfigureUnsupported = session.ErrReconfigureUnsupported

// BindFunc creates the device for an adapter index.
type BindFunc func(adapter int) (gpu.Device, error)

// LoadFunc loads the encoder library.
type LoadFunc func() (nvenc.Library, error)

type options struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	bind       BindFunc
	load       LoadFunc
	ffmpegPath string
	noFallback bool
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used by the session and the fallback.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records session and fallback metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithBackend replaces the D3D11 device binder and the NVENC library
// loader, for example with the simulated backend.
func WithBackend(bind BindFunc, load LoadFunc) Option {
	return func(o *options) {
		o.bind = bind
		o.load = load
	}
}

// WithFFmpegPath sets the ffmpeg binary used by the software fallback.
func WithFFmpegPath(path string) Option {
	return func(o *options) {
		o.ffmpegPath = path
	}
}

// WithoutFallback makes Open return the hardware error instead of falling
// back.
func WithoutFallback() Option {
	return func(o *options) {
		o.noFallback = true
	}
}

// backend is the method set shared by the hardware session and every
// fallback encoder.
type backend interface {
	fallback.Encoder
}

// Info describes the encoder Open selected.
type Info struct {
	// Name is "nvenc" for the hardware session, otherwise the fallback's
	// registered name.
	Name      string
	Fallback  bool
	SessionID string
	Adapter   gpu.AdapterInfo
	// Pipeline shape; zero for fallbacks.
	Depth       int
	OutputDelay int
	BFrames     bool
	GOP         uint32
}

// Encoder is an open encoder, hardware or fallback.
type Encoder struct {
	enc  backend
	sess *session.Session
	info Info
}

// Open brings up the hardware encoder for video. When that fails with a
// device, configuration, buffer or surface error, it logs a warning and
// opens the first registered fallback that works instead. It returns an
// error only if every encoder fails.
func Open(ctx context.Context, s Settings, video Video, opts ...Option) (*Encoder, error) {
	o := options{bind: gpu.Bind, load: nvenc.Load}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = logging.L("nvpipe")
	}

	sess, err := openHardware(s, video, &o)
	if err == nil {
		plan := sess.Plan()
		return &Encoder{
			enc:  sess,
			sess: sess,
			info: Info{
				Name:        "nvenc",
				SessionID:   sess.ID(),
				Adapter:     sess.Adapter(),
				Depth:       plan.Depth,
				OutputDelay: plan.OutputDelay,
				BFrames:     plan.BFrames,
				GOP:         plan.GOP,
			},
		}, nil
	}
	if o.noFallback || !nverrors.IsFatal(err) {
		return nil, err
	}

	log.Warn("hardware encoder unavailable, falling back", "error", err)
	enc, name, ferr := fallback.Open(ctx, fallback.Request{
		Settings:   s,
		Video:      video,
		Metrics:    o.metrics,
		FFmpegPath: o.ffmpegPath,
		Cause:      err,
	})
	if ferr != nil {
		return nil, ferr
	}
	return &Encoder{
		enc: enc,
		info: Info{
			Name:     name,
			Fallback: true,
			GOP:      video.GOPSize(s.KeyintSec),
		},
	}, nil
}

func openHardware(s Settings, video Video, o *options) (*session.Session, error) {
	dev, err := o.bind(s.GPU)
	if err != nil {
		if nverrors.IsKind(err, nverrors.KindDeviceInit) {
			return nil, err
		}
		return nil, nverrors.NewDeviceInitError("bind adapter", err)
	}
	lib, err := o.load()
	if err != nil {
		dev.Release()
		return nil, nverrors.NewDeviceInitError("load NVENC library", err)
	}
	sess, err := session.Open(dev, lib, s, video, session.Options{
		Logger:  o.logger,
		Metrics: o.metrics,
	})
	if err != nil {
		dev.Release()
		return nil, err
	}
	return sess, nil
}

// Encode submits f and returns the next packet once the pipeline is full.
// The hardware path reads f.Handle; fallbacks read f.NV12. Encode blocks
// while the encoder finishes the oldest picture.
func (e *Encoder) Encode(f Frame) (Packet, bool, error) {
	return e.enc.Encode(f)
}

// Flush drains every picture still in flight. The encoder accepts no more
// frames afterwards.
func (e *Encoder) Flush() ([]Packet, error) {
	return e.enc.Flush()
}

// Header returns the SPS and PPS from the first packet.
func (e *Encoder) Header() ([]byte, bool) {
	return e.enc.Header()
}

// SEI returns the SEI from the first packet.
func (e *Encoder) SEI() ([]byte, bool) {
	return e.enc.SEI()
}

// Stats returns frame counters.
func (e *Encoder) Stats() Stats {
	return e.enc.Stats()
}

// Info describes the selected encoder.
func (e *Encoder) Info() Info {
	return e.info
}

// UpdateBitrate changes the CBR target of a hardware session.
func (e *Encoder) UpdateBitrate(kbps int) error {
	if e.sess == nil {
		return nverrors.NewConfigurationError("update bitrate", ErrReconfigureUnsupported)
	}
	return e.sess.UpdateBitrate(kbps)
}

// Close releases the encoder. Pictures still in flight are discarded; call
// Flush first to keep them.
func (e *Encoder) Close() error {
	return e.enc.Close()
}
