//go:build nvenc_cuda

// The CUDA encoder is opt-in and its binding is not listed in go.mod.
// Before building with -tags nvenc_cuda, add it:
//
//	go get github.com/bdandy/go-nvenc/v8

package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bdnvenc "github.com/bdandy/go-nvenc/v8"
	"github.com/bdandy/go-nvenc/v8/guid"
	"github.com/google/uuid"

	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/metrics"
	"github.com/five82/nvpipe/internal/session"
)

// bufferFormatIYUV is NV_ENC_BUFFER_FORMAT_IYUV, planar I420.
const bufferFormatIYUV = 0x100

var errNoFrameData = errors.New("frame has no NV12 data")

func init() {
	Register("nvenc-cuda", 10, openCUDA)
}

// cudaEncoder drives NVENC through a CUDA context with system-memory input.
// Encode is synchronous, so every accepted frame yields its packet at once.
type cudaEncoder struct {
	engine *bdnvenc.Encoder
	video  config.Video
	i420   []byte
	log    *slog.Logger
	m      *metrics.Session

	header    []byte
	sei       []byte
	hasHeader bool
	stats     session.Stats
	closed    bool
}

func openCUDA(ctx context.Context, req Request) (Encoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Video.Validate(); err != nil {
		return nil, nverrors.NewConfigurationError("invalid video description", err)
	}

	engine, err := bdnvenc.NewEncoder(10000)
	if err != nil {
		return nil, nverrors.NewDeviceInitError("failed to open CUDA encoder", err)
	}
	engine.SetCodec(guid.CodecH264Guid)
	engine.SetPreset(guid.PresetLowLatencyDefaultGuid)
	engine.SetResolution(req.Video.Width, req.Video.Height)
	engine.SetFrameRate(req.Video.FPSNum, req.Video.FPSDen)
	engine.Config().SetGOPLen(req.Video.GOPSize(req.Settings.KeyintSec))
	if err := engine.InitializeEncoder(bufferFormatIYUV, bufferFormatIYUV); err != nil {
		engine.Destroy()
		return nil, nverrors.NewConfigurationError("failed to initialize CUDA encoder", err)
	}

	log := logging.L("fallback")
	log.Info("CUDA encoder initialized",
		"width", req.Video.Width,
		"height", req.Video.Height,
		"gop", req.Video.GOPSize(req.Settings.KeyintSec))
	return &cudaEncoder{
		engine: engine,
		video:  req.Video,
		i420:   make([]byte, req.Video.FrameSize()),
		log:    log,
		m:      req.Metrics.Session(uuid.NewString(), "nvenc-cuda"),
	}, nil
}

// toI420 deinterleaves the NV12 chroma plane into separate U and V planes.
func toI420(dst, nv12 []byte, width, height int) {
	ySize := width * height
	copy(dst, nv12[:ySize])
	uv := nv12[ySize:]
	u := dst[ySize : ySize+ySize/4]
	v := dst[ySize+ySize/4:]
	for i := 0; i < len(u); i++ {
		u[i] = uv[2*i]
		v[i] = uv[2*i+1]
	}
}

func (e *cudaEncoder) Encode(f session.Frame) (session.Packet, bool, error) {
	start := time.Now()
	if e.closed {
		return e.drop(nverrors.NewEncodeSubmissionError("encoder is closed", session.ErrSessionClosed))
	}
	if len(f.NV12) != len(e.i420) {
		return e.drop(nverrors.NewEncodeSubmissionError(
			fmt.Sprintf("CUDA encoder needs a %d byte NV12 frame, got %d", len(e.i420), len(f.NV12)), errNoFrameData))
	}

	toI420(e.i420, f.NV12, int(e.video.Width), int(e.video.Height))
	data, err := e.engine.Encode(e.i420)
	if err != nil {
		return e.drop(nverrors.NewEncodeSubmissionError("CUDA encode failed", err))
	}
	e.stats.Submitted++
	e.m.Submitted(time.Since(start))
	if len(data) == 0 {
		return session.Packet{}, false, nil
	}

	if !e.hasHeader {
		e.header, e.sei, _ = avc.ExtractHeaders(data)
		e.hasHeader = true
	}
	e.stats.Produced++
	e.m.Produced(len(data))
	return session.Packet{
		Data:     data,
		PTS:      f.PTS,
		DTS:      f.PTS,
		Keyframe: avc.IsKeyframe(data),
	}, true, nil
}

func (e *cudaEncoder) drop(err error) (session.Packet, bool, error) {
	e.stats.Dropped++
	e.m.Dropped()
	return session.Packet{}, false, err
}

// Flush has nothing to drain: Encode returns each picture as it completes.
func (e *cudaEncoder) Flush() ([]session.Packet, error) { return nil, nil }

func (e *cudaEncoder) Header() ([]byte, bool) { return e.header, len(e.header) > 0 }

func (e *cudaEncoder) SEI() ([]byte, bool) { return e.sei, len(e.sei) > 0 }

func (e *cudaEncoder) Stats() session.Stats { return e.stats }

func (e *cudaEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.log.Info("CUDA encoder closed", "submitted", e.stats.Submitted, "produced", e.stats.Produced)
	return e.engine.Destroy()
}
