package main

import (
	"context"
	"fmt"
	"time"

	"github.com/five82/nvpipe"
	"github.com/five82/nvpipe/internal/config"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/logging"
	"github.com/five82/nvpipe/internal/reporter"
	"github.com/five82/nvpipe/internal/sim"
)

// encoder is the part of *nvpipe.Encoder the encode loop drives.
type encoder interface {
	Encode(f nvpipe.Frame) (nvpipe.Packet, bool, error)
	Flush() ([]nvpipe.Packet, error)
	Header() ([]byte, bool)
	SEI() ([]byte, bool)
	Stats() nvpipe.Stats
}

// simRun feeds synthetic frames through an encoder and keeps what came out.
type simRun struct {
	enc   encoder
	dev   *sim.Device
	video config.Video
	out   *streamWriter
	rep   reporter.Reporter
	log   *logging.RunLog

	handle    uint32
	submitted []int64
	// packets hold timestamps only, except the first which keeps its data
	// for the header check.
	packets []nvpipe.Packet
}

// encode submits frames until total is reached or ctx is cancelled, then
// flushes. Cancellation is checked between frames only.
func (r *simRun) encode(ctx context.Context, total int) error {
	r.handle = gpu.InvalidHandle
	if r.dev != nil {
		handle, tex, err := r.dev.CreateShared(r.video.Width, r.video.Height)
		if err != nil {
			return err
		}
		defer tex.Release()
		r.handle = handle
	}

	r.rep.EncodingStarted(uint64(total))
	start := time.Now()
	frame := make([]byte, r.video.FrameSize())
	var cancelled error

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			cancelled = err
			r.log.Warn("Cancelled after %d frames", i)
			break
		}

		pts := int64(i)
		fillPattern(frame, r.video, i)
		if r.dev != nil {
			if err := r.dev.Publish(r.handle, 1, frame); err != nil {
				return fmt.Errorf("publish frame %d: %w", i, err)
			}
		}

		pkt, ok, err := r.enc.Encode(nvpipe.Frame{Handle: r.handle, Key: 1, PTS: pts, NV12: frame})
		if err != nil {
			if nverrors.IsKind(err, nverrors.KindEncodeSubmission) || nverrors.IsKind(err, nverrors.KindHandleResolution) {
				r.rep.Warning(fmt.Sprintf("Frame %d dropped: %v", i, err))
				continue
			}
			return err
		}
		r.submitted = append(r.submitted, pts)
		if ok {
			if err := r.emit(pkt); err != nil {
				return err
			}
		}
		r.progress(i+1, total, start)
	}

	rest, err := r.enc.Flush()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	for _, pkt := range rest {
		if err := r.emit(pkt); err != nil {
			return err
		}
	}
	r.progress(total, total, start)
	return cancelled
}

func (r *simRun) emit(pkt nvpipe.Packet) error {
	if len(r.packets) == 0 {
		header, _ := r.enc.Header()
		sei, _ := r.enc.SEI()
		if err := r.out.WriteFirst(pkt.Data, header, sei); err != nil {
			return err
		}
		first := pkt
		first.Data = append([]byte(nil), pkt.Data...)
		r.packets = append(r.packets, first)
		return nil
	}
	if err := r.out.Write(pkt.Data); err != nil {
		return err
	}
	r.packets = append(r.packets, nvpipe.Packet{PTS: pkt.PTS, DTS: pkt.DTS, Keyframe: pkt.Keyframe})
	return nil
}

func (r *simRun) progress(done, total int, start time.Time) {
	elapsed := time.Since(start)
	var fps float32
	var eta time.Duration
	if elapsed > 0 && done > 0 {
		fps = float32(float64(done) / elapsed.Seconds())
		eta = time.Duration(float64(elapsed) / float64(done) * float64(total-done))
	}
	st := r.enc.Stats()
	r.rep.EncodingProgress(reporter.ProgressSnapshot{
		CurrentFrame: uint64(done),
		TotalFrames:  uint64(total),
		Packets:      uint64(len(r.packets)),
		Bytes:        r.out.Bytes(),
		Queued:       st.Queued,
		Percent:      float32(done) * 100 / float32(total),
		FPS:          fps,
		ETA:          eta,
	})
}
