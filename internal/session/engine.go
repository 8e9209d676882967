package session

import (
	"bytes"
	"errors"
	"time"

	"github.com/five82/nvpipe/internal/avc"
	nverrors "github.com/five82/nvpipe/internal/errors"
	"github.com/five82/nvpipe/internal/gpu"
	"github.com/five82/nvpipe/internal/nvenc"
)

// Encode submits f and returns a packet once the pipeline is full. Until
// Depth frames are in flight it returns ok=false. It blocks while the ring
// slot it needs is still being encoded.
//
// A rejected frame returns an EncodeSubmissionError and leaves the ring
// untouched; the caller may keep submitting. After a RetrievalError the
// ring stays full and frames are rejected with ErrPipelineFull until Flush
// collects the pending packets.
func (s *Session) Encode(f Frame) (Packet, bool, error) {
	if s.state == StateDraining || s.state == StateClosed {
		return Packet{}, false, nverrors.NewEncodeSubmissionError("encode", ErrSessionClosed)
	}

	start := time.Now()
	if err := s.submit(f); err != nil {
		s.stats.Dropped++
		s.m.Dropped()
		s.log.Warn("frame dropped", "pts", f.PTS, "error", err)
		return Packet{}, false, err
	}
	s.state = StateStreaming

	pkts, err := s.retrieve(false)
	s.m.Submitted(time.Since(start))
	s.m.Queued(s.buffersQueued)
	if err != nil {
		return Packet{}, false, err
	}
	if len(pkts) == 0 {
		return Packet{}, false, nil
	}
	return pkts[0], true, nil
}

func (s *Session) submit(f Frame) error {
	if s.buffersQueued >= len(s.bitstreams) {
		return nverrors.NewEncodeSubmissionError("submit frame", ErrPipelineFull)
	}
	in, err := s.shared.resolve(f.Handle)
	if err != nil {
		return nverrors.NewEncodeSubmissionError("resolve input texture", err)
	}

	idx := s.nextBitstream
	bs := s.bitstreams[idx]
	surf := s.surfaces[idx]

	if err := bs.ev.Wait(); err != nil {
		return nverrors.NewEncodeSubmissionError("wait for bitstream slot", err)
	}

	if err := in.km.Acquire(f.Key, gpu.Infinite); err != nil {
		return nverrors.NewEncodeSubmissionError("acquire keyed mutex", err)
	}
	copyErr := s.dev.Copy(surf.tex, in.tex)
	if err := in.km.ReleaseSync(0); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return nverrors.NewEncodeSubmissionError("copy input texture", copyErr)
	}

	mapped, err := s.enc.MapInput(surf.res)
	if err != nil {
		return nverrors.NewEncodeSubmissionError("map input surface", err)
	}
	surf.mapped = mapped

	err = s.enc.EncodePicture(&nvenc.PicParams{
		Width:          s.plan.Init.Width,
		Height:         s.plan.Init.Height,
		InputTimeStamp: uint64(f.PTS),
		Input:          mapped,
		Output:         bs.buf,
		Completion:     bs.ev,
		Format:         nvenc.BufferFormatNV12,
		Struct:         nvenc.PicStructFrame,
	})
	if err != nil && !errors.Is(err, nvenc.StatusNeedMoreInput) {
		if uerr := s.enc.UnmapInput(mapped); uerr != nil {
			s.log.Warn("unmap after failed encode", "error", uerr)
		}
		surf.mapped = 0
		return nverrors.NewEncodeSubmissionError("encode picture", err)
	}

	s.encodeStarted = true
	s.timestamps.PushBack(f.PTS)
	s.nextBitstream = (s.nextBitstream + 1) % len(s.bitstreams)
	s.buffersQueued++
	s.stats.Submitted++
	return nil
}

// Flush ends the stream and returns every packet still in flight. The
// session accepts no more frames afterwards. Flushing a session that never
// encoded returns no packets.
func (s *Session) Flush() ([]Packet, error) {
	if s.state == StateClosed {
		return nil, nil
	}
	s.state = StateDraining
	if !s.encodeStarted {
		return nil, nil
	}

	if !s.eosSent {
		s.eosSent = true
		err := s.enc.EncodePicture(&nvenc.PicParams{
			Flags:      nvenc.PicFlagEOS,
			Completion: s.bitstreams[s.nextBitstream].ev,
		})
		if err != nil {
			s.log.Warn("end of stream not accepted", "error", err)
		}
	}

	pkts, err := s.retrieve(true)
	s.m.Queued(s.buffersQueued)
	return pkts, err
}

// retrieve collects finished packets: one once the ring is full, or all of
// them when finalizing. Finalized packets own their data.
func (s *Session) retrieve(finalize bool) ([]Packet, error) {
	if s.buffersQueued == 0 {
		return nil, nil
	}
	if !finalize && s.buffersQueued < len(s.bitstreams) {
		return nil, nil
	}

	count := 1
	if finalize {
		count = s.buffersQueued
	}

	pkts := make([]Packet, 0, count)
	for i := 0; i < count; i++ {
		p, err := s.retrieveOne()
		if err != nil {
			return pkts, err
		}
		if finalize {
			p.Data = bytes.Clone(p.Data)
		}
		pkts = append(pkts, p)
	}
	return pkts, nil
}

func (s *Session) retrieveOne() (Packet, error) {
	bs := s.bitstreams[s.curBitstream]
	surf := s.surfaces[s.curBitstream]

	lock, err := s.enc.LockBitstream(bs.buf)
	if err != nil {
		return Packet{}, nverrors.NewRetrievalError("lock bitstream", err)
	}

	s.packet = s.packet[:0]
	if s.firstPacket {
		s.firstPacket = false
		var payload []byte
		s.header, s.sei, payload = avc.ExtractHeaders(lock.Data)
		s.packet = append(s.packet, payload...)
		s.log.Debug("stream headers extracted", "header_bytes", len(s.header), "sei_bytes", len(s.sei))
	} else {
		s.packet = append(s.packet, lock.Data...)
	}
	pts := int64(lock.OutputTimeStamp)
	keyframe := lock.PictureType == nvenc.PicTypeIDR

	if err := s.enc.UnlockBitstream(bs.buf); err != nil {
		return Packet{}, nverrors.NewRetrievalError("unlock bitstream", err)
	}

	if surf.mapped != 0 {
		if err := s.enc.UnmapInput(surf.mapped); err != nil {
			return Packet{}, nverrors.NewRetrievalError("unmap input surface", err)
		}
		surf.mapped = 0
	}

	s.curBitstream = (s.curBitstream + 1) % len(s.bitstreams)
	s.buffersQueued--

	dts := s.timestamps.PopFront()
	// Shifting by one tick is exact for a single B-frame only.
	if s.plan.BFrames {
		dts--
	}

	s.stats.Produced++
	s.m.Produced(len(s.packet))
	return Packet{Data: s.packet, PTS: pts, DTS: dts, Keyframe: keyframe}, nil
}
