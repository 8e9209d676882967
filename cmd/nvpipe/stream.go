package main

import (
	"bufio"
	"io"

	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/config"
)

// streamWriter writes packets as a raw Annex-B elementary stream.
type streamWriter struct {
	w     *bufio.Writer
	c     io.Closer
	bytes uint64
}

func newStreamWriter(wc io.WriteCloser) *streamWriter {
	return &streamWriter{w: bufio.NewWriterSize(wc, 1<<20), c: wc}
}

// WriteFirst writes the first packet. The hardware session strips SPS, PPS
// and SEI from it, so they are put back after any access unit delimiter.
// Packets that still carry an SPS are written as they are.
func (s *streamWriter) WriteFirst(data, header, sei []byte) error {
	nals := avc.Split(data)
	for _, nal := range nals {
		if avc.Type(nal) == avc.NALSPS {
			return s.Write(data)
		}
	}
	if len(nals) > 0 && avc.Type(nals[0]) == avc.NALAUD {
		if err := s.Write(nals[0]); err != nil {
			return err
		}
		nals = nals[1:]
	}
	for _, b := range [][]byte{header, sei} {
		if err := s.Write(b); err != nil {
			return err
		}
	}
	for _, nal := range nals {
		if err := s.Write(nal); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamWriter) Write(b []byte) error {
	n, err := s.w.Write(b)
	s.bytes += uint64(n)
	return err
}

// Bytes returns how much has been written.
func (s *streamWriter) Bytes() uint64 {
	return s.bytes
}

// Close flushes and closes the underlying file.
func (s *streamWriter) Close() error {
	if err := s.w.Flush(); err != nil {
		_ = s.c.Close()
		return err
	}
	return s.c.Close()
}

// fillPattern draws frame n of a moving luma ramp with a drifting chroma
// tint into an NV12 buffer.
func fillPattern(buf []byte, video config.Video, n int) {
	w, h := int(video.Width), int(video.Height)
	for y := 0; y < h; y++ {
		row := buf[y*w : (y+1)*w]
		for x := range row {
			row[x] = byte(x + y + 2*n)
		}
	}
	uv := buf[w*h:]
	for i := 0; i+1 < len(uv); i += 2 {
		uv[i] = byte(128 + n%32)
		uv[i+1] = byte(128 - n%32)
	}
}
