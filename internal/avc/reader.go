package avc

import (
	"errors"
	"io"
)

const readChunk = 64 * 1024

// AccessUnitReader reads an Annex-B elementary stream and returns it one
// access unit at a time.
type AccessUnitReader struct {
	r    io.Reader
	buf  []byte
	eof  bool
	cur  []byte
	vcl  bool
	next [][]byte
}

// NewAccessUnitReader wraps r.
func NewAccessUnitReader(r io.Reader) *AccessUnitReader {
	return &AccessUnitReader{r: r}
}

// startsAccessUnit reports whether nal begins a new access unit when the
// current one already holds picture data.
func startsAccessUnit(nal []byte) bool {
	switch t := Type(nal); {
	case t == NALAUD, t == NALSPS, t == NALPPS, t == NALSEI:
		return true
	case t.VCL():
		return firstSliceOfPicture(nal)
	}
	return false
}

// Next returns the next complete access unit. It returns io.EOF once the
// stream is exhausted.
func (a *AccessUnitReader) Next() ([]byte, error) {
	for {
		for len(a.next) > 0 {
			nal := a.next[0]
			a.next = a.next[1:]
			if a.vcl && startsAccessUnit(nal) {
				au := a.cur
				a.cur = append([]byte(nil), nal...)
				a.vcl = Type(nal).VCL()
				return au, nil
			}
			a.cur = append(a.cur, nal...)
			if Type(nal).VCL() {
				a.vcl = true
			}
		}

		if a.eof {
			if len(a.cur) == 0 {
				return nil, io.EOF
			}
			au := a.cur
			a.cur = nil
			a.vcl = false
			return au, nil
		}

		if err := a.fill(); err != nil {
			return nil, err
		}
	}
}

// fill reads more input and moves every NAL known to be complete into
// a.next. The final NAL stays buffered until the next start code or EOF.
func (a *AccessUnitReader) fill() error {
	chunk := make([]byte, readChunk)
	n, err := a.r.Read(chunk)
	a.buf = append(a.buf, chunk[:n]...)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return err
		}
		a.eof = true
	}

	nals := Split(a.buf)
	if len(nals) == 0 {
		return nil
	}
	if a.eof {
		for _, nal := range nals {
			a.next = append(a.next, append([]byte(nil), nal...))
		}
		a.buf = nil
		return nil
	}

	complete := nals[:len(nals)-1]
	for _, nal := range complete {
		a.next = append(a.next, append([]byte(nil), nal...))
	}
	last := nals[len(nals)-1]
	a.buf = append(a.buf[:0:0], last...)
	return nil
}
