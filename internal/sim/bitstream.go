package sim

import (
	"github.com/five82/nvpipe/internal/avc"
	"github.com/five82/nvpipe/internal/nvenc"
)

var (
	startCode = []byte{0, 0, 0, 1}
	ppsNAL    = []byte{0, 0, 0, 1, 0x68, 0xCE, 0x3C, 0x80}
	seiNAL    = append([]byte{0, 0, 0, 1, 0x06, 0x05, 0x19}, []byte("nvpipe-sim-uuid!simulated\x80")...)
)

var profileIDC = map[nvenc.GUID]byte{
	nvenc.ProfileBaseline: 66,
	nvenc.ProfileMain:     77,
	nvenc.ProfileHigh:     100,
	nvenc.ProfileHigh444:  244,
}

// Checksum is the 7-bit digest of a frame's pixels that the simulated
// encoder embeds in every slice, with the top bit set so it can never form
// part of a start code.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0x80 | sum&0x7F
}

// putVarint writes v as five 7-bit groups, each with the top bit set.
func putVarint(dst []byte, v uint32) []byte {
	for shift := 28; shift >= 0; shift -= 7 {
		dst = append(dst, 0x80|byte(v>>uint(shift))&0x7F)
	}
	return dst
}

func getVarint(b []byte) (uint32, bool) {
	if len(b) < 5 {
		return 0, false
	}
	var v uint32
	for i := 0; i < 5; i++ {
		v = v<<7 | uint32(b[i]&0x7F)
	}
	return v, true
}

func (e *Encoder) sps() []byte {
	profile, ok := profileIDC[e.cfg.Profile]
	if !ok {
		profile = 100
	}
	level := byte(e.cfg.H264.Level)
	if level == 0 {
		level = 41
	}
	nal := append([]byte{}, startCode...)
	nal = append(nal, 0x67, profile, 0xC0, level)
	nal = putVarint(nal, e.init.Width)
	nal = putVarint(nal, e.init.Height)
	return append(nal, 0x80)
}

func (e *Encoder) payloadSize() int {
	fps := 30
	if e.init.FrameRateDen > 0 && e.init.FrameRateNum >= e.init.FrameRateDen {
		fps = int(e.init.FrameRateNum / e.init.FrameRateDen)
	}
	var n int
	if e.cfg.RC.Mode == nvenc.RCConstQP {
		n = (52 - int(e.cfg.RC.ConstQP.InterP)) * 16
	} else {
		n = int(e.cfg.RC.AverageBitRate) / 8 / fps
	}
	return min(max(n, 16), 64*1024)
}

func (e *Encoder) render(p picture, header bool) []byte {
	var out []byte
	if header {
		out = append(out, e.sps()...)
		out = append(out, ppsNAL...)
		out = append(out, seiNAL...)
	}

	out = append(out, startCode...)
	switch p.typ {
	case nvenc.PicTypeIDR:
		out = append(out, 0x65, 0x88)
	case nvenc.PicTypeB:
		out = append(out, 0x01, 0x9E)
	default:
		out = append(out, 0x41, 0x9A)
	}
	out = putVarint(out, p.idx)
	out = append(out, p.sum)
	for i := 0; i < e.payloadSize(); i++ {
		out = append(out, 0xA5)
	}
	return out
}

// FrameInfo is what the simulated encoder records in a slice.
type FrameInfo struct {
	Index    uint32
	Checksum byte
	Type     nvenc.PicType
}

// Inspect reads back the frame a simulated packet encodes.
func Inspect(packet []byte) (FrameInfo, bool) {
	for _, nal := range avc.Split(packet) {
		t := avc.Type(nal)
		if !t.VCL() {
			continue
		}
		hdr := 0
		for hdr < len(nal) && nal[hdr] != 1 {
			hdr++
		}
		body := nal[hdr+1:]
		if len(body) < 8 {
			return FrameInfo{}, false
		}
		idx, ok := getVarint(body[2:])
		if !ok {
			return FrameInfo{}, false
		}
		info := FrameInfo{Index: idx, Checksum: body[7], Type: nvenc.PicTypeP}
		switch {
		case t == avc.NALIDR:
			info.Type = nvenc.PicTypeIDR
		case body[0]>>5&0x3 == 0:
			info.Type = nvenc.PicTypeB
		}
		return info, true
	}
	return FrameInfo{}, false
}
