// Package avc splits H.264 Annex-B byte streams into NAL units and access
// units, and separates parameter sets and SEI from picture data.
package avc

import "bytes"

// NALType is nal_unit_type from the NAL header.
type NALType uint8

const (
	NALSlice       NALType = 1
	NALIDR         NALType = 5
	NALSEI         NALType = 6
	NALSPS         NALType = 7
	NALPPS         NALType = 8
	NALAUD         NALType = 9
	NALEndOfSeq    NALType = 10
	NALEndOfStream NALType = 11
	NALFiller      NALType = 12
)

// VCL reports whether the NAL carries slice data.
func (t NALType) VCL() bool {
	return t >= NALSlice && t <= NALIDR
}

var startCode3 = []byte{0, 0, 1}

// Split returns the NAL units in b, each including its start code. The
// returned slices alias b.
func Split(b []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; ; {
		idx := bytes.Index(b[i:], startCode3)
		if idx < 0 {
			break
		}
		pos := i + idx
		if pos > 0 && b[pos-1] == 0 {
			pos--
		}
		if start >= 0 && pos > start {
			nals = append(nals, b[start:pos])
		}
		if start < 0 || pos > start {
			start = pos
		}
		i += idx + len(startCode3)
	}
	if start >= 0 {
		nals = append(nals, b[start:])
	}
	return nals
}

// payloadOffset returns the index of the NAL header byte.
func payloadOffset(nal []byte) int {
	i := 0
	for i < len(nal) && nal[i] == 0 {
		i++
	}
	if i < len(nal) && nal[i] == 1 {
		return i + 1
	}
	return 0
}

// Type returns the nal_unit_type of a NAL that may include its start code.
func Type(nal []byte) NALType {
	off := payloadOffset(nal)
	if off >= len(nal) {
		return 0
	}
	return NALType(nal[off] & 0x1F)
}

// firstSliceOfPicture reports whether a VCL NAL starts a new picture, i.e.
// first_mb_in_slice is 0. ue(v) encodes 0 as a single 1 bit.
func firstSliceOfPicture(nal []byte) bool {
	off := payloadOffset(nal) + 1
	if off >= len(nal) {
		return false
	}
	return nal[off]&0x80 != 0
}

// ExtractHeaders separates SPS/PPS (header) and SEI NAL units from the
// picture data of an encoded packet. All three results are fresh copies.
func ExtractHeaders(packet []byte) (header, sei, payload []byte) {
	for _, nal := range Split(packet) {
		switch Type(nal) {
		case NALSPS, NALPPS:
			header = append(header, nal...)
		case NALSEI:
			sei = append(sei, nal...)
		default:
			payload = append(payload, nal...)
		}
	}
	return header, sei, payload
}

// IsKeyframe reports whether the packet contains an IDR slice.
func IsKeyframe(packet []byte) bool {
	for _, nal := range Split(packet) {
		if Type(nal) == NALIDR {
			return true
		}
	}
	return false
}
