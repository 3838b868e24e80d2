// Package bundle implements the weight bundle container format.
//
// A bundle is a single memory-mappable file carrying everything a network
// run needs besides the input image: a JSON network description and the
// quantized weight and batch-norm payloads, laid out back to back per layer
// in the order the description lists them. It describes data only and never
// implies runtime behaviour.
package bundle

import "encoding/binary"

const (
	// Magic is the file magic for all weight bundles, encoded as "TFB\0".
	Magic = "TFB\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections.
	CurrentMinor uint16 = 0
)

type SectionType uint32

const (
	// SectionNetwork is the JSON network description.
	SectionNetwork SectionType = 0x0001
	// SectionWeights holds every layer's convolution weights, little-endian
	// int16 words, concatenated in layer order.
	SectionWeights SectionType = 0x0002
	// SectionBNScale and SectionBNShift hold the per-channel batch-norm
	// parameters, concatenated in layer order.
	SectionBNScale SectionType = 0x0003
	SectionBNShift SectionType = 0x0004
)

// Header is the fixed file header, encoded little-endian at offset 0.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
}

// Section is one entry in the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

const (
	headerSize  = 32
	sectionSize = 24
	fileAlign   = 8
)

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != Magic {
		return false
	}
	if h.HeaderSize < headerSize {
		return false
	}
	return h.SectionCount != 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < headerSize {
		return h, false
	}
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < sectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	var s Section
	if len(src) < sectionSize {
		return s, false
	}
	s.Type = binary.LittleEndian.Uint32(src[0:4])
	s.Version = binary.LittleEndian.Uint32(src[4:8])
	s.Offset = binary.LittleEndian.Uint64(src[8:16])
	s.Size = binary.LittleEndian.Uint64(src[16:24])
	return s, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}
