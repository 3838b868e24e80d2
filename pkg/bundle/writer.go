package bundle

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sort"
)

const writerPadBufSize = 4096

// Writer builds a bundle file in a streaming fashion. It reserves space for
// the header up-front and patches it during Finalise.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	closed   bool

	padBuf []byte
}

// NewWriter creates a writer targeting the given file. The file is
// truncated so the on-disk size always matches the header's FileSize.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("bundle: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}
	if err := w.writeZeros(headerSize); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSection writes a raw section payload and records it in the section
// directory. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	if w.closed {
		return errors.New("bundle: writer already finalised")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("bundle: duplicate section type")
	}

	// Section starts stay aligned for clean mmapping.
	if err := w.alignTo(fileAlign); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := writeFull(w.f, data); err != nil {
		return err
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

// WriteMetadata encodes and writes the network description section.
func (w *Writer) WriteMetadata(m *Metadata) error {
	data, err := marshalMetadata(m)
	if err != nil {
		return err
	}
	return w.WriteSection(SectionNetwork, 1, data)
}

// WriteWords writes a fixed-point payload section, little-endian.
func (w *Writer) WriteWords(typ SectionType, words []int16) error {
	data := make([]byte, 2*len(words))
	for i, v := range words {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return w.WriteSection(typ, 1, data)
}

// Finalise writes the section directory and patches the header. The writer
// must not be used afterwards.
func (w *Writer) Finalise() error {
	if w.closed {
		return errors.New("bundle: writer already finalised")
	}
	w.closed = true

	// Deterministic directory ordering.
	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(fileAlign); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [sectionSize]byte
	for _, s := range w.sections {
		if !encodeSection(secBuf[:], s) {
			return errors.New("bundle: encode section failed")
		}
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var header Header
	copy(header.Magic[:], Magic)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = headerSize
	header.SectionCount = uint32(len(w.sections))
	header.SectionDirOffset = uint64(dirOffset)
	header.FileSize = uint64(fileSize)

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [headerSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("bundle: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if mod := pos % n; mod != 0 {
		return w.writeZeros(int(n - mod))
	}
	return nil
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := min(n, len(w.padBuf))
		if err := writeFull(w.f, w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
