package bundle

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// File is an opened bundle. Payload access is zero-copy against the backing
// data; Words copies into typed slices.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	mmapped  bool
}

// Open maps a bundle read-only and validates its structure. If mmap is
// unavailable it falls back to ReadAt-based loading. The returned file must
// be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size < headerSize {
		return nil, ErrCorruptFile
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		bf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return bf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates a bundle from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:headerSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	dirSize := uint64(hdr.SectionCount) * sectionSize
	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + dirSize
	if dirStart < uint64(hdr.HeaderSize) {
		return nil, ErrCorruptFile
	}
	if dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*sectionSize
		sec, ok := decodeSection(data[start : start+sectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		sections[i] = sec
	}

	for i := range sections {
		s := &sections[i]
		if s.Size > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d size out of range", ErrCorruptFile, i)
		}
		end := s.Offset + s.Size
		if end < s.Offset || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		}
		if s.Offset < uint64(hdr.HeaderSize) {
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		}
		if rangesOverlap(s.Offset, end, dirStart, dirEnd) {
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		}
	}

	return &File{
		Data:     data,
		Header:   &hdr,
		Sections: sections,
		mmapped:  mmapped,
	}, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.mmapped = false
	return err
}

// Section returns the first section of the given type, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice covering a section payload. The
// caller must not retain it after Close.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.Offset + s.Size
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[int(s.Offset):int(end)]
}

// Metadata decodes the network description section.
func (f *File) Metadata() (*Metadata, error) {
	s := f.Section(SectionNetwork)
	if s == nil {
		return nil, fmt.Errorf("%w: network description", ErrMissingSection)
	}
	return unmarshalMetadata(f.SectionData(s))
}

// Words decodes a fixed-point payload section into a fresh slice.
func (f *File) Words(t SectionType) ([]int16, error) {
	s := f.Section(t)
	if s == nil {
		return nil, fmt.Errorf("%w: type 0x%04x", ErrMissingSection, uint32(t))
	}
	data := f.SectionData(s)
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd payload size in section 0x%04x", ErrCorruptFile, uint32(t))
	}
	words := make([]int16, len(data)/2)
	for i := range words {
		words[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return words, nil
}
