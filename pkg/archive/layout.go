package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50

	fileHeaderLen       = 30
	directoryHeaderLen  = 46
	directoryEndLen     = 22
	directory64LocLen   = 20
	directory64EndLen   = 56
	dataDescriptorLen   = 16
	dataDescriptor64Len = 24

	zip64ExtraID        = 0x0001
	zip64LocalExtraLen  = 4 + 16 // id, size, uncompressed, compressed
	zip64CentralExtraLen = 4 + 24 // id, size, uncompressed, compressed, offset

	flagDataDescriptor = 0x0008
	flagUTF8           = 0x0800

	zipVersion20 = 20
	zipVersion45 = 45
	creatorUnix  = 3

	// -rw-r--r-- regular file, in the high half of the external attributes.
	unixFileAttrs = 0o100644 << 16

	uint16max = 0xffff
	uint32max = 0xffffffff
)

// ErrMissingChecksum is returned by Segments when a file has no CRC32 yet.
var ErrMissingChecksum = errors.New("archive: file checksum not known")

// dosEpoch is used for files without a modification time.
var dosEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// entry is the encoder's view of one stored file.
type entry struct {
	name    string
	size    uint64
	crc32   uint32
	modTime time.Time
	offset  uint64
}

func newEntry(f *File, offset uint64) entry {
	crc, _ := f.CRC32()
	return entry{
		name:    f.Path(),
		size:    uint64(f.Size),
		crc32:   crc,
		modTime: f.ModTime,
		offset:  offset,
	}
}

func (e *entry) isZip64() bool {
	return e.size >= uint32max
}

func (e *entry) directoryZip64() bool {
	return e.isZip64() || e.offset >= uint32max
}

func (e *entry) version() uint16 {
	if e.directoryZip64() {
		return zipVersion45
	}
	return zipVersion20
}

func (e *entry) localHeaderLen() int {
	n := fileHeaderLen + len(e.name)
	if e.isZip64() {
		n += zip64LocalExtraLen
	}
	return n
}

func (e *entry) dataDescriptorLen() int {
	if e.isZip64() {
		return dataDescriptor64Len
	}
	return dataDescriptorLen
}

// span is the number of bytes the entry occupies before the central directory.
func (e *entry) span() uint64 {
	return uint64(e.localHeaderLen()) + e.size + uint64(e.dataDescriptorLen())
}

func (e *entry) directoryHeaderLen() int {
	n := directoryHeaderLen + len(e.name)
	if e.directoryZip64() {
		n += zip64CentralExtraLen
	}
	return n
}

// localHeader encodes the local file header. The CRC field is zero because a
// streaming writer does not know it yet; the sizes are real since they are
// known up front.
func (e *entry) localHeader() []byte {
	b := make(writeBuf, 0, e.localHeaderLen())
	b = b.uint32(fileHeaderSignature)
	if e.isZip64() {
		b = b.uint16(zipVersion45)
	} else {
		b = b.uint16(zipVersion20)
	}
	b = b.uint16(flagDataDescriptor | flagUTF8)
	b = b.uint16(0) // stored
	t, d := dosDateTime(e.modTime)
	b = b.uint16(t)
	b = b.uint16(d)
	b = b.uint32(0)
	if e.isZip64() {
		b = b.uint32(uint32max)
		b = b.uint32(uint32max)
	} else {
		b = b.uint32(uint32(e.size))
		b = b.uint32(uint32(e.size))
	}
	b = b.uint16(uint16(len(e.name)))
	if e.isZip64() {
		b = b.uint16(zip64LocalExtraLen)
	} else {
		b = b.uint16(0)
	}
	b = append(b, e.name...)
	if e.isZip64() {
		b = b.uint16(zip64ExtraID)
		b = b.uint16(16)
		b = b.uint64(e.size)
		b = b.uint64(e.size)
	}
	return b
}

func (e *entry) dataDescriptor() []byte {
	b := make(writeBuf, 0, e.dataDescriptorLen())
	b = b.uint32(dataDescriptorSignature)
	b = b.uint32(e.crc32)
	if e.isZip64() {
		b = b.uint64(e.size)
		b = b.uint64(e.size)
	} else {
		b = b.uint32(uint32(e.size))
		b = b.uint32(uint32(e.size))
	}
	return b
}

func (e *entry) directoryHeader() []byte {
	zip64 := e.directoryZip64()
	b := make(writeBuf, 0, e.directoryHeaderLen())
	b = b.uint32(directoryHeaderSignature)
	b = b.uint16(creatorUnix<<8 | e.version())
	b = b.uint16(e.version())
	b = b.uint16(flagDataDescriptor | flagUTF8)
	b = b.uint16(0)
	t, d := dosDateTime(e.modTime)
	b = b.uint16(t)
	b = b.uint16(d)
	b = b.uint32(e.crc32)
	if zip64 {
		b = b.uint32(uint32max)
		b = b.uint32(uint32max)
	} else {
		b = b.uint32(uint32(e.size))
		b = b.uint32(uint32(e.size))
	}
	b = b.uint16(uint16(len(e.name)))
	if zip64 {
		b = b.uint16(zip64CentralExtraLen)
	} else {
		b = b.uint16(0)
	}
	b = b.uint16(0) // comment
	b = b.uint16(0) // disk number
	b = b.uint16(0) // internal attributes
	b = b.uint32(unixFileAttrs)
	if zip64 {
		b = b.uint32(uint32max)
	} else {
		b = b.uint32(uint32(e.offset))
	}
	b = append(b, e.name...)
	if zip64 {
		b = b.uint16(zip64ExtraID)
		b = b.uint16(24)
		b = b.uint64(e.size)
		b = b.uint64(e.size)
		b = b.uint64(e.offset)
	}
	return b
}

// trailerLen is the size of the central directory plus end records.
func trailerLen(entries []entry, offset uint64) int64 {
	var size uint64
	for i := range entries {
		size += uint64(entries[i].directoryHeaderLen())
	}
	n := int64(size) + directoryEndLen
	if needsZip64End(len(entries), size, offset) {
		n += directory64EndLen + directory64LocLen
	}
	return n
}

func needsZip64End(count int, size, offset uint64) bool {
	return count >= uint16max || size >= uint32max || offset >= uint32max
}

// trailer encodes the central directory and end records. offset is where the
// central directory starts, i.e. the combined span of all entries.
func trailer(entries []entry, offset uint64) []byte {
	var b writeBuf
	for i := range entries {
		b = append(b, entries[i].directoryHeader()...)
	}
	size := uint64(len(b))
	count := uint64(len(entries))

	if needsZip64End(len(entries), size, offset) {
		b = b.uint32(directory64EndSignature)
		b = b.uint64(directory64EndLen - 12)
		b = b.uint16(creatorUnix<<8 | zipVersion45)
		b = b.uint16(zipVersion45)
		b = b.uint32(0)
		b = b.uint32(0)
		b = b.uint64(count)
		b = b.uint64(count)
		b = b.uint64(size)
		b = b.uint64(offset)

		b = b.uint32(directory64LocSignature)
		b = b.uint32(0)
		b = b.uint64(offset + size)
		b = b.uint32(1)

		count = min(count, uint16max)
		size = min(size, uint32max)
		offset = min(offset, uint32max)
	}

	b = b.uint32(directoryEndSignature)
	b = b.uint16(0)
	b = b.uint16(0)
	b = b.uint16(uint16(count))
	b = b.uint16(uint16(count))
	b = b.uint32(uint32(size))
	b = b.uint32(uint32(offset))
	b = b.uint16(0)
	return b
}

// EstimateSize returns the exact length in bytes of the archive holding
// files. Paths must be final, so call Disambiguate first. Checksums are not
// needed.
func EstimateSize(files []*File) int64 {
	entries := make([]entry, 0, len(files))
	var offset uint64
	for _, f := range files {
		e := newEntry(f, offset)
		offset += e.span()
		entries = append(entries, e)
	}
	return int64(offset) + trailerLen(entries, offset)
}

// Segments returns the archive as an ordered list of segments: header,
// content and footer for each file, then one trailer. The segment lengths add
// up to EstimateSize(files). Every file must have a CRC32.
func Segments(files []*File) ([]Segment, error) {
	segments := make([]Segment, 0, 3*len(files)+1)
	entries := make([]entry, 0, len(files))
	var offset uint64
	for _, f := range files {
		if _, ok := f.CRC32(); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingChecksum, f.URI)
		}
		e := newEntry(f, offset)
		offset += e.span()
		entries = append(entries, e)
		segments = append(segments,
			Segment{Kind: HeaderSegment, Bytes: e.localHeader()},
			Segment{Kind: ContentSegment, File: f},
			Segment{Kind: FooterSegment, Bytes: e.dataDescriptor()},
		)
	}
	segments = append(segments, Segment{Kind: TrailerSegment, Bytes: trailer(entries, offset)})
	return segments, nil
}

// dosDateTime converts t to MS-DOS time and date fields.
func dosDateTime(t time.Time) (uint16, uint16) {
	if t.IsZero() || t.Before(dosEpoch) {
		t = dosEpoch
	}
	t = t.UTC()
	dosTime := uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()>>1)
	dosDate := uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	return dosTime, dosDate
}

type writeBuf []byte

func (b writeBuf) uint16(v uint16) writeBuf {
	return binary.LittleEndian.AppendUint16(b, v)
}

func (b writeBuf) uint32(v uint32) writeBuf {
	return binary.LittleEndian.AppendUint32(b, v)
}

func (b writeBuf) uint64(v uint64) writeBuf {
	return binary.LittleEndian.AppendUint64(b, v)
}
