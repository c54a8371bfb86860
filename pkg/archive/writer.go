package archive

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrSizeMismatch is returned when a file's content is shorter than its
// declared size.
var ErrSizeMismatch = errors.New("archive: content shorter than declared size")

// Writer streams an archive sequentially. Its output is byte-for-byte what
// Segments describes for the same files and checksums.
type Writer struct {
	w       io.Writer
	entries []entry
	offset  uint64
	closed  bool
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFile writes the header for f, copies exactly f.Size bytes of r,
// and writes the data descriptor. It returns the CRC32 of the content and
// records it on f.
//
// If r ends early the archive is left truncated and ErrSizeMismatch is
// returned; the caller cannot repair it.
func (zw *Writer) WriteFile(f *File, r io.Reader) (uint32, error) {
	if zw.closed {
		return 0, errors.New("archive: writer is closed")
	}

	e := newEntry(f, zw.offset)
	if _, err := zw.w.Write(e.localHeader()); err != nil {
		return 0, fmt.Errorf("write header %s: %w", e.name, err)
	}

	h := crc32.NewIEEE()
	n, err := io.CopyN(io.MultiWriter(zw.w, h), r, f.Size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: %s: got %d of %d bytes", ErrSizeMismatch, e.name, n, f.Size)
		}
		return 0, fmt.Errorf("write content %s: %w", e.name, err)
	}

	e.crc32 = h.Sum32()
	if _, err := zw.w.Write(e.dataDescriptor()); err != nil {
		return 0, fmt.Errorf("write data descriptor %s: %w", e.name, err)
	}

	zw.offset += e.span()
	zw.entries = append(zw.entries, e)
	f.SetCRC32(e.crc32)
	return e.crc32, nil
}

// Close writes the central directory and end records. It does not close the
// underlying writer.
func (zw *Writer) Close() error {
	if zw.closed {
		return errors.New("archive: writer is closed")
	}
	zw.closed = true
	if _, err := zw.w.Write(trailer(zw.entries, zw.offset)); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}
	return nil
}
