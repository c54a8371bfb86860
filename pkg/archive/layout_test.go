package archive

import (
	"bytes"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFile struct {
	uri  string
	data []byte
}

func testData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

func buildFiles(tfs []testFile, modTime time.Time) []*File {
	files := make([]*File, len(tfs))
	for i, tf := range tfs {
		files[i] = NewFile(tf.uri, "", int64(len(tf.data)), "etag")
		files[i].ModTime = modTime
	}
	Disambiguate(files)
	return files
}

func writeArchive(t *testing.T, files []*File, tfs []testFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := NewWriter(&buf)
	for i, f := range files {
		crc, err := zw.WriteFile(f, bytes.NewReader(tfs[i].data))
		require.NoError(t, err)
		assert.Equal(t, crc32.ChecksumIEEE(tfs[i].data), crc)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func sampleFiles() []testFile {
	return []testFile{
		{uri: "http://example.com/a/random_bytes1.bin", data: testData(1024, 1)},
		{uri: "http://example.com/b/random_bytes1.bin", data: testData(2048, 2)},
		{uri: "http://example.com/c/empty.bin", data: nil},
		{uri: "http://example.com/c/ünïcode.txt", data: testData(4096, 3)},
	}
}

func TestWriterMatchesEstimate(t *testing.T) {
	tfs := sampleFiles()
	files := buildFiles(tfs, time.Date(2024, 5, 6, 7, 8, 10, 0, time.UTC))

	estimate := EstimateSize(files)
	out := writeArchive(t, files, tfs)

	assert.Equal(t, estimate, int64(len(out)))
}

func TestWriterProducesReadableArchive(t *testing.T) {
	tfs := sampleFiles()
	modTime := time.Date(2024, 5, 6, 7, 8, 10, 0, time.UTC)
	files := buildFiles(tfs, modTime)
	out := writeArchive(t, files, tfs)

	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	require.Len(t, zr.File, len(tfs))

	for i, zf := range zr.File {
		assert.Equal(t, files[i].Path(), zf.Name)
		assert.Equal(t, zip.Store, zf.Method)
		assert.Equal(t, uint64(len(tfs[i].data)), zf.UncompressedSize64)
		assert.True(t, zf.Modified.Equal(modTime), "modified %v", zf.Modified)

		rc, err := zf.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err, "reading verifies the CRC from the data descriptor")
		rc.Close()
		assert.Equal(t, len(tfs[i].data), len(got))
		assert.True(t, bytes.Equal(tfs[i].data, got))
	}
}

func TestSegmentsMatchWriter(t *testing.T) {
	tfs := sampleFiles()
	files := buildFiles(tfs, time.Time{})
	out := writeArchive(t, files, tfs)

	segments, err := Segments(files)
	require.NoError(t, err)
	require.Len(t, segments, 3*len(files)+1)

	var assembled []byte
	var total int64
	for _, seg := range segments {
		total += seg.Len()
		if seg.Kind == ContentSegment {
			for i, f := range files {
				if f == seg.File {
					assembled = append(assembled, tfs[i].data...)
				}
			}
			continue
		}
		assembled = append(assembled, seg.Bytes...)
	}

	assert.Equal(t, EstimateSize(files), total)
	assert.True(t, bytes.Equal(out, assembled), "segments differ from sequential output")
}

func TestSegmentsRequireChecksums(t *testing.T) {
	files := buildFiles(sampleFiles(), time.Time{})
	files[0].SetCRC32(1)

	_, err := Segments(files)
	assert.ErrorIs(t, err, ErrMissingChecksum)
}

func TestEmptyArchive(t *testing.T) {
	assert.Equal(t, int64(directoryEndLen), EstimateSize(nil))

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Close())
	assert.Equal(t, directoryEndLen, buf.Len())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

func TestWriterShortContent(t *testing.T) {
	f := NewFile("http://example.com/short.bin", "", 100, "")
	zw := NewWriter(io.Discard)

	_, err := zw.WriteFile(f, bytes.NewReader(make([]byte, 40)))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestEstimateSizeZip64(t *testing.T) {
	const size = 5 << 30
	f := NewFile("http://example.com/huge.bin", "", size, "")
	name := len(f.Path())

	want := int64(fileHeaderLen+name+zip64LocalExtraLen) + size + dataDescriptor64Len +
		int64(directoryHeaderLen+name+zip64CentralExtraLen) +
		directory64EndLen + directory64LocLen + directoryEndLen
	assert.Equal(t, want, EstimateSize([]*File{f}))

	f.SetCRC32(42)
	segments, err := Segments([]*File{f})
	require.NoError(t, err)
	var total int64
	for _, seg := range segments {
		total += seg.Len()
	}
	assert.Equal(t, want, total)
}

func TestSegmentSlice(t *testing.T) {
	seg := Segment{Kind: HeaderSegment, Bytes: []byte("0123456789")}

	assert.Equal(t, []byte("0123456789"), seg.Slice(0, -1))
	assert.Equal(t, []byte("345"), seg.Slice(3, 5))
	assert.Equal(t, []byte("789"), seg.Slice(7, 100))
	assert.Nil(t, seg.Slice(6, 5))

	assert.Panics(t, func() {
		Segment{Kind: ContentSegment, File: &File{}}.Slice(0, 1)
	})
}

func TestDOSDateTime(t *testing.T) {
	tm, d := dosDateTime(time.Date(2024, 5, 6, 7, 8, 11, 0, time.UTC))
	assert.Equal(t, uint16(7<<11|8<<5|5), tm)
	assert.Equal(t, uint16(44<<9|5<<5|6), d)

	tm, d = dosDateTime(time.Time{})
	assert.Equal(t, uint16(0), tm)
	assert.Equal(t, uint16(1<<5|1), d)
}
