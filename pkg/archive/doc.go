// Package archive lays out ZIP archives whose entries are remote files.
//
// Entries are stored (not compressed) and always followed by a data
// descriptor, so an archive can be streamed while content is still being
// fetched. Because every entry size is known before any content is read, the
// exact byte length of the archive, and the exact bytes of every header,
// footer and the trailing central directory, can be computed up front.
//
// # Files
//
// [NewFile] builds a [File] from a URI, the origin's Content-Disposition
// header, size and ETag. [Disambiguate] assigns each file a unique archive
// path, using the shortest distinguishing suffix of the URI's directory.
//
// # Layout
//
// [EstimateSize] returns the archive length. [Segments] returns the archive as
// an ordered list of [Segment]s: precomputed header, footer and trailer bytes
// interleaved with placeholders for remote content. Segments require every
// file's CRC32 to be known.
//
// [Writer] produces the same bytes sequentially, computing CRC32 values while
// content passes through it:
//
//	zw := archive.NewWriter(w)
//	for _, f := range files {
//	    crc, err := zw.WriteFile(f, body)
//	}
//	err := zw.Close()
package archive
