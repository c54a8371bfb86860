package archive

// SegmentKind identifies what a Segment holds.
type SegmentKind uint8

const (
	// HeaderSegment holds a local file header.
	HeaderSegment SegmentKind = iota
	// ContentSegment stands in for a file's remote content.
	ContentSegment
	// FooterSegment holds a data descriptor.
	FooterSegment
	// TrailerSegment holds the central directory and end records.
	TrailerSegment
)

func (k SegmentKind) String() string {
	switch k {
	case HeaderSegment:
		return "header"
	case ContentSegment:
		return "content"
	case FooterSegment:
		return "footer"
	case TrailerSegment:
		return "trailer"
	default:
		return "unknown"
	}
}

// Segment is a contiguous part of an archive. Content segments reference
// their File; all other kinds carry their bytes.
type Segment struct {
	Kind  SegmentKind
	Bytes []byte
	File  *File
}

// Len returns the number of archive bytes the segment covers.
func (s Segment) Len() int64 {
	if s.Kind == ContentSegment {
		return s.File.Size
	}
	return int64(len(s.Bytes))
}

// Slice returns bytes start through stop (inclusive) of a byte segment. A
// negative stop means the end of the segment. Slice panics on content
// segments.
func (s Segment) Slice(start, stop int64) []byte {
	if s.Kind == ContentSegment {
		panic("archive: Slice called on content segment")
	}
	if stop < 0 || stop >= int64(len(s.Bytes)) {
		stop = int64(len(s.Bytes)) - 1
	}
	if start > stop {
		return nil
	}
	return s.Bytes[start : stop+1]
}
