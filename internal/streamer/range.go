package streamer

import (
	"strconv"
	"strings"
)

// Range is an inclusive byte window [Start, Stop] of the archive.
type Range struct {
	Start int64
	Stop  int64
}

// Len returns the number of bytes in the window.
func (r Range) Len() int64 {
	return r.Stop - r.Start + 1
}

// byteRange is a well-formed single range not yet resolved against a size.
// For a suffix range start is -1 and stop holds the suffix length. An open
// end has stop -1.
type byteRange struct {
	start int64
	stop  int64
}

func parseByteRange(header string) (byteRange, error) {
	if strings.Contains(header, ",") {
		return byteRange{}, ErrMultipartRange
	}
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return byteRange{}, ErrInvalidRange
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return byteRange{}, ErrInvalidRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, ErrInvalidRange
		}
		return byteRange{start: -1, stop: n}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, ErrInvalidRange
	}
	if last == "" {
		return byteRange{start: start, stop: -1}, nil
	}
	stop, err := strconv.ParseInt(last, 10, 64)
	if err != nil || stop < 0 {
		return byteRange{}, ErrInvalidRange
	}
	return byteRange{start: start, stop: stop}, nil
}

// ValidateRange checks the syntax of a Range header without knowing the
// archive size. An empty header is valid. It returns ErrMultipartRange or
// ErrInvalidRange, the same errors ParseRange would.
func ValidateRange(header string) error {
	if header == "" {
		return nil
	}
	_, err := parseByteRange(header)
	return err
}

// ParseRange interprets a Range header against an archive of total bytes.
// It reports partial=false when the whole archive should be sent: no header,
// or an inverted range. An open end means the end of the archive, a stop
// past the end is clamped, and "bytes=-N" selects the last N bytes.
func ParseRange(header string, total int64) (r Range, partial bool, err error) {
	full := Range{Start: 0, Stop: total - 1}
	if header == "" {
		return full, false, nil
	}
	br, err := parseByteRange(header)
	if err != nil {
		return Range{}, false, err
	}

	if br.start < 0 {
		n := br.stop
		if n == 0 || total == 0 {
			return Range{}, false, ErrRangeUnsatisfiable
		}
		return Range{Start: max(total-n, 0), Stop: total - 1}, true, nil
	}

	start, stop := br.start, total-1
	if br.stop >= 0 {
		if br.stop < start {
			return full, false, nil
		}
		stop = br.stop
	}

	if start >= total {
		return Range{}, false, ErrRangeUnsatisfiable
	}
	if stop >= total {
		stop = total - 1
	}
	return Range{Start: start, Stop: stop}, true, nil
}
