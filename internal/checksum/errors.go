package checksum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChecksumming reports that checksums could not be produced.
var ErrChecksumming = errors.New("checksum: could not compute checksums")

// ErrChecksumTimeout reports that resolution ran out of time. It matches
// ErrChecksumming under errors.Is.
var ErrChecksumTimeout = fmt.Errorf("%w: timed out", ErrChecksumming)

// Error lists the URIs left without a checksum after resolution.
type Error struct {
	URIs []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("checksum: no checksum for %d file(s): %s", len(e.URIs), strings.Join(e.URIs, ", "))
}

func (e *Error) Is(target error) bool {
	return target == ErrChecksumming
}

var (
	errClaimVanished = errors.New("checksum: pending entry disappeared")
	errWaitExhausted = errors.New("checksum: gave up waiting for pending entry")
)
