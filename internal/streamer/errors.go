package streamer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	fshttp "github.com/whitebrick/fileslide-streamer/internal/http"
)

// Range header errors.
var (
	ErrInvalidRange       = errors.New("streamer: invalid range")
	ErrMultipartRange     = errors.New("streamer: multipart ranges are not supported")
	ErrRangeUnsatisfiable = errors.New("streamer: range not satisfiable")
)

// FailedURI is a file that could not be fetched during the availability
// check.
type FailedURI struct {
	URI        string
	StatusCode int
	Err        error
}

func (f FailedURI) String() string {
	return fmt.Sprintf("%s [%d %s]", f.URI, f.StatusCode, http.StatusText(f.StatusCode))
}

// FetchError collects every file that failed the availability check.
type FetchError struct {
	Failures []FailedURI
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("streamer: %d file(s) could not be fetched", len(e.Failures))
}

// Body renders the failures as a plain-text gateway error page.
func (e *FetchError) Body() string {
	var b strings.Builder
	b.WriteString("502 Bad Gateway\nThe following files could not be fetched:\n")
	for _, f := range e.Failures {
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// failedURI classifies a probe error. Anything that is not an HTTP status
// is treated as the origin being unreachable.
func failedURI(uri string, err error) FailedURI {
	var se *fshttp.StatusError
	if errors.As(err, &se) {
		return FailedURI{URI: uri, StatusCode: se.Code, Err: err}
	}
	return FailedURI{URI: uri, StatusCode: http.StatusServiceUnavailable, Err: err}
}
