package archive

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// attachmentPrefix is the only Content-Disposition form we take names from:
// attachment; filename="cool.html"
const attachmentPrefix = `attachment; filename="`

// File describes one remote resource that becomes one archive entry.
type File struct {
	// URI is the location the content is fetched from.
	URI string

	// ContentDisposition is the raw header returned by the origin, if any.
	ContentDisposition string

	// Name is the canonical filename: taken from ContentDisposition when it
	// is a well-formed attachment header, otherwise the URI basename.
	// Multiple files may share a Name.
	Name string

	// Directory is empty unless Disambiguate needed it.
	Directory string

	// Ordinal is set above 1 when Disambiguate could not separate the file
	// from another by directory alone.
	Ordinal int

	Size    int64
	ETag    string
	ModTime time.Time

	crc32    uint32
	hasCRC32 bool
}

// NewFile creates a File for uri and derives its canonical filename.
func NewFile(uri, contentDisposition string, size int64, etag string) *File {
	return &File{
		URI:                uri,
		ContentDisposition: contentDisposition,
		Name:               canonicalName(uri, contentDisposition),
		Size:               size,
		ETag:               etag,
	}
}

// Path returns the entry path inside the archive.
func (f *File) Path() string {
	name := f.Name
	if f.Ordinal > 1 {
		ext := path.Ext(name)
		name = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), f.Ordinal, ext)
	}
	if f.Directory == "" {
		return name
	}
	return f.Directory + "/" + name
}

// CRC32 returns the checksum of the content and whether it is known.
func (f *File) CRC32() (uint32, bool) {
	return f.crc32, f.hasCRC32
}

// SetCRC32 records the checksum of the content.
func (f *File) SetCRC32(crc uint32) {
	f.crc32 = crc
	f.hasCRC32 = true
}

// ClearCRC32 forgets a previously recorded checksum.
func (f *File) ClearCRC32() {
	f.crc32 = 0
	f.hasCRC32 = false
}

func canonicalName(uri, contentDisposition string) string {
	if name, ok := attachmentFilename(contentDisposition); ok {
		return name
	}
	return uriBasename(uri)
}

// attachmentFilename extracts the quoted filename of an attachment header.
// Only the final path element is kept so a header cannot place the entry
// outside its directory.
func attachmentFilename(cd string) (string, bool) {
	if !strings.HasPrefix(cd, attachmentPrefix) || !strings.HasSuffix(cd, `"`) {
		return "", false
	}
	name := cd[len(attachmentPrefix) : len(cd)-1]
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "", false
	}
	return name, true
}

func uriBasename(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	switch name {
	case "", ".", "/":
		return "download"
	}
	return name
}
