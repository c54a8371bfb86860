// Package http provides the HTTP client used to fetch remote files.
//
// This package handles:
//   - Connection pooling for parallel chunk fetches
//   - Availability probes that also report size, ETag and Content-Disposition
//   - Whole-file, open-ended and bounded range requests
//   - Retry with exponential backoff on connection and server errors
//   - A bounded number of redirects
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Check the file is there and learn its size
//	info, err := client.Probe(ctx, url)
//	// info.Size, info.ETag, info.ContentDisposition
//
//	// Download a range
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
//
// Unsuccessful statuses are returned as *StatusError, which matches
// ErrNotFound, ErrForbidden, ErrUnauthorized and ErrServerError under
// errors.Is.
package http
