// Package progress tracks the work done by archive streams and checksum
// runs.
//
// A Tracker accounts for a single stream: bytes written, URIs whose content
// was sent, and start and stop times. Its Summary feeds the upstream
// accounting report.
//
// A Reporter prints human-readable progress of chunked work, such as
// checksum computation from the command line:
//
//	[fileslide] Checksumming 3 files
//	[fileslide] Total size: 2.5 TiB | Chunks: 5120 x 512 MiB | Workers: 8
//	[fileslide] 45.2% | 1.1 TiB / 2.5 TiB | 1.2 GiB/s | ETA 18m 32s | chunks 2314 done, 8 running, 2798 pending, 0 failed
//
// FormatBytes and ParseBytes convert between byte counts and strings such
// as "512MiB".
package progress
