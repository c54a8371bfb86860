package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	"github.com/whitebrick/fileslide-streamer/internal/progress"
	"github.com/whitebrick/fileslide-streamer/internal/streamer"
)

// runChecksum resolves the CRC32 of each URI through the shared cache and
// prints them, one line per file.
func runChecksum(args []string) int {
	fs := pflag.NewFlagSet("checksum", pflag.ContinueOnError)
	cf := addCommonFlags(fs)
	uris := fs.StringArrayP("uri", "u", nil, "URI to checksum, repeatable (required)")
	showProgress := fs.Bool("progress", false, "Show progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fileslide checksum [options]

Compute the CRC32 of remote files, storing results in the checksum cache.
Files already cached for their current ETag are not fetched again.

Output: <crc32 hex>  <size>  <uri>

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if len(*uris) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one --uri is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	log, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	cache, closeCache, err := openCache(ctx, cfg, cf.ephemeralCache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer closeCache()

	src, closeOrigin := newOrigin(cfg)
	defer closeOrigin()

	z, err := streamer.New(streamer.Options{Origin: src, Logger: log}).Prepare(ctx, "checksum", *uris)
	if err != nil {
		reportError(os.Stderr, err)
		return exitCode(err)
	}
	files := z.Files()

	opts := resolverOptions(cfg, log, nil)
	var reporter *progress.Reporter
	if *showProgress {
		var total int64
		var chunks int
		for _, f := range files {
			total += f.Size
			chunks += len(checksum.Split(f.Size, opts.ChunkSize))
		}
		reporter = progress.NewReporter(progress.Options{
			TotalSize:      total,
			TotalChunks:    chunks,
			Workers:        opts.Workers,
			UpdateInterval: 5 * time.Second,
			Label:          fmt.Sprintf("Checksumming %d files", len(files)),
			ChunkSize:      opts.ChunkSize,
		})
		reporter.Start()
		opts.Progress = reporter
	}

	err = checksum.NewResolver(cache, src, opts).Resolve(ctx, files)
	reporter.Stop()
	if err != nil {
		reportError(os.Stderr, err)
		return exitCode(err)
	}

	for _, f := range files {
		crc, _ := f.CRC32()
		fmt.Printf("%08x  %d  %s\n", crc, f.Size, f.URI)
	}
	return ExitSuccess
}
