package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	"github.com/whitebrick/fileslide-streamer/internal/streamer"
)

// runZip writes an archive of the given URIs, or a byte range of it, to a
// file or stdout. Reports go to the log instead of an upstream service.
func runZip(args []string) int {
	fs := pflag.NewFlagSet("zip", pflag.ContinueOnError)
	cf := addCommonFlags(fs)
	output := fs.StringP("output", "o", "", "Output file, - for stdout (required)")
	uris := fs.StringArrayP("uri", "u", nil, "URI to include, repeatable and in archive order (required)")
	rangeSpec := fs.String("range", "", "Byte range of the archive, e.g. bytes=0-1048575")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fileslide zip [options]

Build a ZIP archive of remote files. With --range only that window of the
archive is written; checksums are resolved through the cache first.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if *output == "" || len(*uris) == 0 {
		fmt.Fprintln(os.Stderr, "Error: --output and at least one --uri are required")
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

	s := streamer.New(streamer.Options{
		Origin:   src,
		Cache:    cache,
		Resolver: checksum.NewResolver(cache, src, resolverOptions(cfg, log, nil)),
		Logger:   log,
	})

	z, err := s.Prepare(ctx, uuid.NewString(), *uris)
	if err != nil {
		reportError(os.Stderr, err)
		return exitCode(err)
	}

	rng, partial, err := streamer.ParseRange(*rangeSpec, z.Size())
	if err != nil {
		reportError(os.Stderr, err)
		return exitCode(err)
	}
	if partial {
		if err := z.Resolve(ctx); err != nil {
			reportError(os.Stderr, err)
			return exitCode(err)
		}
	}

	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			return ExitGeneralError
		}
		defer f.Close()
		w = f
	}

	if partial {
		err = z.WriteRange(ctx, w, rng)
	} else {
		err = z.WriteFull(ctx, w)
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[fileslide] Interrupted")
			return ExitGeneralError
		}
		reportError(os.Stderr, err)
		return exitCode(err)
	}

	if *output != "-" {
		written := z.Size()
		if partial {
			written = rng.Len()
		}
		fmt.Fprintf(os.Stderr, "[fileslide] Wrote %d bytes of %d to %s\n", written, z.Size(), *output)
	}
	return ExitSuccess
}
