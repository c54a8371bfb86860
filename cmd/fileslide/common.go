package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	"github.com/whitebrick/fileslide-streamer/internal/config"
	fshttp "github.com/whitebrick/fileslide-streamer/internal/http"
	"github.com/whitebrick/fileslide-streamer/internal/metrics"
	"github.com/whitebrick/fileslide-streamer/internal/origin"
	"github.com/whitebrick/fileslide-streamer/internal/progress"
	"github.com/whitebrick/fileslide-streamer/internal/streamer"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath     string
	redisAddress   string
	logLevel       string
	chunkSize      string
	workers        int
	blob           bool
	ephemeralCache bool
}

func addCommonFlags(fs *pflag.FlagSet) *commonFlags {
	var cf commonFlags
	fs.StringVar(&cf.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&cf.redisAddress, "redis", "", "Redis address for the checksum cache (overrides config)")
	fs.StringVar(&cf.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cf.chunkSize, "chunk-size", "", "Size of each ranged fetch when checksumming, e.g. 256MiB")
	fs.IntVar(&cf.workers, "workers", 0, "Concurrent chunk fetches per file")
	fs.BoolVar(&cf.blob, "blob", false, "Serve s3://, gs://, file:// and mem:// URIs")
	fs.BoolVar(&cf.ephemeralCache, "ephemeral-cache", false, "Use an in-process checksum cache instead of Redis")
	return &cf
}

// loadConfig layers defaults, the config file, FILESLIDE_* variables and
// flags, then validates the result.
func loadConfig(cf *commonFlags) (config.Config, error) {
	cfg := config.Default()
	if cf.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(cf.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	var override config.Config
	override.Redis.Address = cf.redisAddress
	override.LogLevel = cf.logLevel
	override.Checksum.Workers = cf.workers
	override.Blob.Enabled = cf.blob
	if cf.chunkSize != "" {
		size, err := progress.ParseBytes(cf.chunkSize)
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid chunk size: %w", err)
		}
		override.Checksum.ChunkSize = size
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[fileslide] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// newOrigin routes http(s) URIs to the retrying HTTP client and, when
// enabled, object-store URIs to gocloud buckets.
func newOrigin(cfg config.Config) (*origin.Router, func()) {
	client := fshttp.NewClient(fshttp.Options{
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
		Timeout:             cfg.HTTP.Timeout,
		MaxRedirects:        cfg.HTTP.MaxRedirects,
		RetryAttempts:       cfg.Retry.Attempts,
		RetryBackoff:        cfg.Retry.Backoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
	})

	router := origin.NewRouter()
	router.Handle(origin.NewHTTP(client), "http", "https")
	if !cfg.Blob.Enabled {
		return router, func() {}
	}
	b := origin.NewBlob()
	router.Handle(b, origin.BlobSchemes...)
	return router, func() { b.Close() }
}

// openCache connects to the checksum cache. With ephemeral set it runs an
// in-process Redis that lives until the returned close function is called.
func openCache(ctx context.Context, cfg config.Config, ephemeral bool) (*checksum.Cache, func(), error) {
	opts := &redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	var local *miniredis.Miniredis
	if ephemeral {
		local = miniredis.NewMiniRedis()
		if err := local.Start(); err != nil {
			return nil, nil, fmt.Errorf("start in-process cache: %w", err)
		}
		opts = &redis.Options{Addr: local.Addr()}
	}

	client := redis.NewClient(opts)
	closeAll := func() {
		client.Close()
		if local != nil {
			local.Close()
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	store := checksum.NewRedisStore(client, cfg.Redis.Prefix)
	return checksum.NewCache(store, cfg.Checksum.ClaimTTL, cfg.Checksum.EntryTTL), closeAll, nil
}

func resolverOptions(cfg config.Config, log *slog.Logger, m *metrics.Collector) checksum.Options {
	return checksum.Options{
		ChunkSize:    cfg.Checksum.ChunkSize,
		Timeout:      cfg.Checksum.Timeout,
		PollInterval: cfg.Checksum.PollInterval,
		PollAttempts: cfg.Checksum.PollAttempts,
		Workers:      cfg.Checksum.Workers,
		Logger:       log,
		Metrics:      m,
	}
}

// exitCode maps a failure to the exit code reported for it.
func exitCode(err error) int {
	var fetchErr *streamer.FetchError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &fetchErr):
		return ExitSourceNotAccess
	case errors.Is(err, streamer.ErrInvalidRange):
		return ExitInvalidArgs
	case errors.Is(err, streamer.ErrRangeUnsatisfiable), errors.Is(err, streamer.ErrMultipartRange):
		return ExitRangeNotSatisfiable
	case errors.Is(err, checksum.ErrChecksumming):
		return ExitChecksumError
	default:
		return ExitGeneralError
	}
}

// reportError prints err with the details a *FetchError carries.
func reportError(w io.Writer, err error) {
	var fetchErr *streamer.FetchError
	if errors.As(err, &fetchErr) {
		fmt.Fprint(w, strings.TrimPrefix(fetchErr.Body(), "502 Bad Gateway\n"))
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
