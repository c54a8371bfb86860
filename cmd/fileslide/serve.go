package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/whitebrick/fileslide-streamer/internal/checksum"
	"github.com/whitebrick/fileslide-streamer/internal/metrics"
	"github.com/whitebrick/fileslide-streamer/internal/server"
	"github.com/whitebrick/fileslide-streamer/internal/streamer"
	"github.com/whitebrick/fileslide-streamer/internal/upstream"
)

// runServe runs the download service until interrupted.
func runServe(args []string) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cf := addCommonFlags(fs)
	listen := fs.String("listen", "", "Listen address (overrides config)")
	upstreamAPI := fs.String("upstream", "", "Base URL of the authorization and accounting API")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fileslide serve [options]

Serve POST /download, streaming ZIP archives of remote files.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *upstreamAPI != "" {
		cfg.UpstreamAPI = *upstreamAPI
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

	m := metrics.New()
	var (
		auth     upstream.Authorizer = upstream.AllowAll{}
		reporter upstream.Reporter   = upstream.LogReporter{Logger: log}
	)
	if cfg.UpstreamAPI != "" {
		client := upstream.NewClient(cfg.UpstreamAPI, cfg.HTTP.Timeout, log)
		auth, reporter = client, client
	} else {
		log.Warn("no upstream API configured, authorizing every request")
	}

	s := streamer.New(streamer.Options{
		Origin:   src,
		Cache:    cache,
		Resolver: checksum.NewResolver(cache, src, resolverOptions(cfg, log, m)),
		Reporter: reporter,
		Metrics:  m,
		Logger:   log,
	})
	srv := server.New(server.Options{
		Streamer:   s,
		Authorizer: auth,
		Metrics:    m,
		HomeURL:    cfg.HomeURL,
		Logger:     log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Error("server stopped", "error", err)
		return ExitGeneralError
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
		return ExitGeneralError
	}
	return ExitSuccess
}
