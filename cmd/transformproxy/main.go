// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// transformproxy starts an HTTP server that serves transformed images,
// caching the results of a remote transformation API on local disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"willnorris.com/go/transformproxy"
	"willnorris.com/go/transformproxy/internal/sourcecache"
	"willnorris.com/go/transformproxy/third_party/envy"
)

// options holds the command line flags.  Flags explicitly set on the command
// line or through the environment override values from the config file.
type options struct {
	addr        string
	configFile  string
	token       string
	protocol    string
	host        string
	cacheDir    string
	debug       bool
	silent      bool
	timeout     time.Duration
	sourceCache string
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.addr, "addr", "localhost:8080", "TCP address to listen on")
	fs.StringVar(&o.configFile, "config", "", "YAML file to read settings from")
	fs.StringVar(&o.token, "token", "", "transformation API token")
	fs.StringVar(&o.protocol, "protocol", transformproxy.DefaultProtocol, "transformation API protocol (http or https)")
	fs.StringVar(&o.host, "host", transformproxy.DefaultHost, "transformation API host")
	fs.StringVar(&o.cacheDir, "cacheDir", transformproxy.DefaultCacheDir, "directory to cache transformed images in")
	fs.BoolVar(&o.debug, "debug", false, "print debug logging messages")
	fs.BoolVar(&o.silent, "silent", false, "disable logging")
	fs.DurationVar(&o.timeout, "timeout", 0, "time limit for each outbound request")
	fs.StringVar(&o.sourceCache, "sourceCache", "", "space separated list of locations to cache original images in")
}

// config merges the config file, if any, with the flags set in fs.
func (o *options) config(fs *flag.FlagSet) (transformproxy.Config, error) {
	var cfg transformproxy.Config
	if o.configFile != "" {
		var err error
		if cfg, err = transformproxy.LoadConfig(o.configFile); err != nil {
			return cfg, err
		}
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if set[name] || o.configFile == "" {
			apply()
		}
	}
	override("addr", func() { cfg.Addr = o.addr })
	override("token", func() { cfg.Token = o.token })
	override("protocol", func() { cfg.Protocol = o.protocol })
	override("host", func() { cfg.Host = o.host })
	override("cacheDir", func() { cfg.CacheDir = o.cacheDir })
	override("debug", func() { cfg.Debug = o.debug })
	override("silent", func() { cfg.Silent = o.silent })
	override("timeout", func() { cfg.Timeout = o.timeout })
	override("sourceCache", func() { cfg.SourceCache = o.sourceCache })

	if cfg.Addr == "" {
		cfg.Addr = o.addr
	}
	return cfg, nil
}

func main() {
	var opts options
	opts.register(flag.CommandLine)
	envy.Parse("TRANSFORMPROXY")
	flag.Parse()

	cfg, err := opts.config(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring source cache: %v\n", err)
		os.Exit(1)
	}

	p, err := transformproxy.NewProxy(cfg, transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer p.Logger.Sync()

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: newRouter(p),

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		p.Logger.Info("transformproxy listening", zap.String("addr", server.Addr), zap.String("api", cfg.Host))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.Logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		p.Logger.Warn("shutdown", zap.Error(err))
	}
}

// newRouter serves metrics and routes everything else to p.  Paths are
// neither cleaned nor decoded, so the embedded "://" survives routing.
func newRouter(p http.Handler) *mux.Router {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").Handler(p)
	return r
}

// newTransport returns the transport used to fetch original images, wrapped
// in an HTTP cache if one is configured.  A nil transport selects the
// proxy's default.
func newTransport(cfg transformproxy.Config) (http.RoundTripper, error) {
	if cfg.SourceCache == "" {
		return nil, nil
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	return sourcecache.NewTransport(cfg.SourceCache, logger)
}
