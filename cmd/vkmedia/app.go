package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vkmedia/internal/adapter/media"
	"vkmedia/internal/adapter/vkapi"
	"vkmedia/internal/infra/config"
	"vkmedia/internal/infra/logger"
	"vkmedia/internal/infra/metrics"
	"vkmedia/internal/infra/tracer"
	"vkmedia/internal/usecase/upload"
)

// app is the wired process: API client, media adapters and the uploader.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	api      *vkapi.Client
	uploader *upload.Uploader
	registry *prometheus.Registry

	metricsAddr string
	closers     []func(context.Context) error
}

// newApp wires every component from cfg. When metricsAddr is non-empty, or
// metrics are enabled in cfg, a /metrics endpoint is served until Close.
func newApp(ctx context.Context, cfg *config.Config, metricsAddr string) (*app, error) {
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func(context.Context) error { return closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("setup tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	a.registry = prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(cfg.Metrics.Namespace, a.registry)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("setup metrics: %w", err)
	}
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		srv := metrics.NewServer(ctx, metricsAddr, a.registry, logger.Component(log, "metrics"))
		bound, err := srv.Start()
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.metricsAddr = bound
		a.closers = append(a.closers, srv.Shutdown)
	}

	a.api = vkapi.New(cfg.API, logger.Component(log, "vkapi"),
		vkapi.WithMaxResponseBytes(cfg.Upload.MaxResponseBytes))
	a.api.Start()
	a.closers = append(a.closers, func(context.Context) error {
		a.api.Stop()
		return nil
	})

	fetchTransport := vkapi.NewPooledTransport(cfg.API.ConnTimeout, cfg.Upload.FetchTimeout, cfg.API.Pool)
	if cfg.Upload.BlockPrivateNetworks {
		media.Guard(fetchTransport, &net.Dialer{Timeout: cfg.API.ConnTimeout, KeepAlive: 30 * time.Second})
	}
	fetchClient := &http.Client{Transport: fetchTransport, Timeout: cfg.Upload.FetchTimeout}
	postClient := &http.Client{
		Transport: vkapi.NewPooledTransport(cfg.API.ConnTimeout, cfg.Upload.UploadTimeout, cfg.API.Pool),
		Timeout:   cfg.Upload.UploadTimeout,
	}

	c := cfg.Upload.Cover
	a.uploader = upload.New(upload.Deps{
		API:       a.api,
		Files:     media.Files{},
		Fetcher:   media.NewHTTPFetcher(fetchClient, cfg.Upload.MaxDownloadBytes),
		Sniffer:   media.Sniffer{},
		Poster:    media.NewMultipartPoster(postClient, cfg.Upload.MaxResponseBytes),
		GuessName: media.GuessFileName,
		Logger:    log,
		Metrics:   recorder,
	}, upload.Options{
		DefaultGroupID: cfg.API.GroupID,
		CoverCrop:      upload.CoverCrop{X: c.X, Y: c.Y, X2: c.X2, Y2: c.Y2},
	})
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
