package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logwarden/internal/config"
	"github.com/fyrsmithlabs/logwarden/internal/errclass"
	httpserver "github.com/fyrsmithlabs/logwarden/internal/http"
	"github.com/fyrsmithlabs/logwarden/internal/logging"
	"github.com/fyrsmithlabs/logwarden/internal/metrics"
	"github.com/fyrsmithlabs/logwarden/internal/ratelimit"
	"github.com/fyrsmithlabs/logwarden/internal/storage"
	"github.com/fyrsmithlabs/logwarden/internal/telemetry"
	"github.com/fyrsmithlabs/logwarden/internal/transport"
)

// appConfig composes the per-package configuration sections.
type appConfig struct {
	Logging   *logging.Config   `koanf:"logging"`
	Storage   *storage.Config   `koanf:"storage"`
	RateLimit ratelimit.Config  `koanf:"ratelimit"`
	Transport transportConfig   `koanf:"transport"`
	Telemetry *telemetry.Config `koanf:"telemetry"`
	Server    serverConfig      `koanf:"server"`
}

// transportConfig selects and tunes the log shipping backend.
type transportConfig struct {
	Enabled       bool              `koanf:"enabled"`
	Backend       string            `koanf:"backend"` // nats or http
	NATSURL       string            `koanf:"nats_url"`
	SubjectPrefix string            `koanf:"subject_prefix"`
	URL           string            `koanf:"url"`
	Headers       map[string]string `koanf:"headers"`
	Timeout       config.Duration   `koanf:"timeout"`
	MaxBatch      int               `koanf:"max_batch"`
	FlushInterval config.Duration   `koanf:"flush_interval"`
	QueueSize     int               `koanf:"queue_size"`
}

type serverConfig struct {
	Host            string          `koanf:"host"`
	Port            int             `koanf:"port"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

func defaultAppConfig() *appConfig {
	return &appConfig{
		Logging:   logging.NewDefaultConfig(),
		Storage:   storage.FromEnv(),
		RateLimit: ratelimit.NewDefaultConfig(),
		Transport: transportConfig{
			Backend:       "nats",
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "logwarden.logs",
			Timeout:       config.Duration(10 * time.Second),
			MaxBatch:      100,
			FlushInterval: config.Duration(2 * time.Second),
			QueueSize:     1000,
		},
		Telemetry: telemetry.NewDefaultConfig(),
		Server: serverConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: config.Duration(10 * time.Second),
		},
	}
}

// Validate checks every section plus the cross-section constraints the
// sections cannot see on their own.
func (c *appConfig) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Storage.Validate(); err != nil && !c.Storage.FallbackEnabled {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.Transport.Enabled {
		switch c.Transport.Backend {
		case "nats":
			if c.Transport.NATSURL == "" {
				return fmt.Errorf("transport: nats_url is required for the nats backend")
			}
		case "http":
			if c.Transport.URL == "" {
				return fmt.Errorf("transport: url is required for the http backend")
			}
		default:
			return fmt.Errorf("transport: unknown backend %q (want nats or http)", c.Transport.Backend)
		}
	}
	if c.Logging.Output.Transport && !c.Transport.Enabled {
		return fmt.Errorf("logging output transport requires transport.enabled")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	return nil
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order matters: storage feeds the limiter, the limiter
// and transport feed the logger, and everything feeds the HTTP server.
func run(ctx context.Context, cfgPath string) error {
	cfg := defaultAppConfig()
	if err := config.Load(cfgPath, cfg); err != nil {
		return err
	}

	metrics.Init()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	kv, storageErr := storage.New(cfg.Storage)
	if kv == nil {
		return fmt.Errorf("failed to initialize storage: %w", storageErr)
	}
	if mem, ok := kv.(*storage.Memory); ok {
		mem.StartJanitor(ctx, time.Minute)
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, kv)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	opts := []logging.Option{logging.WithGate(limiter)}

	var batcher *transport.Batcher
	if cfg.Transport.Enabled {
		sink, err := newTransport(cfg.Transport)
		if err != nil {
			return fmt.Errorf("failed to initialize transport: %w", err)
		}
		batcher = transport.NewBatcher(sink, transport.BatcherConfig{
			MaxBatch:      cfg.Transport.MaxBatch,
			FlushInterval: cfg.Transport.FlushInterval.Duration(),
			QueueSize:     cfg.Transport.QueueSize,
			// The callback must not feed back into the gated logger, so
			// failures go straight to stderr; counts land in metrics.
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "logwarden: transport delivery failed: %v\n", err)
			},
		})
		opts = append(opts, logging.WithTransport(logging.NewBatcherSink(batcher)))
	}

	logger, err := logging.NewLogger(cfg.Logging, tel.LoggerProvider(), opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting logwarden",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", kv.Backend()),
		zap.Bool("transport_enabled", cfg.Transport.Enabled),
		zap.Bool("telemetry_enabled", tel.IsEnabled()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))
	if storageErr != nil {
		logger.Warn(ctx, "storage backend degraded, using memory fallback",
			zap.Error(storageErr))
	}

	errs := errclass.NewHandler(logger)

	srv, err := httpserver.NewServer(logger, errs, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	},
		httpserver.WithStorage(kv),
		httpserver.WithLimiter(limiter),
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(logger.Underlying())),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	// Hot reload: rate limits and sampling rates can be retuned without a
	// restart. Invalid edits are rejected and the running config stays.
	if cfgPath != "" {
		watcher := config.NewWatcher(cfgPath, func() {
			next := defaultAppConfig()
			if err := config.Load(cfgPath, next); err != nil {
				logger.Warn(ctx, "config reload rejected", zap.Error(err))
				return
			}
			if err := limiter.SetConfig(next.RateLimit); err != nil {
				logger.Warn(ctx, "config reload rejected", zap.Error(err))
				return
			}
			logger.Info(ctx, "rate limit config reloaded",
				zap.Float64("max_tokens", next.RateLimit.MaxTokens),
				zap.Float64("refill_rate", next.RateLimit.RefillRate))
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn(ctx, "config watcher unavailable", zap.Error(err))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	return shutdown(cfg, srv, batcher, tel, kv, logger)
}

// newTransport builds the configured shipping backend.
func newTransport(cfg transportConfig) (transport.Transport, error) {
	switch cfg.Backend {
	case "nats":
		return transport.DialNATS(cfg.NATSURL, cfg.SubjectPrefix)
	case "http":
		return transport.NewHTTPTransport(cfg.URL, cfg.Headers, cfg.Timeout.Duration()), nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", cfg.Backend)
	}
}

// shutdown drains in dependency order: stop accepting requests, flush
// pending log records, flush telemetry, then release storage.
func shutdown(cfg *appConfig, srv *httpserver.Server, batcher *transport.Batcher, tel *telemetry.Telemetry, kv storage.KV, logger *logging.Logger) error {
	timeout := cfg.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info(shCtx, "shutting down")

	var errs []error
	if err := srv.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if batcher != nil {
		if err := batcher.Shutdown(shCtx); err != nil {
			errs = append(errs, fmt.Errorf("transport: %w", err))
		}
	}
	if err := tel.Shutdown(shCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if closer, ok := kv.(storage.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
