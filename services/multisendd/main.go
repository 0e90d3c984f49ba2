package multisendd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"multisender/gateway/middleware"
	"multisender/observability"
	"multisender/observability/logging"
	telemetry "multisender/observability/otel"
)

// Main initialises and runs the multisend daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/multisendd/config.yaml", "path to multisendd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.SetupWithOptions("multisendd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	telemetryCfg := telemetry.Config{
		ServiceName: "multisendd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
	if telemetryCfg.Enabled() {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := NewNode(stopCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Error("close node", "error", err)
		}
	}()

	server := NewServer(cfg.serverConfig(node, logger))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("multisendd listening",
			"addr", cfg.ListenAddress,
			"vault", node.Vault.Hex(),
			"policy", node.Engine.Policy().String(),
			"refund_basis", node.Engine.RefundBasis().String(),
			logging.MaskField("hmac_secret", cfg.Auth.HMACSecret))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("multisendd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (c Config) serverConfig(node *Node, logger *slog.Logger) ServerConfig {
	return ServerConfig{
		Engine:   node.Engine,
		Receipts: node.Receipts,
		Hub:      node.Hub,
		Auth: middleware.AuthConfig{
			HMACSecret: c.Auth.HMACSecret,
			Issuer:     c.Auth.Issuer,
			Audience:   c.Auth.Audience,
			ClockSkew:  c.Auth.ClockSkew.Duration,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: c.RateLimit.RequestsPerMinute,
			Burst:             c.RateLimit.Burst,
		},
		CORS:        middleware.CORSConfig{AllowedOrigins: c.CORS.AllowedOrigins},
		Metrics:     observability.API(),
		LogRequests: c.Logging.LogHTTP,
		Logger:      logger,
	}
}
