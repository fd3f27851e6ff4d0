package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/congo-pay/rent_wallet/internal/config"
	"github.com/congo-pay/rent_wallet/internal/infra"
	"github.com/congo-pay/rent_wallet/internal/ledger"
	"github.com/congo-pay/rent_wallet/internal/logging"
	"github.com/congo-pay/rent_wallet/internal/notification"
	"github.com/congo-pay/rent_wallet/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.ForService(logging.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat), cfg.AppName, cfg.AppEnv)

	ctx := context.Background()

	shutdownTracing, err := infra.SetupTracing(ctx, cfg.OTelEndpoint, cfg.AppName, cfg.AppEnv)
	if err != nil {
		logger.Error("setup tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	store, closeStore, err := infra.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open ledger store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if cache == nil {
		logger.Warn("REDIS_URL not set; idempotency, rate limiting and replay protection are disabled")
	} else {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	sinks := notification.Fanout{notification.NewLoggerNotifier(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Error("configure kafka", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("close kafka writer", "error", err)
			}
		}()
		sinks = append(sinks, notification.NewKafkaSink(writer, logger))
	}
	if cfg.EventStream != "" && cache != nil {
		sinks = append(sinks, notification.NewStreamSink(cache, cfg.EventStream, cfg.EventStreamMax))
	}

	var sink ledger.EventSink = sinks
	srv, err := server.New(cfg, store, cache, sink, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("server starting", "addr", cfg.Address(), "driver", cfg.StoreDriver, "ledger", cfg.LedgerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
