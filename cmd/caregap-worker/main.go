// Package main provides the care gap re-evaluation worker.
// Consumes records.updated and publishes caregaps.evaluated.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/config"
	"github.com/drfirst/go-caregap/internal/domain/caregap"
	"github.com/drfirst/go-caregap/internal/infrastructure/recordsource"
	"github.com/drfirst/go-caregap/internal/infrastructure/redpanda"
	"github.com/drfirst/go-caregap/internal/observability/logging"
	"github.com/drfirst/go-caregap/internal/observability/metrics"
	"github.com/drfirst/go-caregap/internal/observability/tracing"
	"github.com/drfirst/go-caregap/internal/worker"
	"github.com/drfirst/go-caregap/pkg/workerpool"
)

const serviceName = "caregap-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.FromConfig(serviceName, cfg))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	source, closeSource, err := recordsource.Open(ctx, cfg, m.ObserveBreakerState, logger)
	if err != nil {
		logger.Fatal("record source unavailable", zap.Error(err))
	}
	defer closeSource()

	brokers := cfg.KafkaBrokers()
	if err := redpanda.HealthCheck(ctx, brokers); err != nil {
		logger.Fatal("redpanda unavailable", zap.Error(err))
	}

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(brokers), logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.WorkerConcurrency

	reevaluator, err := worker.New(source, caregap.NewEvaluator(), producer, poolCfg, m, logger)
	if err != nil {
		logger.Fatal("worker creation failed", zap.Error(err))
	}
	reevaluator.Start()

	consumerCfg := redpanda.DefaultConsumerConfig(brokers)
	consumerCfg.Concurrency = cfg.WorkerConcurrency

	consumer, err := redpanda.NewConsumer(consumerCfg, reevaluator.Handle, producer, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start(ctx)

	// metrics only; the worker has no API
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("care gap worker started",
		zap.Strings("brokers", brokers),
		zap.String("record_source", cfg.RecordSource),
		zap.Int("concurrency", cfg.WorkerConcurrency))

	<-ctx.Done()
	logger.Info("shutting down")

	consumer.Stop()
	if err := reevaluator.Stop(); err != nil {
		logger.Warn("worker pool stop", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}

	stats := consumer.Stats()
	logger.Info("care gap worker stopped",
		zap.Int64("messages", stats.MessagesRead),
		zap.Int64("dead_lettered", stats.DeadLettered))
}
