// main package for the speech-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/worker"
	"github.com/book-expert/speech-service/internal/xfyun"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	bootstrapLogFile     = "speech-service-bootstrap.log"
	serviceLogFile       = "speech-service.log"
	setupTimeout         = 30 * time.Second
	metricsReadTimeout   = 5 * time.Second
	metricsShutdownGrace = 5 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("speech-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	js, err := jetstream.New(natsConnection)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	textStore, err := objectstore.New(setupCtx, js, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open text bucket: %w", err)
	}

	audioStore, err := objectstore.New(setupCtx, js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open audio bucket: %w", err)
	}

	client, err := xfyun.NewClient(cfg.ClientConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to create xfyun client: %w", err)
	}

	serviceMetrics := metrics.New()

	if cfg.Metrics.Enabled {
		metricsServer := startMetricsServer(cfg.Metrics.Address, serviceMetrics, log)

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
			defer shutdownCancel()

			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	speechWorker, err := worker.NewNatsWorker(
		natsConnection,
		textStore,
		audioStore,
		worker.NewXfyunSessions(client),
		serviceMetrics,
		worker.Config{
			SynthesizeSubject: cfg.NATS.SynthesizeSubject,
			ChatSubject:       cfg.NATS.ChatSubject,
			CancelSubject:     cfg.NATS.CancelSubject,
			QueueGroup:        cfg.NATS.QueueGroup,
			Concurrency:       cfg.Worker.Concurrency,
			JobTimeout:        cfg.JobTimeout(),
			MaxChunkBytes:     cfg.Worker.MaxChunkBytes,
			MaxRunes:          cfg.Worker.MaxRunes,
			Retry:             cfg.RetryOptions(),
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Speech-Service initialized. Listening for jobs on subject: %s", cfg.NATS.SynthesizeSubject)

	err = speechWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("Speech-Service stopped")

	return nil
}

func startMetricsServer(address string, m *metrics.Metrics, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed: %v", err)
		}
	}()

	log.Info("Serving metrics on %s/metrics", address)

	return server
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
