// Package main provides the main entry point for the lumenpay payment service.
// It wires the signing key, ledger client, optional Redis and Kafka backends,
// the submission pipeline and the HTTP API, then runs them through the service registry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cmatc13/lumenpay/internal/api"
	"github.com/cmatc13/lumenpay/internal/custody"
	"github.com/cmatc13/lumenpay/internal/events"
	"github.com/cmatc13/lumenpay/internal/ledger"
	"github.com/cmatc13/lumenpay/internal/processor"
	"github.com/cmatc13/lumenpay/internal/storage"
	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/config"
	"github.com/cmatc13/lumenpay/pkg/health"
	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/metrics"
	"github.com/cmatc13/lumenpay/pkg/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	opts := config.DefaultLoadOptions()
	opts.Flags = fs
	if configFile, _ := fs.GetString("config"); configFile != "" {
		opts.ConfigFile = configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		bootLogger := logging.New(logging.DefaultConfig())
		bootLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "lumenpay",
		Environment: cfg.Log.Environment,
	})
	redacted := cfg.Redacted()
	logger.Info("Configuration loaded",
		"horizon_url", redacted.Stellar.HorizonURL,
		"port", redacted.API.Port,
		"redis", redacted.Redis.Enabled,
		"kafka", redacted.Kafka.Enabled,
		"serialize", redacted.Submission.Serialize,
	)

	m := metrics.New(metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		ServiceName: "lumenpay",
	})
	uptimeDone := make(chan struct{})
	defer close(uptimeDone)
	m.RecordUptime(uptimeDone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An unparsable signing key is fatal: the service must not serve traffic.
	keys, err := custody.Resolve(cfg.Stellar.ServerSecret, cfg.Stellar.NetworkPassphrase, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to resolve signing key")
		os.Exit(1)
	}
	logger.Info("Signing key ready", "public_key", keys.PublicKey(), "ephemeral", keys.Ephemeral())

	horizon := ledger.NewHorizonClient(ledger.HorizonConfig{
		BaseURL:      cfg.Stellar.HorizonURL,
		FriendbotURL: cfg.Stellar.FriendbotURL,
		Timeout:      cfg.Stellar.RequestTimeout,
		Metrics:      m,
		Logger:       logger,
	})

	healthRegistry := health.NewRegistry(logger, m)
	healthRegistry.Register("ledger", health.LedgerChecker(cfg.Stellar.HorizonURL, horizon.Ping))

	pipelineCfg := processor.Config{
		Gateway: horizon,
		Signer:  keys,
		Assembler: transaction.NewAssembler(transaction.AssemblerConfig{
			BaseFee:        cfg.Submission.BaseFee,
			ValidityWindow: cfg.Submission.ValidityWindow,
		}),
		Metrics:        m,
		Logger:         logger,
		RequestTimeout: cfg.Stellar.RequestTimeout,
	}

	if cfg.Redis.Enabled {
		client, err := storage.NewRedisClient(ctx, storage.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to connect to Redis")
			os.Exit(1)
		}
		defer client.Close()

		pipelineCfg.Journal = storage.NewRedisJournal(client, storage.DefaultRetention)
		if cfg.Submission.Serialize {
			pipelineCfg.Locker = storage.NewRedisLock(client, cfg.Submission.LockTTL)
		}
		healthRegistry.Register("redis", health.RedisChecker(cfg.Redis.Address, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	if cfg.Kafka.Enabled {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:       cfg.Kafka.Brokers,
			AcceptedTopic: cfg.Kafka.AcceptedTopic,
			RejectedTopic: cfg.Kafka.RejectedTopic,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to create event publisher")
			os.Exit(1)
		}
		defer publisher.Close()

		pipelineCfg.Publisher = publisher
		healthRegistry.Register("kafka", health.KafkaChecker(cfg.Kafka.Brokers, publisher.Ping))
	}

	pipeline, err := processor.NewPipeline(pipelineCfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize submission pipeline")
		os.Exit(1)
	}

	var funder ledger.Funder
	if cfg.Stellar.FriendbotURL != "" {
		funder = horizon
	}
	pipelineService := processor.NewPipelineService(pipeline, func(ctx context.Context) {
		keys.EnsureFunded(ctx, horizon, funder, m)
	})

	server := api.NewServer(cfg, pipeline, healthRegistry, m, logger)
	apiService := api.NewAPIService(server)

	registry := service.NewRegistry(logger)
	for _, svc := range []service.Service{pipelineService, apiService} {
		if err := registry.Register(svc); err != nil {
			logger.WithError(err).Error("Failed to register service", "service", svc.Name())
			os.Exit(1)
		}
	}
	healthRegistry.Register("api", health.ServiceChecker("api", apiService.Health))

	logger.Info("Starting all services")
	if err := registry.StartAll(ctx); err != nil {
		logger.WithError(err).Error("Failed to start services")
		os.Exit(1)
	}
	logger.Info("All services started", "single_writer", pipeline.SingleWriter())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down gracefully")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := registry.StopAll(stopCtx); err != nil {
		logger.WithError(err).Error("Error during shutdown")
	}

	logger.Info("Shutdown complete")
}
