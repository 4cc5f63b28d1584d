package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/config"
	"github.com/durableflow/engine/internal/observability"
	"github.com/durableflow/engine/internal/queue"
	"github.com/durableflow/engine/internal/repo"
	"github.com/durableflow/engine/internal/storage"
)

const serviceVersion = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "durableflow runs and inspects durable workflow instances",
}

func main() {
	rootCmd.AddCommand(serveCmd, runCmd, cancelCmd, statusCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps bundles the collaborators every subcommand needs, built once from
// configuration. Callers are responsible for calling close().
type deps struct {
	cfg       *config.Config
	logger    *zap.Logger
	gw        repo.Gateway
	publisher *queue.LifecyclePublisher
	metrics   *observability.Metrics
	close     func()
}

func bootstrap() (*deps, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	pg, err := repo.NewPostgresGateway(cfg.Database.URL, logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	var gw repo.Gateway = pg
	closers := []func(){func() { pg.Close() }}

	if cfg.Redis.Enabled {
		redisStore, err := storage.NewRedisStorage(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis unavailable, running without the step-index cache", zap.Error(err))
		} else {
			gw = storage.NewCachedGateway(pg, redisStore, logger)
			closers = append(closers, func() { redisStore.Close() })
		}
	}

	var publisher *queue.LifecyclePublisher
	if cfg.MessageQueue.Enabled {
		mq, err := queue.NewRabbitMQQueue(cfg.MessageQueue.URL, logger)
		if err != nil {
			logger.Warn("message queue unavailable, lifecycle events will not be published", zap.Error(err))
			publisher = queue.NewLifecyclePublisher(nil, cfg.MessageQueue.Exchange, cfg.MessageQueue.Consumer.PublishTimeout, logger)
		} else {
			publisher = queue.NewLifecyclePublisher(mq, cfg.MessageQueue.Exchange, cfg.MessageQueue.Consumer.PublishTimeout, logger)
			closers = append(closers, func() { mq.Close() })
		}
	} else {
		publisher = queue.NewLifecyclePublisher(nil, cfg.MessageQueue.Exchange, cfg.MessageQueue.Consumer.PublishTimeout, logger)
	}

	shutdownTracing, err := observability.InitTracing(cfg.Observability.ServiceName, serviceVersion, cfg.Observability.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without it", zap.Error(err))
	} else {
		closers = append(closers, shutdownTracing)
	}

	metrics := observability.NewMetrics()

	return &deps{
		cfg:       cfg,
		logger:    logger,
		gw:        gw,
		publisher: publisher,
		metrics:   metrics,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			logger.Sync()
		},
	}, nil
}
