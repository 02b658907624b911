package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jhologic12/eshop-mvp/internal/cache"
	"github.com/jhologic12/eshop-mvp/internal/config"
	"github.com/jhologic12/eshop-mvp/internal/consumer"
	"github.com/jhologic12/eshop-mvp/internal/gateway"
	grpcserver "github.com/jhologic12/eshop-mvp/internal/grpc"
	h "github.com/jhologic12/eshop-mvp/internal/http"
	"github.com/jhologic12/eshop-mvp/internal/publisher"
	"github.com/jhologic12/eshop-mvp/internal/repository"
	"github.com/jhologic12/eshop-mvp/internal/service"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
	"github.com/jhologic12/eshop-mvp/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Error(context.Background(), "checkout api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "eshop-checkout", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			lg.Warn(sctx, "tracer shutdown failed", "error", err)
		}
	}()

	creds := &repository.Credentials{
		Driver:            cfg.DBDriver,
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		SQLitePath:        cfg.SQLitePath,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()
	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	lg.Info(ctx, "database ready", "driver", cfg.DBDriver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCheckoutMetrics(reg)

	stores := service.StoresFrom(repo)

	if cfg.MongoURI != "" {
		attempts, mongoClient, err := repository.ConnectMongoAttemptLog(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return fmt.Errorf("connect mongodb: %w", err)
		}
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				lg.Warn(ctx, "mongodb disconnect failed", "error", err)
			}
		}()
		stores.Attempts = attempts
		lg.Info(ctx, "payment attempts stored in mongodb", "database", cfg.MongoDBName)
	}

	var cartCache cache.CartCache = cache.NopCache{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		cartCache = cache.NewRedisCache(redisClient)
		lg.Info(ctx, "cart cache enabled", "redis_addr", cfg.RedisAddr)
	}

	gw := gateway.NewClient(cfg.PaymentGatewayURL, cfg.PaymentTimeout,
		gateway.WithLogger(lg),
		gateway.WithMetrics(m))

	checkout := service.NewCheckoutService(stores, gw,
		service.WithLogger(lg),
		service.WithMetrics(m),
		service.WithCartCache(cartCache),
		service.WithFulfillmentMode(service.FulfillmentMode(cfg.FulfillmentMode)),
		service.WithCommitTimeout(cfg.CommitTimeout))
	carts := service.NewCartService(stores.Carts, stores.Catalog, cartCache, lg)
	shop := service.NewShopService(stores.Catalog, stores.Orders, stores.Attempts)

	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Checkout: checkout,
			Carts:    carts,
			Shop:     shop,
			Health:   repo,
			Gatherer: reg,
			Log:      lg,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	healthReporter := grpcserver.NewHealthReporter(repo, lg)
	grpcServer := grpcserver.NewServer(healthReporter)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info(gctx, "http server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lg.Info(gctx, "grpc health server listening", "port", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		healthReporter.Run(gctx)
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.KafkaBrokers...)
		defer writer.Close()
		poller := publisher.NewOutboxPoller(repo, writer,
			publisher.Topics{
				CheckoutCompleted:      cfg.CheckoutTopic,
				ReconciliationRequired: cfg.ReconcileTopic,
			},
			publisher.WithPollInterval(cfg.OutboxPollEvery),
			publisher.WithBatchSize(cfg.OutboxBatchSize),
			publisher.WithLogger(lg),
			publisher.WithMetrics(m))

		reconciler := consumer.NewConsumer(repo, gw,
			consumer.NewKafkaReader(cfg.ReconcileTopic, cfg.ConsumerGroup, cfg.KafkaBrokers...),
			consumer.WithLogger(lg),
			consumer.WithMetrics(m))
		defer reconciler.Close()

		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
		g.Go(func() error {
			reconciler.Run(gctx)
			return nil
		})
		lg.Info(ctx, "outbox publisher and reconciliation consumer started", "brokers", cfg.KafkaBrokers)
	} else {
		lg.Warn(ctx, "KAFKA_BROKERS not set, outbox events stay in the database")
	}

	g.Go(func() error {
		<-gctx.Done()
		lg.Info(context.Background(), "shutting down checkout api")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		healthReporter.Shutdown()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(sctx)
	})

	return g.Wait()
}
