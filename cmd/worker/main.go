package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chao-dotcom/Ticket-Craze/internal/breaker"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/events"
	"github.com/chao-dotcom/Ticket-Craze/internal/inventory"
	"github.com/chao-dotcom/Ticket-Craze/internal/repository"
	"github.com/chao-dotcom/Ticket-Craze/internal/service"
	"github.com/chao-dotcom/Ticket-Craze/pkg/config"
	pkglogger "github.com/chao-dotcom/Ticket-Craze/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := pkglogger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := inventory.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	stock := inventory.NewStore(redisClient, inventory.WithStateTTL(cfg.ReservationStateTTL))

	orderStore, closeStore, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open order store", zap.Error(err))
	}
	defer closeStore()

	writer := events.NewWriter(cfg.Brokers())
	defer writer.Close()

	reader := events.NewReader(events.ReaderOptions{
		Brokers: cfg.Brokers(),
		GroupID: cfg.ConsumerGroup,
		Topic:   cfg.ReservationsTopic,
	})
	defer reader.Close()

	clk := clock.NewSystem()
	topics := events.Topics{Reservations: cfg.ReservationsTopic, Orders: cfg.OrdersTopic, DeadLetter: cfg.DeadLetterTopic}
	cb := breaker.New("order-store", cfg.BreakerThreshold, cfg.BreakerCooldown,
		breaker.WithClock(clk),
		breaker.OnStateChange(func(name string, from, to breaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		}),
	)

	materializer := service.NewMaterializer(
		reader,
		stock,
		orderStore,
		events.NewKafkaProducer(writer, topics, cfg.Brokers(), logger),
		events.NewDeadLetterProducer(writer, cfg.DeadLetterTopic, clk, logger),
		cb,
		clk,
		cfg.MessageTimeout,
		logger,
	)
	reclaimer := service.NewReclaimer(orderStore, stock, clk, cfg.ReclaimInterval, cfg.ReclaimBatch, logger)

	logger.Info("Worker starting",
		zap.String("topic", cfg.ReservationsTopic),
		zap.String("group", cfg.ConsumerGroup),
		zap.String("order_store", cfg.OrderStore))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return materializer.Run(gctx) })
	g.Go(func() error { return reclaimer.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
