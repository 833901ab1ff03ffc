package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/events"
	"github.com/chao-dotcom/Ticket-Craze/internal/handler"
	"github.com/chao-dotcom/Ticket-Craze/internal/idgen"
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

	logger.Info("Service configuration",
		zap.String("port", cfg.Port),
		zap.Int64("node_id", cfg.NodeID),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("order_store", cfg.OrderStore))

	redisClient, err := inventory.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	stock := inventory.NewStore(redisClient, inventory.WithStateTTL(cfg.ReservationStateTTL))
	if err := stock.LoadScripts(ctx); err != nil {
		logger.Fatal("Failed to load Lua scripts", zap.Error(err))
	}

	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		logger.Fatal("Failed to create id generator", zap.Error(err))
	}

	producer := events.NewKafkaProducer(
		events.NewWriter(cfg.Brokers()),
		events.Topics{Reservations: cfg.ReservationsTopic, Orders: cfg.OrdersTopic, DeadLetter: cfg.DeadLetterTopic},
		cfg.Brokers(),
		logger,
	)
	defer producer.Close()

	orderStore, closeStore, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open order store", zap.Error(err))
	}
	defer closeStore()

	clk := clock.NewSystem()
	admission := service.NewAdmissionService(
		stock,
		inventory.NewIdempotencyGuard(redisClient, cfg.IdempotencyWindow),
		inventory.NewRateLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, clk),
		ids,
		producer,
		clk,
		service.AdmissionConfig{
			ReservationTTL: cfg.ReservationTTL,
			StoreTimeout:   cfg.StoreTimeout,
			PublishTimeout: cfg.PublishTimeout,
		},
		logger,
	)

	router := handler.NewRouter(logger,
		handler.NewFlashHandler(admission, logger),
		handler.NewOrderHandler(service.NewOrderQueryService(orderStore), logger),
		handler.NewHealthHandler("flash-sale-api", 2*time.Second,
			handler.Probe{Name: "redis", Check: stock.Ping},
			handler.Probe{Name: "kafka", Check: producer.HealthCheck},
			handler.Probe{Name: "order_store", Check: orderStore.Ping},
		),
	)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
