package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/site-ledger/internal/adapter/directory"
	"github.com/rl1809/site-ledger/internal/adapter/handler"
	"github.com/rl1809/site-ledger/internal/adapter/messaging"
	"github.com/rl1809/site-ledger/internal/adapter/storage"
	"github.com/rl1809/site-ledger/internal/config"
	"github.com/rl1809/site-ledger/internal/core/domain"
	"github.com/rl1809/site-ledger/internal/core/service"
	"github.com/rl1809/site-ledger/pkg/logger"
)

func main() {
	log := logger.New(logger.DefaultConfig("site-ledger"))
	defer log.Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sqlx.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("failed to open mysql", "error", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", "error", err)
	}
	log.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.Migrate(ctx); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect redis", "error", err)
	}
	log.Info("connected to redis")
	redisAdapter := storage.NewRedisAdapter(rdb)

	// Initialize Kafka producer for the audit stream
	producer := messaging.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	log.Info("kafka producer initialized", "topic", cfg.KafkaTopic)

	// Wire services
	dirs := directory.NewMySQLDirectory(db)
	identity := handler.HeaderIdentity{}
	fanout := service.NewEventFanout(cfg.QueueSize, log)

	ledgerService := service.NewLedgerService(mysqlAdapter, redisAdapter, identity, fanout, log, cfg.LowStockThreshold)
	allocationService := service.NewAllocationService(mysqlAdapter, redisAdapter, dirs, identity, fanout, log)
	transferService := service.NewTransferService(mysqlAdapter, mysqlAdapter, dirs, identity, fanout, log)
	activityService := service.NewActivityService(mysqlAdapter)

	// Start audit publisher workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			publishLoop(id, fanout.Queue(), producer, log)
		}(i)
	}
	log.Info("started audit publishers", "workers", cfg.WorkerCount)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(ledgerService, allocationService, transferService, activityService)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/item", httpHandler.Item)
	mux.HandleFunc("/api/item/delivered", httpHandler.UpdateDelivered)
	mux.HandleFunc("/api/item/report-issue", httpHandler.ReportIssue)
	mux.HandleFunc("/api/item/move-location", httpHandler.MoveLocation)
	mux.HandleFunc("/api/allocate", httpHandler.Allocate)
	mux.HandleFunc("/api/assignment/return", httpHandler.Return)
	mux.HandleFunc("/api/assignment/close", httpHandler.CloseAssignment)
	mux.HandleFunc("/api/events", httpHandler.Events)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      log.HTTPMiddleware(handler.WithActor(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "port", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	// Drain the audit queue and wait for publishers
	fanout.Close()
	wg.Wait()
	log.Info("audit publishers stopped")

	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

func publishLoop(id int, queue <-chan domain.LedgerEvent, producer messaging.KafkaProducer, log *logger.Logger) {
	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := producer.PublishLedgerEvent(ctx, event); err != nil {
			// The event is already committed in the authoritative log;
			// the audit stream is best-effort.
			log.Error("failed to publish ledger event",
				"worker", id, "event_id", event.ID, "error", err)
		}

		cancel()
	}
}
