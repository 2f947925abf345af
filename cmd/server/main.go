package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-reconciler/config"
	"stock-reconciler/internal/api"
	"stock-reconciler/internal/broker"
	"stock-reconciler/internal/erp"
	"stock-reconciler/internal/redisclient"
	"stock-reconciler/internal/service"
	"stock-reconciler/internal/store"
	"stock-reconciler/internal/util"
	"stock-reconciler/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stock reconciler")

	tp, err := util.InitTracer("stock-reconciler", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicStock)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	notifier := broker.NewStockNotifier(producer)

	creds := erp.NewTokenProvider(cfg.ERP.BaseURL, cfg.ERP.Username, cfg.ERP.AccessKey, cfg.ERP.RequestTimeout)
	rate := erp.NewRateController(cfg.Sync.RateMinDelay, cfg.Sync.RateMaxDelay, cfg.Sync.RateJitter, cfg.Sync.RateDefaultHint)
	erpClient := erp.NewClient(cfg.ERP.BaseURL, cfg.ERP.PartnerID, creds, rate,
		cfg.ERP.RequestTimeout, cfg.ERP.MaxRetries, cfg.ERP.MaxConcurrency)

	guard := service.NewAntiRollbackGuard(cfg.Sync.AntiRollbackWindow)
	matcher := service.NewMatcher(db)
	reconciler := service.NewReconciler(db, guard, notifier)
	ingestor := service.NewIngestor(db, matcher, reconciler, erpClient, erpClient, redisClient)
	poller := service.NewPoller(db, erpClient, reconciler, rate, redisClient,
		cfg.Sync.PollInterval, cfg.Sync.BatchSize)
	registrar := service.NewRegistrar(erpClient, db, rate, cfg.ERP.ApplicationID, cfg.Sync.WebhookBaseURL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncWorker := worker.NewSyncWorker(registrar, poller)
	syncWorker.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(workerCtx, poller, ingestor, guard, db, redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	syncWorker.Stop()
	workerCancel()

	log.Println("Server exited")
}
