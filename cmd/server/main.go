package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/pinggolf/gestima/internal/api"
	"github.com/pinggolf/gestima/internal/config"
	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/filestore"
	"github.com/pinggolf/gestima/internal/ids"
	"github.com/pinggolf/gestima/internal/quote"
	"github.com/pinggolf/gestima/internal/queue"
	"github.com/pinggolf/gestima/internal/sharerecovery"
	"github.com/pinggolf/gestima/internal/sync"
	"github.com/pinggolf/gestima/internal/workcenter"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load("../../.env"); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrations(cfg)
		return
	}

	database, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	database.SetMaxOpenConns(cfg.DatabaseMaxConnections)
	database.SetMaxIdleConns(cfg.DatabaseMaxIdleConnections)
	database.SetConnMaxLifetime(cfg.DatabaseConnectionLifetime)

	if err := database.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Database connection established")

	if cfg.RunMigrations {
		log.Println("Running database migrations...")
		if err := db.RunMigrations(database, "migrations"); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database migrations completed successfully")
	} else {
		log.Println("Skipping migrations (RUN_MIGRATIONS=false)")
	}

	queries := db.New(database)

	log.Println("Connecting to NATS...")
	natsManager, err := queue.NewManager(cfg.NATSURL)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsManager.Close()
	log.Println("NATS connection established")

	erpClient, err := erpclient.New(erpclient.Config{
		BaseURL:           cfg.InforAPIBaseURL,
		ConfigName:        cfg.InforConfigName,
		Username:          cfg.InforClientID,
		Password:          cfg.InforClientSecret,
		RequestsPerSecond: cfg.ERPThrottleRequestsPerSecond,
		BurstSize:         cfg.ERPThrottleBurstSize,
	})
	if err != nil {
		log.Fatalf("Failed to build Infor client: %v", err)
	}

	wcMapping, err := cfg.WorkCenterMapping()
	if err != nil {
		log.Fatalf("Failed to parse work center mapping: %v", err)
	}

	allocator := ids.New(queries)
	resolver := workcenter.New(queries, wcMapping)
	quoteEngine := quote.New(queries, allocator)

	fileStore, err := filestore.New(cfg.FileStoreRoot, queries)
	if err != nil {
		log.Fatalf("Failed to initialize file store: %v", err)
	}

	scheduler := sync.New(sync.Deps{
		Queries:             queries,
		ERP:                 erpClient,
		Allocator:           allocator,
		Resolver:            resolver,
		Files:               fileStore,
		Publisher:           natsManager,
		ActingUser:          "sync",
		TickInterval:        cfg.SyncTickInterval,
		InitialLookbackDays: cfg.SyncInitialLookbackDays,
	})

	shareRoot := os.Getenv("SHARE_RECOVERY_ROOT")
	if shareRoot == "" {
		shareRoot = "share-recovery"
	}
	shareRecovery := sharerecovery.New(queries, fileStore, shareRoot)

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	if err := scheduler.Start(schedulerCtx); err != nil {
		log.Fatalf("Failed to start sync scheduler: %v", err)
	}
	log.Println("Sync scheduler started")

	server := api.NewServer(api.Deps{
		Config:      cfg,
		DB:          queries,
		RawDB:       database,
		NATS:        natsManager,
		QuoteEngine: quoteEngine,
		Files:       fileStore,
		Scheduler:   scheduler,
		Recovery:    shareRecovery,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AppPort),
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %d (environment: %s)", cfg.AppPort, cfg.AppEnv)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	scheduler.Stop()
	cancelScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func runMigrations(cfg *config.Config) {
	database, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Running database migrations...")
	if err := db.RunMigrations(database, "migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully")
}
