package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"aa-backend/internal/app"
	"aa-backend/internal/config"
	"aa-backend/internal/db"
	"aa-backend/internal/handlers"
	"aa-backend/internal/router"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: config.yaml, config.local.yaml if present)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db.InitDB()

	container, err := app.InitializeContainer()
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer container.Cleanup()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	chainHandler := handlers.NewChainHandler(
		container.DisbursementService,
		container.OtpService,
		container.ChainOpsService,
		logger,
	)
	triggerHandler := handlers.NewTriggerHandler(container.TriggerService, logger)
	jobsHandler := handlers.NewJobsHandler(container.JobQueueService)
	authHandler := handlers.NewAuthHandler()

	r := router.SetupRouter(
		chainHandler,
		triggerHandler,
		jobsHandler,
		authHandler,
		container.JobPushService,
	)

	host := config.AppConfig.Server.Host
	port := config.AppConfig.Server.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	go func() {
		log.Printf("🚀 Server listening on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down...")
}
