package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/devkit/webhook-engine/internal/audit"
	"github.com/devkit/webhook-engine/internal/config"
	"github.com/devkit/webhook-engine/internal/consumer"
	"github.com/devkit/webhook-engine/internal/database"
	"github.com/devkit/webhook-engine/internal/dispatcher"
	"github.com/devkit/webhook-engine/internal/executor"
	"github.com/devkit/webhook-engine/internal/ledger"
	"github.com/devkit/webhook-engine/internal/logger"
	"github.com/devkit/webhook-engine/internal/rabbitmq"
	"github.com/devkit/webhook-engine/internal/routes"
	"github.com/devkit/webhook-engine/internal/service"
	"github.com/devkit/webhook-engine/internal/subscriptions"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Logger

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// warm the subscription index before anything can dispatch
	index := subscriptions.NewIndex(db, log)
	if err := index.Refresh(context.Background()); err != nil {
		log.Fatal("Failed to load subscription index", zap.Error(err))
	}

	deliveryLedger := ledger.New(db)
	auditSvc := audit.NewService(db, log)
	exec := executor.New(&http.Client{}, cfg.Engine.MaxResponseBodyBytes, log)

	disp := dispatcher.NewDispatcher(db, &cfg.Engine, index, deliveryLedger, exec, auditSvc, log)
	if err := disp.Start(); err != nil {
		log.Fatal("Failed to start dispatcher", zap.Error(err))
	}

	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	feed := consumer.NewFeed(&cfg.RabbitMQ, rmq, disp, log)
	if err := feed.Start(); err != nil {
		log.Fatal("Failed to start event feed", zap.Error(err))
	}

	svc := service.NewService(db, log, rmq, index, deliveryLedger, auditSvc, disp)

	app := fiber.New(fiber.Config{
		AppName:      "Webhook Engine",
		ServerHeader: "Fiber",
		ReadTimeout:  30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app, svc)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	if err := feed.Stop(); err != nil {
		log.Error("Error stopping event feed", zap.Error(err))
	}
	disp.Stop()

	log.Info("Server stopped")
}
