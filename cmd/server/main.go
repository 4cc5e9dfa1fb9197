package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"solver-backend/internal/app"
	"solver-backend/internal/config"
	"solver-backend/internal/db"
	"solver-backend/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	if err := config.LoadConfig(*configPath); err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg := config.AppConfig

	database, err := db.InitDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}

	container, err := app.NewServiceContainer(cfg, database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}

	container.Start()

	engine := router.SetupRouter(cfg, container.Handlers)
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	container.Stop()
	log.Info("Shutdown complete")
}
