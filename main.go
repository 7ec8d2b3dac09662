package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"callsplit/adapters/api"
	"callsplit/internal/config"
	"callsplit/internal/container"
)

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	gin.SetMode(cfg.Server.GinMode)

	ctx := context.Background()
	c, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer c.Close()

	server := api.NewServer(c.Registry)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		errCh <- server.Run(":" + cfg.Server.Port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
}
