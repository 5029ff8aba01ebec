// Package main implements the bughouse server application: a RESTful API
// for four-player game lobbies, seat assignment and team rating updates.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bughouse/cmd/bughouse-server/cli"
	"bughouse/internal/server/http"
	"bughouse/internal/server/service"
	"bughouse/internal/server/storage"

	"github.com/joho/godotenv"
)

const (
	gracefulShutdownTimeout = time.Second * 5
)

func main() {
	// Check for CLI database commands
	if len(os.Args) > 1 && os.Args[1] == "db" {
		if err := cli.Run(os.Args[2:]); err != nil {
			log.Fatalf("CLI error: %v", err)
		}
		os.Exit(0)
	}

	// Optional .env file; flags still win over environment defaults
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded configuration from .env")
	}

	// Command-line flags, defaulting from the environment
	var (
		apiHost     = flag.String("api-host", envOr("BUGHOUSE_API_HOST", "localhost"), "API server host")
		apiPort     = flag.Int("api-port", envIntOr("BUGHOUSE_API_PORT", 8080), "API server port")
		dev         = flag.Bool("dev", false, "Development mode (relaxed rate limits, fixed JWT secret)")
		storagePath = flag.String("storage-path", envOr("BUGHOUSE_DB_PATH", ""), "Path to SQLite database file (required)")
		pidPath     = flag.String("pid", "", "Optional path to write PID file")
		pidLock     = flag.Bool("pid-lock", false, "Lock PID file to allow only one instance (requires -pid)")
	)
	flag.Parse()

	// Validate PID flags
	if *pidLock && *pidPath == "" {
		log.Fatal("Error: -pid-lock flag requires the -pid flag to be set")
	}
	if *storagePath == "" {
		log.Fatal("Error: -storage-path (or BUGHOUSE_DB_PATH) is required")
	}

	// Manage PID file if requested
	if *pidPath != "" {
		cleanup, err := managePIDFile(*pidPath, *pidLock)
		if err != nil {
			log.Fatalf("Failed to manage PID file: %v", err)
		}
		defer cleanup()
		log.Printf("PID file created at: %s (lock: %v)", *pidPath, *pidLock)
	}

	// 1. Initialize storage
	log.Printf("Initializing persistent storage at: %s", *storagePath)
	store, err := storage.NewStore(*storagePath, *dev)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	if err := store.InitDB(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Warning: failed to close storage cleanly: %v", err)
		}
	}()

	// JWT secret management
	var jwtSecret []byte
	if envSecret := os.Getenv("BUGHOUSE_JWT_SECRET"); envSecret != "" {
		jwtSecret = []byte(envSecret)
		log.Printf("Using JWT secret from environment")
	} else if *dev {
		// Fixed secret in dev mode for testing consistency
		jwtSecret = []byte("dev-secret-minimum-32-characters-long")
		log.Printf("Using fixed JWT secret (dev mode)")
	} else {
		// Generate cryptographically secure secret
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			log.Fatalf("Failed to generate JWT secret: %v", err)
		}
		log.Printf("JWT secret generated (sessions valid until restart)")
	}

	// 2. Initialize the service
	svc := service.New(store, nil, jwtSecret)

	// Periodic removal of abandoned open games
	if err := svc.StartSweeper(); err != nil {
		log.Fatalf("Failed to start lobby sweeper: %v", err)
	}

	// 3. Initialize the Fiber app
	app := http.NewFiberApp(svc, *dev)

	// API server configuration
	apiAddr := fmt.Sprintf("%s:%d", *apiHost, *apiPort)

	// Start API server in a goroutine
	go func() {
		log.Printf("Bughouse API Server starting...")
		log.Printf("API Listening on: http://%s", apiAddr)
		log.Printf("API Version: v1")
		log.Printf("Authentication: Enabled (JWT)")
		if *dev {
			log.Printf("Rate Limit: 20 requests/second per IP (DEV MODE)")
		} else {
			log.Printf("Rate Limit: 10 requests/second per IP")
		}
		log.Printf("Storage: %s", *storagePath)
		log.Printf("API Endpoints: http://%s/api/v1/games", apiAddr)
		log.Printf("Auth Endpoints: http://%s/api/v1/auth/[register|login|me]", apiAddr)
		log.Printf("Health: http://%s/health", apiAddr)

		if err := app.Listen(apiAddr); err != nil {
			log.Printf("API server listen error: %v", err)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown of HTTP server with timeout
	if err = app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop the sweeper after the HTTP surface is down
	if err = svc.Shutdown(); err != nil {
		log.Printf("Service shutdown error: %v", err)
	}

	log.Println("Server exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
