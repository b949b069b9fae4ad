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
	"github.com/pressly/goose/v3"
	"github.com/waypoint/server/internal/auth"
	"github.com/waypoint/server/internal/config"
	"github.com/waypoint/server/internal/db"
	"github.com/waypoint/server/internal/delivery"
	httpserver "github.com/waypoint/server/internal/http"
	"github.com/waypoint/server/internal/http/handlers"
	"github.com/waypoint/server/internal/ratelimit"
	"github.com/waypoint/server/internal/repo"
)

func main() {
	// Env vars override .env values
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := db.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to open redis: %v", err)
	}
	defer redisClient.Close()

	limiter := ratelimit.New(redisClient, ratelimit.Config{
		Identifier: ratelimit.Window{Max: cfg.RateLimitIdentifierMax, Window: cfg.RateLimitIdentifierWindow},
		IP:         ratelimit.Window{Max: cfg.RateLimitIPMax, Window: cfg.RateLimitIPWindow},
	})

	dispatcher := delivery.NewDispatcher(
		delivery.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom),
		delivery.NewSMSSender(cfg.SMSAPIKey, cfg.SMSSender, cfg.SMSBaseURL),
	)

	userRepo := repo.NewUserRepo(database)
	deviceRepo := repo.NewDeviceRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	sessionRepo := repo.NewSessionRepo(database)

	codec := auth.NewTokenCodec(cfg.JWTSecret, cfg.RefreshEncryptionKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	otpService := auth.NewOtpService(otpRepo, limiter, dispatcher, cfg.IsDev())
	credentials := auth.NewCredentialStore(userRepo)
	sessions := auth.NewSessionManager(sessionRepo, userRepo, deviceRepo, codec)
	authService := auth.NewAuthService(otpService, credentials, sessions, deviceRepo)

	authHandler := handlers.NewAuthHandler(authService)
	router := httpserver.NewRouter(authHandler, sessions, database)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
