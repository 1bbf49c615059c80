package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jspark2504/gugudan-ai-server/internal/api"
	"github.com/jspark2504/gugudan-ai-server/internal/chat"
	"github.com/jspark2504/gugudan-ai-server/internal/completion"
	"github.com/jspark2504/gugudan-ai-server/internal/config"
	"github.com/jspark2504/gugudan-ai-server/internal/crypto"
	"github.com/jspark2504/gugudan-ai-server/internal/handlers"
	"github.com/jspark2504/gugudan-ai-server/internal/store"
	"github.com/jspark2504/gugudan-ai-server/internal/usage"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize cipher from key material
	cipher, err := buildCipher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("cipher initialization failed")
	}

	// Initialize data store
	var st store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		st = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		st = sqliteStore
		logger.Info().Msg("using SQLite store")
	}
	defer st.Close()

	// Initialize Redis-backed usage meter
	redisOpts, err := redis.ParseURL(redisURLOrDefault(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()
	logger.Info().Msg("connected to Redis")

	meter := usage.NewRedisMeter(redisClient, cfg.QuotaBudget, cfg.QuotaWindow)

	// Initialize completion source
	source := buildSource(cfg)

	orchestrator := chat.NewOrchestrator(st, meter, cipher, source, logger, cfg.SystemInstruction)
	h := handlers.NewHandler(st, cipher, orchestrator, logger)

	// Create router
	router := api.NewRouter(logger, h, cfg.JWTSecret)

	// Create server. The write timeout bounds a whole streamed reply, not a
	// single write, so it is generous.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("provider", cfg.CompletionProvider).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// buildCipher constructs the message cipher from explicit base64 key material
// when present, otherwise from the derivation secret.
func buildCipher(cfg *config.Config) (*crypto.Cipher, error) {
	if cfg.AESKeyB64 != "" || cfg.AESIVB64 != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.AESKeyB64)
		if err != nil {
			return nil, fmt.Errorf("AES_KEY is not valid base64: %w", err)
		}
		iv, err := base64.StdEncoding.DecodeString(cfg.AESIVB64)
		if err != nil {
			return nil, fmt.Errorf("AES_IV is not valid base64: %w", err)
		}
		return crypto.New(key, iv)
	}
	return crypto.NewFromSecret(cfg.KeySecret)
}

// buildSource selects the completion provider.
func buildSource(cfg *config.Config) completion.Source {
	switch cfg.CompletionProvider {
	case "anthropic":
		return completion.NewAnthropicSource(func(o *completion.AnthropicOptions) {
			if cfg.CompletionModel != "" {
				o.Model = anthropic.Model(cfg.CompletionModel)
			}
		})
	default:
		return completion.NewOpenAISource(func(o *completion.OpenAIOptions) {
			if cfg.CompletionModel != "" {
				o.Model = cfg.CompletionModel
			}
		})
	}
}

func redisURLOrDefault(cfg *config.Config) string {
	if cfg.RedisURL != "" {
		return cfg.RedisURL
	}
	return "redis://localhost:6379/0"
}
