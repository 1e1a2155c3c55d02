// Copyright 2026 The Veridian Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridian/veridian/internal/audit"
	"github.com/veridian/veridian/internal/config"
	"github.com/veridian/veridian/internal/identity"
	"github.com/veridian/veridian/internal/mailer"
	"github.com/veridian/veridian/internal/oauth2"
	"github.com/veridian/veridian/internal/observability/logger"
	"github.com/veridian/veridian/internal/observability/metrics"
	"github.com/veridian/veridian/internal/observability/tracing"
	"github.com/veridian/veridian/internal/oidc"
	"github.com/veridian/veridian/internal/session"
	"github.com/veridian/veridian/internal/store/postgres"
	redisstore "github.com/veridian/veridian/internal/store/redis"
	"github.com/veridian/veridian/internal/token"
	transportHTTP "github.com/veridian/veridian/internal/transport/http"

	_ "github.com/veridian/veridian/docs" // generated swagger spec
)

// mailQueueSize bounds the outgoing mail buffer; registrations beyond it
// fall back to the resend flow rather than blocking.
const mailQueueSize = 64

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Observability.ServiceName,
	})
	slog.Info("starting veridian identity provider")

	// Phase: CLI Commands
	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracing
	stopTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:        cfg.Observability.OTELEnabled,
		Service:        cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SampleRatio:    1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", logger.Err(err))
		stopTracing = func(context.Context) error { return nil }
	}
	defer stopTracing(ctx)

	// Protocol metric instruments; nil (and therefore no-op) when OTel
	// is off.
	var flow *metrics.Flow
	if cfg.Observability.OTELEnabled {
		flow, err = metrics.NewFlow(cfg.Observability.ServiceName)
		if err != nil {
			slog.Error("failed to initialize protocol metrics", logger.Err(err))
		}
	}

	// Initialize database (durable state: users, credentials, sessions,
	// client registry)
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		slog.Error("failed to connect to database", logger.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize grant store (ephemeral protocol state: codes, refresh
	// tokens, blacklist, parked authorize requests, verification tokens)
	grantStore, err := redisstore.New(ctx, redisConfig(cfg))
	if err != nil {
		slog.Error("failed to connect to grant store", logger.Err(err))
		os.Exit(1)
	}
	defer grantStore.Close()
	slog.Info("connected to grant store")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	storeSessionRepo := postgres.NewSessionRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	codeRepo := redisstore.NewCodeRepository(grantStore)
	refreshRepo := redisstore.NewRefreshTokenRepository(grantStore)
	blacklistRepo := redisstore.NewBlacklistRepository(grantStore)
	contextRepo := redisstore.NewContextRepository(grantStore, cfg.Token.AuthCodeTTL)
	verificationRepo := redisstore.NewVerificationRepository(grantStore)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	signer := token.NewSigner([]byte(cfg.Token.SigningKey), cfg.Token.ClockSkew)

	// Outgoing mail: deliveries run on a background queue so a slow
	// provider never stalls a request.
	outbox := mailer.NewAsyncMailer(mailer.NewLogMailer(), mailQueueSize)
	defer outbox.Close()
	verificationMailer := mailer.NewVerificationSender(outbox, cfg.Issuer.URL)

	// Initialize services
	identityService := identity.NewService(
		userRepo,
		verificationRepo,
		verificationMailer,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
		cfg.Token.EmailVerificationTTL,
	)
	sessionService := session.NewService(storeSessionRepo, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	oidcService := oidc.NewService(cfg.Issuer.URL, signer, cfg.Token.IDTokenLifetime)

	oauth2Service := oauth2.NewService(
		clientRepo,
		codeRepo,
		refreshRepo,
		blacklistRepo,
		contextRepo,
		identityService,
		passwordHasher,
		signer,
		oidcService,
		auditLogger,
		oauth2.Config{
			AuthCodeTTL:      cfg.Token.AuthCodeTTL,
			AccessTokenTTL:   cfg.Token.AccessTokenLifetime,
			RefreshTokenTTL:  cfg.Token.RefreshTokenLifetime,
			IDTokenOnRefresh: cfg.Token.IDTokenOnRefresh,
		},
	)

	// Run Bootstrap (ENV driven). A missing bootstrap env is not an
	// error; an explicit one that fails is logged but does not stop the
	// server, so a crash-looping deployment can still serve logins.
	bootstrapService := identity.NewBootstrapService(identityService, auditLogger)
	if err := bootstrapService.Bootstrap(ctx); err != nil {
		slog.Error("bootstrap failed", logger.Err(err))
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Configure SameSite mode
	sameSite := http.SameSiteLaxMode
	switch cfg.Session.CookieSameSite {
	case "Strict":
		sameSite = http.SameSiteStrictMode
	case "None":
		sameSite = http.SameSiteNoneMode
	}

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		identityService,
		sessionService,
		oauth2Service,
		oidcService,
		auditLogger,
		flow,
		db,
		grantStore,
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: sameSite,
			CookieMaxAge:   int(cfg.Session.Lifetime.Seconds()),
		},
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			purged, err := sessionService.CleanupExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Err(err))
				continue
			}
			if purged > 0 {
				slog.InfoContext(ctx, "purged expired sessions", "count", purged)
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Err(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Err(err))
	}

	slog.Info("server stopped")
}

// dbConfig maps the environment configuration onto database pool settings.
func dbConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

// redisConfig maps the environment configuration onto grant store settings.
func redisConfig(cfg *config.Config) redisstore.Config {
	return redisstore.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}
}

func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	grantStore, err := redisstore.New(ctx, redisConfig(cfg))
	if err != nil {
		return err
	}
	defer grantStore.Close()

	userRepo := postgres.NewUserRepository(db)
	verificationRepo := redisstore.NewVerificationRepository(grantStore)
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	verificationMailer := mailer.NewVerificationSender(mailer.NewLogMailer(), cfg.Issuer.URL)

	identityService := identity.NewService(
		userRepo,
		verificationRepo,
		verificationMailer,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
		cfg.Token.EmailVerificationTTL,
	)

	return identity.NewBootstrapService(identityService, auditLogger).Bootstrap(ctx)
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
