package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"crowdloc/internal/auth"
	"crowdloc/internal/config"
	"crowdloc/internal/handler"
	"crowdloc/internal/langs"
	"crowdloc/internal/middleware"
	"crowdloc/internal/notify"
	"crowdloc/internal/repository/blobfs"
	"crowdloc/internal/repository/postgres"
	"crowdloc/internal/service"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logOut := io.Writer(os.Stdout)
	if cfg.Debug {
		logFile, err := config.SetupLogFile("logs", 10)
		if err != nil {
			log.Printf("warning: log file setup failed: %v", err)
		} else {
			defer logFile.Close()
			logOut = io.MultiWriter(os.Stdout, logFile)
		}
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger) // Set as default logger

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Provider-issued tokens (browser sessions) verify against the JWKS;
	// device-linked tokens verify against the local HS256 issuer. Both
	// ride the same middleware via the chain.
	jwksVerifier, err := auth.NewJWKSVerifier(cfg.JWKSURL, logger)
	if err != nil {
		log.Fatalf("Failed to create JWKS verifier: %v", err)
	}
	defer jwksVerifier.Close()

	issuer, err := auth.NewHSIssuer(cfg.DeviceTokenSecret, "crowdloc")
	if err != nil {
		log.Fatalf("Failed to create token issuer: %v", err)
	}
	verifier := auth.ChainVerifier{jwksVerifier, issuer}

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	translationRepo := postgres.NewTranslationRepository(repoConfig)
	voteRepo := postgres.NewVoteRepository(repoConfig)
	deviceCodeRepo := postgres.NewDeviceCodeRepository(repoConfig)
	mergeTokenRepo := postgres.NewMergeTokenRepository(repoConfig)
	userDirectory := postgres.NewUserDirectory(repoConfig)
	auditLog := postgres.NewAuditLog(repoConfig)
	txManager := postgres.NewTransactionManager(pool)

	// Content blob store
	blobs, err := blobfs.New(cfg.BlobDir)
	if err != nil {
		log.Fatalf("Failed to create blob store: %v", err)
	}

	// Change-notification bus (version counters + pg_notify)
	bus := notify.NewPostgresBus(pool, cfg.TablePrefix, logger)

	// Language catalog
	catalog, err := langs.Load()
	if err != nil {
		log.Fatalf("Failed to load language catalog: %v", err)
	}

	// Create services
	translationService := service.NewTranslationService(translationRepo, blobs, userDirectory, auditLog, bus, catalog, logger)
	voteService := service.NewVoteService(translationRepo, voteRepo, txManager, bus, logger)
	mergeService := service.NewMergeService(translationRepo, mergeTokenRepo, blobs, auditLog, bus, logger)
	syncService := service.NewSyncService(translationRepo, userDirectory, logger)
	deviceLinkService := service.NewDeviceLinkService(deviceCodeRepo, issuer, bus, logger)

	// Create handlers
	translationHandler := handler.NewTranslationHandler(translationService, voteService, logger)
	mergeHandler := handler.NewMergeHandler(mergeService, logger)
	previewHandler := handler.NewPreviewHandler(mergeService, logger)
	deviceHandler := handler.NewDeviceHandler(deviceLinkService, logger)
	syncHandler := handler.NewSyncHandler(syncService, logger)
	streamHandler := handler.NewStreamHandler(deviceLinkService, syncService, bus, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.Health)

	// Translation routes
	mux.HandleFunc("POST /api/translations", translationHandler.Upload)
	mux.HandleFunc("GET /api/translations", translationHandler.List)
	mux.HandleFunc("GET /api/translations/{id}", translationHandler.Get)
	mux.HandleFunc("PATCH /api/translations/{id}", translationHandler.SetStatus)
	mux.HandleFunc("DELETE /api/translations/{id}", translationHandler.Delete)
	mux.HandleFunc("GET /api/translations/{id}/content", translationHandler.Content)
	mux.HandleFunc("POST /api/translations/{id}/fork", translationHandler.Fork)
	mux.HandleFunc("POST /api/translations/{id}/vote", translationHandler.Vote)

	// Merge routes
	mux.HandleFunc("GET /api/translations/{id}/merge", mergeHandler.Rows)
	mux.HandleFunc("POST /api/translations/{id}/merge", mergeHandler.Apply)

	// Preview routes
	mux.HandleFunc("POST /api/translations/{id}/preview", previewHandler.Preview)
	mux.HandleFunc("POST /api/translations/{id}/preview/apply", previewHandler.Apply)
	mux.HandleFunc("POST /api/preview-tokens", previewHandler.MintToken)
	mux.HandleFunc("POST /api/preview-tokens/{token}/redeem", previewHandler.RedeemToken)
	mux.HandleFunc("GET /api/preview-tokens/{token}/stream", streamHandler.MergeCompletion)

	// Device-link routes
	mux.HandleFunc("POST /api/device/code", deviceHandler.CreateCode)
	mux.HandleFunc("POST /api/device/authorize", deviceHandler.Authorize)
	mux.HandleFunc("GET /api/device/stream", streamHandler.DeviceLink)

	// Lineage routes
	mux.HandleFunc("GET /api/lineages/{uuid}/sync", syncHandler.State)
	mux.HandleFunc("GET /api/lineages/{uuid}/stream", streamHandler.DocumentSync)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	root = middleware.Auth(verifier, logger)(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
