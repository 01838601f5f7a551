package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	backendconfig "github.com/pharaohsoft/nileswap/backend/config"
	"github.com/pharaohsoft/nileswap/backend/handlers"
	"github.com/pharaohsoft/nileswap/backend/middleware"
	"github.com/pharaohsoft/nileswap/nileswap"
	"github.com/pharaohsoft/nileswap/nileswap/database"
	"github.com/pharaohsoft/nileswap/nileswap/database/repositories"
	"github.com/pharaohsoft/nileswap/nileswap/logger"
	"github.com/pharaohsoft/nileswap/nileswap/services"
	"github.com/pharaohsoft/nileswap/nileswap/swap"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Initialize custom logger
	customHandler := logger.NewHandler("nileswap")
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting NileSwap exchange",
		slog.String("version", version),
		slog.String("commit", commit))

	_ = godotenv.Load()

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := nileswap.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dbConfig := database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	}

	db, err := database.New(ctx, dbConfig)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	slog.Info("Initializing database schema...")
	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	// Initialize Spaces service for card art URLs
	spacesService, err := services.NewSpacesService(
		cfg.Spaces.Key,
		cfg.Spaces.Secret,
		cfg.Spaces.Region,
		cfg.Spaces.Bucket,
		cfg.Spaces.CardRoot,
	)
	if err != nil {
		slog.Error("Failed to initialize Spaces service", slog.Any("error", err))
		os.Exit(-1)
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := spacesService.Ping(pingCtx); err != nil {
		// Card art degrades to placeholders; the exchange itself still works.
		slog.Warn("Spaces bucket unreachable, card images will be missing",
			slog.String("bucket", spacesService.GetBucket()),
			slog.Any("error", err))
	}
	pingCancel()

	// Initialize repositories
	offerRepo := repositories.NewOfferRepository(db.BunDB())
	instanceRepo := repositories.NewInstanceRepository(db.BunDB())
	tradeRepo := repositories.NewTradeRecordRepository(db.BunDB())
	reconRepo := repositories.NewReconciliationRepository(db.BunDB())
	cardRepo := repositories.NewCardRepository(db.BunDB())

	registry, err := services.NewCardRegistry(cardRepo, spacesService, cfg.Market.CardCacheSize)
	if err != nil {
		slog.Error("Failed to initialize card registry", slog.Any("error", err))
		os.Exit(-1)
	}
	activity := services.NewActivityLogger(db.BunDB())
	sessions := services.NewSessionService(db.BunDB())

	executor := swap.NewExecutor(offerRepo, instanceRepo, tradeRepo, reconRepo, registry, activity)
	market := swap.NewMarket(offerRepo, registry)

	reconciler := services.NewReconciler(db, reconRepo)
	if err := reconciler.Start(time.Duration(cfg.Market.ReconcileIntervalMinutes) * time.Minute); err != nil {
		slog.Error("Failed to start reconciler", slog.Any("error", err))
		os.Exit(-1)
	}
	defer reconciler.Stop()

	webCfg := backendconfig.FromApp(cfg)

	app := fiber.New(fiber.Config{
		AppName:               "nileswap",
		DisableStartupMessage: !webCfg.Debug,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: joinOrigins(webCfg.AllowedOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, X-Session-Token",
	}))
	app.Use(middleware.LoggingMiddleware())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("db unreachable")
		}
		return c.SendString("ok")
	})

	swapHandlers := handlers.NewSwapHandlers(executor, market, instanceRepo, tradeRepo, registry)
	swapHandlers.Register(app, sessions)

	go func() {
		if err := app.Listen(webCfg.Addr); err != nil {
			slog.Error("HTTP server stopped",
				slog.String("type", "http"),
				slog.Any("error", err))
			os.Exit(-1)
		}
	}()

	logger.LogSystem("Exchange is running. Press CTRL-C to exit.",
		slog.String("addr", webCfg.Addr))
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	logger.LogSystem("Shutting down exchange...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.LogError("Graceful shutdown failed", err)
	}
}

func joinOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	out := origins[0]
	for _, o := range origins[1:] {
		out += ", " + o
	}
	return out
}
