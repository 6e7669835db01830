package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"pictocache/internal/config"
	"pictocache/internal/database"
	"pictocache/internal/handlers"
	"pictocache/internal/jobs"
	"pictocache/internal/logging"
	"pictocache/internal/middleware"
	"pictocache/internal/services"
	"pictocache/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting pictocache server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Pictogram tables are re-checked on every request, so a failure here
	// only means we start remote-only
	if err := db.Initialize(); err != nil {
		log.Printf("⚠️  Database initialization incomplete: %v (pictograms will be served remote-only)", err)
	}

	// Process-wide activity clock shared by the middleware, prefetcher and metrics
	clock := services.NewActivityClock()
	services.InitMetrics(clock)

	// Pictogram engine
	origin := services.NewOriginClient(cfg.Pictograms)
	assets := services.NewAssetMaterializer(origin, cfg.Pictograms)
	store := services.NewPictogramStore(db, cfg.Pictograms)
	pictogramService := services.NewPictogramService(store, origin, assets, cfg.Pictograms)
	bookmarkService := services.NewBookmarkService(db, cfg.Pictograms)
	prefetchService := services.NewPrefetchService(db, pictogramService, assets, clock, cfg.Pictograms)
	log.Printf("🖼️  Pictogram origin: %s (assets in %s served at %s)",
		cfg.Pictograms.APIBase, cfg.Pictograms.AssetDir, cfg.Pictograms.PublicPrefix)

	// Redis is optional - only needed when several instances share one database
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable: %v (prefetch runs without cross-instance lock)", err)
		} else {
			defer redisService.Close()
			prefetchService.SetLocker(redisService)
			log.Printf("🔐 Prefetch lock enabled (instance %s)", redisService.InstanceID())
		}
	}

	// Restore seeded card assets removed from disk before serving traffic
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := prefetchService.HydrateSeededAssets(ctx); err != nil {
			log.Printf("⚠️  Seeded pictogram hydration failed: %v", err)
		} else if n > 0 {
			log.Printf("✅ Hydrated %d seeded pictogram assets", n)
		}
	}()

	// JWT verification for user-scoped routes
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ JWT authentication enabled")
	} else {
		log.Println("⚠️  JWT_SECRET not set - authentication bypassed (development mode only)")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:        "pictocache v1.0",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second, // search may materialize several assets on a miss
		IdleTimeout:    120 * time.Second,
		BodyLimit:      1 * 1024 * 1024,
		ReadBufferSize: 16384,
		UnescapePath:   true, // Decode URL-encoded path parameters (search queries)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("pictocache")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig, err := config.LoadRateLimitConfig(cfg.Environment)
	if err != nil {
		log.Fatalf("❌ Invalid rate limit configuration: %v", err)
	}
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/%v, PictogramSearch=%d/%v",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.GlobalAPIExpiration,
		rateLimitConfig.PictogramSearchMax, rateLimitConfig.PictogramSearchExpiration)

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins.
	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	// Global API rate limiter - first line of DDoS defense
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, clock, prefetchService, redisService)
	pictogramHandler := handlers.NewPictogramHandler(pictogramService)
	savedHandler := handlers.NewSavedPictogramHandler(bookmarkService)
	prefetchAdminHandler := handlers.NewPrefetchAdminHandler(prefetchService)

	app.Get("/health", healthHandler.Handle)

	// Materialized pictogram assets
	app.Static(cfg.Pictograms.PublicPrefix, cfg.Pictograms.AssetDir, fiber.Static{
		Compress:      true,
		CacheDuration: 24 * time.Hour,
		MaxAge:        86400,
	})

	// Every authenticated pictogram request counts as foreground activity
	api := app.Group("/api")
	pictograms := api.Group("/pictograms",
		middleware.LocalAuthMiddleware(jwtAuth),
		middleware.MarkActivity(clock),
	)

	lookupLimiter := middleware.PictogramSearchRateLimiter(rateLimitConfig)
	pictograms.Get("/search/:language/:query", lookupLimiter, pictogramHandler.Search)
	pictograms.Get("/:language/id/:id", lookupLimiter, pictogramHandler.GetByID)
	pictograms.Get("/new", pictogramHandler.GetNewest)
	pictograms.Get("/keywords", pictogramHandler.GetKeywords)

	pictograms.Get("/saved", savedHandler.List)
	pictograms.Post("/saved", savedHandler.Save)
	pictograms.Get("/saved/ids", savedHandler.IDs)
	pictograms.Delete("/saved/:id", savedHandler.Unsave)
	pictograms.Post("/saved/:id/use", savedHandler.RecordUse)

	// Admin prefetch controls do not count as activity
	admin := api.Group("/admin", middleware.LocalAuthMiddleware(jwtAuth), middleware.AdminMiddleware(cfg))
	admin.Get("/pictograms/prefetch", prefetchAdminHandler.GetSettings)
	admin.Put("/pictograms/prefetch", prefetchAdminHandler.UpdateSettings)
	admin.Post("/pictograms/prefetch/run", prefetchAdminHandler.RunNow)

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}

	interval := cfg.Pictograms.PrefetchInterval()
	if err := jobScheduler.Register("pictogram_prefetch", jobs.NewPictogramPrefetchJob(prefetchService, interval)); err != nil {
		log.Fatalf("❌ Failed to register prefetch job: %v", err)
	}

	if cfg.Pictograms.HydrateCron != "" {
		hydrationJob, err := jobs.NewSeededAssetHydrationJob(prefetchService, cfg.Pictograms.HydrateCron)
		if err != nil {
			log.Printf("⚠️  Seeded asset hydration job disabled: %v", err)
		} else if err := jobScheduler.Register("seeded_asset_hydration", hydrationJob); err != nil {
			log.Printf("⚠️  Failed to register hydration job: %v", err)
		}
	}

	jobScheduler.Start()

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: pictogram prefetch (every %v), seeded asset hydration (%s)", interval, cfg.Pictograms.HydrateCron)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop background jobs
		jobScheduler.Stop()

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
