package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"playtrack/internal/config"
	"playtrack/internal/database"
	"playtrack/internal/handlers"
	"playtrack/internal/logging"
	"playtrack/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Playtrack Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabasePath)

	// Initialize SQLite database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	// Lifecycle engine and metrics
	engine := services.NewRegressionService(db)
	engine.SetMetrics(services.InitMetrics())

	// Optional Redis alert fan-out
	var publisher *services.AlertPublisher
	if cfg.RedisURL != "" {
		publisher, err = services.NewAlertPublisher(cfg.RedisURL, cfg.AlertChannel)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (alert fan-out disabled)", err)
		} else {
			defer publisher.Close()
			engine.SetAlertSink(publisher)
		}
	}

	// Optional upstream session source + poller
	var source services.SessionSource
	var poller *services.PollerService
	if cfg.SessionSourceURL != "" {
		source = services.NewHTTPSessionSource(cfg.SessionSourceURL)
		poller, err = services.NewPollerService(source, engine, services.NewSessionStore(db), cfg.PollInterval)
		if err != nil {
			log.Fatalf("❌ Failed to create session poller: %v", err)
		}
		if err := poller.Start(); err != nil {
			log.Fatalf("❌ Failed to start session poller: %v", err)
		}
	} else {
		log.Println("⚠️  SESSION_SOURCE_URL not set, push-only ingestion")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "Playtrack v1.0",
		BodyLimit: 10 * 1024 * 1024, // sessions with thousands of findings
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("playtrack")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db)
	regressionHandler := handlers.NewRegressionHandler(engine, source)

	// Routes
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")
	api.Get("/sessions", regressionHandler.ListSessions)
	api.Post("/sessions/process", regressionHandler.ProcessSession)
	api.Post("/sessions/:id/process", regressionHandler.ProcessFromSource)
	api.Get("/fingerprints", regressionHandler.ListFingerprints)
	api.Get("/fingerprints/:id/occurrences", regressionHandler.ListOccurrences)
	api.Post("/fingerprints/:id/resolve", regressionHandler.MarkResolved)
	api.Get("/alerts", regressionHandler.ListAlerts)
	api.Get("/alerts/active", regressionHandler.ListActiveAlerts)
	api.Post("/alerts/:id/dismiss", regressionHandler.DismissAlert)
	api.Get("/stats", regressionHandler.GetStats)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("🛑 Received signal %v, shutting down...", sig)

		if poller != nil {
			if err := poller.Stop(); err != nil {
				log.Printf("⚠️ Failed to stop poller: %v", err)
			}
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Failed to shut down server: %v", err)
		}
	}()

	log.Printf("🌐 Server listening on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}
