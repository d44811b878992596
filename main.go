package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"padel-roster-system/handlers"
	"padel-roster-system/middleware"
	"padel-roster-system/models"
	"padel-roster-system/services"
	"padel-roster-system/utils"
	"padel-roster-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, reading environment variables directly")
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logrus.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}

	if err := db.AutoMigrate(
		&models.Tournament{},
		&models.Player{},
		&models.PlayerAlias{},
		&models.Entry{},
		&models.PendingEntry{},
		&models.SyncRun{},
	); err != nil {
		logrus.WithError(err).Fatal("failed to migrate database")
	}

	archiveSnapshots := strings.EqualFold(os.Getenv("SNAPSHOT_ARCHIVE_ENABLED"), "true")
	if archiveSnapshots {
		if err := utils.InitR2(); err != nil {
			logrus.WithError(err).Fatal("failed to initialize R2 client")
		}
	}

	identityService := services.NewIdentityService()
	pairService := services.NewPairService(db)
	syncService := services.NewSyncService(db, identityService, pairService)
	pendingService := services.NewPendingService(db)
	entryService := services.NewEntryService(db, pairService)
	notificationService := services.NewNotificationService(db)

	if os.Getenv("YOOKASSA_SHOP_ID") != "" {
		entryService.Payments = services.NewYookassaClient()
		logrus.Info("Payment gateway client configured")
	} else {
		logrus.Info("YOOKASSA_SHOP_ID not set — payment initiation disabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // 10MB — JSON only, no uploads
	})

	// 🔓 Mounted before gateway auth: the payment provider and the
	// monitoring checks do not hold the service token.
	handlers.SetupWebhookRoutes(app, entryService)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/db-check", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"status": "down", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 🔐 Everything below must come from the Gateway
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	interval := 10 * time.Minute
	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			interval = d
		} else {
			logrus.WithField("value", raw).Warn("Invalid SYNC_INTERVAL, using default")
		}
	}

	sourceURL := os.Getenv("ROSTER_SOURCE_URL")
	sourcePath := os.Getenv("ROSTER_SOURCE_PATH")
	if sourceURL == "" && sourcePath == "" {
		logrus.Fatal("neither ROSTER_SOURCE_URL nor ROSTER_SOURCE_PATH is set")
	}

	rosterWorker := workers.NewRosterSyncWorker(syncService, sourceURL, sourcePath, interval, archiveSnapshots)
	syncService.Trigger = rosterWorker.RunOnce

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rosterWorker.Start(ctx)
	pendingService.StartMaintenanceScheduler()

	handlers.SetupSyncRoutes(app, syncService)
	handlers.SetupPendingRoutes(app, pendingService)
	handlers.SetupEntryRoutes(app, entryService, notificationService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			logrus.WithError(err).Error("Server error")
		}
	}()

	logrus.Info("✅ Server running on http://localhost:5300")
	logrus.WithField("interval", interval).Info("✅ Roster sync worker running")
	logrus.Info("✅ GatewayAuthMiddleware enforced — only webhook and health checks are public")

	<-ctx.Done()
	logrus.Info("Shutting down server...")
	_ = app.Shutdown()
}
