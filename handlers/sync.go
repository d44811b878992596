package handlers

import (
	"padel-roster-system/middleware"
	"padel-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupSyncRoutes(app *fiber.App, syncService *services.SyncService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Manual trigger and run telemetry for the admin UI / monitoring
	secured.Post("/sync/run", syncService.TriggerRun)
	secured.Get("/sync/runs", syncService.ListRuns)
	secured.Get("/sync/runs/latest", syncService.GetLatestRun)
}
