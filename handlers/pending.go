package handlers

import (
	"padel-roster-system/middleware"
	"padel-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPendingRoutes(app *fiber.App, pendingService *services.PendingService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Quarantine review queue
	secured.Get("/pending", pendingService.ListPending)
	secured.Post("/pending/:id/approve", pendingService.ApprovePending)
	secured.Post("/pending/:id/reject", pendingService.RejectPending)
	secured.Post("/pending/:id/snooze", pendingService.SnoozePending)
	secured.Post("/pending/:id/expire", pendingService.ExpirePending)
}
