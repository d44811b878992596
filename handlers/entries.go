package handlers

import (
	"padel-roster-system/middleware"
	"padel-roster-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupWebhookRoutes registers the payment gateway callback. It must be
// mounted before GatewayAuthMiddleware: the payment provider does not
// hold the gateway service token, the callback is authenticated by the
// payment id lookup instead.
func SetupWebhookRoutes(app *fiber.App, entryService *services.EntryService) {
	app.Post("/webhooks/yookassa", entryService.PaymentWebhook)
}

func SetupEntryRoutes(app *fiber.App, entryService *services.EntryService, notificationService *services.NotificationService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	// Tournaments and rosters
	secured.Get("/tournaments", entryService.ListTournaments)
	secured.Get("/tournaments/:id", entryService.GetTournamentRoster)
	secured.Post("/tournaments/:id/unarchive", entryService.ClearArchive)

	// Entry payment administration
	secured.Post("/entries/:id/pay", entryService.InitiatePayment)
	secured.Post("/entries/:id/paid", entryService.MarkEntryPaid)
	secured.Post("/entries/:id/pair", entryService.LinkPairPayment)
	secured.Delete("/entries/:id", entryService.DeleteEntry)

	// Delivery outbox for the Telegram bot
	secured.Get("/notifications/outbox", notificationService.GetOutbox)
	secured.Post("/notifications/entries/:id/ack", notificationService.AckEntry)
	secured.Post("/notifications/pending/:id/ack", notificationService.AckPending)
}
