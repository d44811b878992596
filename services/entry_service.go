package services

import (
	"errors"
	"time"

	"padel-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EntryService carries the administrative commands on entries and
// tournaments: manual payments, overrides, roster views and the payment
// gateway webhook intake.
type EntryService struct {
	DB    *gorm.DB
	Pairs *PairService

	// Payments is set in main when the gateway is configured; nil keeps
	// the payment initiation endpoint disabled.
	Payments PaymentGateway
}

func NewEntryService(db *gorm.DB, pairs *PairService) *EntryService {
	return &EntryService{DB: db, Pairs: pairs}
}

// GetTournamentRoster returns a tournament with its roster and payment
// state — the main admin UI view.
func (s *EntryService) GetTournamentRoster(c *fiber.Ctx) error {
	id := c.Params("id")

	var tournament models.Tournament
	if err := s.DB.Preload("Entries.Player").First(&tournament, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		logrus.WithError(err).Error("[ENTRIES] Failed to load tournament roster")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(tournament)
}

// ListTournaments returns tournaments for the admin list view. Archived
// ones are included only on request.
func (s *EntryService) ListTournaments(c *fiber.Ctx) error {
	q := s.DB.Order("starts_at DESC")
	if c.Query("include_archived") != "true" {
		q = q.Where("archived_at IS NULL")
	}
	var tournaments []models.Tournament
	if err := q.Find(&tournaments).Error; err != nil {
		logrus.WithError(err).Error("[ENTRIES] Failed to list tournaments")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"tournaments": tournaments, "count": len(tournaments)})
}

// InitiatePayment creates a gateway payment for an entry and stores the
// payment id and the confirmation URL the player is redirected to. The
// webhook settles the payment later by that id. Repeat calls return the
// already-created payment instead of opening a second one.
func (s *EntryService) InitiatePayment(c *fiber.Ctx) error {
	if s.Payments == nil {
		return c.Status(503).JSON(fiber.Map{"error": "payment gateway not configured"})
	}
	entryID := c.Params("id")

	var req struct {
		AmountRub int `json:"amount_rub"`
	}
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}

	var entry models.Entry
	if err := s.DB.First(&entry, "id = ?", entryID).Error; err != nil {
		return entryActionError(c, entryID, err)
	}
	if entry.Paid() {
		return c.Status(409).JSON(fiber.Map{"error": "entry is already paid"})
	}
	if entry.PaymentID != "" && entry.ConfirmationURL != "" {
		return c.JSON(fiber.Map{
			"entry_id":         entry.ID,
			"payment_id":       entry.PaymentID,
			"confirmation_url": entry.ConfirmationURL,
		})
	}

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", entry.TournamentID).Error; err != nil {
		return entryActionError(c, entryID, err)
	}

	amount := req.AmountRub
	if amount <= 0 {
		amount = tournament.PriceRub
	}
	if amount <= 0 {
		return c.Status(400).JSON(fiber.Map{"error": "no payment amount known for this tournament"})
	}

	// The entry id doubles as the idempotence key: a retried request
	// never opens a second payment with the provider.
	paymentID, confirmationURL, err := s.Payments.CreatePayment(c.Context(), amount, tournament.Title, entry.ID)
	if err != nil {
		logrus.WithError(err).WithField("entry_id", entryID).Error("[ENTRIES] Payment creation failed")
		return c.Status(502).JSON(fiber.Map{"error": "payment provider error"})
	}

	if err := s.DB.Model(&entry).Updates(map[string]interface{}{
		"payment_id":         paymentID,
		"confirmation_url":   confirmationURL,
		"payment_amount_rub": amount,
	}).Error; err != nil {
		logrus.WithError(err).WithField("entry_id", entryID).Error("[ENTRIES] Failed to store payment details")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	return c.JSON(fiber.Map{
		"entry_id":         entry.ID,
		"payment_id":       paymentID,
		"confirmation_url": confirmationURL,
		"amount_rub":       amount,
	})
}

// MarkEntryPaid records a manual payment that bypassed the gateway. With
// scope=pair and a partner entry it also links the pair.
func (s *EntryService) MarkEntryPaid(c *fiber.Ctx) error {
	entryID := c.Params("id")

	var req struct {
		Note           string `json:"note"`
		PaymentScope   string `json:"payment_scope"`
		PartnerEntryID string `json:"partner_entry_id"`
	}
	if err := c.BodyParser(&req); err != nil && !errors.Is(err, fiber.ErrUnprocessableEntity) {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PaymentScope == models.ScopePair && req.PartnerEntryID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "partner_entry_id is required for pair scope"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.Entry
		if err := tx.First(&entry, "id = ?", entryID).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"payment_status":   models.PaymentPaid,
			"manual_paid":      true,
			"manual_paid_note": req.Note,
		}
		if entry.PaidAt == nil {
			updates["paid_at"] = &now
		}
		if err := tx.Model(&entry).Updates(updates).Error; err != nil {
			return err
		}
		if req.PaymentScope == models.ScopePair {
			return s.Pairs.Link(tx, entryID, req.PartnerEntryID)
		}
		return nil
	})
	if err != nil {
		return entryActionError(c, entryID, err)
	}
	return c.JSON(fiber.Map{"entry_id": entryID, "payment_status": models.PaymentPaid, "manual_paid": true})
}

// DeleteEntry is the administrative override, distinct from automatic
// deactivation. Any pair link is dissolved first so the partner row is
// not left pointing at a ghost.
func (s *EntryService) DeleteEntry(c *fiber.Ctx) error {
	entryID := c.Params("id")

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.Entry
		if err := tx.First(&entry, "id = ?", entryID).Error; err != nil {
			return err
		}
		if err := s.Pairs.Unlink(tx, entryID); err != nil {
			return err
		}
		return tx.Delete(&models.Entry{}, "id = ?", entryID).Error
	})
	if err != nil {
		return entryActionError(c, entryID, err)
	}
	return c.JSON(fiber.Map{"deleted": true, "entry_id": entryID})
}

// LinkPairPayment records that one entry's payment covers a partner's
// slot in a team tournament.
func (s *EntryService) LinkPairPayment(c *fiber.Ctx) error {
	entryID := c.Params("id")

	var req struct {
		PartnerEntryID string `json:"partner_entry_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PartnerEntryID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "partner_entry_id is required"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		return s.Pairs.Link(tx, entryID, req.PartnerEntryID)
	})
	if err != nil {
		return entryActionError(c, entryID, err)
	}
	return c.JSON(fiber.Map{"entry_id": entryID, "paid_for_entry_id": req.PartnerEntryID})
}

// ClearArchive is the one administrative action that revives an archived
// tournament; the sync engine itself never un-archives.
func (s *EntryService) ClearArchive(c *fiber.Ctx) error {
	id := c.Params("id")

	var tournament models.Tournament
	if err := s.DB.First(&tournament, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if !tournament.Archived() {
		return c.Status(400).JSON(fiber.Map{"error": "tournament is not archived"})
	}

	if err := s.DB.Model(&tournament).Updates(map[string]interface{}{
		"archived_at": nil,
		"active":      true,
	}).Error; err != nil {
		logrus.WithError(err).Error("[ENTRIES] Failed to clear archive flag")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"tournament_id": id, "archived": false})
}

// PaymentWebhook consumes gateway callbacks. Only payment.succeeded is
// acted on; the entry is located by the gateway payment id.
func (s *EntryService) PaymentWebhook(c *fiber.Ctx) error {
	var payload struct {
		Event  string `json:"event"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"ok": false, "error": "invalid JSON"})
	}
	if payload.Event != "payment.succeeded" || payload.Object.ID == "" {
		return c.JSON(fiber.Map{"ok": true})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.Entry
		if err := tx.First(&entry, "payment_id = ?", payload.Object.ID).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&entry).Updates(map[string]interface{}{
			"payment_status": models.PaymentPaid,
			"paid_at":        &now,
		}).Error; err != nil {
			return err
		}
		// A pair payment settles both slots.
		if entry.PaymentScope == models.ScopePair && entry.PaidForEntryID != nil {
			return tx.Model(&models.Entry{}).Where("id = ?", *entry.PaidForEntryID).Updates(map[string]interface{}{
				"payment_status": models.PaymentPaid,
				"paid_at":        &now,
			}).Error
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown payment id: acknowledge so the gateway stops retrying.
			logrus.WithField("payment_id", payload.Object.ID).Warn("[WEBHOOK] Payment for unknown entry")
			return c.JSON(fiber.Map{"ok": true})
		}
		logrus.WithError(err).Error("[WEBHOOK] Failed to apply payment")
		return c.Status(500).JSON(fiber.Map{"ok": false, "error": "database error"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

func entryActionError(c *fiber.Ctx, entryID string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "entry not found"})
	case errors.Is(err, ErrAlreadyPaired),
		errors.Is(err, ErrNotTeamFormat),
		errors.Is(err, ErrDifferentRosters),
		errors.Is(err, ErrSelfPair):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("entry_id", entryID).Error("[ENTRIES] Action failed")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
}
