package services

import (
	"errors"

	"padel-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationService exposes the "needs a message" outbox to the
// Telegram delivery channel: new unpaid roster slots and fresh
// quarantine items waiting for an admin. Delivery itself lives outside
// this service; it only reads state and flips the notified flags.
type NotificationService struct {
	DB *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{DB: db}
}

// GetOutbox lists everything whose notified flag is unset and whose
// state warrants a message.
func (s *NotificationService) GetOutbox(c *fiber.Ctx) error {
	var entries []models.Entry
	if err := s.DB.Preload("Player").
		Where("telegram_notified = ? AND active = ? AND payment_status = ?",
			false, true, models.PaymentPending).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		logrus.WithError(err).Error("[NOTIFY] Failed to load entry outbox")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	var pending []models.PendingEntry
	if err := s.DB.
		Where("notified_at IS NULL AND status = ?", models.PendingStatusPending).
		Order("created_at ASC").
		Find(&pending).Error; err != nil {
		logrus.WithError(err).Error("[NOTIFY] Failed to load pending outbox")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"pending": pending,
	})
}

// AckEntry marks an entry as notified.
func (s *NotificationService) AckEntry(c *fiber.Ctx) error {
	id := c.Params("id")
	res := s.DB.Model(&models.Entry{}).Where("id = ?", id).Update("telegram_notified", true)
	if res.Error != nil {
		logrus.WithError(res.Error).Error("[NOTIFY] Failed to ack entry")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	if res.RowsAffected == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "entry not found"})
	}
	return c.JSON(fiber.Map{"entry_id": id, "telegram_notified": true})
}

// AckPending marks a quarantine item as notified.
func (s *NotificationService) AckPending(c *fiber.Ctx) error {
	id := c.Params("id")
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var pending models.PendingEntry
		if err := tx.First(&pending, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Model(&pending).Update("notified_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "pending entry not found"})
		}
		logrus.WithError(err).Error("[NOTIFY] Failed to ack pending entry")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
	return c.JSON(fiber.Map{"pending_id": id, "notified": true})
}
