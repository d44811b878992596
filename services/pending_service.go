package services

import (
	"errors"
	"fmt"
	"time"

	"padel-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrPendingNotOpen is returned when an admin acts on a quarantine item
// that has already been resolved, rejected or expired.
var ErrPendingNotOpen = errors.New("pending entry is not open for resolution")

// PendingService handles human resolution of quarantined identity
// decisions.
type PendingService struct {
	DB *gorm.DB
}

func NewPendingService(db *gorm.DB) *PendingService {
	return &PendingService{DB: db}
}

func pendingIsOpen(status string) bool {
	return status == models.PendingStatusPending || status == models.PendingStatusSnoozed
}

// Approve links the quarantined name to the chosen player: the entry is
// created (or re-activated), the quarantined spelling becomes an alias
// when it differs from the player's canonical name, and the pending row
// is marked resolved.
func (s *PendingService) Approve(pendingID, playerID string) (*models.Entry, error) {
	var entry *models.Entry
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var pending models.PendingEntry
		if err := tx.First(&pending, "id = ?", pendingID).Error; err != nil {
			return err
		}
		if !pendingIsOpen(pending.Status) {
			return ErrPendingNotOpen
		}

		var player models.Player
		if err := tx.First(&player, "id = ?", playerID).Error; err != nil {
			return fmt.Errorf("player %s: %w", playerID, err)
		}

		now := time.Now().UTC()

		var existing models.Entry
		err := tx.Where("tournament_id = ? AND player_id = ?", pending.TournamentID, player.ID).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"active":              true,
				"last_seen_in_source": now,
			}).Error; err != nil {
				return fmt.Errorf("failed to re-activate entry: %w", err)
			}
			entry = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			created := models.Entry{
				ID:                uuid.NewString(),
				TournamentID:      pending.TournamentID,
				PlayerID:          player.ID,
				PaymentStatus:     models.PaymentPending,
				PaymentScope:      models.ScopeSelf,
				Active:            true,
				FirstSeenInSource: now,
				LastSeenInSource:  now,
			}
			if err := tx.Create(&created).Error; err != nil {
				return fmt.Errorf("failed to create entry: %w", err)
			}
			entry = &created
		default:
			return fmt.Errorf("entry lookup failed: %w", err)
		}

		if pending.NormalizedName != player.NormalizedName {
			if err := s.ensureAlias(tx, player.ID, pending.NormalizedName); err != nil {
				return err
			}
		}

		if err := tx.Model(&pending).Updates(map[string]interface{}{
			"status":             models.PendingStatusResolved,
			"resolved_player_id": player.ID,
			"resolved_at":        &now,
		}).Error; err != nil {
			return fmt.Errorf("failed to resolve pending entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PendingService) ensureAlias(tx *gorm.DB, playerID, normalizedAlias string) error {
	var existing models.PlayerAlias
	err := tx.Where("normalized_alias = ?", normalizedAlias).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("alias lookup failed: %w", err)
	}
	alias := models.PlayerAlias{
		ID:              uuid.NewString(),
		PlayerID:        playerID,
		NormalizedAlias: normalizedAlias,
	}
	if err := tx.Create(&alias).Error; err != nil {
		return fmt.Errorf("failed to create alias: %w", err)
	}
	return nil
}

// transition moves an open pending entry to a terminal or parked status.
func (s *PendingService) transition(pendingID, status string, markResolved bool) (*models.PendingEntry, error) {
	var pending models.PendingEntry
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&pending, "id = ?", pendingID).Error; err != nil {
			return err
		}
		if !pendingIsOpen(pending.Status) {
			return ErrPendingNotOpen
		}
		updates := map[string]interface{}{"status": status}
		if markResolved {
			now := time.Now().UTC()
			updates["resolved_at"] = &now
		}
		return tx.Model(&pending).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	pending.Status = status
	return &pending, nil
}

// Reject discards the quarantined name without linking anyone.
func (s *PendingService) Reject(pendingID string) (*models.PendingEntry, error) {
	return s.transition(pendingID, models.PendingStatusRejected, true)
}

// Snooze parks the item; it stays open and is still reused by the sync
// engine instead of creating a duplicate.
func (s *PendingService) Snooze(pendingID string) (*models.PendingEntry, error) {
	return s.transition(pendingID, models.PendingStatusSnoozed, false)
}

// Expire closes the item without resolution.
func (s *PendingService) Expire(pendingID string) (*models.PendingEntry, error) {
	return s.transition(pendingID, models.PendingStatusExpired, true)
}

// ExpireStale expires open items older than the TTL. Called by the
// maintenance scheduler.
func (s *PendingService) ExpireStale(ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res := s.DB.Model(&models.PendingEntry{}).
		Where("status IN ? AND created_at < ?", []string{models.PendingStatusPending, models.PendingStatusSnoozed}, cutoff).
		Update("status", models.PendingStatusExpired)
	return res.RowsAffected, res.Error
}

// --- HTTP surface ---

type pendingView struct {
	models.PendingEntry
	Candidates []models.PendingCandidate `json:"candidates"`
}

// ListPending returns quarantined items, open ones by default.
func (s *PendingService) ListPending(c *fiber.Ctx) error {
	status := c.Query("status", models.PendingStatusPending)
	var items []models.PendingEntry
	q := s.DB.Order("created_at ASC")
	if status != "all" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&items).Error; err != nil {
		logrus.WithError(err).Error("[PENDING] Failed to list pending entries")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}

	views := make([]pendingView, 0, len(items))
	for _, item := range items {
		views = append(views, pendingView{PendingEntry: item, Candidates: item.Candidates()})
	}
	return c.JSON(fiber.Map{"pending": views, "count": len(views)})
}

// ApprovePending resolves a quarantined name to the chosen candidate.
func (s *PendingService) ApprovePending(c *fiber.Ctx) error {
	pendingID := c.Params("id")

	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.PlayerID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "player_id is required"})
	}

	entry, err := s.Approve(pendingID, req.PlayerID)
	if err != nil {
		return pendingActionError(c, pendingID, err)
	}
	return c.JSON(fiber.Map{
		"status":   models.PendingStatusResolved,
		"entry_id": entry.ID,
	})
}

func (s *PendingService) RejectPending(c *fiber.Ctx) error {
	pending, err := s.Reject(c.Params("id"))
	if err != nil {
		return pendingActionError(c, c.Params("id"), err)
	}
	return c.JSON(fiber.Map{"status": pending.Status, "pending_id": pending.ID})
}

func (s *PendingService) SnoozePending(c *fiber.Ctx) error {
	pending, err := s.Snooze(c.Params("id"))
	if err != nil {
		return pendingActionError(c, c.Params("id"), err)
	}
	return c.JSON(fiber.Map{"status": pending.Status, "pending_id": pending.ID})
}

func (s *PendingService) ExpirePending(c *fiber.Ctx) error {
	pending, err := s.Expire(c.Params("id"))
	if err != nil {
		return pendingActionError(c, c.Params("id"), err)
	}
	return c.JSON(fiber.Map{"status": pending.Status, "pending_id": pending.ID})
}

func pendingActionError(c *fiber.Ctx, pendingID string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, ErrPendingNotOpen):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("pending_id", pendingID).Error("[PENDING] Action failed")
		return c.Status(500).JSON(fiber.Map{"error": "database error"})
	}
}
