package services

import (
	"errors"
	"fmt"
	"time"

	"padel-roster-system/models"

	"gorm.io/gorm"
)

// Pair linking failure modes. Re-pairing always fails loudly instead of
// silently overwriting an existing link.
var (
	ErrAlreadyPaired    = errors.New("entry already participates in a pair payment")
	ErrNotTeamFormat    = errors.New("pair payments require a team-format tournament")
	ErrDifferentRosters = errors.New("pair entries must belong to the same tournament")
	ErrSelfPair         = errors.New("an entry cannot pay for itself")
)

// PairService maintains reciprocal pair payment links for team-format
// tournaments: one payment event covering both roster slots of a pair.
type PairService struct {
	DB *gorm.DB
}

func NewPairService(db *gorm.DB) *PairService {
	return &PairService{DB: db}
}

// Link records that entry A paid for partner entry B: A.paid_for = B,
// B.paid_by = A, and payment propagates to B. Runs inside the given
// transaction so the two sides never diverge.
func (s *PairService) Link(tx *gorm.DB, payerEntryID, partnerEntryID string) error {
	if payerEntryID == partnerEntryID {
		return ErrSelfPair
	}

	var payer, partner models.Entry
	if err := tx.First(&payer, "id = ?", payerEntryID).Error; err != nil {
		return fmt.Errorf("payer entry %s: %w", payerEntryID, err)
	}
	if err := tx.First(&partner, "id = ?", partnerEntryID).Error; err != nil {
		return fmt.Errorf("partner entry %s: %w", partnerEntryID, err)
	}

	if payer.TournamentID != partner.TournamentID {
		return ErrDifferentRosters
	}

	var tournament models.Tournament
	if err := tx.First(&tournament, "id = ?", payer.TournamentID).Error; err != nil {
		return fmt.Errorf("tournament %s: %w", payer.TournamentID, err)
	}
	if tournament.Format != models.FormatTeam {
		return ErrNotTeamFormat
	}

	if payer.Paired() || partner.Paired() {
		return ErrAlreadyPaired
	}

	now := time.Now().UTC()
	payerUpdates := map[string]interface{}{
		"paid_for_entry_id": partner.ID,
		"payment_scope":     models.ScopePair,
		"payment_status":    models.PaymentPaid,
	}
	if payer.PaidAt == nil {
		payerUpdates["paid_at"] = &now
	}
	if err := tx.Model(&payer).Updates(payerUpdates).Error; err != nil {
		return fmt.Errorf("failed to update payer entry: %w", err)
	}

	partnerUpdates := map[string]interface{}{
		"paid_by_entry_id": payer.ID,
		"payment_scope":    models.ScopePair,
		"payment_status":   models.PaymentPaid,
	}
	if partner.PaidAt == nil {
		partnerUpdates["paid_at"] = &now
	}
	if err := tx.Model(&partner).Updates(partnerUpdates).Error; err != nil {
		return fmt.Errorf("failed to update partner entry: %w", err)
	}

	return nil
}

// Unlink clears the reciprocal link around one entry, whichever side it
// is on. Payment statuses are left as-is; used by the admin entry-delete
// override before removing a row.
func (s *PairService) Unlink(tx *gorm.DB, entryID string) error {
	var entry models.Entry
	if err := tx.First(&entry, "id = ?", entryID).Error; err != nil {
		return fmt.Errorf("entry %s: %w", entryID, err)
	}
	if !entry.Paired() {
		return nil
	}

	otherID := entry.PaidForEntryID
	if otherID == nil {
		otherID = entry.PaidByEntryID
	}

	if err := tx.Model(&models.Entry{}).Where("id = ?", entry.ID).
		Updates(map[string]interface{}{"paid_for_entry_id": nil, "paid_by_entry_id": nil}).Error; err != nil {
		return fmt.Errorf("failed to clear pair link: %w", err)
	}
	if err := tx.Model(&models.Entry{}).Where("id = ?", *otherID).
		Updates(map[string]interface{}{"paid_for_entry_id": nil, "paid_by_entry_id": nil}).Error; err != nil {
		return fmt.Errorf("failed to clear reciprocal pair link: %w", err)
	}
	return nil
}
