package models

import (
	"time"
)

// Entry payment lifecycle.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Payment scopes: a payment covers the player's own slot or both slots of
// a pair in a team-format tournament.
const (
	ScopeSelf = "self"
	ScopePair = "pair"
)

// Entry is one roster slot: a player's membership in a tournament.
// Entries are deactivated when they disappear from the snapshot, never
// deleted by the sync engine — payment history must survive.
type Entry struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;index:idx_entries_tournament_player,unique"`
	PlayerID     string `json:"player_id" gorm:"not null;index:idx_entries_tournament_player,unique"`

	PaymentStatus    string     `json:"payment_status" gorm:"type:varchar(16);default:'pending'"`
	PaymentScope     string     `json:"payment_scope" gorm:"type:varchar(16);default:'self'"`
	PaymentAmountRub int        `json:"payment_amount_rub" gorm:"default:0"`
	PaymentID        string     `json:"payment_id,omitempty"`       // gateway payment identifier
	ConfirmationURL  string     `json:"confirmation_url,omitempty"` // gateway redirect URL
	ManualPaid       bool       `json:"manual_paid" gorm:"default:false"`
	ManualPaidNote   string     `json:"manual_paid_note,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`

	// Reciprocal pair link: if A.PaidForEntryID = B then B.PaidByEntryID = A.
	// A row never has both set.
	PaidForEntryID *string `json:"paid_for_entry_id,omitempty"`
	PaidByEntryID  *string `json:"paid_by_entry_id,omitempty"`

	Active            bool      `json:"active" gorm:"default:true"` // present in the latest snapshot
	TelegramNotified  bool      `json:"telegram_notified" gorm:"default:false"`
	FirstSeenInSource time.Time `json:"first_seen_in_source"`
	LastSeenInSource  time.Time `json:"last_seen_in_source"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Player Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
}

// Paid reports whether the entry carries payment history, whether through
// the gateway or a manual admin action.
func (e *Entry) Paid() bool {
	return e.PaymentStatus == PaymentPaid || e.ManualPaid
}

// Paired reports whether the entry already participates in a pair link on
// either side.
func (e *Entry) Paired() bool {
	return e.PaidForEntryID != nil || e.PaidByEntryID != nil
}
