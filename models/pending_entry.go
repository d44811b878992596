package models

import (
	"encoding/json"
	"time"
)

// PendingEntry statuses. "approved" is accepted as a command verb by the
// admin API; a successful approval persists "resolved".
const (
	PendingStatusPending  = "pending"
	PendingStatusApproved = "approved"
	PendingStatusRejected = "rejected"
	PendingStatusResolved = "resolved"
	PendingStatusSnoozed  = "snoozed"
	PendingStatusExpired  = "expired"
)

// PendingCandidate is one ranked suggestion for a quarantined raw name.
type PendingCandidate struct {
	PlayerID string  `json:"player_id"`
	FullName string  `json:"full_name"`
	Score    float64 `json:"score"`
}

// PendingEntry quarantines an ambiguous identity decision for human
// review. At most one row with status=pending exists per
// (tournament_id, normalized_name); the sync engine reuses the open row
// instead of creating duplicates.
type PendingEntry struct {
	ID             string `json:"id" gorm:"primaryKey"`
	TournamentID   string `json:"tournament_id" gorm:"not null;index:idx_pending_tournament_name"`
	RawName        string `json:"raw_name" gorm:"not null"`
	NormalizedName string `json:"normalized_name" gorm:"not null;index:idx_pending_tournament_name"`

	CandidatesJSON string `json:"candidates_json" gorm:"type:text"`

	Status           string     `json:"status" gorm:"type:varchar(16);default:'pending';index"`
	ResolvedPlayerID *string    `json:"resolved_player_id,omitempty"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Candidates decodes the stored ranked candidate list.
func (p *PendingEntry) Candidates() []PendingCandidate {
	var out []PendingCandidate
	if p.CandidatesJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(p.CandidatesJSON), &out)
	return out
}

// SetCandidates stores the ranked candidate list.
func (p *PendingEntry) SetCandidates(cands []PendingCandidate) {
	raw, _ := json.Marshal(cands)
	p.CandidatesJSON = string(raw)
}
