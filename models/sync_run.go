package models

import (
	"time"
)

// SyncRun is the audit record for one reconciliation execution.
// Append-only: after FinishedAt is set the row is never mutated again.
type SyncRun struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	StartedAt   time.Time  `json:"started_at" gorm:"index"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty" gorm:"type:text"`
	SnapshotRef string     `json:"snapshot_ref,omitempty"`

	SourceLastUpdated *time.Time `json:"source_last_updated,omitempty"`

	TournamentsUpserted int `json:"tournaments_upserted" gorm:"default:0"`
	TournamentsSkipped  int `json:"tournaments_skipped" gorm:"default:0"`
	TournamentsFailed   int `json:"tournaments_failed" gorm:"default:0"`
	TournamentsArchived int `json:"tournaments_archived" gorm:"default:0"`
	TournamentsDeleted  int `json:"tournaments_deleted" gorm:"default:0"`

	PlayersCreated     int `json:"players_created" gorm:"default:0"`
	EntriesNew         int `json:"entries_new" gorm:"default:0"`
	EntriesExisting    int `json:"entries_existing" gorm:"default:0"`
	EntriesDeactivated int `json:"entries_deactivated" gorm:"default:0"`
	EntriesSkipped     int `json:"entries_skipped" gorm:"default:0"`
	PendingCreated     int `json:"pending_created" gorm:"default:0"`
	PairsLinked        int `json:"pairs_linked" gorm:"default:0"`
}

// Finished reports whether the run record has been finalized.
func (r *SyncRun) Finished() bool {
	return r.FinishedAt != nil
}

// Degraded reports whether the run completed with partial failures or a
// recorded error.
func (r *SyncRun) Degraded() bool {
	return r.Error != "" || r.TournamentsFailed > 0
}
