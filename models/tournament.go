package models

import (
	"time"
)

// Tournament formats as reported by the roster source.
const (
	FormatPersonal = "personal"
	FormatTeam     = "team"
)

// Tournament is one event scraped from the roster source. The source has
// no stable tournament id, so (location, starts_at) is the natural key —
// the same key the upstream feed uses for deduplication.
type Tournament struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	Title     string     `json:"title"`
	Location  string     `json:"location" gorm:"index:idx_tournaments_location_starts_at,unique"`
	StartsAt  time.Time  `json:"starts_at" gorm:"index:idx_tournaments_location_starts_at,unique"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Organizer string     `json:"organizer"`
	PriceRub  int        `json:"price_rub" gorm:"default:0"`
	PriceRaw  string     `json:"price_raw"` // e.g. "6000 Р за пару"
	Format    string     `json:"format" gorm:"type:varchar(16);default:'personal'"`

	Active     bool       `json:"active" gorm:"default:true"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"` // null = live; set = terminal until admin clears

	FirstSeenInSource time.Time  `json:"first_seen_in_source"`
	LastSeenInSource  time.Time  `json:"last_seen_in_source"`
	SourceLastUpdated *time.Time `json:"source_last_updated,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Entries []Entry `json:"entries,omitempty" gorm:"foreignKey:TournamentID"`
}

// Archived reports whether the tournament has been retired with its
// financial history retained.
func (t *Tournament) Archived() bool {
	return t.ArchivedAt != nil
}
