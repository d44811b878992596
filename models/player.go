package models

import (
	"time"
)

// Player is a person seen in at least one roster. Players are never
// deleted: historical entries keep referencing them after they stop
// showing up in snapshots.
type Player struct {
	ID             string `json:"id" gorm:"primaryKey"`
	FullName       string `json:"full_name" gorm:"not null"`
	NormalizedName string `json:"normalized_name" gorm:"uniqueIndex;not null"`

	// Optional link to the player's Telegram account, filled in when the
	// player talks to the bot. Not owned by the sync engine.
	TelegramChatID *int64 `json:"telegram_chat_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// PlayerAlias maps an alternate normalized spelling to a player. Rows are
// created only when an admin resolves a quarantined name, so future
// snapshots with the same spelling link directly.
type PlayerAlias struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	PlayerID        string    `json:"player_id" gorm:"not null;index"`
	NormalizedAlias string    `json:"normalized_alias" gorm:"uniqueIndex;not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
}
