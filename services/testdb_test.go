package services

import (
	"path/filepath"
	"testing"
	"time"

	"padel-roster-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "roster.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Tournament{},
		&models.Player{},
		&models.PlayerAlias{},
		&models.Entry{},
		&models.PendingEntry{},
		&models.SyncRun{},
	))
	return db
}

func createTournament(t *testing.T, db *gorm.DB, location, format string, startsAt time.Time) *models.Tournament {
	t.Helper()
	tournament := &models.Tournament{
		ID:                uuid.NewString(),
		Title:             "Test Cup",
		Location:          location,
		StartsAt:          startsAt,
		Format:            format,
		Active:            true,
		FirstSeenInSource: time.Now().UTC(),
		LastSeenInSource:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(tournament).Error)
	return tournament
}

func createPlayer(t *testing.T, db *gorm.DB, fullName string) *models.Player {
	t.Helper()
	player := &models.Player{
		ID:             uuid.NewString(),
		FullName:       fullName,
		NormalizedName: NormalizeName(fullName),
	}
	require.NoError(t, db.Create(player).Error)
	return player
}

func createEntry(t *testing.T, db *gorm.DB, tournamentID, playerID string) *models.Entry {
	t.Helper()
	now := time.Now().UTC()
	entry := &models.Entry{
		ID:                uuid.NewString(),
		TournamentID:      tournamentID,
		PlayerID:          playerID,
		PaymentStatus:     models.PaymentPending,
		PaymentScope:      models.ScopeSelf,
		Active:            true,
		FirstSeenInSource: now,
		LastSeenInSource:  now,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}
