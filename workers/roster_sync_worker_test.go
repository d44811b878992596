package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"padel-roster-system/models"
	"padel-roster-system/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sampleSnapshot = `{
	"last_updated": "2024-05-01T10:00:00",
	"tournaments": [
		{
			"tournament": {"title": "Evening Cup", "location": "Padel Club Center", "price": "1500 Р"},
			"start_datetime": "2024-05-10T19:00:00",
			"participants": ["Ivan Petrov", "Anna Kuznetsova"]
		}
	]
}`

func newWorkerSyncService(t *testing.T) *services.SyncService {
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
	return services.NewSyncService(db, services.NewIdentityService(), services.NewPairService(db))
}

func TestRunOnceFromHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleSnapshot))
	}))
	defer srv.Close()

	worker := NewRosterSyncWorker(newWorkerSyncService(t), srv.URL, "", time.Minute, false)

	run, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.TournamentsUpserted)
	assert.Equal(t, 2, run.EntriesNew)
	assert.Equal(t, srv.URL, run.SnapshotRef)
}

func TestRunOnceFromFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleSnapshot), 0o644))

	worker := NewRosterSyncWorker(newWorkerSyncService(t), "", path, time.Minute, false)

	run, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.TournamentsUpserted)
	assert.Equal(t, path, run.SnapshotRef)
}

func TestRunOnceRetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleSnapshot))
	}))
	defer srv.Close()

	worker := NewRosterSyncWorker(newWorkerSyncService(t), srv.URL, "", time.Minute, false)

	run, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, run.TournamentsUpserted)
}

func TestRunOnceFailsWithoutSource(t *testing.T) {
	worker := NewRosterSyncWorker(newWorkerSyncService(t), "", "", time.Minute, false)

	_, err := worker.RunOnce(context.Background())
	require.Error(t, err)
}
