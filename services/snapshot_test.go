package services

import (
	"testing"

	"padel-roster-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshotMapForm(t *testing.T) {
	payload := []byte(`{
		"last_updated": "2024-05-01T10:00:00",
		"tournaments": {
			"evening-cup": {
				"tournament": {
					"title": "Evening Cup",
					"location": "Padel Club Center",
					"organizer": "Anna",
					"price": "6000 Р за пару"
				},
				"start_datetime": "2024-05-10T19:00:00",
				"end_datetime": "2024-05-10T22:00:00",
				"participants": [
					"Ivan Petrov",
					{"name": "Maria Sokolova", "payment_status": "paid", "amount_rub": 3000}
				]
			}
		}
	}`)

	snap, err := ParseSnapshot(payload)
	require.NoError(t, err)
	require.Len(t, snap.Tournaments, 1)
	require.NotNil(t, snap.SourceLastUpdated)

	st := snap.Tournaments[0]
	assert.Equal(t, "Evening Cup", st.Title)
	assert.Equal(t, "Padel Club Center", st.Location)
	assert.Equal(t, "Anna", st.Organizer)
	assert.Equal(t, 6000, st.PriceRub)
	assert.Equal(t, models.FormatTeam, st.Format)
	require.NotNil(t, st.EndsAt)

	require.Len(t, st.Entries, 2)
	assert.Equal(t, "Ivan Petrov", st.Entries[0].RawName)
	assert.Equal(t, models.PaymentPending, st.Entries[0].PaymentStatus)
	assert.Equal(t, models.ScopeSelf, st.Entries[0].PaymentScope)
	assert.Equal(t, "Maria Sokolova", st.Entries[1].RawName)
	assert.Equal(t, models.PaymentPaid, st.Entries[1].PaymentStatus)
	assert.Equal(t, 3000, st.Entries[1].AmountRub)
}

func TestParseSnapshotListForm(t *testing.T) {
	payload := []byte(`{
		"tournaments": [
			{
				"tournament": {"title": "Morning Games", "location": "Arena West", "price": "1500 Р"},
				"start_datetime": "2024-06-01 09:00:00",
				"participants": ["Petr Smirnov"]
			}
		]
	}`)

	snap, err := ParseSnapshot(payload)
	require.NoError(t, err)
	require.Len(t, snap.Tournaments, 1)

	st := snap.Tournaments[0]
	assert.Equal(t, "Morning Games", st.Title)
	assert.Equal(t, 1500, st.PriceRub)
	assert.Equal(t, models.FormatPersonal, st.Format)
	assert.Nil(t, st.EndsAt)
	require.Len(t, st.Entries, 1)
}

func TestParseSnapshotSkipsMalformedRecords(t *testing.T) {
	payload := []byte(`{
		"tournaments": [
			{
				"tournament": {"title": "Broken Date", "location": "Arena"},
				"start_datetime": "not-a-date",
				"participants": ["Someone"]
			},
			{
				"tournament": {"title": "Good One", "location": "Arena"},
				"start_datetime": "2024-06-02T10:00:00",
				"participants": ["Ivan Petrov", "", {"payment_status": "paid"}]
			}
		]
	}`)

	snap, err := ParseSnapshot(payload)
	require.NoError(t, err)
	require.Len(t, snap.Tournaments, 1)
	assert.Equal(t, 1, snap.SkippedTournaments)
	// The empty string and the nameless object are both dropped.
	assert.Equal(t, 2, snap.SkippedEntries)
	assert.Len(t, snap.Tournaments[0].Entries, 1)
}

func TestParseSnapshotRejectsMissingTournaments(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{"last_updated": "2024-05-01T10:00:00"}`))
	require.Error(t, err)

	_, err = ParseSnapshot([]byte(`not json`))
	require.Error(t, err)
}

func TestTournamentKeyNormalizesLocation(t *testing.T) {
	payload := []byte(`{
		"tournaments": [
			{
				"tournament": {"title": "Cup", "location": "  Arena  "},
				"start_datetime": "2024-06-02T10:00:00",
				"participants": []
			}
		]
	}`)
	snap, err := ParseSnapshot(payload)
	require.NoError(t, err)
	st := snap.Tournaments[0]
	assert.Equal(t, TournamentKey("Arena", st.StartsAt), st.Key())
}

func TestParsePrice(t *testing.T) {
	assert.Equal(t, 6000, parsePrice("6000 Р за пару"))
	assert.Equal(t, 1500, parsePrice("1 500 руб"))
	assert.Equal(t, 0, parsePrice("бесплатно"))
	assert.Equal(t, 0, parsePrice(""))
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, models.FormatTeam, detectFormat("team", ""))
	assert.Equal(t, models.FormatPersonal, detectFormat("personal", "6000 Р за пару"))
	assert.Equal(t, models.FormatTeam, detectFormat("", "6000 Р за пару"))
	assert.Equal(t, models.FormatTeam, detectFormat("", "40 EUR per pair"))
	assert.Equal(t, models.FormatPersonal, detectFormat("", "1500 Р"))
}
