package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"padel-roster-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newEntryApp(t *testing.T) (*fiber.App, *gorm.DB) {
	return newEntryAppWithGateway(t, nil)
}

func newEntryAppWithGateway(t *testing.T, gw PaymentGateway) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	svc := NewEntryService(db, NewPairService(db))
	svc.Payments = gw

	app := fiber.New()
	app.Get("/tournaments/:id", svc.GetTournamentRoster)
	app.Get("/tournaments", svc.ListTournaments)
	app.Post("/tournaments/:id/unarchive", svc.ClearArchive)
	app.Post("/entries/:id/pay", svc.InitiatePayment)
	app.Post("/entries/:id/paid", svc.MarkEntryPaid)
	app.Post("/entries/:id/pair", svc.LinkPairPayment)
	app.Delete("/entries/:id", svc.DeleteEntry)
	app.Post("/webhooks/yookassa", svc.PaymentWebhook)
	return app, db
}

// fakePaymentGateway stands in for the provider: the payment id embeds
// the idempotence key so tests can follow it through the webhook.
type fakePaymentGateway struct {
	calls      int
	lastAmount int
	fail       bool
}

func (f *fakePaymentGateway) CreatePayment(_ context.Context, amountRub int, _, idempotenceKey string) (string, string, error) {
	if f.fail {
		return "", "", errors.New("provider unavailable")
	}
	f.calls++
	f.lastAmount = amountRub
	return "pay-" + idempotenceKey, "https://pay.test/confirm/" + idempotenceKey, nil
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestInitiatePaymentStoresGatewayDetails(t *testing.T) {
	gw := &fakePaymentGateway{}
	app, db := newEntryAppWithGateway(t, gw)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	require.NoError(t, db.Model(tournament).Update("price_rub", 3000).Error)
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	require.Equal(t, 200, resp.StatusCode)

	var body struct {
		PaymentID       string `json:"payment_id"`
		ConfirmationURL string `json:"confirmation_url"`
		AmountRub       int    `json:"amount_rub"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "pay-"+entry.ID, body.PaymentID)
	assert.NotEmpty(t, body.ConfirmationURL)
	assert.Equal(t, 3000, body.AmountRub)
	assert.Equal(t, 3000, gw.lastAmount)

	var got models.Entry
	require.NoError(t, db.First(&got, "id = ?", entry.ID).Error)
	assert.Equal(t, "pay-"+entry.ID, got.PaymentID)
	assert.Equal(t, body.ConfirmationURL, got.ConfirmationURL)
	assert.Equal(t, 3000, got.PaymentAmountRub)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
}

func TestInitiatePaymentExplicitAmountOverridesPrice(t *testing.T) {
	gw := &fakePaymentGateway{}
	app, db := newEntryAppWithGateway(t, gw)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	require.NoError(t, db.Model(tournament).Update("price_rub", 3000).Error)
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", `{"amount_rub": 6000}`)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 6000, gw.lastAmount)
}

func TestInitiatePaymentIsIdempotent(t *testing.T) {
	gw := &fakePaymentGateway{}
	app, db := newEntryAppWithGateway(t, gw)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	require.NoError(t, db.Model(tournament).Update("price_rub", 3000).Error)
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	first := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	require.Equal(t, 200, first.StatusCode)
	second := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	require.Equal(t, 200, second.StatusCode)

	var body struct {
		PaymentID string `json:"payment_id"`
	}
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "pay-"+entry.ID, body.PaymentID)
	assert.Equal(t, 1, gw.calls)
}

func TestInitiatePaymentRejectsPaidEntry(t *testing.T) {
	gw := &fakePaymentGateway{}
	app, db := newEntryAppWithGateway(t, gw)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)
	require.NoError(t, db.Model(entry).Update("payment_status", models.PaymentPaid).Error)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, 0, gw.calls)
}

func TestInitiatePaymentWithoutGatewayConfigured(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	assert.Equal(t, 503, resp.StatusCode)
}

func TestInitiatePaymentRequiresKnownAmount(t *testing.T) {
	gw := &fakePaymentGateway{}
	app, db := newEntryAppWithGateway(t, gw)
	// Price never parsed from the source listing and none supplied.
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	assert.Equal(t, 400, resp.StatusCode)
}

func TestInitiatePaymentProviderFailure(t *testing.T) {
	gw := &fakePaymentGateway{fail: true}
	app, db := newEntryAppWithGateway(t, gw)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	require.NoError(t, db.Model(tournament).Update("price_rub", 3000).Error)
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	assert.Equal(t, 502, resp.StatusCode)

	var got models.Entry
	require.NoError(t, db.First(&got, "id = ?", entry.ID).Error)
	assert.Empty(t, got.PaymentID)
}

func TestInitiatePaymentThenWebhookSettlesEntry(t *testing.T) {
	gw := &fakePaymentGateway{}
	app, db := newEntryAppWithGateway(t, gw)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	require.NoError(t, db.Model(tournament).Update("price_rub", 3000).Error)
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/pay", "")
	require.Equal(t, 200, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/webhooks/yookassa",
		`{"event": "payment.succeeded", "object": {"id": "pay-`+entry.ID+`"}}`)
	require.Equal(t, 200, resp.StatusCode)

	var got models.Entry
	require.NoError(t, db.First(&got, "id = ?", entry.ID).Error)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.NotNil(t, got.PaidAt)
}

func TestMarkEntryPaidManually(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	entry := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+entry.ID+"/paid", `{"note": "cash at the club"}`)
	assert.Equal(t, 200, resp.StatusCode)

	var got models.Entry
	require.NoError(t, db.First(&got, "id = ?", entry.ID).Error)
	assert.True(t, got.ManualPaid)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "cash at the club", got.ManualPaidNote)
	assert.NotNil(t, got.PaidAt)
}

func TestMarkEntryPaidPairScopeLinksPartner(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatTeam, time.Now().UTC())
	payer := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)
	partner := createEntry(t, db, tournament.ID, createPlayer(t, db, "Petr Smirnov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+payer.ID+"/paid",
		`{"payment_scope": "pair", "partner_entry_id": "`+partner.ID+`"}`)
	assert.Equal(t, 200, resp.StatusCode)

	var gotPartner models.Entry
	require.NoError(t, db.First(&gotPartner, "id = ?", partner.ID).Error)
	assert.Equal(t, models.PaymentPaid, gotPartner.PaymentStatus)
	require.NotNil(t, gotPartner.PaidByEntryID)
	assert.Equal(t, payer.ID, *gotPartner.PaidByEntryID)
}

func TestMarkEntryPaidPairScopeRequiresPartner(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatTeam, time.Now().UTC())
	payer := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)

	resp := doJSON(t, app, "POST", "/entries/"+payer.ID+"/paid", `{"payment_scope": "pair"}`)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestPaymentWebhookPropagatesToPairPartner(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatTeam, time.Now().UTC())
	payer := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)
	partner := createEntry(t, db, tournament.ID, createPlayer(t, db, "Petr Smirnov").ID)

	// A pending pair payment created by the bot: the link is declared, the
	// gateway has not confirmed yet.
	require.NoError(t, db.Model(payer).Updates(map[string]interface{}{
		"payment_id":        "pay-123",
		"payment_scope":     models.ScopePair,
		"paid_for_entry_id": partner.ID,
	}).Error)
	require.NoError(t, db.Model(partner).Updates(map[string]interface{}{
		"payment_scope":    models.ScopePair,
		"paid_by_entry_id": payer.ID,
	}).Error)

	resp := doJSON(t, app, "POST", "/webhooks/yookassa",
		`{"event": "payment.succeeded", "object": {"id": "pay-123"}}`)
	assert.Equal(t, 200, resp.StatusCode)

	var gotPayer, gotPartner models.Entry
	require.NoError(t, db.First(&gotPayer, "id = ?", payer.ID).Error)
	require.NoError(t, db.First(&gotPartner, "id = ?", partner.ID).Error)
	assert.Equal(t, models.PaymentPaid, gotPayer.PaymentStatus)
	assert.Equal(t, models.PaymentPaid, gotPartner.PaymentStatus)
}

func TestPaymentWebhookAcksUnknownAndIrrelevantEvents(t *testing.T) {
	app, _ := newEntryApp(t)

	// Unknown payment id: acknowledged so the gateway stops retrying.
	resp := doJSON(t, app, "POST", "/webhooks/yookassa",
		`{"event": "payment.succeeded", "object": {"id": "no-such-payment"}}`)
	assert.Equal(t, 200, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/webhooks/yookassa",
		`{"event": "payment.canceled", "object": {"id": "pay-1"}}`)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClearArchive(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())

	// Not archived yet: the command is rejected.
	resp := doJSON(t, app, "POST", "/tournaments/"+tournament.ID+"/unarchive", "")
	assert.Equal(t, 400, resp.StatusCode)

	archivedAt := time.Now().UTC()
	require.NoError(t, db.Model(tournament).Updates(map[string]interface{}{
		"archived_at": &archivedAt,
		"active":      false,
	}).Error)

	resp = doJSON(t, app, "POST", "/tournaments/"+tournament.ID+"/unarchive", "")
	assert.Equal(t, 200, resp.StatusCode)

	var got models.Tournament
	require.NoError(t, db.First(&got, "id = ?", tournament.ID).Error)
	assert.False(t, got.Archived())
	assert.True(t, got.Active)
}

func TestListTournamentsHidesArchivedByDefault(t *testing.T) {
	app, db := newEntryApp(t)
	createTournament(t, db, "Arena", models.FormatPersonal, time.Now().UTC())
	archived := createTournament(t, db, "Other Club", models.FormatPersonal, time.Now().UTC().Add(time.Hour))
	archivedAt := time.Now().UTC()
	require.NoError(t, db.Model(archived).Update("archived_at", &archivedAt).Error)

	resp := doJSON(t, app, "GET", "/tournaments", "")
	require.Equal(t, 200, resp.StatusCode)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)

	resp = doJSON(t, app, "GET", "/tournaments?include_archived=true", "")
	require.Equal(t, 200, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
}

func TestDeleteEntryUnlinksPartner(t *testing.T) {
	app, db := newEntryApp(t)
	tournament := createTournament(t, db, "Arena", models.FormatTeam, time.Now().UTC())
	payer := createEntry(t, db, tournament.ID, createPlayer(t, db, "Ivan Petrov").ID)
	partner := createEntry(t, db, tournament.ID, createPlayer(t, db, "Petr Smirnov").ID)
	require.NoError(t, NewPairService(db).Link(db, payer.ID, partner.ID))

	resp := doJSON(t, app, "DELETE", "/entries/"+payer.ID, "")
	assert.Equal(t, 200, resp.StatusCode)

	var count int64
	db.Model(&models.Entry{}).Where("id = ?", payer.ID).Count(&count)
	assert.EqualValues(t, 0, count)

	var gotPartner models.Entry
	require.NoError(t, db.First(&gotPartner, "id = ?", partner.ID).Error)
	assert.False(t, gotPartner.Paired())
}
