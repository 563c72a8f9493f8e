package controllers

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
)

const testSigningKey = "whsec_test"

var webhookNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func signedHeader(body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(SignPayload(testSigningKey, ts, body))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"invitee.created"}`)

	assert.NoError(t, VerifySignature(testSigningKey, signedHeader(body, webhookNow), body, webhookNow))
	assert.NoError(t, VerifySignature(testSigningKey, signedHeader(body, webhookNow.Add(-4*time.Minute)), body, webhookNow))

	bad := map[string]string{
		"empty":         "",
		"no signature":  "t=" + strconv.FormatInt(webhookNow.Unix(), 10),
		"stale":         signedHeader(body, webhookNow.Add(-6*time.Minute)),
		"future":        signedHeader(body, webhookNow.Add(6*time.Minute)),
		"not hex":       "t=" + strconv.FormatInt(webhookNow.Unix(), 10) + ",v1=zzzz",
		"other body":    signedHeader([]byte(`{}`), webhookNow),
		"bad timestamp": "t=yesterday,v1=00",
	}
	for name, header := range bad {
		assert.ErrorIs(t, VerifySignature(testSigningKey, header, body, webhookNow), errBadSignature, name)
	}
}

type webhookFixture struct {
	db       *gorm.DB
	router   *gin.Engine
	customer *models.Customer
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	db := newTestDB(t)
	_, customer := seedCustomer(t, db, "jane@example.com")
	logger := zaptest.NewLogger(t)

	wc := &WebhookController{
		Bookings:    services.NewBookingService(db, services.WithBookingLogger(logger)),
		Idempotency: services.NewMemoryCache(),
		SigningKey:  testSigningKey,
		Logger:      logger,
		Now:         func() time.Time { return webhookNow },
	}
	r := gin.New()
	r.POST("/webhooks/calendly", wc.HandleCalendly)
	return &webhookFixture{db: db, router: r, customer: customer}
}

func (f *webhookFixture) post(t *testing.T, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendly", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signedHeader(body, webhookNow))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func inviteeHook(event, email, eventURI, name string) map[string]any {
	return map[string]any{
		"event":      event,
		"created_at": webhookNow.Format(time.RFC3339),
		"payload": map[string]any{
			"uri":   eventURI + "/invitees/" + uuid.NewString(),
			"email": email,
			"name":  "Jane",
			"scheduled_event": map[string]any{
				"uri":        eventURI,
				"name":       name,
				"start_time": webhookNow.Add(48 * time.Hour).Format(time.RFC3339),
				"end_time":   webhookNow.Add(49 * time.Hour).Format(time.RFC3339),
			},
			"questions_and_answers": []map[string]string{
				{"question": "Gate code", "answer": "1234"},
			},
		},
	}
}

func TestHandleCalendly_Created(t *testing.T) {
	f := newWebhookFixture(t)
	eventURI := "https://api.calendly.com/scheduled_events/" + uuid.NewString()
	hook := inviteeHook("invitee.created", "Jane@Example.com", eventURI, "Storage Pickup")

	w := f.post(t, hook)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var action models.Action
	require.NoError(t, f.db.Where("calendly_event_uri = ?", eventURI).First(&action).Error)
	assert.Equal(t, f.customer.ID, action.CustomerID)
	assert.Equal(t, models.ActionPickup, action.Type)
	assert.Equal(t, "Gate code: 1234", action.Notes)

	// redelivery of the same notification
	w = f.post(t, hook)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decodeBody(t, w)["status"])

	var count int64
	f.db.Model(&models.Action{}).Where("calendly_event_uri = ?", eventURI).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestHandleCalendly_CreatedOutcomes(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, inviteeHook("invitee.created", "stranger@example.com",
		"https://api.calendly.com/scheduled_events/"+uuid.NewString(), "Storage Pickup"))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = f.post(t, inviteeHook("invitee.created", "jane@example.com",
		"https://api.calendly.com/scheduled_events/"+uuid.NewString(), "Coffee chat"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.post(t, inviteeHook("routing_form_submission.created", "jane@example.com",
		"https://api.calendly.com/scheduled_events/"+uuid.NewString(), "Storage Pickup"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleCalendly_Canceled(t *testing.T) {
	f := newWebhookFixture(t)
	eventURI := "https://api.calendly.com/scheduled_events/" + uuid.NewString()

	require.Equal(t, http.StatusCreated, f.post(t, inviteeHook("invitee.created", "jane@example.com", eventURI, "Container Delivery")).Code)

	cancel := inviteeHook("invitee.canceled", "jane@example.com", eventURI, "Container Delivery")
	cancel["payload"].(map[string]any)["cancellation"] = map[string]string{"reason": "moving later", "canceled_by": "Jane"}
	w := f.post(t, cancel)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var action models.Action
	require.NoError(t, f.db.Where("calendly_event_uri = ?", eventURI).First(&action).Error)
	assert.Equal(t, models.ActionCanceled, action.Status)

	w = f.post(t, inviteeHook("invitee.canceled", "jane@example.com",
		"https://api.calendly.com/scheduled_events/"+uuid.NewString(), "Container Delivery"))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleCalendly_Rejects(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"event":"invitee.created","payload":{"uri":"x"}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/calendly", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "t=1,v1=00")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := []byte(`not json`)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/calendly", bytes.NewReader(bad))
	req.Header.Set(SignatureHeader, signedHeader(bad, webhookNow))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.post(t, map[string]any{"event": "invitee.created", "payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
