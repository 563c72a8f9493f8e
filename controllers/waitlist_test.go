package controllers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
)

func newWaitlistRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logger := zaptest.NewLogger(t)
	wc := &WaitlistController{
		Waitlist: services.NewWaitlistService(db, services.NewServiceArea([]string{"94107", "94110"}), logger),
		Logger:   logger,
	}
	r := gin.New()
	r.POST("/api/waitlist", wc.JoinWaitlist)
	r.GET("/api/service-area/:zip", wc.CheckServiceArea)
	return r, db
}

func TestJoinWaitlist(t *testing.T) {
	r, db := newWaitlistRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/waitlist", gin.H{
		"email": "far@example.com", "name": "Far Away", "zipCode": "10001", "referralSource": "friend",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, false, decodeBody(t, w)["inServiceArea"])

	w = doJSON(t, r, http.MethodPost, "/api/waitlist", gin.H{
		"email": "near@example.com", "name": "Near By", "zipCode": "94107-1234",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["inServiceArea"])
	assert.Equal(t, "94107", body["zipCode"])

	var count int64
	db.Model(&models.WaitlistEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestJoinWaitlist_Invalid(t *testing.T) {
	r, _ := newWaitlistRouter(t)
	cases := map[string]gin.H{
		"missing email": {"name": "X", "zipCode": "10001"},
		"bad email":     {"email": "nope", "name": "X", "zipCode": "10001"},
		"bad zip":       {"email": "x@example.com", "name": "X", "zipCode": "1000"},
		"bad phone":     {"email": "x@example.com", "name": "X", "zipCode": "10001", "phone": "call me"},
	}
	for name, input := range cases {
		w := doJSON(t, r, http.MethodPost, "/api/waitlist", input)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestCheckServiceArea(t *testing.T) {
	r, _ := newWaitlistRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/service-area/94110", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["inServiceArea"])

	w = doJSON(t, r, http.MethodGet, "/api/service-area/60601", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["inServiceArea"])

	w = doJSON(t, r, http.MethodGet, "/api/service-area/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
