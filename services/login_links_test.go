package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"keepsafe-portal/models"
)

func newTestLoginLinks(t *testing.T, allowSignup bool) (*LoginLinks, *fakeNotifier, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	n := newFakeNotifier()
	links := NewLoginLinks(db, n, LoginLinkConfig{
		TTL:          15 * time.Minute,
		PublicURL:    "https://portal.test",
		RedirectPath: "/auth/callback",
		AllowSignup:  allowSignup,
	}, zaptest.NewLogger(t))
	return links, n, db
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", u.Path)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestLoginLinks_RequestAndRedeem(t *testing.T) {
	ctx := context.Background()
	links, n, db := newTestLoginLinks(t, false)
	user, _ := seedCustomer(t, db, "jane@example.com")

	require.NoError(t, links.Request(ctx, " JANE@example.com", "/bookings"))
	link, ok := n.links["jane@example.com"]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(link, "https://portal.test/auth/callback?token="))

	got, redirect, err := links.Redeem(ctx, tokenFromLink(t, link))
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "/bookings", redirect)
	require.NotNil(t, got.Customer)
	require.NotNil(t, got.LastLogin)

	// single use
	_, _, err = links.Redeem(ctx, tokenFromLink(t, link))
	assert.True(t, errors.Is(err, ErrInvalidLink))
}

func TestLoginLinks_Redeem_LastLoginFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	n := newFakeNotifier()
	core, logs := observer.New(zapcore.WarnLevel)
	links := NewLoginLinks(db, n, LoginLinkConfig{
		TTL:          15 * time.Minute,
		PublicURL:    "https://portal.test",
		RedirectPath: "/auth/callback",
	}, zap.New(core))
	user, _ := seedCustomer(t, db, "jane@example.com")

	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("fail_user_updates", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	require.NoError(t, links.Request(ctx, "jane@example.com", ""))
	got, _, err := links.Redeem(ctx, tokenFromLink(t, n.links["jane@example.com"]))
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	entries := logs.FilterMessage("Failed to update last login").All()
	require.Len(t, entries, 1)
	assert.Equal(t, user.ID.String(), entries[0].ContextMap()["userId"])
}

func TestLoginLinks_UnknownEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("ignored without signup", func(t *testing.T) {
		links, n, db := newTestLoginLinks(t, false)

		require.NoError(t, links.Request(ctx, "new@example.com", ""))
		assert.Empty(t, n.links)

		var count int64
		db.Model(&models.User{}).Count(&count)
		assert.Zero(t, count)
	})

	t.Run("creates a customer with signup", func(t *testing.T) {
		links, n, db := newTestLoginLinks(t, true)

		require.NoError(t, links.Request(ctx, "new@example.com", ""))
		assert.Contains(t, n.links, "new@example.com")

		var user models.User
		require.NoError(t, db.Preload("Customer").Where("email = ?", "new@example.com").First(&user).Error)
		assert.Equal(t, models.RoleCustomer, user.Role)
		require.NotNil(t, user.Customer)
	})
}

func TestLoginLinks_Redeem_Rejects(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		links, _, _ := newTestLoginLinks(t, false)
		for _, token := range []string{"", "nodot", "not-a-uuid.secret"} {
			_, _, err := links.Redeem(ctx, token)
			assert.True(t, errors.Is(err, ErrInvalidLink), token)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		links, n, db := newTestLoginLinks(t, false)
		seedCustomer(t, db, "jane@example.com")
		require.NoError(t, links.Request(ctx, "jane@example.com", ""))

		token := tokenFromLink(t, n.links["jane@example.com"])
		id, _, _ := strings.Cut(token, ".")
		_, _, err := links.Redeem(ctx, id+".forged")
		assert.True(t, errors.Is(err, ErrInvalidLink))

		// the genuine link still works
		_, _, err = links.Redeem(ctx, token)
		assert.NoError(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		links, n, db := newTestLoginLinks(t, false)
		seedCustomer(t, db, "jane@example.com")
		require.NoError(t, links.Request(ctx, "jane@example.com", ""))

		links.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, _, err := links.Redeem(ctx, tokenFromLink(t, n.links["jane@example.com"]))
		assert.True(t, errors.Is(err, ErrInvalidLink))
	})

	t.Run("unsafe redirect is dropped", func(t *testing.T) {
		links, n, db := newTestLoginLinks(t, false)
		seedCustomer(t, db, "jane@example.com")
		require.NoError(t, links.Request(ctx, "jane@example.com", "//evil.example"))

		_, redirect, err := links.Redeem(ctx, tokenFromLink(t, n.links["jane@example.com"]))
		require.NoError(t, err)
		assert.Empty(t, redirect)
	})
}
