package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/utils"
)

// LoginLinks issues and redeems passwordless login links
type LoginLinks struct {
	db           *gorm.DB
	notifier     Notifier
	ttl          time.Duration
	publicURL    string
	redirectPath string
	allowSignup  bool
	logger       *zap.Logger
	now          func() time.Time
}

// LoginLinkConfig holds the link settings
type LoginLinkConfig struct {
	TTL          time.Duration
	PublicURL    string
	RedirectPath string
	AllowSignup  bool
}

func NewLoginLinks(db *gorm.DB, notifier Notifier, cfg LoginLinkConfig, logger *zap.Logger) *LoginLinks {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LoginLinks{
		db:           db,
		notifier:     notifier,
		ttl:          ttl,
		publicURL:    cfg.PublicURL,
		redirectPath: cfg.RedirectPath,
		allowSignup:  cfg.AllowSignup,
		logger:       logger,
		now:          time.Now,
	}
}

// Request sends a login link to email. Unknown addresses either get a fresh
// customer account (when sign-up is allowed) or are silently ignored, so the
// caller's response never reveals whether an account exists.
func (l *LoginLinks) Request(ctx context.Context, email, redirectTo string) error {
	email = utils.NormalizeEmail(email)

	var user models.User
	err := l.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !l.allowSignup {
			l.logger.Info("Login link requested for unknown email")
			return nil
		}
		created, err := l.signUp(ctx, email)
		if err != nil {
			return err
		}
		user = *created
	case err != nil:
		return err
	}

	if !user.IsActive {
		l.logger.Info("Login link requested for inactive user", zap.String("user_id", user.ID.String()))
		return nil
	}
	return l.Send(ctx, &user, redirectTo)
}

func (l *LoginLinks) signUp(ctx context.Context, email string) (*models.User, error) {
	user := models.User{Email: email, Role: models.RoleCustomer, IsActive: true}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Customer{UserID: user.ID, Email: email}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	l.logger.Info("Customer signed up", zap.String("user_id", user.ID.String()))
	return &user, nil
}

// Send issues a new link for user and delivers it
func (l *LoginLinks) Send(ctx context.Context, user *models.User, redirectTo string) error {
	if redirectTo != "" && !utils.SafeRedirectPath(redirectTo) {
		redirectTo = ""
	}

	secret, hash, err := utils.NewLinkSecret()
	if err != nil {
		return fmt.Errorf("failed to generate login token: %w", err)
	}
	token := models.LoginToken{
		UserID:     user.ID,
		SecretHash: hash,
		RedirectTo: redirectTo,
		ExpiresAt:  l.now().Add(l.ttl).UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&token).Error; err != nil {
		return fmt.Errorf("failed to store login token: %w", err)
	}

	link := l.publicURL + l.redirectPath + "?token=" + url.QueryEscape(utils.FormatLinkToken(token.ID, secret))
	if err := l.notifier.SendLoginLink(ctx, user.Email, link); err != nil {
		return err
	}
	return nil
}

// Redeem consumes a link token and returns the user it signs in plus the
// path the user asked to land on
func (l *LoginLinks) Redeem(ctx context.Context, rawToken string) (*models.User, string, error) {
	id, secret, err := utils.SplitLinkToken(rawToken)
	if err != nil {
		return nil, "", ErrInvalidLink
	}

	var token models.LoginToken
	if err := l.db.WithContext(ctx).First(&token, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidLink
		}
		return nil, "", err
	}
	now := l.now().UTC()
	if token.UsedAt != nil || now.After(token.ExpiresAt) || !utils.CheckLinkSecret(secret, token.SecretHash) {
		return nil, "", ErrInvalidLink
	}

	res := l.db.WithContext(ctx).Model(&models.LoginToken{}).
		Where("id = ? AND used_at IS NULL", token.ID).
		Update("used_at", now)
	if res.Error != nil {
		return nil, "", res.Error
	}
	if res.RowsAffected == 0 {
		return nil, "", ErrInvalidLink
	}

	var user models.User
	if err := l.db.WithContext(ctx).Preload("Customer").First(&user, "id = ?", token.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidLink
		}
		return nil, "", err
	}
	if !user.IsActive {
		return nil, "", ErrInvalidLink
	}

	if err := l.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		l.logger.Warn("Failed to update last login", zap.String("userId", user.ID.String()), zap.Error(err))
	}
	user.LastLogin = &now
	return &user, token.RedirectTo, nil
}
