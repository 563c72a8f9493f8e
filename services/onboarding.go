package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/utils"
)

// OnboardingInput is what staff enter when creating a customer record
type OnboardingInput struct {
	Email        string
	Name         string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	ZipCode      string
	Notes        string
	SendInvite   bool
}

// OnboardingService creates customer accounts on behalf of staff
type OnboardingService struct {
	db      *gorm.DB
	billing *BillingService
	links   *LoginLinks
	logger  *zap.Logger
}

func NewOnboardingService(db *gorm.DB, billing *BillingService, links *LoginLinks, logger *zap.Logger) *OnboardingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnboardingService{db: db, billing: billing, links: links, logger: logger}
}

// Onboard creates the user, the customer profile and the billing account.
// Billing and invite failures are logged; the customer record stands.
func (o *OnboardingService) Onboard(ctx context.Context, in OnboardingInput) (*models.Customer, error) {
	email := utils.NormalizeEmail(in.Email)

	var existing models.User
	err := o.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: a user with this email already exists", ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	user := models.User{Email: email, Role: models.RoleCustomer, IsActive: true}
	customer := models.Customer{
		Email:        email,
		Name:         in.Name,
		Phone:        in.Phone,
		AddressLine1: in.AddressLine1,
		AddressLine2: in.AddressLine2,
		City:         in.City,
		State:        in.State,
		ZipCode:      utils.NormalizeZip(in.ZipCode),
		Notes:        in.Notes,
		OnboardedAt:  &now,
	}

	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		customer.UserID = user.ID
		return tx.Create(&customer).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	o.logger.Info("Customer onboarded", zap.String("customer_id", customer.ID.String()))

	if o.billing != nil {
		if _, err := o.billing.EnsureCustomer(ctx, &customer); err != nil {
			o.logger.Warn("Billing account not created", zap.String("customer_id", customer.ID.String()), zap.Error(err))
		}
	}
	if in.SendInvite && o.links != nil {
		if err := o.links.Send(ctx, &user, "/"); err != nil {
			o.logger.Warn("Invite not sent", zap.String("customer_id", customer.ID.String()), zap.Error(err))
		}
	}
	return &customer, nil
}
