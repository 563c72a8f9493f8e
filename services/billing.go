package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
)

// BillingProvider is the payment platform holding customer billing accounts
type BillingProvider interface {
	CreateCustomer(ctx context.Context, c *models.Customer) (string, error)
	CreatePortalSession(ctx context.Context, billingCustomerID, returnURL string) (string, error)
}

// StripeBilling implements BillingProvider with the Stripe API
type StripeBilling struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripeBilling creates a Stripe client. backends may be nil to use the
// default HTTP backends.
func NewStripeBilling(secretKey string, backends *stripe.Backends, logger *zap.Logger) (*StripeBilling, error) {
	if secretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeBilling{api: api, logger: logger}, nil
}

func (s *StripeBilling) CreateCustomer(ctx context.Context, c *models.Customer) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(c.Email),
		Name:  stripe.String(c.Name),
	}
	if c.Phone != "" {
		params.Phone = stripe.String(c.Phone)
	}
	if c.AddressLine1 != "" {
		params.Address = &stripe.AddressParams{
			Line1:      stripe.String(c.AddressLine1),
			Line2:      stripe.String(c.AddressLine2),
			City:       stripe.String(c.City),
			State:      stripe.String(c.State),
			PostalCode: stripe.String(c.ZipCode),
			Country:    stripe.String("US"),
		}
	}
	params.Context = ctx
	params.AddMetadata("customer_id", c.ID.String())

	cust, err := s.api.Customers.New(params)
	if err != nil {
		s.logger.Error("Failed to create Stripe customer",
			zap.String("customer_id", c.ID.String()), zap.Error(err))
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}
	s.logger.Info("Created Stripe customer",
		zap.String("customer_id", c.ID.String()),
		zap.String("stripe_customer_id", cust.ID))
	return cust.ID, nil
}

func (s *StripeBilling) CreatePortalSession(ctx context.Context, billingCustomerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(billingCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

// BillingService links customer profiles to billing accounts
type BillingService struct {
	db        *gorm.DB
	provider  BillingProvider
	returnURL string
	logger    *zap.Logger
}

func NewBillingService(db *gorm.DB, provider BillingProvider, returnURL string, logger *zap.Logger) *BillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingService{db: db, provider: provider, returnURL: returnURL, logger: logger}
}

// EnsureCustomer creates the billing account of a customer when missing
func (b *BillingService) EnsureCustomer(ctx context.Context, c *models.Customer) (string, error) {
	if c.StripeCustomerID != "" {
		return c.StripeCustomerID, nil
	}
	if b.provider == nil {
		return "", errors.New("billing is not configured")
	}
	id, err := b.provider.CreateCustomer(ctx, c)
	if err != nil {
		return "", err
	}
	if err := b.db.WithContext(ctx).Model(c).Update("stripe_customer_id", id).Error; err != nil {
		return "", fmt.Errorf("failed to store billing id: %w", err)
	}
	c.StripeCustomerID = id
	return id, nil
}

// PortalSession returns a billing portal URL for the customer
func (b *BillingService) PortalSession(ctx context.Context, customerID uuid.UUID) (string, error) {
	var c models.Customer
	if err := b.db.WithContext(ctx).First(&c, "id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	billingID, err := b.EnsureCustomer(ctx, &c)
	if err != nil {
		return "", err
	}
	return b.provider.CreatePortalSession(ctx, billingID, b.returnURL)
}
