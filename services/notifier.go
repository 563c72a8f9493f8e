package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
	"go.uber.org/zap"
)

// Notifier delivers login links and text messages
type Notifier interface {
	SendLoginLink(ctx context.Context, email, link string) error
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioNotifier sends login links through the Twilio Verify email channel
// (the link is passed as a template substitution) and SMS through Messaging.
type TwilioNotifier struct {
	client           *twilio.RestClient
	fromNumber       string
	verifyServiceSID string
	logger           *zap.Logger
}

func NewTwilioNotifier(accountSID, authToken, fromNumber, verifyServiceSID string, logger *zap.Logger) (*TwilioNotifier, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio credentials are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioNotifier{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		fromNumber:       fromNumber,
		verifyServiceSID: verifyServiceSID,
		logger:           logger,
	}, nil
}

func (n *TwilioNotifier) SendLoginLink(_ context.Context, email, link string) error {
	if n.verifyServiceSID == "" {
		return errors.New("twilio verify service is not configured")
	}
	params := &verify.CreateVerificationParams{}
	params.SetTo(email)
	params.SetChannel("email")
	params.SetChannelConfiguration(map[string]interface{}{
		"substitutions": map[string]interface{}{
			"login_link": link,
		},
	})

	resp, err := n.client.VerifyV2.CreateVerification(n.verifyServiceSID, params)
	if err != nil {
		return fmt.Errorf("failed to send login link: %w", err)
	}
	if resp.Sid != nil {
		n.logger.Info("Login link sent", zap.String("sid", *resp.Sid))
	}
	return nil
}

func (n *TwilioNotifier) SendSMS(_ context.Context, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(n.fromNumber)
	params.SetBody(body)

	resp, err := n.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if resp.Sid != nil {
		n.logger.Info("Message sent", zap.String("sid", *resp.Sid))
	}
	return nil
}

// LogNotifier only logs what it would send. Used in development when Twilio
// is not configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) SendLoginLink(_ context.Context, email, link string) error {
	n.Logger.Info("Login link (not sent)", zap.String("email", email), zap.String("link", link))
	return nil
}

func (n LogNotifier) SendSMS(_ context.Context, to, body string) error {
	n.Logger.Info("SMS (not sent)", zap.String("to", to), zap.String("body", body))
	return nil
}
