package controllers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

const (
	webhookTolerance      = 5 * time.Minute
	webhookIdempotencyTTL = 24 * time.Hour
	maxWebhookBody        = 1 << 20

	SignatureHeader = "Calendly-Webhook-Signature"
)

var errBadSignature = errors.New("invalid webhook signature")

type calendlyWebhook struct {
	Event     string          `json:"event"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   calendlyInvitee `json:"payload"`
}

type calendlyInvitee struct {
	URI            string `json:"uri"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Event          string `json:"event"`
	ScheduledEvent struct {
		URI       string     `json:"uri"`
		Name      string     `json:"name"`
		StartTime time.Time  `json:"start_time"`
		EndTime   *time.Time `json:"end_time"`
	} `json:"scheduled_event"`
	Cancellation *struct {
		Reason     string `json:"reason"`
		CanceledBy string `json:"canceled_by"`
	} `json:"cancellation"`
	QuestionsAndAnswers []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"questions_and_answers"`
}

func (p calendlyInvitee) eventURI() string {
	if p.ScheduledEvent.URI != "" {
		return p.ScheduledEvent.URI
	}
	return p.Event
}

func (p calendlyInvitee) notes() string {
	parts := make([]string, 0, len(p.QuestionsAndAnswers))
	for _, qa := range p.QuestionsAndAnswers {
		if qa.Answer != "" {
			parts = append(parts, qa.Question+": "+qa.Answer)
		}
	}
	return strings.Join(parts, "\n")
}

// WebhookController receives scheduler notifications
type WebhookController struct {
	Bookings    *services.BookingService
	Idempotency services.IdempotencyStore
	SigningKey  string
	Logger      *zap.Logger
	Now         func() time.Time
}

func (wc *WebhookController) now() time.Time {
	if wc.Now != nil {
		return wc.Now()
	}
	return time.Now()
}

func (wc *WebhookController) HandleCalendly(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Failed to read body")
		return
	}

	if wc.SigningKey != "" {
		if err := VerifySignature(wc.SigningKey, c.GetHeader(SignatureHeader), body, wc.now()); err != nil {
			wc.Logger.Warn("Rejected webhook", zap.Error(err))
			utils.RespondWithError(c, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var hook calendlyWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid payload")
		return
	}
	if hook.Event == "" || hook.Payload.URI == "" {
		utils.RespondWithError(c, http.StatusBadRequest, "Missing event or payload uri")
		return
	}

	ctx := c.Request.Context()
	key := "calendly:" + hook.Event + ":" + hook.Payload.URI
	if wc.Idempotency != nil {
		first, err := wc.Idempotency.MarkProcessed(ctx, key, webhookIdempotencyTTL)
		if err != nil {
			wc.Logger.Warn("Idempotency check failed", zap.Error(err))
		} else if !first {
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	status, resp := wc.dispatch(c, &hook)
	if status >= http.StatusInternalServerError && wc.Idempotency != nil {
		if err := wc.Idempotency.Forget(ctx, key); err != nil {
			wc.Logger.Warn("Failed to release idempotency key", zap.Error(err))
		}
	}
	c.JSON(status, resp)
}

func (wc *WebhookController) dispatch(c *gin.Context, hook *calendlyWebhook) (int, gin.H) {
	ctx := c.Request.Context()
	p := hook.Payload
	logger := wc.Logger.With(zap.String("event", hook.Event), zap.String("event_uri", p.eventURI()))

	switch hook.Event {
	case "invitee.created":
		action, created, err := wc.Bookings.RecordScheduled(ctx, services.ScheduledBooking{
			Email:      p.Email,
			EventURI:   p.eventURI(),
			InviteeURI: p.URI,
			EventName:  p.ScheduledEvent.Name,
			StartTime:  p.ScheduledEvent.StartTime,
			EndTime:    p.ScheduledEvent.EndTime,
			Notes:      p.notes(),
		})
		switch {
		case errors.Is(err, services.ErrNotFound):
			logger.Warn("Booking for unknown customer", zap.String("email", p.Email))
			return http.StatusAccepted, gin.H{"status": "ignored", "reason": "unknown customer"}
		case errors.Is(err, services.ErrValidation):
			logger.Warn("Unusable booking", zap.Error(err))
			return http.StatusUnprocessableEntity, gin.H{"error": clientMessage(err, "Invalid booking")}
		case err != nil:
			logger.Error("Failed to record booking", zap.Error(err))
			return http.StatusInternalServerError, gin.H{"error": "Failed to record booking"}
		}
		if !created {
			return http.StatusOK, gin.H{"status": "exists", "actionId": action.ID}
		}
		return http.StatusCreated, gin.H{"status": "created", "actionId": action.ID}

	case "invitee.canceled":
		reason := ""
		if p.Cancellation != nil {
			reason = p.Cancellation.Reason
		}
		action, err := wc.Bookings.RecordCanceledByScheduler(ctx, p.eventURI(), reason)
		switch {
		case errors.Is(err, services.ErrNotFound):
			logger.Warn("Cancellation for unknown booking")
			return http.StatusAccepted, gin.H{"status": "ignored", "reason": "unknown booking"}
		case errors.Is(err, services.ErrConflict):
			return http.StatusOK, gin.H{"status": "canceled"}
		case err != nil:
			logger.Error("Failed to record cancellation", zap.Error(err))
			return http.StatusInternalServerError, gin.H{"error": "Failed to record cancellation"}
		}
		return http.StatusOK, gin.H{"status": action.Status, "actionId": action.ID}
	}

	logger.Warn("Unsupported webhook event")
	return http.StatusUnprocessableEntity, gin.H{"error": "Unsupported event " + hook.Event}
}

// VerifySignature checks a "t=<unix>,v1=<hex>" header where v1 is the
// HMAC-SHA256 of "<t>.<body>" under key
func VerifySignature(key, header string, body []byte, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return errBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errBadSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", errBadSignature)
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return errBadSignature
	}
	if !hmac.Equal(want, SignPayload(key, ts, body)) {
		return errBadSignature
	}
	return nil
}

// SignPayload computes the v1 signature for a timestamp and body
func SignPayload(key, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(ts + "." + string(body)))
	return mac.Sum(nil)
}
