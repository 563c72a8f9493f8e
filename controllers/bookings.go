package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type ConfirmBookingInput struct {
	EventURI string     `json:"eventUri"`
	Since    *time.Time `json:"since"`
}

type CancelBookingInput struct {
	Reason string `json:"reason" binding:"max=500"`
}

type UpdateBookingItemsInput struct {
	ItemIDs []uuid.UUID `json:"itemIds" binding:"required"`
}

// BookingController serves the customer's scheduled actions
type BookingController struct {
	DB       *gorm.DB
	Bookings *services.BookingService
	Poller   *services.BookingPoller
	Billing  *services.BillingService
	Logger   *zap.Logger
}

func (bc *BookingController) ListBookings(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", models.ActionScheduled, models.ActionCanceled, models.ActionCompleted:
	default:
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid status filter")
		return
	}
	customer, ok := currentCustomer(c, bc.DB)
	if !ok {
		return
	}

	actions, err := bc.Bookings.ListForCustomer(c.Request.Context(), customer.ID, status)
	if err != nil {
		respondServiceError(c, bc.Logger, err, "Failed to fetch bookings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": actions, "total": len(actions)})
}

// ConfirmBooking waits for the scheduler's webhook to land after the
// customer finished the booking widget. It long-polls the database and
// answers 202 when the booking has not shown up in time; the client may
// call again. A client disconnect cancels the poll.
func (bc *BookingController) ConfirmBooking(c *gin.Context) {
	var input ConfirmBookingInput
	// both fields are optional, so a bare POST is fine
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, bc.DB)
	if !ok {
		return
	}
	c.Set("longPoll", true)

	since := time.Now().Add(-10 * time.Minute)
	if input.Since != nil {
		since = *input.Since
	}

	outcome := bc.Poller.Await(c.Request.Context(), func(ctx context.Context) (*models.Action, error) {
		return bc.Bookings.FindForConfirmation(ctx, customer.ID, input.EventURI, since)
	})

	switch outcome.Result {
	case services.PollConfirmed:
		c.JSON(http.StatusOK, gin.H{"status": outcome.Result.String(), "booking": outcome.Action, "attempts": outcome.Attempts})
	case services.PollTimedOut:
		c.JSON(http.StatusAccepted, gin.H{"status": outcome.Result.String(), "attempts": outcome.Attempts})
	default:
		// client went away; nobody reads this
		c.Status(499)
	}
}

func (bc *BookingController) CancelBooking(c *gin.Context) {
	actionID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input CancelBookingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, bc.DB)
	if !ok {
		return
	}
	userID, _ := utils.CurrentUserID(c)

	action, err := bc.Bookings.Cancel(c.Request.Context(), customer.ID, actionID, userID, input.Reason)
	if err != nil {
		respondServiceError(c, bc.Logger, err, "Failed to cancel booking")
		return
	}
	c.JSON(http.StatusOK, action)
}

func (bc *BookingController) UpdateBookingItems(c *gin.Context) {
	actionID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input UpdateBookingItemsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, bc.DB)
	if !ok {
		return
	}
	userID, _ := utils.CurrentUserID(c)

	action, err := bc.Bookings.UpdateItems(c.Request.Context(), customer.ID, actionID, userID, input.ItemIDs)
	if err != nil {
		respondServiceError(c, bc.Logger, err, "Failed to update booking items")
		return
	}
	c.JSON(http.StatusOK, action)
}

func (bc *BookingController) BillingPortalSession(c *gin.Context) {
	if bc.Billing == nil {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}
	customer, ok := currentCustomer(c, bc.DB)
	if !ok {
		return
	}

	url, err := bc.Billing.PortalSession(c.Request.Context(), customer.ID)
	if err != nil {
		respondServiceError(c, bc.Logger, err, "Failed to create billing session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
