package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

// respondServiceError maps service sentinel errors onto HTTP statuses. The
// wrapped message is shown to the client for client errors only.
func respondServiceError(c *gin.Context, logger *zap.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		utils.RespondWithError(c, http.StatusNotFound, clientMessage(err, "Not found"))
	case errors.Is(err, services.ErrForbidden):
		utils.RespondWithError(c, http.StatusForbidden, clientMessage(err, "Forbidden"))
	case errors.Is(err, services.ErrConflict):
		utils.RespondWithError(c, http.StatusConflict, clientMessage(err, "Conflict"))
	case errors.Is(err, services.ErrInvalidState):
		utils.RespondWithError(c, http.StatusConflict, clientMessage(err, "Invalid state"))
	case errors.Is(err, services.ErrValidation):
		utils.RespondWithError(c, http.StatusBadRequest, clientMessage(err, "Invalid input"))
	case errors.Is(err, services.ErrInvalidLink):
		utils.RespondWithError(c, http.StatusUnauthorized, services.ErrInvalidLink.Error())
	default:
		logger.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
		utils.RespondWithError(c, http.StatusInternalServerError, fallback)
	}
}

// clientMessage strips the sentinel prefix from "sentinel: detail" errors
func clientMessage(err error, fallback string) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	if msg == "" {
		return fallback
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// currentCustomer loads the customer profile of the signed-in user, writing
// the error response itself when there is none
func currentCustomer(c *gin.Context, db *gorm.DB) (*models.Customer, bool) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		utils.RespondWithError(c, http.StatusUnauthorized, "User ID not found in context")
		return nil, false
	}
	var customer models.Customer
	if err := db.WithContext(c.Request.Context()).Where("user_id = ?", userID).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.RespondWithError(c, http.StatusNotFound, "Customer profile not found")
		} else {
			utils.RespondWithError(c, http.StatusInternalServerError, "Database error")
		}
		return nil, false
	}
	return &customer, true
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}
