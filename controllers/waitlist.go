package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type WaitlistInput struct {
	Email          string `json:"email" binding:"required,email"`
	Name           string `json:"name" binding:"required,max=100"`
	Phone          string `json:"phone"`
	ZipCode        string `json:"zipCode" binding:"required"`
	ReferralSource string `json:"referralSource" binding:"max=100"`
	Notes          string `json:"notes" binding:"max=1000"`
}

type WaitlistController struct {
	Waitlist *services.WaitlistService
	Logger   *zap.Logger
}

// JoinWaitlist stores demand from outside the service area. Visitors inside
// the area are told so and not stored.
func (wc *WaitlistController) JoinWaitlist(c *gin.Context) {
	var input WaitlistInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	if !utils.ValidateZip(input.ZipCode) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid zip code")
		return
	}
	if input.Phone != "" && !utils.ValidatePhone(input.Phone) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid phone number format")
		return
	}

	if wc.Waitlist.Area().Contains(input.ZipCode) {
		c.JSON(http.StatusOK, gin.H{"inServiceArea": true, "zipCode": utils.NormalizeZip(input.ZipCode)})
		return
	}

	entry, err := wc.Waitlist.Join(c.Request.Context(), services.WaitlistSignup{
		Email:          input.Email,
		Name:           input.Name,
		Phone:          input.Phone,
		ZipCode:        input.ZipCode,
		ReferralSource: input.ReferralSource,
		Notes:          input.Notes,
	})
	if err != nil {
		respondServiceError(c, wc.Logger, err, "Failed to join waitlist")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"inServiceArea": false, "zipCode": entry.ZipCode, "id": entry.ID})
}

func (wc *WaitlistController) CheckServiceArea(c *gin.Context) {
	zip := c.Param("zip")
	if !utils.ValidateZip(zip) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid zip code")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"zipCode":       utils.NormalizeZip(zip),
		"inServiceArea": wc.Waitlist.Area().Contains(zip),
	})
}
