package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type OnboardCustomerInput struct {
	Email        string `json:"email" binding:"required,email"`
	Name         string `json:"name" binding:"required,max=100"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"addressLine1" binding:"max=200"`
	AddressLine2 string `json:"addressLine2" binding:"max=200"`
	City         string `json:"city" binding:"max=100"`
	State        string `json:"state" binding:"max=50"`
	ZipCode      string `json:"zipCode"`
	Notes        string `json:"notes"`
	SendInvite   bool   `json:"sendInvite"`
}

type SetRoleInput struct {
	Role string `json:"role" binding:"required,oneof=customer staff admin"`
}

// AdminController handles customer onboarding and waitlist reporting
type AdminController struct {
	DB         *gorm.DB
	Onboarding *services.OnboardingService
	Waitlist   *services.WaitlistService
	Logger     *zap.Logger
}

func (ac *AdminController) OnboardCustomer(c *gin.Context) {
	var input OnboardCustomerInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	if input.Phone != "" && !utils.ValidatePhone(input.Phone) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid phone number format")
		return
	}
	if input.ZipCode != "" && !utils.ValidateZip(input.ZipCode) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid zip code")
		return
	}

	customer, err := ac.Onboarding.Onboard(c.Request.Context(), services.OnboardingInput{
		Email:        input.Email,
		Name:         input.Name,
		Phone:        input.Phone,
		AddressLine1: input.AddressLine1,
		AddressLine2: input.AddressLine2,
		City:         input.City,
		State:        input.State,
		ZipCode:      input.ZipCode,
		Notes:        input.Notes,
		SendInvite:   input.SendInvite,
	})
	if err != nil {
		respondServiceError(c, ac.Logger, err, "Failed to create customer")
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (ac *AdminController) SetUserRole(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input SetRoleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	if current, _ := utils.CurrentUserID(c); current == userID && input.Role != models.RoleAdmin {
		utils.RespondWithError(c, http.StatusBadRequest, "You cannot remove your own admin role")
		return
	}

	var user models.User
	if err := ac.DB.WithContext(c.Request.Context()).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.RespondWithError(c, http.StatusNotFound, "User not found")
		} else {
			utils.RespondWithError(c, http.StatusInternalServerError, "Database error")
		}
		return
	}
	if err := ac.DB.WithContext(c.Request.Context()).Model(&user).Update("role", input.Role).Error; err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to update role")
		return
	}
	ac.Logger.Info("User role changed", zap.String("user_id", user.ID.String()), zap.String("role", input.Role))
	c.JSON(http.StatusOK, user)
}

func (ac *AdminController) ListWaitlist(c *gin.Context) {
	entries, err := ac.Waitlist.List(c.Request.Context(), c.Query("zip"))
	if err != nil {
		respondServiceError(c, ac.Logger, err, "Failed to fetch waitlist")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// WaitlistAnalytics reports demand outside the service area
func (ac *AdminController) WaitlistAnalytics(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			utils.RespondWithError(c, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}
		days = n
	}

	analytics, err := ac.Waitlist.Analytics(c.Request.Context(), days)
	if err != nil {
		respondServiceError(c, ac.Logger, err, "Failed to build waitlist analytics")
		return
	}
	analytics.MarkServiceArea(ac.Waitlist.Area())
	c.JSON(http.StatusOK, analytics)
}
