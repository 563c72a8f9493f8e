package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/config"
	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type MagicLinkInput struct {
	Email      string `json:"email" binding:"required,email"`
	RedirectTo string `json:"redirectTo"`
}

type VerifyInput struct {
	Token string `json:"token" binding:"required"`
}

// AuthController handles passwordless sign-in
type AuthController struct {
	DB     *gorm.DB
	Links  *services.LoginLinks
	JWT    config.JWTConfig
	Auth   config.AuthConfig
	Logger *zap.Logger
}

// AccountStatus loads the current role and active flag for the auth middleware
func (ac *AuthController) AccountStatus(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	var user models.User
	err := ac.DB.WithContext(ctx).Select("id", "role", "is_active").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		ac.Logger.Error("Failed to load account", zap.String("userId", userID.String()), zap.Error(err))
		return "", false, err
	}
	return user.Role, user.IsActive, nil
}

// RequestMagicLink always answers 200 so the response does not reveal which
// emails have accounts
func (ac *AuthController) RequestMagicLink(c *gin.Context) {
	var input MagicLinkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	if input.RedirectTo != "" && !utils.SafeRedirectPath(input.RedirectTo) {
		utils.RespondWithError(c, http.StatusBadRequest, "redirectTo must be a relative path")
		return
	}

	if err := ac.Links.Request(c.Request.Context(), input.Email, input.RedirectTo); err != nil {
		ac.Logger.Error("Failed to send login link", zap.Error(err))
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to send login link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If that address can sign in, a login link is on its way"})
}

func (ac *AuthController) Verify(c *gin.Context) {
	var input VerifyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}

	user, redirect, err := ac.Links.Redeem(c.Request.Context(), input.Token)
	if err != nil {
		respondServiceError(c, ac.Logger, err, "Failed to verify login link")
		return
	}

	ttl := time.Duration(ac.JWT.ExpiryHours) * time.Hour
	token, err := utils.GenerateToken(user.ID, user.Role, ac.JWT.Secret, ttl)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(utils.SessionCookie, token, int(ttl.Seconds()), "/", "", ac.Auth.SecureCookie, true)

	if redirect == "" {
		redirect = defaultLanding(user)
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user":       user,
		"redirectTo": redirect,
	})
}

func (ac *AuthController) Me(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		utils.RespondWithError(c, http.StatusUnauthorized, "User ID not found in context")
		return
	}

	var user models.User
	if err := ac.DB.WithContext(c.Request.Context()).Preload("Customer").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.RespondWithError(c, http.StatusNotFound, "User not found")
		} else {
			utils.RespondWithError(c, http.StatusInternalServerError, "Database error")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (ac *AuthController) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(utils.SessionCookie, "", -1, "/", "", ac.Auth.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func defaultLanding(user *models.User) string {
	switch user.Role {
	case models.RoleAdmin:
		return "/admin"
	case models.RoleStaff:
		return "/staff"
	}
	return "/"
}
