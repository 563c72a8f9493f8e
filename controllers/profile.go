package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type UpdateProfileInput struct {
	Name         string `json:"name" binding:"required,max=100"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"addressLine1" binding:"max=200"`
	AddressLine2 string `json:"addressLine2" binding:"max=200"`
	City         string `json:"city" binding:"max=100"`
	State        string `json:"state" binding:"max=50"`
	ZipCode      string `json:"zipCode"`
}

type ProfileController struct {
	DB    *gorm.DB
	Cache *services.QueryCache
}

func (pc *ProfileController) GetProfile(c *gin.Context) {
	customer, ok := currentCustomer(c, pc.DB)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (pc *ProfileController) UpdateProfile(c *gin.Context) {
	var input UpdateProfileInput
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

	customer, ok := currentCustomer(c, pc.DB)
	if !ok {
		return
	}

	customer.Name = input.Name
	customer.Phone = input.Phone
	customer.AddressLine1 = input.AddressLine1
	customer.AddressLine2 = input.AddressLine2
	customer.City = input.City
	customer.State = input.State
	customer.ZipCode = utils.NormalizeZip(input.ZipCode)

	if err := pc.DB.WithContext(c.Request.Context()).Save(customer).Error; err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	pc.Cache.Invalidate(c.Request.Context(), customer.ID)

	c.JSON(http.StatusOK, customer)
}
