package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type ItemInput struct {
	Label         string          `json:"label" binding:"required,max=100"`
	Description   string          `json:"description" binding:"max=1000"`
	Category      string          `json:"category" binding:"max=50"`
	LengthIn      float64         `json:"lengthIn"`
	WidthIn       float64         `json:"widthIn"`
	HeightIn      float64         `json:"heightIn"`
	WeightLb      float64         `json:"weightLb"`
	DeclaredValue decimal.Decimal `json:"declaredValue"`
}

func (in ItemInput) toService() services.ItemInput {
	return services.ItemInput{
		Label:         in.Label,
		Description:   in.Description,
		Category:      in.Category,
		LengthIn:      in.LengthIn,
		WidthIn:       in.WidthIn,
		HeightIn:      in.HeightIn,
		WeightLb:      in.WeightLb,
		DeclaredValue: in.DeclaredValue,
	}
}

type PhotoUploadInput struct {
	ContentType string `json:"contentType" binding:"required"`
	SizeBytes   int64  `json:"sizeBytes" binding:"required"`
}

type ConfirmPhotoInput struct {
	StorageKey  string `json:"storageKey" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
	SizeBytes   int64  `json:"sizeBytes" binding:"required"`
}

// InventoryController serves the customer's own items
type InventoryController struct {
	DB        *gorm.DB
	Inventory *services.InventoryService
	Logger    *zap.Logger
}

func (ic *InventoryController) ListItems(c *gin.Context) {
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	q := services.ItemQuery{
		Status: c.Query("status"),
		Search: c.Query("search"),
		Sort:   c.DefaultQuery("sort", "created"),
	}
	switch q.Sort {
	case "label", "created", "value":
	default:
		utils.RespondWithError(c, http.StatusBadRequest, "sort must be one of: label, created, value")
		return
	}

	items, err := ic.Inventory.List(c.Request.Context(), customer.ID, q)
	if err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to fetch items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (ic *InventoryController) GetItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	item, err := ic.Inventory.Get(c.Request.Context(), customer.ID, itemID)
	if err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to fetch item")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (ic *InventoryController) CreateItem(c *gin.Context) {
	var input ItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	item, err := ic.Inventory.Create(c.Request.Context(), customer.ID, input.toService())
	if err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to create item")
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (ic *InventoryController) UpdateItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input ItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	item, err := ic.Inventory.Update(c.Request.Context(), customer.ID, itemID, input.toService())
	if err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to update item")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (ic *InventoryController) DeleteItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	if err := ic.Inventory.Delete(c.Request.Context(), customer.ID, itemID); err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to delete item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item deleted successfully"})
}

func (ic *InventoryController) PhotoUploadURL(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input PhotoUploadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	upload, err := ic.Inventory.PhotoUploadURL(c.Request.Context(), customer.ID, itemID, input.ContentType, input.SizeBytes)
	if err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to create upload URL")
		return
	}
	c.JSON(http.StatusOK, upload)
}

func (ic *InventoryController) ConfirmPhoto(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input ConfirmPhotoInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	photo, err := ic.Inventory.AddPhoto(c.Request.Context(), customer.ID, itemID, input.StorageKey, input.ContentType, input.SizeBytes)
	if err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to save photo")
		return
	}
	c.JSON(http.StatusCreated, photo)
}

func (ic *InventoryController) DeletePhoto(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	photoID, ok := paramID(c, "photoId")
	if !ok {
		return
	}
	customer, ok := currentCustomer(c, ic.DB)
	if !ok {
		return
	}

	if err := ic.Inventory.DeletePhoto(c.Request.Context(), customer.ID, itemID, photoID); err != nil {
		respondServiceError(c, ic.Logger, err, "Failed to delete photo")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Photo deleted successfully"})
}

// validItemStatus is used by the staff item filter
func validItemStatus(status string) bool {
	switch status {
	case "", models.ItemPending, models.ItemStored, models.ItemOutForDelivery, models.ItemReturned:
		return true
	}
	return false
}
