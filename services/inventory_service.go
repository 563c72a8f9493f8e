package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/utils"
)

// ItemInput carries the editable fields of an inventory item
type ItemInput struct {
	Label         string
	Description   string
	Category      string
	LengthIn      float64
	WidthIn       float64
	HeightIn      float64
	WeightLb      float64
	DeclaredValue decimal.Decimal
}

func (in ItemInput) validate() error {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return fmt.Errorf("%w: label is required", ErrValidation)
	}
	if utf8.RuneCountInString(label) > utils.MaxLabelLength {
		return fmt.Errorf("%w: label must be at most %d characters", ErrValidation, utils.MaxLabelLength)
	}
	if utf8.RuneCountInString(in.Description) > utils.MaxDescriptionLen {
		return fmt.Errorf("%w: description must be at most %d characters", ErrValidation, utils.MaxDescriptionLen)
	}
	err := utils.ValidateItemMeasurements(utils.ItemMeasurements{
		LengthIn:      in.LengthIn,
		WidthIn:       in.WidthIn,
		HeightIn:      in.HeightIn,
		WeightLb:      in.WeightLb,
		DeclaredValue: in.DeclaredValue,
	})
	if err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	return nil
}

// ItemQuery filters and orders a customer's item list
type ItemQuery struct {
	Status string
	Search string
	Sort   string // label, created (default), value
}

// PhotoUpload is a signed upload target handed to the browser
type PhotoUpload struct {
	UploadURL  string    `json:"uploadUrl"`
	StorageKey string    `json:"storageKey"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// InventoryService manages a customer's stored items and their photos
type InventoryService struct {
	db      *gorm.DB
	storage PhotoStorage
	cache   *QueryCache
	logger  *zap.Logger
}

func NewInventoryService(db *gorm.DB, storage PhotoStorage, cache *QueryCache, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{db: db, storage: storage, cache: cache, logger: logger}
}

// List returns the customer's items with signed photo URLs. The database
// read is cached per customer; filtering and sorting happen on the copy.
func (s *InventoryService) List(ctx context.Context, customerID uuid.UUID, q ItemQuery) ([]models.InventoryItem, error) {
	items, err := LoadCached(ctx, s.cache, CustomerKey(customerID, "items"), func(ctx context.Context) ([]models.InventoryItem, error) {
		var items []models.InventoryItem
		err := s.db.WithContext(ctx).
			Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
			Where("customer_id = ?", customerID).
			Find(&items).Error
		return items, err
	})
	if err != nil {
		return nil, err
	}

	items = FilterItems(items, q)
	for i := range items {
		s.signPhotos(ctx, items[i].Photos)
	}
	return items, nil
}

// FilterItems applies status, search and sort to an item list
func FilterItems(items []models.InventoryItem, q ItemQuery) []models.InventoryItem {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]models.InventoryItem, 0, len(items))
	for _, it := range items {
		if q.Status != "" && it.Status != q.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(it.Label), search) &&
			!strings.Contains(strings.ToLower(it.Description), search) &&
			!strings.Contains(strings.ToLower(it.Category), search) {
			continue
		}
		out = append(out, it)
	}

	switch q.Sort {
	case "label":
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Label) < strings.ToLower(out[j].Label)
		})
	case "value":
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].DeclaredValue.GreaterThan(out[j].DeclaredValue)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	return out
}

func (s *InventoryService) Get(ctx context.Context, customerID, itemID uuid.UUID) (*models.InventoryItem, error) {
	item, err := s.find(ctx, customerID, itemID)
	if err != nil {
		return nil, err
	}
	s.signPhotos(ctx, item.Photos)
	return item, nil
}

func (s *InventoryService) find(ctx context.Context, customerID, itemID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.WithContext(ctx).
		Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ? AND customer_id = ?", itemID, customerID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *InventoryService) Create(ctx context.Context, customerID uuid.UUID, in ItemInput) (*models.InventoryItem, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	item := models.InventoryItem{
		CustomerID:    customerID,
		Label:         strings.TrimSpace(in.Label),
		Description:   in.Description,
		Category:      in.Category,
		LengthIn:      in.LengthIn,
		WidthIn:       in.WidthIn,
		HeightIn:      in.HeightIn,
		WeightLb:      in.WeightLb,
		DeclaredValue: in.DeclaredValue.Round(2),
		Status:        models.ItemPending,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	item.Photos = []models.ItemPhoto{}
	s.cache.Invalidate(ctx, customerID)
	return &item, nil
}

func (s *InventoryService) Update(ctx context.Context, customerID, itemID uuid.UUID, in ItemInput) (*models.InventoryItem, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	item, err := s.find(ctx, customerID, itemID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(item).Updates(map[string]interface{}{
		"label":          strings.TrimSpace(in.Label),
		"description":    in.Description,
		"category":       in.Category,
		"length_in":      in.LengthIn,
		"width_in":       in.WidthIn,
		"height_in":      in.HeightIn,
		"weight_lb":      in.WeightLb,
		"declared_value": in.DeclaredValue.Round(2),
	}).Error
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, customerID)
	return s.Get(ctx, customerID, itemID)
}

// Delete removes an item that has not been picked up yet along with its
// photos. Items in storage or in transit cannot be deleted.
func (s *InventoryService) Delete(ctx context.Context, customerID, itemID uuid.UUID) error {
	item, err := s.find(ctx, customerID, itemID)
	if err != nil {
		return err
	}
	if item.Status != models.ItemPending {
		return fmt.Errorf("%w: only items that are not yet in storage can be deleted", ErrConflict)
	}

	for _, p := range item.Photos {
		if err := s.storage.Delete(ctx, p.StorageKey); err != nil {
			s.logger.Warn("Failed to delete photo object", zap.String("key", p.StorageKey), zap.Error(err))
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", item.ID).Delete(&models.ItemPhoto{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM action_items WHERE inventory_item_id = ?", item.ID).Error; err != nil {
			return err
		}
		return tx.Delete(item).Error
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, customerID)
	return nil
}

// PhotoUploadURL reserves a storage key under the item's prefix and signs a
// PUT for it
func (s *InventoryService) PhotoUploadURL(ctx context.Context, customerID, itemID uuid.UUID, contentType string, size int64) (*PhotoUpload, error) {
	if err := utils.ValidatePhotoUpload(contentType, size); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	item, err := s.find(ctx, customerID, itemID)
	if err != nil {
		return nil, err
	}
	if len(item.Photos) >= utils.MaxPhotosPerItem {
		return nil, fmt.Errorf("%w: an item can have at most %d photos", ErrValidation, utils.MaxPhotosPerItem)
	}

	ext, _ := utils.PhotoExtension(contentType)
	key := PhotoKey(customerID, itemID, uuid.New(), ext)
	url, expires, err := s.storage.UploadURL(ctx, key, contentType)
	if err != nil {
		return nil, err
	}
	return &PhotoUpload{UploadURL: url, StorageKey: key, ExpiresAt: expires}, nil
}

// checkUploadedObject rejects an object whose stored size or type is not allowed
// or differs from what was declared, and removes it from the bucket.
func (s *InventoryService) checkUploadedObject(ctx context.Context, key string, info *ObjectInfo, contentType string, size int64) error {
	err := utils.ValidatePhotoUpload(info.ContentType, info.Size)
	if err == nil && (info.Size != size || !strings.EqualFold(info.ContentType, contentType)) {
		err = fmt.Errorf("uploaded photo does not match the declared type or size")
	}
	if err == nil {
		return nil
	}
	if delErr := s.storage.Delete(ctx, key); delErr != nil {
		s.logger.Warn("Failed to remove rejected photo object", zap.String("key", key), zap.Error(delErr))
	}
	return fmt.Errorf("%w: %s", ErrValidation, err.Error())
}

// AddPhoto records a photo after the browser finished uploading it
func (s *InventoryService) AddPhoto(ctx context.Context, customerID, itemID uuid.UUID, key, contentType string, size int64) (*models.ItemPhoto, error) {
	if err := utils.ValidatePhotoUpload(contentType, size); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if !strings.HasPrefix(key, PhotoPrefix(customerID, itemID)) || strings.Contains(key, "..") {
		return nil, fmt.Errorf("%w: storage key does not belong to this item", ErrForbidden)
	}
	item, err := s.find(ctx, customerID, itemID)
	if err != nil {
		return nil, err
	}
	if len(item.Photos) >= utils.MaxPhotosPerItem {
		return nil, fmt.Errorf("%w: an item can have at most %d photos", ErrValidation, utils.MaxPhotosPerItem)
	}

	info, err := s.storage.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: photo has not been uploaded", ErrValidation)
	}
	// store what the bucket holds, not what the client declared
	if err := s.checkUploadedObject(ctx, key, info, contentType, size); err != nil {
		return nil, err
	}

	photo := models.ItemPhoto{
		ItemID:      item.ID,
		StorageKey:  key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		Position:    len(item.Photos),
	}
	if err := s.db.WithContext(ctx).Create(&photo).Error; err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, customerID)

	photos := []models.ItemPhoto{photo}
	s.signPhotos(ctx, photos)
	return &photos[0], nil
}

func (s *InventoryService) DeletePhoto(ctx context.Context, customerID, itemID, photoID uuid.UUID) error {
	if _, err := s.find(ctx, customerID, itemID); err != nil {
		return err
	}
	var photo models.ItemPhoto
	if err := s.db.WithContext(ctx).Where("id = ? AND item_id = ?", photoID, itemID).First(&photo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.storage.Delete(ctx, photo.StorageKey); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&photo).Error; err != nil {
		return err
	}
	s.cache.Invalidate(ctx, customerID)
	return nil
}

// ItemsForCustomer is the staff view of a customer's items, uncached
func (s *InventoryService) ItemsForCustomer(ctx context.Context, customerID uuid.UUID) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.WithContext(ctx).
		Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for i := range items {
		s.signPhotos(ctx, items[i].Photos)
	}
	return items, nil
}

func (s *InventoryService) signPhotos(ctx context.Context, photos []models.ItemPhoto) {
	for i := range photos {
		url, expires, err := s.storage.DownloadURL(ctx, photos[i].StorageKey)
		if err != nil {
			s.logger.Warn("Failed to sign photo URL", zap.String("key", photos[i].StorageKey), zap.Error(err))
			continue
		}
		photos[i].URL = url
		photos[i].URLExpiresAt = &expires
	}
}
