package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"keepsafe-portal/models"
	"keepsafe-portal/utils"
)

// ServiceArea is the set of zip codes the business serves
type ServiceArea struct {
	zips map[string]struct{}
}

func NewServiceArea(zips []string) *ServiceArea {
	area := &ServiceArea{zips: make(map[string]struct{}, len(zips))}
	for _, z := range zips {
		if n := utils.NormalizeZip(z); n != "" {
			area.zips[n] = struct{}{}
		}
	}
	return area
}

// Contains reports whether zip is served. An empty area serves nobody.
func (a *ServiceArea) Contains(zip string) bool {
	if a == nil {
		return false
	}
	_, ok := a.zips[utils.NormalizeZip(zip)]
	return ok
}

// WaitlistSignup is a public waitlist submission
type WaitlistSignup struct {
	Email          string
	Name           string
	Phone          string
	ZipCode        string
	ReferralSource string
	Notes          string
}

type WaitlistService struct {
	db     *gorm.DB
	area   *ServiceArea
	logger *zap.Logger
}

func NewWaitlistService(db *gorm.DB, area *ServiceArea, logger *zap.Logger) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{db: db, area: area, logger: logger}
}

// Area returns the configured service area
func (w *WaitlistService) Area() *ServiceArea { return w.area }

// Join records a signup. A repeat email updates the existing entry instead
// of failing.
func (w *WaitlistService) Join(ctx context.Context, in WaitlistSignup) (*models.WaitlistEntry, error) {
	entry := models.WaitlistEntry{
		Email:          utils.NormalizeEmail(in.Email),
		Name:           in.Name,
		Phone:          in.Phone,
		ZipCode:        utils.NormalizeZip(in.ZipCode),
		ReferralSource: in.ReferralSource,
		Notes:          in.Notes,
	}
	err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "zip_code", "referral_source", "notes", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return nil, err
	}

	var stored models.WaitlistEntry
	if err := w.db.WithContext(ctx).Where("email = ?", entry.Email).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	w.logger.Info("Waitlist signup", zap.String("zip_code", stored.ZipCode))
	return &stored, nil
}

// List returns entries newest first, optionally filtered by zip
func (w *WaitlistService) List(ctx context.Context, zip string) ([]models.WaitlistEntry, error) {
	q := w.db.WithContext(ctx).Order("created_at DESC")
	if zip != "" {
		q = q.Where("zip_code = ?", utils.NormalizeZip(zip))
	}
	var entries []models.WaitlistEntry
	err := q.Find(&entries).Error
	return entries, err
}

// Analytics summarizes all entries over the trailing window of days
func (w *WaitlistService) Analytics(ctx context.Context, days int) (*WaitlistAnalytics, error) {
	var entries []models.WaitlistEntry
	if err := w.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, err
	}
	return BuildWaitlistAnalytics(entries, time.Now(), days), nil
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type ZipCount struct {
	ZipCode       string `json:"zipCode"`
	Count         int    `json:"count"`
	InServiceArea bool   `json:"inServiceArea"`
}

type WaitlistAnalytics struct {
	Total          int            `json:"total"`
	RecentCount    int            `json:"recentCount"`
	Days           int            `json:"days"`
	Daily          []DailyCount   `json:"daily"`
	TopZipCodes    []ZipCount     `json:"topZipCodes"`
	ReferralCounts map[string]int `json:"referralCounts"`
}

const topZipLimit = 10

// BuildWaitlistAnalytics aggregates entries. Daily counts cover the last
// days calendar days ending today, oldest first, with empty days included.
func BuildWaitlistAnalytics(entries []models.WaitlistEntry, now time.Time, days int) *WaitlistAnalytics {
	if days <= 0 {
		days = 30
	}
	today := utils.BeginningOfDay(now)
	windowStart := today.AddDate(0, 0, -(days - 1))

	out := &WaitlistAnalytics{
		Total:          len(entries),
		Days:           days,
		Daily:          make([]DailyCount, days),
		ReferralCounts: map[string]int{},
	}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		key := utils.DayKey(windowStart.AddDate(0, 0, i))
		out.Daily[i] = DailyCount{Date: key}
		index[key] = i
	}

	zips := map[string]int{}
	for _, e := range entries {
		created := e.CreatedAt.In(now.Location())
		if !created.Before(windowStart) {
			if i, ok := index[utils.DayKey(created)]; ok {
				out.Daily[i].Count++
				out.RecentCount++
			}
		}
		if e.ZipCode != "" {
			zips[e.ZipCode]++
		}
		source := e.ReferralSource
		if source == "" {
			source = "unknown"
		}
		out.ReferralCounts[source]++
	}

	out.TopZipCodes = make([]ZipCount, 0, len(zips))
	for zip, n := range zips {
		out.TopZipCodes = append(out.TopZipCodes, ZipCount{ZipCode: zip, Count: n})
	}
	sort.Slice(out.TopZipCodes, func(i, j int) bool {
		a, b := out.TopZipCodes[i], out.TopZipCodes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ZipCode < b.ZipCode
	})
	if len(out.TopZipCodes) > topZipLimit {
		out.TopZipCodes = out.TopZipCodes[:topZipLimit]
	}
	return out
}

// MarkServiceArea flags which of the top zips are already served
func (a *WaitlistAnalytics) MarkServiceArea(area *ServiceArea) {
	for i := range a.TopZipCodes {
		a.TopZipCodes[i].InServiceArea = area.Contains(a.TopZipCodes[i].ZipCode)
	}
}
