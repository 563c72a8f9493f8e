package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

type CompleteActionInput struct {
	Notes string `json:"notes" binding:"max=1000"`
}

// StaffController serves the operations views
type StaffController struct {
	DB        *gorm.DB
	Bookings  *services.BookingService
	Inventory *services.InventoryService
	Logger    *zap.Logger
}

func (sc *StaffController) ListActions(c *gin.Context) {
	filter := services.StaffActionFilter{
		Status: c.Query("status"),
		Type:   c.Query("type"),
	}
	if filter.Type != "" && !models.ValidActionType(filter.Type) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid action type")
		return
	}
	if raw := c.Query("from"); raw != "" {
		from, err := parseDateParam(raw)
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "Invalid from date, use YYYY-MM-DD or RFC3339")
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := parseDateParam(raw)
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "Invalid to date, use YYYY-MM-DD or RFC3339")
			return
		}
		// a bare date includes the whole day
		if len(raw) == len("2006-01-02") {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = &to
	}

	actions, err := sc.Bookings.ListAll(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, sc.Logger, err, "Failed to fetch actions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions, "total": len(actions)})
}

func (sc *StaffController) GetAction(c *gin.Context) {
	actionID, ok := paramID(c, "id")
	if !ok {
		return
	}
	action, err := sc.Bookings.Get(c.Request.Context(), actionID)
	if err != nil {
		respondServiceError(c, sc.Logger, err, "Failed to fetch action")
		return
	}
	c.JSON(http.StatusOK, action)
}

func (sc *StaffController) CompleteAction(c *gin.Context) {
	actionID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input CompleteActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, utils.DescribeBindError(err))
		return
	}
	staffID, ok := utils.CurrentUserID(c)
	if !ok {
		utils.RespondWithError(c, http.StatusUnauthorized, "User ID not found in context")
		return
	}

	action, err := sc.Bookings.Complete(c.Request.Context(), actionID, staffID, input.Notes)
	if err != nil {
		respondServiceError(c, sc.Logger, err, "Failed to complete action")
		return
	}
	c.JSON(http.StatusOK, action)
}

func (sc *StaffController) ListCustomers(c *gin.Context) {
	query := sc.DB.WithContext(c.Request.Context()).Model(&models.Customer{})
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ? OR zip_code LIKE ?",
			like, like, like, like)
	}

	var customers []models.Customer
	if err := query.Order("name ASC").Find(&customers).Error; err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to fetch customers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers, "total": len(customers)})
}

func (sc *StaffController) CustomerItems(c *gin.Context) {
	customerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	status := c.Query("status")
	if !validItemStatus(status) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid item status")
		return
	}

	var customer models.Customer
	if err := sc.DB.WithContext(c.Request.Context()).First(&customer, "id = ?", customerID).Error; err != nil {
		respondServiceError(c, sc.Logger, err, "Failed to fetch customer")
		return
	}

	items, err := sc.Inventory.ItemsForCustomer(c.Request.Context(), customer.ID)
	if err != nil {
		respondServiceError(c, sc.Logger, err, "Failed to fetch items")
		return
	}
	if status != "" {
		items = services.FilterItems(items, services.ItemQuery{Status: status})
	}
	c.JSON(http.StatusOK, gin.H{"customer": customer, "items": items, "total": len(items)})
}

type StaffOverview struct {
	TotalCustomers   int64            `json:"totalCustomers"`
	ItemsByStatus    map[string]int64 `json:"itemsByStatus"`
	TodayActions     int64            `json:"todayActions"`
	UpcomingActions  []UpcomingAction `json:"upcomingActions"`
	RecentCustomers  []RecentCustomer `json:"recentCustomers"`
	WaitlistLastWeek int64            `json:"waitlistLastWeek"`
}

type UpcomingAction struct {
	ID           string `json:"id"`
	CustomerName string `json:"customerName"`
	Type         string `json:"type"`
	When         string `json:"when"` // e.g. "Today", "Tomorrow", "In 3 days"
	ScheduledAt  string `json:"scheduledAt"`
	ItemCount    int    `json:"itemCount"`
}

type RecentCustomer struct {
	Name        string `json:"name"`
	ZipCode     string `json:"zipCode"`
	OnboardedOn string `json:"onboardedOn"` // e.g. "Today", "Yesterday"
}

// GetOverview is the landing page of the operations view
func (sc *StaffController) GetOverview(c *gin.Context) {
	db := sc.DB.WithContext(c.Request.Context())
	now := time.Now()
	today := utils.BeginningOfDay(now)

	var overview StaffOverview
	if err := db.Model(&models.Customer{}).Count(&overview.TotalCustomers).Error; err != nil {
		sc.overviewFailed(c, "customers", err)
		return
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := db.Model(&models.InventoryItem{}).Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		sc.overviewFailed(c, "items by status", err)
		return
	}
	overview.ItemsByStatus = make(map[string]int64, len(counts))
	for _, row := range counts {
		overview.ItemsByStatus[row.Status] = row.Count
	}

	if err := db.Model(&models.Action{}).
		Where("status = ? AND scheduled_at >= ? AND scheduled_at < ?", models.ActionScheduled, today, today.AddDate(0, 0, 1)).
		Count(&overview.TodayActions).Error; err != nil {
		sc.overviewFailed(c, "today's actions", err)
		return
	}

	var upcoming []models.Action
	if err := db.Preload("Customer").Preload("Items").
		Where("status = ? AND scheduled_at >= ? AND scheduled_at < ?", models.ActionScheduled, today, today.AddDate(0, 0, 7)).
		Order("scheduled_at ASC").Limit(10).
		Find(&upcoming).Error; err != nil {
		sc.overviewFailed(c, "upcoming actions", err)
		return
	}
	overview.UpcomingActions = make([]UpcomingAction, 0, len(upcoming))
	for _, a := range upcoming {
		name := ""
		if a.Customer != nil {
			name = a.Customer.Name
		}
		overview.UpcomingActions = append(overview.UpcomingActions, UpcomingAction{
			ID:           a.ID.String(),
			CustomerName: name,
			Type:         a.Type,
			When:         relativeDay(today, a.ScheduledAt.In(now.Location()), true),
			ScheduledAt:  a.ScheduledAt.Format(time.RFC3339),
			ItemCount:    len(a.Items),
		})
	}

	var recent []models.Customer
	if err := db.Where("onboarded_at IS NOT NULL").Order("onboarded_at DESC").Limit(5).Find(&recent).Error; err != nil {
		sc.overviewFailed(c, "recent customers", err)
		return
	}
	overview.RecentCustomers = make([]RecentCustomer, 0, len(recent))
	for _, rc := range recent {
		overview.RecentCustomers = append(overview.RecentCustomers, RecentCustomer{
			Name:        rc.Name,
			ZipCode:     rc.ZipCode,
			OnboardedOn: relativeDay(today, rc.OnboardedAt.In(now.Location()), false),
		})
	}

	if err := db.Model(&models.WaitlistEntry{}).Where("created_at >= ?", today.AddDate(0, 0, -7)).Count(&overview.WaitlistLastWeek).Error; err != nil {
		sc.overviewFailed(c, "waitlist signups", err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

func (sc *StaffController) overviewFailed(c *gin.Context, part string, err error) {
	sc.Logger.Error("Failed to build overview", zap.String("part", part), zap.Error(err))
	utils.RespondWithError(c, http.StatusInternalServerError, "Failed to build overview")
}

func relativeDay(today, t time.Time, future bool) string {
	days := utils.DaysBetween(today, t)
	if !future {
		days = -days
	}
	switch {
	case days == 0:
		return "Today"
	case days == 1 && future:
		return "Tomorrow"
	case days == 1:
		return "Yesterday"
	case future:
		return fmt.Sprintf("In %d days", days)
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}

func parseDateParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", raw, time.Local)
}
