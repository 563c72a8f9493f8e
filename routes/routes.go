package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keepsafe-portal/config"
	"keepsafe-portal/controllers"
	"keepsafe-portal/models"
	"keepsafe-portal/utils"
)

// Deps carries everything the router hands to controllers
type Deps struct {
	Config *config.Config
	Logger *zap.Logger

	Auth      *controllers.AuthController
	Profile   *controllers.ProfileController
	Inventory *controllers.InventoryController
	Bookings  *controllers.BookingController
	Webhooks  *controllers.WebhookController
	Staff     *controllers.StaffController
	Admin     *controllers.AdminController
	Waitlist  *controllers.WaitlistController
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(config.Recovery(d.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.Config.HTTP.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(config.RequestLogger(d.Logger, d.Config.HTTP.SlowRequestThreshold))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	authMiddleware := utils.AuthMiddleware(d.Config.JWT.Secret, d.Auth.AccountStatus)

	auth := r.Group("/auth")
	{
		auth.POST("/magic-link", d.Auth.RequestMagicLink)
		auth.POST("/verify", d.Auth.Verify)
		auth.POST("/logout", d.Auth.Logout)

		auth.Use(authMiddleware)
		auth.GET("/me", d.Auth.Me)
	}

	r.POST("/webhooks/calendly", d.Webhooks.HandleCalendly)

	// public
	r.POST("/api/waitlist", d.Waitlist.JoinWaitlist)
	r.GET("/api/service-area/:zip", d.Waitlist.CheckServiceArea)

	api := r.Group("/api")
	api.Use(authMiddleware)
	{
		customer := api.Group("", utils.RequireRole(models.RoleCustomer))
		{
			customer.GET("/profile", d.Profile.GetProfile)
			customer.PUT("/profile", d.Profile.UpdateProfile)

			items := customer.Group("/items")
			{
				items.GET("", d.Inventory.ListItems)
				items.POST("", d.Inventory.CreateItem)
				items.GET("/:id", d.Inventory.GetItem)
				items.PUT("/:id", d.Inventory.UpdateItem)
				items.DELETE("/:id", d.Inventory.DeleteItem)
				items.POST("/:id/photos/upload-url", d.Inventory.PhotoUploadURL)
				items.POST("/:id/photos", d.Inventory.ConfirmPhoto)
				items.DELETE("/:id/photos/:photoId", d.Inventory.DeletePhoto)
			}

			bookings := customer.Group("/bookings")
			{
				bookings.GET("", d.Bookings.ListBookings)
				bookings.POST("/confirm", d.Bookings.ConfirmBooking)
				bookings.POST("/:id/cancel", d.Bookings.CancelBooking)
				bookings.PUT("/:id/items", d.Bookings.UpdateBookingItems)
			}

			customer.POST("/billing/portal-session", d.Bookings.BillingPortalSession)
		}

		staff := api.Group("/staff", utils.RequireRole(models.RoleStaff, models.RoleAdmin))
		{
			staff.GET("/overview", d.Staff.GetOverview)
			staff.GET("/actions", d.Staff.ListActions)
			staff.GET("/actions/:id", d.Staff.GetAction)
			staff.POST("/actions/:id/complete", d.Staff.CompleteAction)
			staff.GET("/customers", d.Staff.ListCustomers)
			staff.GET("/customers/:id/items", d.Staff.CustomerItems)
		}

		admin := api.Group("/admin", utils.RequireRole(models.RoleAdmin))
		{
			admin.POST("/customers", d.Admin.OnboardCustomer)
			admin.PUT("/users/:id/role", d.Admin.SetUserRole)
			admin.GET("/waitlist", d.Admin.ListWaitlist)
			admin.GET("/waitlist/analytics", d.Admin.WaitlistAnalytics)
		}
	}

	return r
}
