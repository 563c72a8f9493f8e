package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"keepsafe-portal/config"
	"keepsafe-portal/controllers"
	"keepsafe-portal/models"
	"keepsafe-portal/routes"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := config.ConnectDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	utils.SetupValidator()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store       services.CacheStore
		idempotency services.IdempotencyStore
	)
	if cfg.Redis.Enabled {
		rc, err := services.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rc.Close()
		store, idempotency = rc, rc
	} else {
		logger.Warn("Redis disabled, using in-process cache")
		mc := services.NewMemoryCache()
		store, idempotency = mc, mc
	}
	queryCache := services.NewQueryCache(store, cfg.Redis.CacheTTL, logger.Named("cache"))

	var notifier services.Notifier = services.LogNotifier{Logger: logger.Named("notifier")}
	if cfg.Twilio.AccountSID != "" {
		tn, err := services.NewTwilioNotifier(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken,
			cfg.Twilio.FromNumber, cfg.Twilio.VerifyServiceSID, logger.Named("twilio"))
		if err != nil {
			return err
		}
		notifier = tn
	} else {
		logger.Warn("Twilio not configured, login links and reminders are only logged")
	}

	var publisher services.EventPublisher = services.LogPublisher{Logger: logger.Named("events")}
	if cfg.Kafka.Enabled {
		publisher = services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer publisher.Close()

	storage, err := services.NewS3PhotoStorage(services.S3StorageConfig{
		Endpoint:          cfg.Storage.Endpoint,
		Region:            cfg.Storage.Region,
		Bucket:            cfg.Storage.Bucket,
		AccessKey:         cfg.Storage.AccessKey,
		SecretKey:         cfg.Storage.SecretKey,
		UsePathStyle:      cfg.Storage.UsePathStyle,
		PresignExpiration: cfg.Storage.PresignExpiration,
	}, logger.Named("storage"))
	if err != nil {
		return err
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		logger.Warn("Photo bucket check failed", zap.String("bucket", storage.Bucket()), zap.Error(err))
	}

	var billing *services.BillingService
	if cfg.Stripe.SecretKey != "" {
		sb, err := services.NewStripeBilling(cfg.Stripe.SecretKey, nil, logger.Named("stripe"))
		if err != nil {
			return err
		}
		billing = services.NewBillingService(db, sb, cfg.Stripe.PortalReturnURL, logger.Named("billing"))
	} else {
		logger.Warn("Stripe not configured, billing portal disabled")
	}

	bookingOpts := []services.BookingOption{
		services.WithPublisher(publisher),
		services.WithQueryCache(queryCache),
		services.WithCancelCutoff(cfg.Booking.CancelCutoff),
		services.WithBookingLogger(logger.Named("bookings")),
	}
	if cfg.Calendly.APIToken != "" {
		bookingOpts = append(bookingOpts, services.WithScheduler(
			services.NewCalendlyClient(cfg.Calendly.BaseURL, cfg.Calendly.APIToken, nil)))
	} else {
		logger.Warn("Calendly token not configured, cancellations stay local")
	}
	bookings := services.NewBookingService(db, bookingOpts...)
	poller := services.NewBookingPoller(cfg.Booking.PollInterval, cfg.Booking.PollMaxAttempts, logger.Named("poller"))

	links := services.NewLoginLinks(db, notifier, services.LoginLinkConfig{
		TTL:          cfg.Auth.LinkTTL,
		PublicURL:    cfg.App.PublicURL,
		RedirectPath: cfg.Auth.RedirectPath,
		AllowSignup:  cfg.Auth.AllowSignup,
	}, logger.Named("auth"))
	inventory := services.NewInventoryService(db, storage, queryCache, logger.Named("inventory"))
	onboarding := services.NewOnboardingService(db, billing, links, logger.Named("onboarding"))
	waitlist := services.NewWaitlistService(db, services.NewServiceArea(cfg.ServiceArea.ZipCodes), logger.Named("waitlist"))

	if cfg.Reminder.Enabled {
		reminders := services.NewReminderService(db, notifier, cfg.Reminder.Cron, logger.Named("reminders"))
		if err := reminders.StartScheduler(); err != nil {
			return err
		}
		defer reminders.Stop()
	}

	r := routes.SetupRouter(routes.Deps{
		Config:    cfg,
		Logger:    logger,
		Auth:      &controllers.AuthController{DB: db, Links: links, JWT: cfg.JWT, Auth: cfg.Auth, Logger: logger},
		Profile:   &controllers.ProfileController{DB: db, Cache: queryCache},
		Inventory: &controllers.InventoryController{DB: db, Inventory: inventory, Logger: logger},
		Bookings:  &controllers.BookingController{DB: db, Bookings: bookings, Poller: poller, Billing: billing, Logger: logger},
		Webhooks: &controllers.WebhookController{
			Bookings:    bookings,
			Idempotency: idempotency,
			SigningKey:  cfg.Calendly.WebhookSigningKey,
			Logger:      logger.Named("webhooks"),
		},
		Staff:    &controllers.StaffController{DB: db, Bookings: bookings, Inventory: inventory, Logger: logger},
		Admin:    &controllers.AdminController{DB: db, Onboarding: onboarding, Waitlist: waitlist, Logger: logger},
		Waitlist: &controllers.WaitlistController{Waitlist: waitlist, Logger: logger},
	})
	if !cfg.IsProduction() {
		printRoutes(r)
	}

	// confirm requests long-poll, so the write timeout covers the poll window
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      poller.Timeout() + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printRoutes(r *gin.Engine) {
	routes := r.Routes()
	for _, route := range routes {
		fmt.Printf("%-6s %s\n", route.Method, route.Path)
	}
}
