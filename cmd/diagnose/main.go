// Command diagnose runs read-only checks against the portal database:
// looking up users and their bookings, comparing bookings with the
// scheduler, replaying the booking confirmation poll, and summarizing the
// waitlist.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"keepsafe-portal/config"
	"keepsafe-portal/models"
	"keepsafe-portal/services"
	"keepsafe-portal/utils"
)

const usage = `usage: diagnose <command> [flags] [args]

commands:
  user <email>                     show the user and customer profile
  bookings <email>                 list the customer's bookings
  events <action-id>               show the booking event log of an action
  scheduler <action-id>            compare an action with the scheduler's copy
  await <email> [-event-uri URI] [-timeout 30s]
                                   poll for a booking like the portal does
  waitlist [-days 30]              waitlist summary
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Log.Output = "stderr"
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	db, err := config.ConnectDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database unavailable", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d := &diagnostics{db: db, cfg: cfg, logger: logger, out: os.Stdout}
	if err := d.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type diagnostics struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

func (d *diagnostics) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "user":
		return d.user(ctx, args)
	case "bookings":
		return d.bookings(ctx, args)
	case "events":
		return d.events(ctx, args)
	case "scheduler":
		return d.scheduler(ctx, args)
	case "await":
		return d.await(ctx, args)
	case "waitlist":
		return d.waitlist(ctx, args)
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func (d *diagnostics) user(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("user needs an email")
	}
	user, err := d.findUser(ctx, args[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "user id\t%s\n", user.ID)
	fmt.Fprintf(tw, "email\t%s\n", user.Email)
	fmt.Fprintf(tw, "role\t%s\n", user.Role)
	fmt.Fprintf(tw, "active\t%t\n", user.IsActive)
	fmt.Fprintf(tw, "last login\t%s\n", formatTime(user.LastLogin))
	if c := user.Customer; c != nil {
		fmt.Fprintf(tw, "customer id\t%s\n", c.ID)
		fmt.Fprintf(tw, "name\t%s\n", c.Name)
		fmt.Fprintf(tw, "phone\t%s\n", c.Phone)
		fmt.Fprintf(tw, "zip\t%s\n", c.ZipCode)
		fmt.Fprintf(tw, "billing linked\t%t\n", c.StripeCustomerID != "")
	} else {
		fmt.Fprintln(tw, "customer\t(none)")
	}

	var tokens []models.LoginToken
	d.db.WithContext(ctx).Where("user_id = ?", user.ID).Order("created_at DESC").Limit(5).Find(&tokens)
	for _, t := range tokens {
		state := "unused"
		switch {
		case t.UsedAt != nil:
			state = "used " + t.UsedAt.Format(time.RFC3339)
		case time.Now().After(t.ExpiresAt):
			state = "expired"
		}
		fmt.Fprintf(tw, "login link\t%s\t%s\n", t.CreatedAt.Format(time.RFC3339), state)
	}
	return tw.Flush()
}

func (d *diagnostics) bookings(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("bookings needs an email")
	}
	customer, err := d.findCustomer(ctx, args[0])
	if err != nil {
		return err
	}
	actions, err := services.NewBookingService(d.db).ListForCustomer(ctx, customer.ID, "")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSCHEDULED\tITEMS\tEVENTS\tEVENT URI")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			a.ID, a.Type, a.Status, a.ScheduledAt.Local().Format("2006-01-02 15:04"),
			len(a.Items), len(a.Events), a.CalendlyEventURI)
	}
	return tw.Flush()
}

func (d *diagnostics) events(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("events needs an action id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid action id: %w", err)
	}
	action, err := services.NewBookingService(d.db).Get(ctx, id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "action\t%s (%s, %s)\n", action.ID, action.Type, action.Status)
	fmt.Fprintln(tw, "WHEN\tKIND\tSOURCE\tDETAIL")
	for _, e := range action.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.RFC3339), e.Kind, e.Source, e.Detail)
	}

	reminders, err := services.NewReminderService(d.db, nil, "", d.logger).RemindersFor(ctx, action.ID)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		fmt.Fprintf(tw, "%s\treminder\t%s\t%s %s\n", r.SentAt.Local().Format(time.RFC3339), r.Channel, r.Status, r.ErrorMessage)
	}
	return tw.Flush()
}

func (d *diagnostics) scheduler(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("scheduler needs an action id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid action id: %w", err)
	}
	action, err := services.NewBookingService(d.db).Get(ctx, id)
	if err != nil {
		return err
	}

	client := services.NewCalendlyClient(d.cfg.Calendly.BaseURL, d.cfg.Calendly.APIToken, nil)
	remote, err := client.GetEvent(ctx, action.CalendlyEventURI)
	if errors.Is(err, services.ErrNotFound) {
		fmt.Fprintf(d.out, "event %s is unknown to the scheduler\n", action.CalendlyEventURI)
		return nil
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tPORTAL\tSCHEDULER")
	fmt.Fprintf(tw, "name\t%s\t%s\n", action.EventName, remote.Name)
	fmt.Fprintf(tw, "status\t%s\t%s\n", action.Status, remote.Status)
	fmt.Fprintf(tw, "start\t%s\t%s\n", action.ScheduledAt.Local().Format(time.RFC3339), remote.StartTime.Local().Format(time.RFC3339))
	if err := tw.Flush(); err != nil {
		return err
	}

	remoteCanceled := remote.Status == "canceled"
	localCanceled := action.Status == models.ActionCanceled
	if remoteCanceled != localCanceled || !remote.StartTime.Equal(action.ScheduledAt) {
		fmt.Fprintln(d.out, "MISMATCH: the portal and the scheduler disagree")
	}
	return nil
}

func (d *diagnostics) await(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("await", flag.ContinueOnError)
	eventURI := fs.String("event-uri", "", "scheduled event URI to wait for")
	timeout := fs.Duration("timeout", 0, "stop after this long (default: poll window from config)")
	since := fs.Duration("since", 10*time.Minute, "accept bookings created this long ago")
	if len(args) == 0 {
		return errors.New("await needs an email")
	}
	email := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	customer, err := d.findCustomer(ctx, email)
	if err != nil {
		return err
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	bookings := services.NewBookingService(d.db)
	poller := services.NewBookingPoller(d.cfg.Booking.PollInterval, d.cfg.Booking.PollMaxAttempts, d.logger)
	from := time.Now().Add(-*since)
	start := time.Now()
	outcome := poller.Await(ctx, func(ctx context.Context) (*models.Action, error) {
		return bookings.FindForConfirmation(ctx, customer.ID, *eventURI, from)
	})

	fmt.Fprintf(d.out, "result=%s attempts=%d elapsed=%s\n", outcome.Result, outcome.Attempts, time.Since(start).Round(time.Millisecond))
	if outcome.Action != nil {
		fmt.Fprintf(d.out, "action=%s type=%s scheduled=%s\n", outcome.Action.ID, outcome.Action.Type, outcome.Action.ScheduledAt.Local().Format(time.RFC3339))
	}
	return nil
}

func (d *diagnostics) waitlist(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("waitlist", flag.ContinueOnError)
	days := fs.Int("days", 30, "size of the recent window")
	if err := fs.Parse(args); err != nil {
		return err
	}

	area := services.NewServiceArea(d.cfg.ServiceArea.ZipCodes)
	analytics, err := services.NewWaitlistService(d.db, area, d.logger).Analytics(ctx, *days)
	if err != nil {
		return err
	}
	analytics.MarkServiceArea(area)

	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", analytics.Total)
	fmt.Fprintf(tw, "last %d days\t%d\n", analytics.Days, analytics.RecentCount)
	fmt.Fprintln(tw, "\nZIP\tCOUNT\tSERVED")
	for _, z := range analytics.TopZipCodes {
		fmt.Fprintf(tw, "%s\t%d\t%t\n", z.ZipCode, z.Count, z.InServiceArea)
	}
	fmt.Fprintln(tw, "\nSOURCE\tCOUNT")
	for source, n := range analytics.ReferralCounts {
		fmt.Fprintf(tw, "%s\t%d\n", source, n)
	}
	return tw.Flush()
}

func (d *diagnostics) findUser(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).Preload("Customer").
		Where("email = ?", utils.NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return &user, err
}

func (d *diagnostics) findCustomer(ctx context.Context, email string) (*models.Customer, error) {
	user, err := d.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.Customer == nil {
		return nil, fmt.Errorf("%s has no customer profile", email)
	}
	return user.Customer, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
