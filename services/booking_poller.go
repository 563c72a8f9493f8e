package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"keepsafe-portal/models"
)

// PollResult is the terminal state of a confirmation poll
type PollResult int

const (
	PollConfirmed PollResult = iota
	PollTimedOut
	PollCanceled
)

func (r PollResult) String() string {
	switch r {
	case PollConfirmed:
		return "confirmed"
	case PollTimedOut:
		return "pending"
	case PollCanceled:
		return "canceled"
	}
	return "unknown"
}

// ActionLookup checks once whether the booking has been recorded. A nil
// action with a nil error is a miss.
type ActionLookup func(ctx context.Context) (*models.Action, error)

// PollOutcome reports how a poll ended
type PollOutcome struct {
	Action   *models.Action
	Result   PollResult
	Attempts int
}

// BookingPoller waits for a booking made in the scheduling widget to show up.
// The record is written asynchronously by the scheduler's webhook, so the
// poller looks it up at a fixed interval for a bounded number of attempts.
type BookingPoller struct {
	Interval    time.Duration
	MaxAttempts int
	logger      *zap.Logger
}

func NewBookingPoller(interval time.Duration, maxAttempts int, logger *zap.Logger) *BookingPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingPoller{Interval: interval, MaxAttempts: maxAttempts, logger: logger}
}

// Timeout is the longest a poll can take, excluding lookup time
func (p *BookingPoller) Timeout() time.Duration {
	return time.Duration(p.MaxAttempts-1) * p.Interval
}

// Await runs the first lookup immediately and then one per interval, at most
// MaxAttempts in total. Once ctx is done no further lookup is made and a hit
// that races with the cancellation is discarded.
func (p *BookingPoller) Await(ctx context.Context, lookup ActionLookup) PollOutcome {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return PollOutcome{Result: PollCanceled, Attempts: attempt - 1}
		}

		action, err := lookup(ctx)
		if ctx.Err() != nil {
			return PollOutcome{Result: PollCanceled, Attempts: attempt}
		}
		if err != nil {
			p.logger.Warn("Booking lookup failed", zap.Int("attempt", attempt), zap.Error(err))
		} else if action != nil {
			return PollOutcome{Action: action, Result: PollConfirmed, Attempts: attempt}
		}

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return PollOutcome{Result: PollCanceled, Attempts: attempt}
		case <-timer.C:
		}
	}
	return PollOutcome{Result: PollTimedOut, Attempts: p.MaxAttempts}
}
