// Package alert delivers drop reminders to a chat webhook or any shoutrrr service.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"sneakerdrop-notifier/pkg/notifier"
)

const (
	defaultTimeout = 10 * time.Second
	ledgerTTL      = 2 * time.Hour
)

// Provider delivers a rendered message to one destination.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Sender formats reminders and hands them to a Provider.
//
// Confirmed deliveries are kept in an in-memory ledger. If a pass delivers a stage
// but fails to persist that fact, later passes in the same process answer from the
// ledger instead of notifying again.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	timeout  time.Duration
	ledger   *cache.Cache
}

// New creates a new reminder sender. A non-positive timeout falls back to 10s.
func New(provider Provider, logger *slog.Logger, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		provider: provider,
		logger:   logger,
		timeout:  timeout,
		ledger:   cache.New(ledgerTTL, 10*time.Minute),
	}
}

// SendReminder delivers one reminder stage and reports whether it was confirmed.
// It never panics; every failure is logged and reported as false.
func (s *Sender) SendReminder(ctx context.Context, r notifier.Reminder) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Reminder provider panicked", "drop_id", r.DropID, "user", r.User, "panic", fmt.Sprint(p))
			ok = false
		}
	}()

	key := r.Key()
	if _, seen := s.ledger.Get(key); seen {
		s.logger.Info("Reminder already delivered by this process", "drop_id", r.DropID, "user", r.User, "stage", r.Stage)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := Format(r)
	start := time.Now()
	if err := s.provider.Send(ctx, msg); err != nil {
		s.logger.Warn("Failed to deliver reminder",
			"drop_id", r.DropID,
			"user", r.User,
			"stage", r.Stage,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return false
	}

	s.ledger.Set(key, time.Now(), cache.DefaultExpiration)
	s.logger.Debug("Reminder delivered",
		"drop_id", r.DropID,
		"user", r.User,
		"stage", r.Stage,
		"duration_ms", time.Since(start).Milliseconds())
	return true
}

// Forget clears delivery records for a drop and user, so a later subscription to
// the same drop is notified again.
func (s *Sender) Forget(dropID, user string) {
	for _, stage := range append([]notifier.Stage{notifier.StageOneDay}, notifier.ActiveStages...) {
		s.ledger.Delete(notifier.Reminder{DropID: dropID, User: user, Stage: stage}.Key())
	}
}

// SendTest delivers a sample reminder, bypassing the ledger.
func (s *Sender) SendTest(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.provider.Send(ctx, Format(SampleReminder()))
}

// SampleReminder is the reminder sent by the test-notify command.
func SampleReminder() notifier.Reminder {
	return notifier.Reminder{
		DropID:          "test-drop",
		User:            "test",
		SneakerName:     "Air Jordan 1 Retro High OG \"Test\"",
		Brand:           "Nike",
		DropTimeDisplay: time.Now().Add(30 * time.Minute).Format("Jan 02, 2006 03:04 PM"),
		URL:             "https://sneakernews.com/release-dates/",
		Stage:           notifier.StageThirty,
		MinutesLeft:     30,
	}
}
