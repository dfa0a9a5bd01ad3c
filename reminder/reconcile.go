// Package reminder decides which drop reminders are due and delivers each stage once.
package reminder

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sneakerdrop-notifier/pkg/notifier"
)

const (
	defaultConcurrency = 4
	dropTimeDisplay    = "Jan 02, 2006 03:04 PM"
)

// Notifier delivers a single reminder. It reports false on any failure and
// must bound its own duration.
type Notifier interface {
	SendReminder(ctx context.Context, r notifier.Reminder) bool
}

// Engine reconciles subscriptions against drops.
type Engine struct {
	logger      *slog.Logger
	location    *time.Location // display zone; nil keeps each drop's own offset
	concurrency int
}

// NewEngine creates an engine. concurrency <= 0 selects the default.
func NewEngine(logger *slog.Logger, location *time.Location, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Engine{
		logger:      logger,
		location:    location,
		concurrency: concurrency,
	}
}

// Reconcile sends every due, unsent stage and returns the updated subscriptions
// along with whether any stage was marked sent.
//
// The result has the same length and order as subs. Entries that were not touched
// are copied through as-is; the input slice and its maps are never modified.
func (e *Engine) Reconcile(ctx context.Context, drops []notifier.Drop, subs []notifier.Subscription, now time.Time, n Notifier) ([]notifier.Subscription, bool) {
	byID := make(map[string]notifier.Drop, len(drops))
	for _, d := range drops {
		byID[d.DropID] = d
	}

	out := make([]notifier.Subscription, len(subs))
	var changed atomic.Bool

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			updated, ok := e.reconcileOne(ctx, sub, byID, now, n)
			out[i] = updated
			if ok {
				changed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return out, changed.Load()
}

func (e *Engine) reconcileOne(ctx context.Context, sub notifier.Subscription, byID map[string]notifier.Drop, now time.Time, n Notifier) (notifier.Subscription, bool) {
	if sub.Preserved() {
		e.logger.Warn("Skipping unusable subscription",
			"drop_id", sub.DropID,
			"user", sub.User)
		return sub, false
	}

	drop, ok := byID[sub.DropID]
	if !ok {
		e.logger.Warn("Subscription references unknown drop",
			"drop_id", sub.DropID,
			"user", sub.User)
		return sub, false
	}

	dropTime, err := drop.Time()
	if err != nil {
		e.logger.Warn("Drop has invalid time, skipping subscription",
			"drop_id", sub.DropID,
			"user", sub.User,
			"error", err)
		return sub, false
	}

	due := DueStages(now, dropTime)
	if len(due) == 0 {
		return sub, false
	}

	display := dropTime
	if e.location != nil {
		display = dropTime.In(e.location)
	}

	sent := sub.RemindersSent.Clone()
	changed := false

	// Stages for one subscription go out in order, one at a time.
	for _, stage := range due {
		if sent.Sent(stage) {
			e.logger.Debug("Skipping reminder (already sent)",
				"drop_id", sub.DropID,
				"user", sub.User,
				"stage", stage)
			continue
		}

		r := notifier.Reminder{
			DropID:          drop.DropID,
			User:            sub.User,
			SneakerName:     drop.Name,
			Brand:           drop.Brand,
			DropTimeDisplay: display.Format(dropTimeDisplay),
			URL:             drop.URL,
			Stage:           stage,
			MinutesLeft:     MinutesLeft(now, dropTime),
		}

		if !n.SendReminder(ctx, r) {
			e.logger.Warn("Reminder delivery failed, will retry next pass",
				"drop_id", sub.DropID,
				"user", sub.User,
				"stage", stage)
			continue
		}

		sent[stage] = true
		changed = true
		e.logger.Info("Reminder sent",
			"drop_id", sub.DropID,
			"name", drop.Name,
			"user", sub.User,
			"stage", stage,
			"minutes_left", r.MinutesLeft)
	}

	if !changed {
		return sub, false
	}
	sub.RemindersSent = sent
	return sub, true
}
