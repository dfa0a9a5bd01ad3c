package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sneakerdrop-notifier/pkg/notifier"
)

// Store loads drops and subscriptions and persists subscriptions.
type Store interface {
	LoadDrops(ctx context.Context) ([]notifier.Drop, error)
	LoadSubscriptions(ctx context.Context) ([]notifier.Subscription, error)
	SaveSubscriptions(ctx context.Context, subs []notifier.Subscription) error
}

// Locker guards a pass against concurrent runs in other processes.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Skip reasons reported in Result.Skipped.
const (
	SkipNotConfigured   = "not_configured"
	SkipLocked          = "locked"
	SkipNoDrops         = "no_drops"
	SkipNoSubscriptions = "no_subscriptions"
)

// Result summarises one reconciliation pass.
type Result struct {
	PassID        string `json:"pass_id"`
	Skipped       string `json:"skipped,omitempty"`
	Drops         int    `json:"drops"`
	Subscriptions int    `json:"subscriptions"`
	Sent          int    `json:"sent"`
	Changed       bool   `json:"changed"`
	Saved         bool   `json:"saved"`
}

// Runner performs a full reminder pass: load, reconcile, save if changed.
type Runner struct {
	store    Store
	notifier Notifier
	engine   *Engine
	clock    Clock
	lock     Locker
	logger   *slog.Logger
}

// Config holds runner dependencies. Notifier may be nil, which disables passes.
// Lock may be nil when only one process can ever run a pass.
type Config struct {
	Store    Store
	Notifier Notifier
	Engine   *Engine
	Clock    Clock
	Lock     Locker
	Logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg *Config) *Runner {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock(time.UTC)
	}
	engine := cfg.Engine
	if engine == nil {
		engine = NewEngine(cfg.Logger, nil, 0)
	}
	return &Runner{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		engine:   engine,
		clock:    clock,
		lock:     cfg.Lock,
		logger:   cfg.Logger,
	}
}

// RunOnce runs a single pass. Data and delivery problems are logged, not returned;
// the only error is a failed write of changed subscriptions or a broken lock file.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	res := Result{PassID: uuid.NewString()}
	logger := r.logger.With("pass_id", res.PassID)

	if r.notifier == nil {
		logger.Warn("No notification target configured, reminder pass skipped",
			"hint", "set notification_target in config.toml or DROPBOT_NOTIFICATION_TARGET")
		res.Skipped = SkipNotConfigured
		return res, nil
	}

	if r.lock != nil {
		ok, err := r.lock.TryLock()
		if err != nil {
			return res, fmt.Errorf("acquire pass lock: %w", err)
		}
		if !ok {
			logger.Info("Another reminder pass holds the lock, skipping")
			res.Skipped = SkipLocked
			return res, nil
		}
		defer func() {
			if err := r.lock.Unlock(); err != nil {
				logger.Warn("Failed to release pass lock", "error", err)
			}
		}()
	}

	drops, err := r.store.LoadDrops(ctx)
	if err != nil {
		logger.Error("Failed to load drops, continuing with none", "error", err)
		drops = nil
	}
	subs, err := r.store.LoadSubscriptions(ctx)
	if err != nil {
		logger.Error("Failed to load subscriptions, continuing with none", "error", err)
		subs = nil
	}
	res.Drops = len(drops)
	res.Subscriptions = len(subs)

	if len(drops) == 0 {
		logger.Info("No drops found, run the scraper first")
		res.Skipped = SkipNoDrops
		return res, nil
	}
	if len(subs) == 0 {
		logger.Info("No subscriptions found")
		res.Skipped = SkipNoSubscriptions
		return res, nil
	}

	now := r.clock()
	logger.Info("Processing reminders",
		"drops", len(drops),
		"subscriptions", len(subs),
		"now", now.Format(time.RFC3339))

	updated, changed := r.engine.Reconcile(ctx, drops, subs, now, r.notifier)
	res.Changed = changed
	res.Sent = countSent(subs, updated)

	if !changed {
		logger.Info("No reminders were due")
		return res, nil
	}

	if err := r.store.SaveSubscriptions(ctx, updated); err != nil {
		logger.Error("Failed to save subscriptions", "error", err, "sent", res.Sent)
		return res, fmt.Errorf("save subscriptions: %w", err)
	}
	res.Saved = true

	logger.Info("Reminder pass completed", "sent", res.Sent)
	return res, nil
}

// Loop runs a pass immediately and then every interval until ctx is cancelled.
// Pass errors are logged and never stop the loop.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("loop interval must be positive")
	}

	r.logger.Info("Starting reminder loop", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Reminder pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Reminder loop stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

// countSent counts stages that flipped to sent between before and after.
func countSent(before, after []notifier.Subscription) int {
	n := 0
	for i := range after {
		for stage, ok := range after[i].RemindersSent {
			if ok && !before[i].RemindersSent.Sent(stage) {
				n++
			}
		}
	}
	return n
}
