package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/gofrs/flock"
	"google.golang.org/api/option"

	"sneakerdrop-notifier/alert"
	"sneakerdrop-notifier/config"
	"sneakerdrop-notifier/reminder"
	"sneakerdrop-notifier/scraper"
	"sneakerdrop-notifier/storage"
)

// errNotConfigured is returned by commands that need a notification target.
var errNotConfigured = errors.New("no notification_target configured (set DROPBOT_NOTIFICATION_TARGET or notification_target in the config file)")

// app wires configuration into the storage, alert and reminder components.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Store
	client *gcs.Client
	lock   *flock.Flock
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Bucket != "" {
		var opts []option.ClientOption
		if cfg.GoogleCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.client = client
		a.store = storage.New(client, cfg.Bucket, "", logger)
		logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)
		return a, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	a.store = storage.New(nil, "", cfg.DataDir, logger)
	a.lock = flock.New(a.store.LockPath())
	logger.Debug("Using local storage", "path", cfg.DataDir)
	return a, nil
}

func (a *app) Close() {
	if a.lock != nil {
		if err := a.lock.Close(); err != nil {
			a.logger.Warn("Failed to release lock file", "error", err)
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("Failed to close storage client", "error", err)
		}
	}
}

// sender returns nil when no notification target is configured.
func (a *app) sender() (*alert.Sender, error) {
	if !a.cfg.Enabled() {
		return nil, nil
	}
	provider, err := alert.NewProvider(a.cfg.NotificationTarget, a.cfg.MockNotify, a.cfg.RequestTimeoutDuration(), a.logger)
	if err != nil {
		return nil, err
	}
	if a.cfg.MockNotify {
		a.logger.Warn("Mock notifications enabled, reminders are only logged")
	}
	return alert.New(provider, a.logger, a.cfg.RequestTimeoutDuration()), nil
}

func (a *app) runner() (*reminder.Runner, error) {
	sender, err := a.sender()
	if err != nil {
		return nil, err
	}
	return a.runnerWith(sender), nil
}

func (a *app) runnerWith(sender *alert.Sender) *reminder.Runner {
	// A nil *alert.Sender must stay an untyped nil interface so the runner skips.
	var n reminder.Notifier
	if sender != nil {
		n = sender
	}
	var lock reminder.Locker
	if a.lock != nil {
		lock = a.lock
	}

	return reminder.NewRunner(&reminder.Config{
		Store:    a.store,
		Notifier: n,
		Engine:   reminder.NewEngine(a.logger, a.cfg.Location(), a.cfg.Concurrency),
		Clock:    reminder.SystemClock(a.cfg.Location()),
		Lock:     lock,
		Logger:   a.logger,
	})
}

func (a *app) refresher() *scraper.Refresher {
	client := &http.Client{Timeout: 3 * a.cfg.RequestTimeoutDuration()}
	return &scraper.Refresher{
		Scraper: scraper.New(client, a.logger, a.cfg.Location()),
		Store:   a.store,
		URL:     a.cfg.ScrapeURL,
		Limit:   a.cfg.ScrapeLimit,
		Brands:  a.cfg.BrandFilters,
		Logger:  a.logger,
	}
}

// withLock runs fn while holding the pass lock, waiting up to 30s for it.
func (a *app) withLock(ctx context.Context, fn func() error) error {
	if a.lock == nil {
		return fn()
	}
	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ok, err := a.lock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("acquire lock: another dropbot process is busy")
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("Failed to release lock", "error", err)
		}
	}()
	return fn()
}
