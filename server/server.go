// Package server exposes the reminder pass and subscription management over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sneakerdrop-notifier/pkg/notifier"
	"sneakerdrop-notifier/reminder"
	"sneakerdrop-notifier/scraper"
)

// Store interface for drop and subscription access.
type Store interface {
	LoadDrops(ctx context.Context) ([]notifier.Drop, error)
	LoadSubscriptions(ctx context.Context) ([]notifier.Subscription, error)
	SaveSubscriptions(ctx context.Context, subs []notifier.Subscription) error
}

// Runner interface for triggering a reminder pass.
type Runner interface {
	RunOnce(ctx context.Context) (reminder.Result, error)
}

// Refresher interface for triggering a scrape.
type Refresher interface {
	Refresh(ctx context.Context) (scraper.RefreshResult, error)
}

// Ledger forgets delivery records when a subscription is removed.
type Ledger interface {
	Forget(dropID, user string)
}

// Server handles HTTP requests.
type Server struct {
	store     Store
	runner    Runner
	refresher Refresher
	ledger    Ledger
	logger    *slog.Logger
	location  *time.Location
	now       func() time.Time
	limiter   *rateLimiter

	// mu serialises subscription writes and passes issued through this server.
	mu sync.Mutex
}

// Config holds server configuration. Refresher may be nil, which disables /scrapez.
// Ledger may be nil.
type Config struct {
	Store     Store
	Runner    Runner
	Refresher Refresher
	Ledger    Ledger
	Logger    *slog.Logger
	Location  *time.Location
	Now       func() time.Time
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		store:     cfg.Store,
		runner:    cfg.Runner,
		refresher: cfg.Refresher,
		ledger:    cfg.Ledger,
		logger:    cfg.Logger,
		location:  loc,
		now:       now,
		limiter:   newRateLimiter(5, time.Hour),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/scrapez", s.handleScrape)
	mux.HandleFunc("/drops", s.handleDrops)
	mux.HandleFunc("/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // a pass may wait on several webhooks
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")

	s.mu.Lock()
	res, err := s.runner.RunOnce(r.Context())
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("Reminder pass failed", "pass_id", res.PassID, "error", err)
		http.Error(w, "Reminder pass failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.refresher == nil {
		http.Error(w, "Scraping is not configured", http.StatusNotImplemented)
		return
	}

	s.logger.Info("Scrape endpoint triggered")

	res, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.logger.Error("Drop refresh failed", "error", err)
		http.Error(w, "Drop refresh failed", http.StatusBadGateway)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
