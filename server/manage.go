package server

import (
	"net/http"
	"strings"
	"time"

	"sneakerdrop-notifier/pkg/notifier"
	"sneakerdrop-notifier/reminder"
)

type dropView struct {
	notifier.Drop
	LocalTime   string           `json:"local_time,omitempty"`
	MinutesLeft *int             `json:"minutes_left,omitempty"`
	DueStages   []notifier.Stage `json:"due_stages,omitempty"`
	Past        bool             `json:"past"`
}

func (s *Server) handleDrops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	drops, err := s.store.LoadDrops(r.Context())
	if err != nil {
		s.logger.Error("Failed to load drops", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	now := s.now().In(s.location)
	views := make([]dropView, 0, len(drops))
	for _, d := range drops {
		v := dropView{Drop: d}
		if at, err := d.Time(); err == nil {
			left := reminder.MinutesLeft(now, at)
			v.LocalTime = at.In(s.location).Format(time.RFC3339)
			v.MinutesLeft = &left
			v.DueStages = reminder.DueStages(now, at)
			v.Past = !at.After(now)
		}
		views = append(views, v)
	}

	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	subs, err := s.store.LoadSubscriptions(r.Context())
	if err != nil {
		s.logger.Error("Failed to load subscriptions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	mine := make([]notifier.Subscription, 0)
	for _, sub := range subs {
		if sub.User == user && !sub.Preserved() {
			mine = append(mine, sub)
		}
	}
	s.writeJSON(w, http.StatusOK, mine)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip, s.now()) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	req, err := parseSubscriptionRequest(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.store.LoadSubscriptions(r.Context())
	if err != nil {
		s.logger.Error("Failed to load subscriptions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	updated, removed := notifier.Unsubscribe(subs, req.DropID, req.User)
	if !removed {
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	}

	if err := s.store.SaveSubscriptions(r.Context(), updated); err != nil {
		s.logger.Error("Failed to save subscriptions", "drop_id", req.DropID, "user", req.User, "error", err)
		http.Error(w, "Failed to remove subscription", http.StatusInternalServerError)
		return
	}

	if s.ledger != nil {
		s.ledger.Forget(req.DropID, req.User)
	}
	s.logger.Info("Subscription removed", "drop_id", req.DropID, "user", req.User, "ip", ip)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
