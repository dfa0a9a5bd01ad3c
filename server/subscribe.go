package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"sneakerdrop-notifier/pkg/notifier"
)

type subscriptionRequest struct {
	DropID string `json:"drop_id"`
	User   string `json:"user"`
}

// parseSubscriptionRequest accepts a JSON body or form values.
func parseSubscriptionRequest(w http.ResponseWriter, r *http.Request) (subscriptionRequest, error) {
	var req subscriptionRequest

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			return req, errors.New("invalid JSON body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, errors.New("invalid form data")
		}
		req.DropID = r.FormValue("drop_id")
		req.User = r.FormValue("user")
	}

	req.DropID = strings.TrimSpace(req.DropID)
	req.User = strings.TrimSpace(req.User)
	if req.DropID == "" {
		return req, errors.New("drop_id is required")
	}
	if req.User == "" {
		return req, errors.New("user is required")
	}
	return req, nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
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

	drops, err := s.store.LoadDrops(r.Context())
	if err != nil {
		s.logger.Error("Failed to load drops", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	subs, err := s.store.LoadSubscriptions(r.Context())
	if err != nil {
		s.logger.Error("Failed to load subscriptions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	updated, err := notifier.Subscribe(subs, drops, req.DropID, req.User)
	switch {
	case errors.Is(err, notifier.ErrUnknownDrop):
		http.Error(w, "Unknown drop_id", http.StatusNotFound)
		return
	case errors.Is(err, notifier.ErrDuplicateSubscription):
		http.Error(w, "Already subscribed to this drop", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.SaveSubscriptions(r.Context(), updated); err != nil {
		s.logger.Error("Failed to save subscription", "drop_id", req.DropID, "user", req.User, "error", err)
		http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Subscription created", "drop_id", req.DropID, "user", req.User, "ip", ip)
	s.writeJSON(w, http.StatusCreated, updated[len(updated)-1])
}
