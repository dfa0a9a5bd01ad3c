// Package notifier contains the core domain types for the sneaker drop reminder service.
package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Stage is a reminder offset before a drop, labelled by minutes.
type Stage string

const (
	StageThirty  Stage = "30"
	StageFifteen Stage = "15"
	StageFive    Stage = "5"

	// StageOneDay is understood by the alert formatter but is never scheduled.
	StageOneDay Stage = "1day"
)

// ActiveStages are the stages the reminder engine evaluates, earliest first.
var ActiveStages = []Stage{StageThirty, StageFifteen, StageFive}

// Minutes returns the stage offset in minutes, or 0 for an unknown label.
func (s Stage) Minutes() int {
	switch s {
	case StageThirty:
		return 30
	case StageFifteen:
		return 15
	case StageFive:
		return 5
	case StageOneDay:
		return 24 * 60
	default:
		return 0
	}
}

// Label is a human readable form used in notification text.
func (s Stage) Label() string {
	if s == StageOneDay {
		return "1 day"
	}
	return string(s) + " min"
}

// Drop is a scheduled product release.
type Drop struct {
	DropID   string `json:"drop_id"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	DropTime string `json:"drop_iso"` // RFC 3339 with offset, stored as scraped
	URL      string `json:"url"`
}

// dropTimeLayouts are accepted in addition to RFC 3339 for hand-edited files.
var dropTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

// Time parses the stored drop time. Times without an offset are rejected.
func (d Drop) Time() (time.Time, error) {
	raw := strings.TrimSpace(d.DropTime)
	if raw == "" {
		return time.Time{}, errors.New("drop time is empty")
	}
	var lastErr error
	for _, layout := range dropTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse drop time %q: %w", raw, lastErr)
}

// Reminders records which stages have been confirmed delivered.
type Reminders map[Stage]bool

// Sent reports whether the stage was confirmed delivered.
func (r Reminders) Sent(s Stage) bool {
	return r[s]
}

// Clone returns an independent copy; a nil map clones to an empty one.
func (r Reminders) Clone() Reminders {
	out := make(Reminders, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// UnmarshalJSON accepts the object form and the older list-of-labels form.
func (r *Reminders) UnmarshalJSON(data []byte) error {
	var m map[Stage]bool
	if err := json.Unmarshal(data, &m); err == nil {
		*r = m
		return nil
	}
	var labels []Stage
	if err := json.Unmarshal(data, &labels); err != nil {
		return fmt.Errorf("reminders_sent: expected object or array: %w", err)
	}
	out := make(Reminders, len(labels))
	for _, l := range labels {
		out[l] = true
	}
	*r = out
	return nil
}

// Subscription binds one user to one drop and tracks delivered stages.
type Subscription struct {
	DropID        string    `json:"drop_id"`
	User          string    `json:"user"`
	RemindersSent Reminders `json:"reminders_sent"`

	// raw is set for stored entries that could not be used; they are written back verbatim.
	raw json.RawMessage
}

// Preserve marks s to be written back exactly as raw was stored. Entries that fail
// to decode or validate are carried this way so a save never loses them.
func Preserve(s Subscription, raw json.RawMessage) Subscription {
	s.raw = append(json.RawMessage(nil), raw...)
	return s
}

// Preserved reports whether s is carried verbatim and must not be acted on.
func (s Subscription) Preserved() bool {
	return s.raw != nil
}

// MarshalJSON writes preserved entries unchanged.
func (s Subscription) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return s.raw, nil
	}
	type plain Subscription
	return json.Marshal(plain(s))
}

// Validate checks the fields every stored subscription must carry.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.DropID) == "" {
		return errors.New("subscription missing drop_id")
	}
	if strings.TrimSpace(s.User) == "" {
		return errors.New("subscription missing user")
	}
	return nil
}

// Reminder is everything the notification port needs to announce one stage.
type Reminder struct {
	DropID          string
	User            string
	SneakerName     string
	Brand           string
	DropTimeDisplay string
	URL             string
	Stage           Stage
	MinutesLeft     int
}

// Key identifies a single (drop, user, stage) delivery.
func (r Reminder) Key() string {
	return r.DropID + "|" + r.User + "|" + string(r.Stage)
}

var (
	ErrUnknownDrop           = errors.New("unknown drop")
	ErrDuplicateSubscription = errors.New("already subscribed")
	ErrMissingUser           = errors.New("user is required")
)

// Subscribe returns subs with a new pending subscription for (dropID, user) appended.
// The input slice is not modified.
func Subscribe(subs []Subscription, drops []Drop, dropID, user string) ([]Subscription, error) {
	dropID = strings.TrimSpace(dropID)
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, ErrMissingUser
	}
	if !slices.ContainsFunc(drops, func(d Drop) bool { return d.DropID == dropID }) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDrop, dropID)
	}
	if slices.ContainsFunc(subs, func(s Subscription) bool { return s.DropID == dropID && s.User == user }) {
		return nil, fmt.Errorf("%w: %s for %s", ErrDuplicateSubscription, dropID, user)
	}

	out := make([]Subscription, 0, len(subs)+1)
	out = append(out, subs...)
	out = append(out, Subscription{
		DropID:        dropID,
		User:          user,
		RemindersSent: Reminders{StageThirty: false, StageFifteen: false, StageFive: false},
	})
	return out, nil
}

// Unsubscribe removes the (dropID, user) subscription and reports whether it existed.
func Unsubscribe(subs []Subscription, dropID, user string) ([]Subscription, bool) {
	out := make([]Subscription, 0, len(subs))
	removed := false
	for _, s := range subs {
		if s.DropID == dropID && s.User == user {
			removed = true
			continue
		}
		out = append(out, s)
	}
	return out, removed
}
