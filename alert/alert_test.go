package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneakerdrop-notifier/pkg/notifier"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleReminder(minutes int, stage notifier.Stage) notifier.Reminder {
	return notifier.Reminder{
		DropID:          "aj1-2025-01-15",
		User:            "alice",
		SneakerName:     "Air Jordan 1",
		Brand:           "Nike",
		DropTimeDisplay: "Jan 15, 2025 10:00 AM",
		URL:             "https://example.com/aj1",
		Stage:           stage,
		MinutesLeft:     minutes,
	}
}

func TestFormat(t *testing.T) {
	msg := Format(sampleReminder(15, notifier.StageFifteen))

	assert.Equal(t, "Sneaker Drop Reminder (15 min)", msg.Title)
	assert.Equal(t, "**Air Jordan 1** drops in **15 minutes**!", msg.Description)
	assert.Equal(t, "https://example.com/aj1", msg.URL)
	assert.Equal(t, ColorUpcoming, msg.Color)
	assert.Equal(t, []Field{
		{Name: "Brand", Value: "Nike", Inline: true},
		{Name: "Drop Time", Value: "Jan 15, 2025 10:00 AM", Inline: true},
		{Name: "Minutes Left", Value: "15 min", Inline: true},
	}, msg.Fields)
}

func TestFormatColors(t *testing.T) {
	tests := []struct {
		minutes int
		want    int
	}{
		{30, ColorEarly},
		{16, ColorEarly},
		{15, ColorUpcoming},
		{6, ColorUpcoming},
		{5, ColorUrgent},
		{0, ColorUrgent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(sampleReminder(tt.minutes, notifier.StageThirty)).Color, "minutes=%d", tt.minutes)
	}
}

func TestFormatOneDay(t *testing.T) {
	msg := Format(sampleReminder(1440, notifier.StageOneDay))
	assert.Equal(t, "Sneaker Drop Reminder (1 day)", msg.Title)
	assert.Contains(t, msg.Description, "**1 day**")
	assert.Equal(t, ColorEarly, msg.Color)
}

func TestMessageText(t *testing.T) {
	r := sampleReminder(5, notifier.StageFive)
	r.Brand = ""
	text := Format(r).Text()
	assert.Contains(t, text, "drops in **5 minutes**")
	assert.Contains(t, text, "\nBrand: -")
	assert.Contains(t, text, "\nhttps://example.com/aj1")
}

func TestWebhookProviderPostsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL, time.Second, discardLogger())
	require.NoError(t, p.Send(context.Background(), Format(sampleReminder(30, notifier.StageThirty))))

	require.Len(t, got.Embeds, 1)
	embed := got.Embeds[0]
	assert.Equal(t, "Sneaker Drop Reminder (30 min)", embed.Title)
	assert.Equal(t, ColorEarly, embed.Color)
	assert.Equal(t, "https://example.com/aj1", embed.URL)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, webhookField{Name: "Brand", Value: "Nike", Inline: true}, embed.Fields[0])
}

func TestWebhookProviderRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"server error retried", http.StatusBadGateway, 3},
		{"rate limit retried", http.StatusTooManyRequests, 3},
		{"client error not retried", http.StatusNotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewWebhookProvider(srv.URL, time.Second, discardLogger())
			p.retryDelay = time.Millisecond

			err := p.Send(context.Background(), Format(sampleReminder(5, notifier.StageFive)))
			require.Error(t, err)
			assert.True(t, IsStatus(err, tt.status), "error: %v", err)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestWebhookProviderRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL, time.Second, discardLogger())
	p.retryDelay = time.Millisecond

	require.NoError(t, p.Send(context.Background(), Format(sampleReminder(5, notifier.StageFive))))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSenderReportsOutcome(t *testing.T) {
	mock := NewMockProvider(discardLogger())
	s := New(mock, discardLogger(), time.Second)

	assert.True(t, s.SendReminder(context.Background(), sampleReminder(30, notifier.StageThirty)))
	require.Len(t, mock.Messages(), 1)

	mock.FailWith(errors.New("webhook down"))
	assert.False(t, s.SendReminder(context.Background(), sampleReminder(15, notifier.StageFifteen)))
}

func TestSenderLedgerSuppressesRepeat(t *testing.T) {
	mock := NewMockProvider(discardLogger())
	s := New(mock, discardLogger(), time.Second)
	r := sampleReminder(30, notifier.StageThirty)

	require.True(t, s.SendReminder(context.Background(), r))
	require.True(t, s.SendReminder(context.Background(), r))
	assert.Len(t, mock.Messages(), 1)

	other := r
	other.User = "bob"
	require.True(t, s.SendReminder(context.Background(), other))
	assert.Len(t, mock.Messages(), 2)
}

func TestSenderForgetAllowsResend(t *testing.T) {
	mock := NewMockProvider(discardLogger())
	s := New(mock, discardLogger(), time.Second)
	r := sampleReminder(30, notifier.StageThirty)
	bob := r
	bob.User = "bob"

	require.True(t, s.SendReminder(context.Background(), r))
	require.True(t, s.SendReminder(context.Background(), bob))
	require.Len(t, mock.Messages(), 2)

	s.Forget(r.DropID, r.User)

	require.True(t, s.SendReminder(context.Background(), r))
	assert.Len(t, mock.Messages(), 3)
	require.True(t, s.SendReminder(context.Background(), bob))
	assert.Len(t, mock.Messages(), 3, "other users keep their ledger entries")
}

type panicProvider struct{}

func (panicProvider) Send(context.Context, Message) error { panic("boom") }

func TestSenderRecoversFromPanic(t *testing.T) {
	s := New(panicProvider{}, discardLogger(), time.Second)
	assert.False(t, s.SendReminder(context.Background(), sampleReminder(5, notifier.StageFive)))
}

type slowProvider struct{}

func (slowProvider) Send(ctx context.Context, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSenderAppliesTimeout(t *testing.T) {
	s := New(slowProvider{}, discardLogger(), 20*time.Millisecond)
	start := time.Now()
	assert.False(t, s.SendReminder(context.Background(), sampleReminder(5, notifier.StageFive)))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("", true, time.Second, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &MockProvider{}, p)

	p, err = NewProvider("https://discord.com/api/webhooks/1/abc", false, time.Second, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &WebhookProvider{}, p)

	_, err = NewProvider("", false, time.Second, discardLogger())
	assert.Error(t, err)

	_, err = NewProvider("not a url", false, time.Second, discardLogger())
	assert.Error(t, err)

	_, err = NewProvider("https://", false, time.Second, discardLogger())
	assert.Error(t, err)

	_, err = NewProvider("nosuchservice://token@host", false, time.Second, discardLogger())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token")
}
