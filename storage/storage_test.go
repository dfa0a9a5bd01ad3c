package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneakerdrop-notifier/pkg/notifier"
)

func newLocal(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(nil, "", dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestMissingFilesAreEmpty(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	drops, err := s.LoadDrops(ctx)
	require.NoError(t, err)
	assert.Empty(t, drops)

	subs, err := s.LoadSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDropsRoundTrip(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()

	drops := []notifier.Drop{
		{DropID: "aj1-2025-01-15", Name: "Air Jordan 1, \"Chicago\"", Brand: "Jordan", DropTime: "2025-01-15T10:00:00-05:00", URL: "https://example.com/aj1"},
		{DropID: "dunk-2025-01-20", Name: "Dunk Low", Brand: "Nike", DropTime: "2025-01-20T10:00:00-05:00"},
	}
	require.NoError(t, s.SaveDrops(ctx, drops))

	raw, err := os.ReadFile(filepath.Join(dir, DropsKey))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "drop_id,name,brand,drop_iso,url\n"))

	got, err := s.LoadDrops(ctx)
	require.NoError(t, err)
	assert.Equal(t, drops, got)
}

func TestLoadDropsByHeaderName(t *testing.T) {
	s, dir := newLocal(t)
	csv := "name,drop_id,release_date,drop_iso\n" +
		"Dunk Low,dunk,2025-01-20,2025-01-20T10:00:00-05:00\n" +
		"No ID,,2025-01-21,2025-01-21T10:00:00-05:00\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DropsKey), []byte(csv), 0o600))

	got, err := s.LoadDrops(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []notifier.Drop{{DropID: "dunk", Name: "Dunk Low", DropTime: "2025-01-20T10:00:00-05:00"}}, got)
}

func TestLoadDropsToleratesHandEditedRows(t *testing.T) {
	s, dir := newLocal(t)
	raw := "drop_id,name,brand,drop_iso,url\n" +
		"d1,Air Jordan 1,Nike,2025-01-15T10:00:00-05:00,https://example.com/d1\n" +
		"d2,Dunk \"Panda\" Low,Nike,2025-01-16T10:00:00-05:00,https://example.com/d2\n" +
		",No id,Nike,2025-01-17T10:00:00-05:00,\n" +
		"d3,New Balance 550,New Balance,2025-01-18T10:00:00-05:00,https://example.com/d3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, DropsKey), []byte(raw), 0o600))

	drops, err := s.LoadDrops(context.Background())
	require.NoError(t, err)
	require.Len(t, drops, 3)
	assert.Equal(t, "d1", drops[0].DropID)
	assert.Equal(t, `Dunk "Panda" Low`, drops[1].Name)
	assert.Equal(t, "d3", drops[2].DropID)
}

func TestLoadDropsRejectsHeaderWithoutID(t *testing.T) {
	s, dir := newLocal(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DropsKey), []byte("name,url\nx,y\n"), 0o600))

	_, err := s.LoadDrops(context.Background())
	assert.Error(t, err)
}

func TestSubscriptionsRoundTrip(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	subs := []notifier.Subscription{
		{DropID: "aj1", User: "alice", RemindersSent: notifier.Reminders{notifier.StageThirty: true, notifier.StageFifteen: false, notifier.StageFive: false}},
		{DropID: "aj1", User: "bob", RemindersSent: notifier.Reminders{}},
	}
	require.NoError(t, s.SaveSubscriptions(ctx, subs))

	got, err := s.LoadSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, subs, got)
}

func TestLoadSubscriptionsPreservesUnusableEntries(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()
	raw := `[
  {"drop_id": "aj1", "user": "alice", "reminders_sent": ["30"]},
  {"drop_id": "", "user": "bob"},
  {"drop_id": "aj1", "user": "carol", "reminders_sent": 5},
  {"drop_id": "aj1", "extra": "kept"}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, SubscriptionsKey), []byte(raw), 0o600))

	got, err := s.LoadSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.False(t, got[0].Preserved())
	assert.Equal(t, "alice", got[0].User)
	assert.True(t, got[0].RemindersSent.Sent(notifier.StageThirty))
	for _, sub := range got[1:] {
		assert.True(t, sub.Preserved())
		assert.Error(t, sub.Validate())
	}

	require.NoError(t, s.SaveSubscriptions(ctx, got))
	saved, err := os.ReadFile(filepath.Join(dir, SubscriptionsKey))
	require.NoError(t, err)
	assert.JSONEq(t, `[
  {"drop_id": "aj1", "user": "alice", "reminders_sent": {"30": true}},
  {"drop_id": "", "user": "bob"},
  {"drop_id": "aj1", "user": "carol", "reminders_sent": 5},
  {"drop_id": "aj1", "extra": "kept"}
]`, string(saved))
}

func TestLoadSubscriptionsMalformed(t *testing.T) {
	s, dir := newLocal(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, SubscriptionsKey), []byte("{not json"), 0o600))

	_, err := s.LoadSubscriptions(context.Background())
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestSaveSubscriptionsEmptyWritesArray(t *testing.T) {
	s, dir := newLocal(t)
	require.NoError(t, s.SaveSubscriptions(context.Background(), nil))

	raw, err := os.ReadFile(filepath.Join(dir, SubscriptionsKey))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestLockPath(t *testing.T) {
	s, dir := newLocal(t)
	assert.Equal(t, filepath.Join(dir, LockFile), s.LockPath())

	remote := New(nil, "bucket", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Empty(t, remote.LockPath())
}

func TestBackupsLocalIsEmpty(t *testing.T) {
	s, _ := newLocal(t)
	names, err := s.Backups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
