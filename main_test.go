package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneakerdrop-notifier/pkg/notifier"
)

// runCLI executes dropbot with args against dataDir and returns stdout.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DROPBOT_DATA_DIR", dataDir)

	var out bytes.Buffer
	cmd := newRootCommand(io.Discard)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dataDir, "absent.toml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDrops(t *testing.T, dir string, at time.Time) {
	t.Helper()
	csv := "drop_id,name,brand,drop_iso,url\n" +
		"aj1," + `"Air Jordan 1, Chicago"` + ",Nike," + at.Format(time.RFC3339) + ",https://example.com/aj1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drops.csv"), []byte(csv), 0o600))
}

func readSubs(t *testing.T, dir string) []notifier.Subscription {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "subscriptions.json"))
	require.NoError(t, err)
	var subs []notifier.Subscription
	require.NoError(t, json.Unmarshal(data, &subs))
	return subs
}

func TestSubscribeRemindFlow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DROPBOT_MOCK_NOTIFY", "true")
	writeDrops(t, dir, time.Now().Add(30*time.Minute+30*time.Second))

	out, err := runCLI(t, dir, "subscribe", "aj1", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Subscribed alice to aj1")

	_, err = runCLI(t, dir, "subscribe", "aj1", "--user", "alice")
	assert.ErrorIs(t, err, notifier.ErrDuplicateSubscription)

	out, err = runCLI(t, dir, "remind")
	require.NoError(t, err)
	assert.Contains(t, out, "1 reminders sent")

	subs := readSubs(t, dir)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].RemindersSent.Sent(notifier.StageThirty))
	assert.False(t, subs[0].RemindersSent.Sent(notifier.StageFifteen))

	out, err = runCLI(t, dir, "remind")
	require.NoError(t, err)
	assert.Contains(t, out, "0 reminders sent")
	assert.Contains(t, out, "saved=false")

	out, err = runCLI(t, dir, "subscriptions")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "sent")

	out, err = runCLI(t, dir, "unsubscribe", "aj1", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Unsubscribed alice")
	assert.Empty(t, readSubs(t, dir))
}

func TestRemindWithoutTargetIsNoop(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DROPBOT_NOTIFICATION_TARGET", "")
	writeDrops(t, dir, time.Now().Add(30*time.Minute+30*time.Second))

	out, err := runCLI(t, dir, "remind")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped: not_configured")

	_, err = runCLI(t, dir, "test-notify")
	assert.ErrorIs(t, err, errNotConfigured)
}

func TestSubscribeRequiresUser(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DROPBOT_USER", "")
	writeDrops(t, dir, time.Now().Add(time.Hour))

	_, err := runCLI(t, dir, "subscribe", "aj1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user is required")

	t.Setenv("DROPBOT_USER", "carol")
	out, err := runCLI(t, dir, "subscribe", "aj1")
	require.NoError(t, err)
	assert.Contains(t, out, "Subscribed carol")
}

func TestUnsubscribeMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "unsubscribe", "aj1", "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not subscribed")
}

func TestDropsAndInspect(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DROPBOT_TIMEZONE", "UTC")

	out, err := runCLI(t, dir, "drops")
	require.NoError(t, err)
	assert.Contains(t, out, "No drops stored")

	writeDrops(t, dir, time.Now().Add(2*time.Hour))

	out, err = runCLI(t, dir, "drops")
	require.NoError(t, err)
	assert.Contains(t, out, "Air Jordan 1, Chicago")
	assert.Contains(t, out, "Nike")

	out, err = runCLI(t, dir, "inspect", "aj1")
	require.NoError(t, err)
	assert.Contains(t, out, "upcoming")
	assert.Contains(t, out, "Due stages")

	_, err = runCLI(t, dir, "inspect", "missing")
	assert.ErrorIs(t, err, notifier.ErrUnknownDrop)
}

func TestInvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DROPBOT_TIMEZONE", "Nowhere/Special")
	_, err := runCLI(t, dir, "drops")
	assert.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"ID", "Count"}, [][]string{{"a", "1"}, {"b"}})
	upper := strings.ToUpper(out)
	assert.Contains(t, upper, "ID")
	assert.Contains(t, upper, "COUNT")
	// top border, header, separator, two rows, bottom border
	assert.Equal(t, 6, strings.Count(out, "\n")+1, out)
	assert.Empty(t, renderTable(nil, nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
