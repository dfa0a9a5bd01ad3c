// Package storage handles persistence of drops and subscriptions.
package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"sneakerdrop-notifier/pkg/notifier"
)

const (
	DropsKey         = "drops.csv"
	SubscriptionsKey = "subscriptions.json"
	LockFile         = "dropbot.lock"
	backupPrefix     = "backups/"
)

// dropColumns is the CSV header written for drops, in order.
var dropColumns = []string{"drop_id", "name", "brand", "drop_iso", "url"}

var errNotFound = errors.New("storage: object doesn't exist")

// IsNotFound checks if an error indicates a missing object or file.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// Store persists drops as CSV and subscriptions as JSON, either in a local
// directory or in a Cloud Storage bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	now       func() time.Time
}

// New creates a new storage handler. When localPath is set the bucket is ignored.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		now:       time.Now,
	}
}

// LockPath returns the advisory lock file for local storage, or "" for Cloud Storage.
func (s *Store) LockPath() string {
	if s.localPath == "" {
		return ""
	}
	return filepath.Join(s.localPath, LockFile)
}

// LoadDrops loads all drops. A missing file yields an empty list.
func (s *Store) LoadDrops(ctx context.Context) ([]notifier.Drop, error) {
	data, err := s.read(ctx, DropsKey)
	if IsNotFound(err) {
		s.logger.Info("No drops file found, starting with empty list", "key", DropsKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load drops: %w", err)
	}

	drops, err := decodeDrops(bytes.NewReader(data), s.logger)
	if err != nil {
		return nil, fmt.Errorf("decode drops: %w", err)
	}

	s.logger.Debug("Drops loaded", "count", len(drops))
	return drops, nil
}

// SaveDrops replaces the stored drops.
func (s *Store) SaveDrops(ctx context.Context, drops []notifier.Drop) error {
	var buf bytes.Buffer
	if err := encodeDrops(&buf, drops); err != nil {
		return fmt.Errorf("encode drops: %w", err)
	}
	if err := s.write(ctx, DropsKey, buf.Bytes()); err != nil {
		return fmt.Errorf("save drops: %w", err)
	}
	s.logger.Info("Drops saved", "count", len(drops))
	return nil
}

// LoadSubscriptions loads all subscriptions. A missing file yields an empty list.
// Entries that don't decode or lack a drop_id or user are returned preserved, so
// they survive the next save untouched.
func (s *Store) LoadSubscriptions(ctx context.Context) ([]notifier.Subscription, error) {
	data, err := s.read(ctx, SubscriptionsKey)
	if IsNotFound(err) {
		s.logger.Info("No subscriptions file found, starting with empty list", "key", SubscriptionsKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal subscriptions: %w", err)
	}

	subs := make([]notifier.Subscription, 0, len(entries))
	for i, entry := range entries {
		var sub notifier.Subscription
		if err := json.Unmarshal(entry, &sub); err != nil {
			s.logger.Warn("Keeping unreadable subscription as stored", "index", i, "error", err)
			subs = append(subs, notifier.Preserve(notifier.Subscription{}, entry))
			continue
		}
		if err := sub.Validate(); err != nil {
			s.logger.Warn("Keeping invalid subscription as stored", "index", i, "error", err)
			subs = append(subs, notifier.Preserve(sub, entry))
			continue
		}
		subs = append(subs, sub)
	}

	s.logger.Debug("Subscriptions loaded", "count", len(subs))
	return subs, nil
}

// SaveSubscriptions replaces the stored subscriptions. In Cloud Storage mode the
// previous object is copied under backups/ first.
func (s *Store) SaveSubscriptions(ctx context.Context, subs []notifier.Subscription) error {
	if subs == nil {
		subs = []notifier.Subscription{}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal subscriptions: %w", err)
	}

	if s.localPath == "" {
		if err := s.backup(ctx, SubscriptionsKey); err != nil {
			s.logger.Warn("Failed to back up subscriptions, saving anyway", "error", err)
		}
	}

	if err := s.write(ctx, SubscriptionsKey, data); err != nil {
		return fmt.Errorf("save subscriptions: %w", err)
	}
	s.logger.Info("Subscriptions saved", "count", len(subs))
	return nil
}

// Backups lists subscription backup objects in Cloud Storage, oldest first.
func (s *Store) Backups(ctx context.Context) ([]string, error) {
	if s.localPath != "" {
		return nil, nil
	}

	var names []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: backupPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *Store) backup(ctx context.Context, key string) error {
	ext := filepath.Ext(key)
	dst := fmt.Sprintf("%s%s-%d%s", backupPrefix, strings.TrimSuffix(key, ext), s.now().Unix(), ext)

	bucket := s.client.Bucket(s.bucket)
	_, err := bucket.Object(dst).CopierFrom(bucket.Object(key)).Run(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", key, dst, err)
	}
	s.logger.Debug("Backup written", "key", dst)
	return nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	missing := false
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					missing = true
					return retry.Unrecoverable(errNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if missing {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if s.localPath != "" {
		if err := os.MkdirAll(s.localPath, 0o755); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		// Write then rename so readers never see a half-written file.
		tmp, err := os.CreateTemp(s.localPath, "."+key+".*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpName, filepath.Join(s.localPath, key)); err != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("rename into place: %w", err)
		}
		s.logger.Debug("Saved to local storage", "key", key, "bytes", len(data))
		return nil
	}

	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func encodeDrops(w io.Writer, drops []notifier.Drop) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dropColumns); err != nil {
		return err
	}
	for _, d := range drops {
		if err := cw.Write([]string{d.DropID, d.Name, d.Brand, d.DropTime, d.URL}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// decodeDrops maps columns by header name, so extra or reordered columns are fine.
func decodeDrops(r io.Reader, logger *slog.Logger) ([]notifier.Drop, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := idx["drop_id"]; !ok {
		return nil, errors.New("header has no drop_id column")
	}

	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var drops []notifier.Drop
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logger.Warn("Skipping unreadable drop row", "line", parseErr.Line, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		d := notifier.Drop{
			DropID:   field(rec, "drop_id"),
			Name:     field(rec, "name"),
			Brand:    field(rec, "brand"),
			DropTime: field(rec, "drop_iso"),
			URL:      field(rec, "url"),
		}
		if d.DropID == "" {
			logger.Warn("Skipping drop row without drop_id", "line", line)
			continue
		}
		drops = append(drops, d)
	}
	return drops, nil
}
