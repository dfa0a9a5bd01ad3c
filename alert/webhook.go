package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// WebhookProvider posts Discord-style embeds to a webhook URL.
type WebhookProvider struct {
	url        string
	client     *http.Client
	logger     *slog.Logger
	attempts   uint
	retryDelay time.Duration
}

// NewWebhookProvider creates a provider for the given webhook URL.
func NewWebhookProvider(url string, timeout time.Duration, logger *slog.Logger) *WebhookProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookProvider{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		attempts:   3,
		retryDelay: time.Second,
	}
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []webhookField `json:"fields,omitempty"`
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// StatusError is returned when the webhook answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Send posts msg as a single embed.
func (w *WebhookProvider) Send(ctx context.Context, msg Message) error {
	embed := webhookEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		URL:         msg.URL,
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, webhookField(f))
	}

	body, err := json.Marshal(webhookPayload{Embeds: []webhookEmbed{embed}})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := w.client.Do(req)
			if err != nil {
				lastErr = fmt.Errorf("post webhook: %w", err)
				return lastErr
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					w.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}

			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
			lastErr = statusErr
			if !statusErr.Retryable() {
				return retry.Unrecoverable(statusErr)
			}
			return statusErr
		},
		retry.Attempts(w.attempts),
		retry.Delay(w.retryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(w.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Info("Retrying webhook send after error", "attempt", n, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	// Report the final attempt rather than the accumulated retry history.
	if lastErr != nil {
		return lastErr
	}
	return err
}

// IsStatus reports whether err carries the given webhook status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
