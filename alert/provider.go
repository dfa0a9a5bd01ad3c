package alert

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// NewProvider picks a provider for target: the mock when mock is set, the webhook
// provider for http(s) URLs, shoutrrr for any other scheme.
func NewProvider(target string, mock bool, timeout time.Duration, logger *slog.Logger) (Provider, error) {
	if mock {
		return NewMockProvider(logger), nil
	}

	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("notification target is empty")
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return nil, errors.New("invalid notification target: not a URL")
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return nil, errors.New("invalid notification target: missing host")
		}
		return NewWebhookProvider(target, timeout, logger), nil
	default:
		return NewShoutrrrProvider(target, timeout)
	}
}
