package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrProvider sends plain-text reminders through a shoutrrr service URL
// such as discord://, slack:// or telegram://.
type ShoutrrrProvider struct {
	sender *router.ServiceRouter
}

// NewShoutrrrProvider validates url and builds its sender.
func NewShoutrrrProvider(url string, timeout time.Duration) (*ShoutrrrProvider, error) {
	sender, err := shoutrrr.CreateSender(url)
	if err != nil {
		// The URL carries credentials; keep it out of the error.
		return nil, errors.New("invalid notification target: unsupported or malformed service URL")
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrProvider{sender: sender}, nil
}

// Send delivers the flattened message with its title.
func (s *ShoutrrrProvider) Send(_ context.Context, msg Message) error {
	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	for _, err := range s.sender.Send(msg.Text(), &params) {
		if err != nil {
			return fmt.Errorf("shoutrrr send: %w", err)
		}
	}
	return nil
}
