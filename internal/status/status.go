// Package status maintains the user-visible progress message for a run.
package status

import (
	"context"
	"errors"
	"sync"

	"github.com/italolelis/discord_archiver/internal/logctx"
	"github.com/italolelis/discord_archiver/internal/platform"
)

// Surface is the mutable progress message shared by every job of one command
// invocation. Update edits the underlying message in place; when the message
// is gone or its edit token expired it posts a fresh message to the
// originating channel and adopts it. Both paths are best-effort: a run never
// fails because progress could not be displayed.
type Surface struct {
	mu      sync.Mutex
	msg     platform.StatusMessage
	channel platform.Channel
}

func NewSurface(msg platform.StatusMessage, channel platform.Channel) *Surface {
	return &Surface{msg: msg, channel: channel}
}

// MessageID returns the ID of the message currently backing the surface.
func (s *Surface) MessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.msg.ID()
}

// Update rewrites the surface content. Never returns an error.
func (s *Surface) Update(ctx context.Context, content string) {
	logger := logctx.From(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.msg.Edit(ctx, content)
	if err == nil {
		return
	}

	if errors.Is(err, platform.ErrMessageGone) {
		fresh, postErr := s.channel.Post(ctx, content)
		if postErr != nil {
			logger.Error("failed to post replacement status message", "channel", s.channel.Name(), "err", postErr)

			return
		}

		s.msg = fresh

		return
	}

	logger.Warn("failed to edit status message", "message_id", s.msg.ID(), "err", err)
}
