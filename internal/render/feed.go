package render

import (
	"context"
	"log/slog"

	"github.com/metrowatch/genlog/internal/chat"
)

// Feed is the append-only audit channel receiving one terse line per
// apply/approve/deny/undo. Delivery failures are logged and swallowed; the
// feed must never fail the action it is reporting.
type Feed struct {
	channel chat.Channel
}

// NewFeed wraps channel as an audit feed. A nil channel disables the feed.
func NewFeed(channel chat.Channel) *Feed {
	return &Feed{channel: channel}
}

// Post appends one audit line, with optional rich detail embeds.
func (f *Feed) Post(ctx context.Context, line string, detail ...chat.Embed) {
	if f == nil || f.channel == nil {
		return
	}
	if _, err := f.channel.Send(ctx, chat.Message{Content: line, Embeds: detail}); err != nil {
		slog.Warn("posting to transaction feed failed", "error", err)
	}
}
