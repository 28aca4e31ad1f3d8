// Package notify sends best-effort operator alerts to a Discord channel:
// session restarts, persistent API errors, reminders that failed to parse.
// It is outbound-only: the daemon never takes commands over Discord, and
// authorization for user traffic is decided entirely by the contact
// directory's tier check, never by anything arriving on this channel.
package notify

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/smsd/internal/logging"
)

// Notifier posts operator alerts to a single Discord channel. A zero-value
// Notifier (no token configured) is a safe no-op.
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

// New connects to Discord using token and targets channelID. If token is
// empty, New returns a disabled Notifier whose Notify calls are no-ops,
// since the operator channel is entirely optional.
func New(token, channelID string) (*Notifier, error) {
	if token == "" {
		return &Notifier{}, nil
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}

	return &Notifier{session: session, channelID: channelID}, nil
}

// Enabled reports whether this Notifier will actually deliver anything.
func (n *Notifier) Enabled() bool {
	return n.session != nil
}

// Notify posts text to the configured channel from its own goroutine, so
// the caller never waits on Discord. Notify never returns an error: a
// failed post is logged at warn level and otherwise ignored, since losing
// an operator alert must never take down the daemon's core loop.
func (n *Notifier) Notify(text string) {
	if !n.Enabled() {
		return
	}
	go func() {
		if _, err := n.session.ChannelMessageSend(n.channelID, text); err != nil {
			logging.Warn("notify", "send failed: %v", err)
		}
	}()
}

// Close releases the underlying Discord connection, if any.
func (n *Notifier) Close() error {
	if n.session == nil {
		return nil
	}
	return n.session.Close()
}
