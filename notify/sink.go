package notify

import (
	"context"
	"fmt"
	"strings"
)

// ChatSender is the piece of the chat transport a ChatSink needs.
type ChatSender interface {
	SendMessage(ctx context.Context, text string) error
}

// ChatSink announces go-live events in the bot's own Twitch chat. Only
// events for the target channel are announced there; other watched channels
// are Discord-only.
type ChatSink struct {
	Sender        ChatSender
	TargetChannel string
}

// Notify sends the chat announcement when the event is for the target channel.
func (c *ChatSink) Notify(ctx context.Context, n Notification) error {
	if !strings.EqualFold(n.UserLogin, c.TargetChannel) {
		return nil
	}
	return c.Sender.SendMessage(ctx, fmt.Sprintf("Stream is now live: %s - playing %s", n.Title, n.GameName))
}
