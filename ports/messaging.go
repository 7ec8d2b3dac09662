package ports

import (
	"context"

	"callsplit/domain/experiment"
)

// Message is one fire-and-forget nudge to a lead.
type Message struct {
	Channel experiment.NudgeChannel
	To      string
	Body    string
}

// Receipt is the delivery status callback payload.
type Receipt struct {
	MessageID string
	Status    string
	Err       string
}

// Messenger sends nudge messages over chat-style or email channels. Sends
// are best-effort and must never block call execution.
type Messenger interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}
