// Package logmsg is a log-backed messenger for environments without a real
// chat or email provider.
package logmsg

import (
	"context"
	"log"

	"callsplit/domain/core"
	"callsplit/ports"
)

// Messenger writes every nudge to the process log and reports success.
type Messenger struct{}

// New creates a log-backed messenger.
func New() *Messenger {
	return &Messenger{}
}

var _ ports.Messenger = (*Messenger)(nil)

// Send logs the message and returns a synthetic receipt.
func (m *Messenger) Send(ctx context.Context, msg ports.Message) (*ports.Receipt, error) {
	id := core.NewID().String()
	log.Printf("[Messenger] %s -> %s: %s", msg.Channel, msg.To, msg.Body)
	return &ports.Receipt{MessageID: id, Status: "sent"}, nil
}
