// Package delivery queues outbound messages. Crews never talk to email
// or SMS providers directly: they enqueue into an outbox and a separate
// sender drains it.
package delivery

import "context"

// Channel names an outbound transport.
type Channel string

const (
	ChannelEmail Channel = "/email"
	ChannelSMS   Channel = "/sms"
)

// Message is one queued outbound payload.
type Message struct {
	ID        int64   `json:"id"`
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Payload   string  `json:"payload"`
	CreatedAt string  `json:"created_at"`
}

// Queue accepts outbound messages for later delivery.
type Queue interface {
	Enqueue(ctx context.Context, channel Channel, recipient, payload string) error
}
