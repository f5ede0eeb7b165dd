package domain

import "context"

// MessageBus decouples transport channels from the conversation router.
// Channels publish inbound events and register a handler for replies;
// the router consumes events and sends exactly one reply per event.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendReply(reply Reply)
	OnReply(channelName string, handler func(Reply))
	Close()
}

// Channel is a transport adapter (webhook receiver, long poller, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
