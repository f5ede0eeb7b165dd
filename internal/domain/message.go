package domain

import "time"

// InboundMessage is one inbound event from a transport channel.
// Body may be empty when the event carries only an attachment.
type InboundMessage struct {
	Channel          string
	SenderID         string
	Body             string
	MediaURL         string
	MediaContentType string
	Timestamp        time.Time
}

// Reply is the single outbound result type produced per inbound event.
type Reply struct {
	Channel  string
	To       string
	Text     string
	MediaURL string
}

// ContentKind classifies an inbound event for dispatch.
type ContentKind string

const (
	KindText        ContentKind = "text"
	KindImage       ContentKind = "image"
	KindDocument    ContentKind = "document"
	KindUnsupported ContentKind = "unsupported"
)
