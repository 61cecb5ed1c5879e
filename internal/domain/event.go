package domain

import "time"

// MessageKind classifies what an inbound event carries.
type MessageKind int

const (
	// KindText is a plain text message that can be routed to the agent.
	KindText MessageKind = iota
	// KindUnsupported is any non-text content (images, audio, stickers, ...).
	KindUnsupported
)

// InboundEvent is one normalized Messenger webhook event.
type InboundEvent struct {
	SenderID  string
	MessageID string // Messenger "mid"; may be empty on some event types
	Kind      MessageKind
	Text      string
	// Echo marks a webhook notification for a message the bot itself sent.
	Echo bool
	// Notification marks delivery/read receipts, which carry no user input.
	Notification bool
	Timestamp    time.Time
}

// Thread maps one external user to a conversation on the agent backend.
type Thread struct {
	SenderID  string
	ThreadID  string // empty until the user's first successful turn
	UpdatedAt time.Time
}

// TurnResult is the outcome of one completed agent turn.
type TurnResult struct {
	ThreadID string
	Reply    string
}
