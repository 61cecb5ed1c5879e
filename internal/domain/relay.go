package domain

import "context"

// ThreadStore maps a sender id to its agent conversation thread.
// Last write wins. Implementations must be safe for concurrent use by
// independent senders.
type ThreadStore interface {
	// GetThread returns the stored thread id, or "" when the sender has none.
	GetThread(ctx context.Context, senderID string) (string, error)
	SetThread(ctx context.Context, senderID, threadID string) error
}

// DedupStore records which inbound event ids have already been routed.
type DedupStore interface {
	// TryClaim atomically marks the event id as seen. It returns true for
	// the first claim and false for every redelivery of the same id.
	TryClaim(ctx context.Context, eventID string) (bool, error)
}

// Notifier delivers a text message back to an external user.
type Notifier interface {
	Send(ctx context.Context, recipientID, text string) error
}

// Gateway runs one agent turn and blocks until a final reply is available.
// An empty threadID asks the backend for a new conversation.
type Gateway interface {
	Converse(ctx context.Context, userText, threadID string) (TurnResult, error)
}
