package domain

import "context"

// ConversationStore is the durable per-user message log. Implementations
// must be safe for concurrent use by many callers.
type ConversationStore interface {
	// AppendMessage inserts one message with a store-assigned id and
	// timestamp.
	AppendMessage(ctx context.Context, userID int64, role, content string) error

	// History returns the most recent limit messages for the user in
	// chronological order, oldest first. System rows are not filtered out.
	History(ctx context.Context, userID int64, limit int) ([]Message, error)

	// ClearHistory deletes every message belonging to the user. Other
	// users' rows are untouched.
	ClearHistory(ctx context.Context, userID int64) error

	// SetSystemPrompt replaces all system rows for the user with a single
	// new one, as one atomic unit.
	SetSystemPrompt(ctx context.Context, userID int64, prompt string) error

	// SystemPrompt returns the content of the most recent system row.
	// The bool is false when the user has no system prompt.
	SystemPrompt(ctx context.Context, userID int64) (string, bool, error)
}
