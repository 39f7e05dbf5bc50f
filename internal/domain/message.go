package domain

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted turn of a conversation. ID and Timestamp are
// assigned by the store at write time; ID breaks timestamp ties.
type Message struct {
	ID        int64
	UserID    int64
	Role      string
	Content   string
	Timestamp time.Time
}
