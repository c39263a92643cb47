package domain

import (
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation transcript. Content and role
// never change after the turn is persisted.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewTurnID builds a client-generated turn id from role and timestamp.
// The id doubles as an idempotency key: a retried append with the same id
// is ignored by the store, and ids sort consistently with creation order.
func NewTurnID(role Role, t time.Time) string {
	return fmt.Sprintf("%s-%d", role, t.UnixNano())
}

// NewTurn creates a turn stamped with the given time.
func NewTurn(role Role, content string, t time.Time) Turn {
	return Turn{
		ID:        NewTurnID(role, t),
		Role:      role,
		Content:   content,
		CreatedAt: t,
	}
}
