package domain

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the rolling conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ConversationContext is the per-(user, address) conversational state.
type ConversationContext struct {
	ID            string
	UserID        string
	SenderAddress string
	LastTaskID    string
	LastIntent    string
	History       []Turn
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Window returns the last n turns of the history, oldest first.
func (c *ConversationContext) Window(n int) []Turn {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// ConversationPatch is a shallow update; nil fields are left untouched.
type ConversationPatch struct {
	LastTaskID *string
	LastIntent *string
}
