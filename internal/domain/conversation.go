package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the in-process context kept for one conversation id.
// LastResponseID is the continuation anchor for the next turn.
type Conversation struct {
	ID             string
	Messages       []Message
	LastResponseID string
	CreatedAt      time.Time
}

// TurnResult is the user-visible output of one orchestration cycle.
// ResponseID is empty when the turn fell back to a canned message.
type TurnResult struct {
	Text           string
	ConversationID string
	ResponseID     string
}
