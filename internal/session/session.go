package session

import (
	"time"

	"aura/internal/thinking"
)

// Message roles. Thinking messages carry the model's reasoning trace
// alongside its structured form; they never go back to the provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleThinking  = "thinking"
)

// Message represents a single chat message. While a model call is in
// flight the assistant and thinking rows for that turn are patched in
// place; once finalized a message is append-only.
type Message struct {
	ID                 string          `json:"id"`
	SessionID          string          `json:"sessionId"`
	Role               string          `json:"role"`
	Content            string          `json:"content"`
	CreatedAt          time.Time       `json:"createdAt"`
	TokenCount         int             `json:"tokenCount,omitempty"`
	InputTokens        int             `json:"inputTokens,omitempty"`
	OutputTokens       int             `json:"outputTokens,omitempty"`
	EstimatedCost      float64         `json:"estimatedCost,omitempty"`
	StructuredThinking *thinking.View  `json:"structuredThinking,omitempty"`
}

// Session represents a chat session. The server copy is authoritative
// for the aggregate totals; the client copy is authoritative for which
// session is active.
type Session struct {
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	IsActive     bool      `json:"isActive"`
	TotalTokens  int       `json:"totalTokens"`
	TotalCost    float64   `json:"totalCost"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Preview      string    `json:"preview"`
	UserID       string    `json:"userId,omitempty"`
}
