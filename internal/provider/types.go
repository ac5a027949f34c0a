package provider

// MessagesRequest represents the request body for the Anthropic
// Messages API.
type MessagesRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []MessageParam  `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
}

// MessageParam is a single turn in the conversation history.
type MessageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// EventType discriminates normalized stream events.
type EventType string

const (
	// EventThinkingDelta carries a fragment of the model's reasoning.
	EventThinkingDelta EventType = "thinking_delta"
	// EventTextDelta carries a fragment of the visible answer.
	EventTextDelta EventType = "text_delta"
	// EventUsage carries token counts; input arrives with
	// message_start, output with a later message_delta.
	EventUsage EventType = "usage"
)

// Event is one normalized element of the provider stream. Ordering is
// provider-guaranteed; no reordering is performed.
type Event struct {
	Type         EventType
	Text         string
	InputTokens  int
	OutputTokens int
}

// SSE payload envelopes. The wire event types are message_start,
// content_block_delta and message_delta; everything else is skipped.
type streamPayload struct {
	Type    string          `json:"type"`
	Message *messagePayload `json:"message,omitempty"`
	Delta   *deltaPayload   `json:"delta,omitempty"`
	Usage   *usagePayload   `json:"usage,omitempty"`
	Error   *errorPayload   `json:"error,omitempty"`
}

type messagePayload struct {
	Usage usagePayload `json:"usage"`
}

type deltaPayload struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Thinking   string `json:"thinking,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type usagePayload struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
