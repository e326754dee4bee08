package domain

// Turn roles. The system role only ever appears in composed prompts; persisted
// history holds user and assistant turns exclusively.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message in a conversation. The same shape is used for the
// persisted history, the composed prompt, and the LLM wire format; ordering is
// conversation order and is significant.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are the sampling parameters passed to the inference
// backend.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
}
