package usecase

import "chat-gateway/internal/domain"

// assistantPersona is the fixed system instruction prepended to every prompt.
// It is never persisted; stored history holds only the raw user/assistant
// exchange.
const assistantPersona = "You are a helpful AI assistant. Be concise and friendly."

// buildPromptMessages composes the sequence sent to the LLM: the persona
// instruction, the stored history in order, then the new user message.
func buildPromptMessages(history []domain.ChatTurn, message string) []domain.ChatTurn {
	messages := make([]domain.ChatTurn, 0, len(history)+2)
	messages = append(messages, domain.ChatTurn{
		Role:    domain.RoleSystem,
		Content: assistantPersona,
	})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatTurn{
		Role:    domain.RoleUser,
		Content: message,
	})
	return messages
}

// appendExchange adds one completed user/assistant exchange to the history.
func appendExchange(history []domain.ChatTurn, message, answer string) []domain.ChatTurn {
	return append(history,
		domain.ChatTurn{Role: domain.RoleUser, Content: message},
		domain.ChatTurn{Role: domain.RoleAssistant, Content: answer},
	)
}

// truncateHistory keeps the most recent max turns, dropping the oldest first
// and preserving order.
func truncateHistory(turns []domain.ChatTurn, max int) []domain.ChatTurn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}
