// Package conversation defines the message store for a chat session.
//
// A conversation is an append-only, ordered sequence of role-tagged
// messages. Messages are never mutated after append and the full sequence
// is replayed on every model call; there is no compaction or
// summarisation, so history grows monotonically for the session.
package conversation

import (
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TokenUsage carries the token counters reported by the provider for a
// single completion call. A nil TokenUsage on an assistant message means
// the call that produced it failed.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageFromGeneration converts Genkit usage counters to TokenUsage.
// Returns nil when the response carried no usage information.
func UsageFromGeneration(u *ai.GenerationUsage) *TokenUsage {
	if u == nil {
		return nil
	}
	return &TokenUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role        `json:"role"`
	Content string      `json:"content"`
	Usage   *TokenUsage `json:"token_usage,omitempty"`
}

// History is the ordered, append-only message store for one conversation.
//
// Safe for concurrent use. The zero value is not useful; create instances
// with NewHistory.
type History struct {
	mu       sync.RWMutex
	messages []Message
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{
		messages: make([]Message, 0),
	}
}

// Append adds a message to the end of the history.
func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

// AppendSystem appends a system message.
func (h *History) AppendSystem(content string) {
	h.Append(Message{Role: RoleSystem, Content: content})
}

// AppendUser appends a user message.
func (h *History) AppendUser(content string) {
	h.Append(Message{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant message with the usage counters of
// the call that produced it.
func (h *History) AppendAssistant(content string, usage *TokenUsage) {
	h.Append(Message{Role: RoleAssistant, Content: content, Usage: usage})
}

// Messages returns a copy of all messages in order.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]Message, len(h.messages))
	copy(result, h.messages)
	return result
}

// Count returns the number of messages.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Last returns the most recent message, or false if the history is empty.
func (h *History) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Clear removes all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make([]Message, 0)
}

// ToModelMessages converts the history to Genkit messages for a
// chat-completion call. The assistant role maps to Genkit's model role.
func ToModelMessages(msgs []Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		var role ai.Role
		switch m.Role {
		case RoleSystem:
			role = ai.RoleSystem
		case RoleAssistant:
			role = ai.RoleModel
		default:
			role = ai.RoleUser
		}
		out = append(out, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}
	return out
}
