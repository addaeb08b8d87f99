package respond

import "github.com/agentoven/companion/pkg/models"

// Conversation is the rolling chat context: a fixed leading system message
// followed by at most window role-tagged messages. When the window
// overflows the oldest non-system messages are dropped; order is preserved.
//
// Only the generator goroutine touches a Conversation, so it is not locked.
type Conversation struct {
	system   models.ChatMessage
	window   int
	messages []models.ChatMessage
}

// NewConversation creates a conversation with the given system prompt.
func NewConversation(system string, window int) *Conversation {
	if window <= 0 {
		window = 1
	}
	return &Conversation{
		system: models.ChatMessage{Role: models.RoleSystem, Content: system},
		window: window,
	}
}

// Append adds a message and enforces the window.
func (c *Conversation) Append(role models.Role, content string) {
	c.messages = append(c.messages, models.ChatMessage{Role: role, Content: content})
	if over := len(c.messages) - c.window; over > 0 {
		c.messages = append(c.messages[:0:0], c.messages[over:]...)
	}
}

// Messages returns the system message followed by the windowed messages.
// The returned slice is a copy.
func (c *Conversation) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(c.messages)+1)
	out = append(out, c.system)
	return append(out, c.messages...)
}

// Len returns the number of non-system messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Isolated builds a one-off context that shares only the system message.
func (c *Conversation) Isolated(prompt string) []models.ChatMessage {
	return []models.ChatMessage{
		c.system,
		{Role: models.RoleUser, Content: prompt},
	}
}
