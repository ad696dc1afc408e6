package chat

import "github.com/cloudwego/eino/schema"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one immutable entry in a conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message converts the turn into the eino message type sent upstream.
func (t Turn) Message() *schema.Message {
	switch t.Role {
	case RoleAssistant:
		return schema.AssistantMessage(t.Content, nil)
	case RoleSystem:
		return schema.SystemMessage(t.Content)
	default:
		return schema.UserMessage(t.Content)
	}
}

// QueryResponse pairs the stored answer with its voice-ready summary.
type QueryResponse struct {
	Full    string `json:"full"`
	Concise string `json:"concise"`
	// Failed marks a turn answered with the fallback apology.
	Failed bool `json:"failed,omitempty"`
}
