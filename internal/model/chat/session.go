package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	TurnCount  int       `json:"turnCount"`
	HasContext bool      `json:"hasContext"`
}
