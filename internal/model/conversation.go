package model

// Conversation 会话摘要。同一逻辑会话按参与者各存一份（chats/<participant>/<id>）。
type Conversation struct {
	ID              string   `json:"id"`
	Participants    []string `json:"participants" validate:"min=2,dive,required"`
	LastMessageText string   `json:"lastMessageText"`
	LastMessageTime int64    `json:"lastMessageTime"`
	UnreadCount     int      `json:"unreadCount"`
	CreatedAt       int64    `json:"createdAt"`
}

// HasParticipant 判断用户是否为会话成员
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
