package model

type NotificationType string

const (
	NotificationMessage NotificationType = "message"
	NotificationFollow  NotificationType = "follow"
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationSystem  NotificationType = "system"
)

// Notification 只存在于接收者分区，不做扇出
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      map[string]any   `json:"data,omitempty"`
	Type      NotificationType `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Read      bool             `json:"read"`
	UserID    string           `json:"userId"`
}

// NotificationSettingsItemID settings/<user>/notifications
const NotificationSettingsItemID = "notifications"

// NotificationSettings 每用户通知开关
type NotificationSettings struct {
	Messages  bool `json:"messages"`
	Follows   bool `json:"follows"`
	Likes     bool `json:"likes"`
	Comments  bool `json:"comments"`
	System    bool `json:"system"`
	Sound     bool `json:"sound"`
	Vibration bool `json:"vibration"`
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Messages:  true,
		Follows:   true,
		Likes:     true,
		Comments:  true,
		System:    true,
		Sound:     true,
		Vibration: true,
	}
}

// Allows 对应类型的开关是否打开
func (s NotificationSettings) Allows(t NotificationType) bool {
	switch t {
	case NotificationMessage:
		return s.Messages
	case NotificationFollow:
		return s.Follows
	case NotificationLike:
		return s.Likes
	case NotificationComment:
		return s.Comments
	case NotificationSystem:
		return s.System
	}
	return false
}
