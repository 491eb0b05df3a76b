package model

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeFile     MessageType = "file"
	MessageTypeVoice    MessageType = "voice"
	MessageTypeLocation MessageType = "location"
)

// MessageStatus 客户端指定的投递状态，仅作提示，不由传输层保证
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// CanTransition sending→sent|failed，之后只能沿 sent→delivered→read 前进；failed 为终态
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	if to == MessageStatusFailed {
		return s == MessageStatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	next, ok := statusRank[to]
	if !ok {
		return false
	}
	if s == MessageStatusSending {
		return to == MessageStatusSent
	}
	return next > from
}

type FileData struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type ReplyRef struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
}

// Message 消息，与会话一样按参与者分区复制（messages/<participant>/<id>）
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId" validate:"required"`
	SenderID       string              `json:"senderId" validate:"required"`
	Text           string              `json:"text"`
	Timestamp      int64               `json:"timestamp"`
	Read           bool                `json:"read"`
	Type           MessageType         `json:"type" validate:"omitempty,oneof=text image video file voice location"`
	Status         MessageStatus       `json:"status"`
	FileData       *FileData           `json:"fileData,omitempty"`
	Location       *Location           `json:"location,omitempty"`
	ReplyTo        *ReplyRef           `json:"replyTo,omitempty"`
	Edited         bool                `json:"edited,omitempty"`
	EditedAt       int64               `json:"editedAt,omitempty"`
	Deleted        bool                `json:"deleted,omitempty"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
}

// PreviewText 会话列表里展示的最后一条消息文本
func (m *Message) PreviewText() string {
	if m.Deleted {
		return "Message deleted"
	}
	switch m.Type {
	case MessageTypeImage:
		return "📷 Photo"
	case MessageTypeVideo:
		return "🎥 Video"
	case MessageTypeFile:
		if m.FileData != nil && m.FileData.Name != "" {
			return "📎 " + m.FileData.Name
		}
		return "📎 File"
	case MessageTypeVoice:
		return "🎤 Voice message"
	case MessageTypeLocation:
		return "📍 Location"
	default:
		return m.Text
	}
}
