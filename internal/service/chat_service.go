package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/internal/subscription"
	"github.com/d60-Lab/localsync/pkg/logger"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("user is not a participant of the conversation")
	ErrNotSender            = errors.New("only the sender can modify the message")
	ErrInvalidTransition    = errors.New("invalid message status transition")
	ErrInvalidParticipants  = errors.New("a conversation needs at least two distinct participants")
)

const (
	DefaultConversationPollInterval = 3 * time.Second
	DefaultUserPollInterval         = 5 * time.Second

	deletedMessageText = "This message was deleted"
)

var validate = validator.New()

// Notifier 消息/关注事件的通知出口，由通知管线实现
type Notifier interface {
	SendMessageNotification(ctx context.Context, recipientID, senderID, preview, conversationID string) error
	SendFollowNotification(ctx context.Context, recipientID, followerID string) error
}

// ChatService 会话与消息的多分区复制
type ChatService interface {
	CreateConversation(ctx context.Context, participants []string) (string, error)
	SendMessage(ctx context.Context, msg model.Message) (string, error)
	GetMessages(ctx context.Context, conversationID, userID string) []model.Message
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error

	GetConversations(ctx context.Context, userID string) []model.Conversation
	GetConversation(ctx context.Context, conversationID, userID string) (model.Conversation, bool)
	FindDirectConversation(ctx context.Context, userID, otherID string) (model.Conversation, bool)
	UpdateMessageStatus(ctx context.Context, conversationID, messageID, actorID string, status model.MessageStatus) error
	EditMessage(ctx context.Context, conversationID, messageID, actorID, text string) error
	DeleteMessage(ctx context.Context, conversationID, messageID, actorID string) error
	ToggleReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error
	DeleteConversation(ctx context.Context, conversationID, userID string) error

	SubscribeToMessages(ctx context.Context, conversationID, userID string, cb func([]model.Message)) (unsubscribe func())
	SubscribeToConversations(ctx context.Context, userID string, cb func([]model.Conversation)) (unsubscribe func())
}

type ChatOption func(*chatService)

func WithNotifier(n Notifier) ChatOption { return func(s *chatService) { s.notifier = n } }

// WithPolling 覆盖订阅的调度器与轮询间隔（会话内 / 用户级）
func WithPolling(sched subscription.Scheduler, conversation, user time.Duration) ChatOption {
	return func(s *chatService) {
		s.scheduler = sched
		if conversation > 0 {
			s.convInterval = conversation
		}
		if user > 0 {
			s.userInterval = user
		}
	}
}

type chatService struct {
	store    *store.Store
	fanout   *Fanout
	notifier Notifier

	scheduler    subscription.Scheduler
	convInterval time.Duration
	userInterval time.Duration
	messageSubs  *subscription.Registry[[]model.Message]
	convSubs     *subscription.Registry[[]model.Conversation]
}

func NewChatService(s *store.Store, fanout *Fanout, opts ...ChatOption) ChatService {
	svc := &chatService{
		store:        s,
		fanout:       fanout,
		convInterval: DefaultConversationPollInterval,
		userInterval: DefaultUserPollInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.messageSubs = subscription.NewRegistry[[]model.Message]("messages", svc.convInterval, svc.scheduler)
	svc.convSubs = subscription.NewRegistry[[]model.Conversation]("conversations", svc.userInterval, svc.scheduler)
	return svc
}

func chatKey(userID, conversationID string) store.Key {
	return store.NewKey(model.CollectionChats, userID, conversationID)
}

func messageKey(userID, messageID string) store.Key {
	return store.NewKey(model.CollectionMessages, userID, messageID)
}

// uniqueParticipants 去重并保持顺序，第一个为创建者
func uniqueParticipants(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// CreateConversation 每个参与者分区写一份会话记录。
// 只有创建者（第一个参与者）那份写失败才返回错误，其余分区的失败只记录。
func (s *chatService) CreateConversation(ctx context.Context, participants []string) (string, error) {
	conv := model.Conversation{
		ID:           uuid.New().String(),
		Participants: uniqueParticipants(participants),
		CreatedAt:    model.NowMillis(),
	}
	if err := validate.Struct(&conv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParticipants, err)
	}

	intents := make([]WriteIntent, len(conv.Participants))
	for i, p := range conv.Participants {
		intents[i] = WriteIntent{Key: chatKey(p, conv.ID), Value: conv}
	}
	res := s.fanout.Execute(ctx, "create_conversation", intents)
	if err := res.Intents[0].Err; err != nil {
		return "", err
	}
	if failed := res.Failed(); len(failed) > 0 {
		logger.Warn("conversation created with missing participant copies",
			zap.String("conversation", conv.ID), zap.Int("failed", len(failed)))
	}
	return conv.ID, nil
}

// SendMessage 以发送者分区里的会话为准取参与者列表。发送者自己那份先写，失败即整体失败；
// 再把消息扇出到其他参与者，只给消息已落地的分区更新会话摘要。发送者自己的未读数不变。
func (s *chatService) SendMessage(ctx context.Context, msg model.Message) (string, error) {
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	if err := validate.Struct(&msg); err != nil {
		return "", err
	}
	conv, ok := store.Get[model.Conversation](ctx, s.store, chatKey(msg.SenderID, msg.ConversationID))
	if !ok {
		return "", ErrConversationNotFound
	}
	if !conv.HasParticipant(msg.SenderID) {
		return "", ErrNotParticipant
	}

	msg.ID = uuid.New().String()
	if msg.Timestamp == 0 {
		msg.Timestamp = model.NowMillis()
	}
	msg.Status = model.MessageStatusSent
	msg.Read = false

	// 不走 Fanout：发送者那份失败时不能交给 Reconciler 事后补写
	if err := s.store.Create(ctx, messageKey(msg.SenderID, msg.ID), msg); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	msgIntents := make([]WriteIntent, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != msg.SenderID {
			msgIntents = append(msgIntents, WriteIntent{Key: messageKey(p, msg.ID), Value: msg})
		}
	}
	msgRes := s.fanout.Execute(ctx, "send_message", msgIntents)

	preview := msg.PreviewText()
	sumIntents := make([]WriteIntent, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != msg.SenderID && !msgRes.Succeeded(p) {
			continue
		}
		sumIntents = append(sumIntents, WriteIntent{Key: chatKey(p, conv.ID), Value: s.nextSummary(ctx, conv, p, msg, preview)})
	}
	sumRes := s.fanout.Execute(ctx, "conversation_summary", sumIntents)

	if s.notifier != nil {
		for _, p := range conv.Participants {
			if p == msg.SenderID || !msgRes.Succeeded(p) {
				continue
			}
			if err := s.notifier.SendMessageNotification(ctx, p, msg.SenderID, preview, conv.ID); err != nil {
				logger.Warn("message notification failed",
					zap.String("recipient", p), zap.String("conversation", conv.ID), zap.Error(err))
			}
		}
	}
	return msg.ID, joinFanout(msgRes, sumRes)
}

// nextSummary 以参与者自己的那份为基础；缺失时用发送者的那份重建（补齐之前失败的扇出）
func (s *chatService) nextSummary(ctx context.Context, senderCopy model.Conversation, participant string, msg model.Message, preview string) model.Conversation {
	sum, ok := store.Get[model.Conversation](ctx, s.store, chatKey(participant, senderCopy.ID))
	if !ok {
		sum = senderCopy
		sum.UnreadCount = 0
	}
	sum.Participants = senderCopy.Participants
	sum.LastMessageText = preview
	sum.LastMessageTime = msg.Timestamp
	if participant != msg.SenderID {
		sum.UnreadCount++
	}
	return sum
}

// GetMessages 调用者自己分区里该会话的消息，按时间升序
func (s *chatService) GetMessages(ctx context.Context, conversationID, userID string) []model.Message {
	msgs := store.Search(ctx, s.store, model.CollectionMessages, userID, func(m model.Message) bool {
		return m.ConversationID == conversationID
	})
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs
}

// MarkMessagesAsRead 只改读者自己的分区：对方发来的未读消息置为已读，会话未读数清零
func (s *chatService) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) error {
	unread := store.Search(ctx, s.store, model.CollectionMessages, userID, func(m model.Message) bool {
		return m.ConversationID == conversationID && !m.Read && m.SenderID != userID
	})
	var errs []error
	for _, m := range unread {
		if _, err := s.store.Update(ctx, messageKey(userID, m.ID), map[string]any{"read": true}); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.store.Update(ctx, chatKey(userID, conversationID), map[string]any{"unreadCount": 0}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetConversations 按最后一条消息时间倒序（没有消息的按创建时间）
func (s *chatService) GetConversations(ctx context.Context, userID string) []model.Conversation {
	convs := store.List[model.Conversation](ctx, s.store, model.CollectionChats, userID)
	activity := func(c model.Conversation) int64 {
		if c.LastMessageTime > 0 {
			return c.LastMessageTime
		}
		return c.CreatedAt
	}
	sort.SliceStable(convs, func(i, j int) bool { return activity(convs[i]) > activity(convs[j]) })
	return convs
}

func (s *chatService) GetConversation(ctx context.Context, conversationID, userID string) (model.Conversation, bool) {
	return store.Get[model.Conversation](ctx, s.store, chatKey(userID, conversationID))
}

// FindDirectConversation 查找两人之间已有的单聊
func (s *chatService) FindDirectConversation(ctx context.Context, userID, otherID string) (model.Conversation, bool) {
	found := store.Search(ctx, s.store, model.CollectionChats, userID, func(c model.Conversation) bool {
		return len(c.Participants) == 2 && c.HasParticipant(userID) && c.HasParticipant(otherID)
	})
	if len(found) == 0 {
		return model.Conversation{}, false
	}
	return found[0], true
}

// loadForActor 读取操作者分区里的会话与消息
func (s *chatService) loadForActor(ctx context.Context, conversationID, messageID, actorID string) (model.Conversation, model.Message, error) {
	conv, ok := store.Get[model.Conversation](ctx, s.store, chatKey(actorID, conversationID))
	if !ok {
		return conv, model.Message{}, ErrConversationNotFound
	}
	if !conv.HasParticipant(actorID) {
		return conv, model.Message{}, ErrNotParticipant
	}
	msg, ok := store.Get[model.Message](ctx, s.store, messageKey(actorID, messageID))
	if !ok || msg.ConversationID != conversationID {
		return conv, msg, ErrMessageNotFound
	}
	return conv, msg, nil
}

// patchAll 向所有参与者分区的同一条消息扇出 patch；不存在的副本保持不存在
func (s *chatService) patchAll(ctx context.Context, op string, conv model.Conversation, messageID string, patch map[string]any) error {
	intents := make([]WriteIntent, len(conv.Participants))
	for i, p := range conv.Participants {
		intents[i] = WriteIntent{Key: messageKey(p, messageID), Patch: patch}
	}
	return s.fanout.Execute(ctx, op, intents).Err()
}

// UpdateMessageStatus 显式推进状态：sending→sent|failed，sent→delivered→read 只能前进
func (s *chatService) UpdateMessageStatus(ctx context.Context, conversationID, messageID, actorID string, status model.MessageStatus) error {
	conv, msg, err := s.loadForActor(ctx, conversationID, messageID, actorID)
	if err != nil {
		return err
	}
	if !msg.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, msg.Status, status)
	}
	return s.patchAll(ctx, "message_status", conv, messageID, map[string]any{"status": status})
}

func (s *chatService) EditMessage(ctx context.Context, conversationID, messageID, actorID, text string) error {
	conv, msg, err := s.loadForActor(ctx, conversationID, messageID, actorID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return ErrNotSender
	}
	return s.patchAll(ctx, "edit_message", conv, messageID, map[string]any{
		"text":     text,
		"edited":   true,
		"editedAt": model.NowMillis(),
	})
}

// DeleteMessage 软删除：保留记录，替换文本
func (s *chatService) DeleteMessage(ctx context.Context, conversationID, messageID, actorID string) error {
	conv, msg, err := s.loadForActor(ctx, conversationID, messageID, actorID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return ErrNotSender
	}
	return s.patchAll(ctx, "delete_message", conv, messageID, map[string]any{
		"text":    deletedMessageText,
		"deleted": true,
	})
}

// ToggleReaction 同一用户对同一表情再点一次即取消
func (s *chatService) ToggleReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error {
	conv, msg, err := s.loadForActor(ctx, conversationID, messageID, userID)
	if err != nil {
		return err
	}
	reactions := make(map[string][]string, len(msg.Reactions)+1)
	for e, users := range msg.Reactions {
		reactions[e] = append([]string(nil), users...)
	}
	users := reactions[emoji]
	idx := -1
	for i, u := range users {
		if u == userID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		users = append(users[:idx], users[idx+1:]...)
	} else {
		users = append(users, userID)
	}
	if len(users) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = users
	}
	return s.patchAll(ctx, "toggle_reaction", conv, messageID, map[string]any{"reactions": reactions})
}

// DeleteConversation 只删除调用者自己的会话副本和消息
func (s *chatService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	keys := []store.Key{chatKey(userID, conversationID)}
	for _, m := range s.GetMessages(ctx, conversationID, userID) {
		keys = append(keys, messageKey(userID, m.ID))
	}
	return s.store.BatchDelete(ctx, keys)
}

// SubscribeToMessages 同一会话、同一用户的多个回调共享一个轮询器
func (s *chatService) SubscribeToMessages(ctx context.Context, conversationID, userID string, cb func([]model.Message)) func() {
	key := conversationID + "\x00" + userID
	return s.messageSubs.Subscribe(ctx, key, func(ctx context.Context) ([]model.Message, error) {
		return s.GetMessages(ctx, conversationID, userID), nil
	}, cb)
}

func (s *chatService) SubscribeToConversations(ctx context.Context, userID string, cb func([]model.Conversation)) func() {
	return s.convSubs.Subscribe(ctx, userID, func(ctx context.Context) ([]model.Conversation, error) {
		return s.GetConversations(ctx, userID), nil
	}, cb)
}
