package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/internal/subscription"
	"github.com/d60-Lab/localsync/pkg/logger"
)

var ErrMissingRecipient = errors.New("notification has no recipient")

const (
	DefaultPollInterval = 5 * time.Second

	kindTask     = "task"
	kindDonation = "donation"
)

// Pipeline 通知管线：通知只写接收者自己的分区，写入后发进程内事件。
// send* 系列先看接收者的开关，关闭时静默跳过；系统提醒统一由 Listener 发出。
type Pipeline struct {
	store *store.Store
	bus   *EventBus
	subs  *subscription.Registry[[]model.Notification]
}

type Option func(*pipelineOptions)

type pipelineOptions struct {
	scheduler subscription.Scheduler
	interval  time.Duration
}

// WithPolling 覆盖 SubscribeToNotifications 的调度器与间隔
func WithPolling(sched subscription.Scheduler, interval time.Duration) Option {
	return func(o *pipelineOptions) {
		o.scheduler = sched
		if interval > 0 {
			o.interval = interval
		}
	}
}

func NewPipeline(s *store.Store, bus *EventBus, opts ...Option) *Pipeline {
	o := pipelineOptions{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if bus == nil {
		bus = NewEventBus()
	}
	return &Pipeline{
		store: s,
		bus:   bus,
		subs:  subscription.NewRegistry[[]model.Notification]("notifications", o.interval, o.scheduler),
	}
}

func notificationKey(userID, id string) store.Key {
	return store.NewKey(model.CollectionNotifications, userID, id)
}

func settingsKey(userID string) store.Key {
	return store.NewKey(model.CollectionSettings, userID, model.NotificationSettingsItemID)
}

// Events 进程内事件总线
func (p *Pipeline) Events() *EventBus { return p.bus }

// SaveNotification 补齐 id 与时间戳后写入接收者分区，再发进程内事件
func (p *Pipeline) SaveNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.UserID == "" {
		return n, ErrMissingRecipient
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp == 0 {
		n.Timestamp = model.NowMillis()
	}
	if err := p.store.Create(ctx, notificationKey(n.UserID, n.ID), n); err != nil {
		return n, err
	}
	p.bus.Emit(n)
	return n, nil
}

// send 开关关闭时返回 (false, nil)
func (p *Pipeline) send(ctx context.Context, n model.Notification) (bool, error) {
	settings := p.GetSettings(ctx, n.UserID)
	if !settings.Allows(n.Type) {
		logger.Debug("notification suppressed by settings",
			zap.String("user", n.UserID), zap.String("type", string(n.Type)))
		return false, nil
	}
	_, err := p.SaveNotification(ctx, n)
	return err == nil, err
}

func (p *Pipeline) SendMessageNotification(ctx context.Context, recipientID, senderID, preview, conversationID string) error {
	_, err := p.send(ctx, model.Notification{
		UserID: recipientID,
		Type:   model.NotificationMessage,
		Title:  "New message",
		Body:   preview,
		Data:   map[string]any{"conversationId": conversationID, "senderId": senderID},
	})
	return err
}

func (p *Pipeline) SendFollowNotification(ctx context.Context, recipientID, followerID string) error {
	_, err := p.send(ctx, model.Notification{
		UserID: recipientID,
		Type:   model.NotificationFollow,
		Title:  "New follower",
		Body:   fmt.Sprintf("%s started following you", followerID),
		Data:   map[string]any{"userId": followerID},
	})
	return err
}

func (p *Pipeline) SendLikeNotification(ctx context.Context, recipientID, likerID, postID string) error {
	_, err := p.send(ctx, model.Notification{
		UserID: recipientID,
		Type:   model.NotificationLike,
		Title:  "New like",
		Body:   fmt.Sprintf("%s liked your post", likerID),
		Data:   map[string]any{"userId": likerID, "postId": postID},
	})
	return err
}

func (p *Pipeline) SendCommentNotification(ctx context.Context, recipientID, commenterID, postID, comment string) error {
	_, err := p.send(ctx, model.Notification{
		UserID: recipientID,
		Type:   model.NotificationComment,
		Title:  "New comment",
		Body:   fmt.Sprintf("%s commented: %s", commenterID, comment),
		Data:   map[string]any{"userId": commenterID, "postId": postID},
	})
	return err
}

// SendTaskNotification 任务与捐赠都走 system 开关，用 data.kind 区分
func (p *Pipeline) SendTaskNotification(ctx context.Context, recipientID, taskID, title, body string) error {
	_, err := p.send(ctx, model.Notification{
		UserID: recipientID,
		Type:   model.NotificationSystem,
		Title:  title,
		Body:   body,
		Data:   map[string]any{"kind": kindTask, "taskId": taskID},
	})
	return err
}

func (p *Pipeline) SendDonationNotification(ctx context.Context, recipientID, donationID, title, body string) error {
	_, err := p.send(ctx, model.Notification{
		UserID: recipientID,
		Type:   model.NotificationSystem,
		Title:  title,
		Body:   body,
		Data:   map[string]any{"kind": kindDonation, "donationId": donationID},
	})
	return err
}

// GetNotifications 新的在前
func (p *Pipeline) GetNotifications(ctx context.Context, userID string) []model.Notification {
	return store.List[model.Notification](ctx, p.store, model.CollectionNotifications, userID)
}

// GetUnreadCount 每次都全量列出再过滤，不做缓存
func (p *Pipeline) GetUnreadCount(ctx context.Context, userID string) int {
	return len(store.Search(ctx, p.store, model.CollectionNotifications, userID, func(n model.Notification) bool {
		return !n.Read
	}))
}

// MarkAsRead 通知不存在时返回 false
func (p *Pipeline) MarkAsRead(ctx context.Context, userID, id string) (bool, error) {
	return p.store.Update(ctx, notificationKey(userID, id), map[string]any{"read": true})
}

// MarkAllAsRead 返回实际更新的条数
func (p *Pipeline) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	unread := store.Search(ctx, p.store, model.CollectionNotifications, userID, func(n model.Notification) bool {
		return !n.Read
	})
	updated := 0
	var errs []error
	for _, n := range unread {
		ok, err := p.MarkAsRead(ctx, userID, n.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			updated++
		}
	}
	return updated, errors.Join(errs...)
}

func (p *Pipeline) DeleteNotification(ctx context.Context, userID, id string) error {
	return p.store.Delete(ctx, notificationKey(userID, id))
}

func (p *Pipeline) ClearAll(ctx context.Context, userID string) (int, error) {
	return p.store.ClearPartition(ctx, model.CollectionNotifications, userID)
}

// GetSettings 首次读取时写入默认值；写失败时仍返回默认值
func (p *Pipeline) GetSettings(ctx context.Context, userID string) model.NotificationSettings {
	if s, ok := store.Get[model.NotificationSettings](ctx, p.store, settingsKey(userID)); ok {
		return s
	}
	def := model.DefaultNotificationSettings()
	if err := p.store.Create(ctx, settingsKey(userID), def); err != nil {
		logger.Warn("persist default notification settings failed", zap.String("user", userID), zap.Error(err))
	}
	return def
}

// UpdateSettings 整体覆盖；已保存的通知不受影响
func (p *Pipeline) UpdateSettings(ctx context.Context, userID string, s model.NotificationSettings) error {
	return p.store.Create(ctx, settingsKey(userID), s)
}

// SubscribeToNotifications 按用户轮询通知列表
func (p *Pipeline) SubscribeToNotifications(ctx context.Context, userID string, cb func([]model.Notification)) (unsubscribe func()) {
	return p.subs.Subscribe(ctx, userID, func(ctx context.Context) ([]model.Notification, error) {
		return p.GetNotifications(ctx, userID), nil
	}, cb)
}

// SubscribeToNotificationEvents 即时的进程内事件，不经过轮询
func (p *Pipeline) SubscribeToNotificationEvents(cb func(model.Notification)) (unsubscribe func()) {
	return p.bus.Subscribe(cb)
}
