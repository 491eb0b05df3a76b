package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/pkg/logger"
)

// Alerter 平台级的系统提醒。没有该能力的平台用 NopAlerter：记录照常保存，只是不弹提醒。
type Alerter interface {
	Alert(ctx context.Context, n model.Notification, settings model.NotificationSettings) error
}

// LogAlerter 把提醒写进日志，服务端部署时使用
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, n model.Notification, s model.NotificationSettings) error {
	logger.Info("notification alert",
		zap.String("user", n.UserID),
		zap.String("id", n.ID),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title),
		zap.Bool("sound", s.Sound),
		zap.Bool("vibration", s.Vibration))
	return nil
}

type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, model.Notification, model.NotificationSettings) error {
	return nil
}

// AlerterFunc 适配普通函数
type AlerterFunc func(ctx context.Context, n model.Notification, s model.NotificationSettings) error

func (f AlerterFunc) Alert(ctx context.Context, n model.Notification, s model.NotificationSettings) error {
	return f(ctx, n, s)
}
