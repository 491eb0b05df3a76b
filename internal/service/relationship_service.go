package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/pkg/logger"
)

var (
	ErrFollowSelf = errors.New("cannot follow self")
)

// RelationshipService 关系链服务：关注关系冗余写进双方分区
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	IsFollowing(ctx context.Context, fromUserID, toUserID string) bool
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)
}

type relationshipService struct {
	store    *store.Store
	fanout   *Fanout
	notifier Notifier
}

// NewRelationshipService notifier 可为 nil
func NewRelationshipService(s *store.Store, fanout *Fanout, notifier Notifier) RelationshipService {
	return &relationshipService{store: s, fanout: fanout, notifier: notifier}
}

func followingKey(from, to string) store.Key {
	return store.NewKey(model.CollectionFollowing, from, to)
}

func followerKey(from, to string) store.Key {
	return store.NewKey(model.CollectionFollowers, to, from)
}

// Follow following/<from>/<to> 是主写，followers/<to>/<from> 失败只记录
func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	already := s.IsFollowing(ctx, fromUserID, toUserID)
	rec := model.Follow{FollowerID: fromUserID, FolloweeID: toUserID, Timestamp: model.NowMillis()}
	res := s.fanout.Execute(ctx, "follow", []WriteIntent{
		{Key: followingKey(fromUserID, toUserID), Value: rec},
		{Key: followerKey(fromUserID, toUserID), Value: rec},
	})
	if err := res.Intents[0].Err; err != nil {
		return err
	}
	if s.notifier != nil && !already {
		if err := s.notifier.SendFollowNotification(ctx, toUserID, fromUserID); err != nil {
			logger.Warn("follow notification failed", zap.String("to", toUserID), zap.String("from", fromUserID), zap.Error(err))
		}
	}
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) error {
	return s.store.BatchDelete(ctx, []store.Key{
		followingKey(fromUserID, toUserID),
		followerKey(fromUserID, toUserID),
	})
}

func (s *relationshipService) IsFollowing(ctx context.Context, fromUserID, toUserID string) bool {
	return s.store.Exists(ctx, followingKey(fromUserID, toUserID))
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	items := paginate(store.List[model.Follow](ctx, s.store, model.CollectionFollowing, userID), page, pageSize)
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	items := paginate(store.List[model.Follow](ctx, s.store, model.CollectionFollowers, userID), page, pageSize)
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FollowerID
	}
	return res, nil
}

// paginate page 从 1 开始；列表已按时间倒序
func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+pageSize, len(items))
	return items[offset:end]
}
