package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/internal/store"
)

func TestNewManagerValidatesConfig(t *testing.T) {
	s := store.New(repository.NewMemoryKVRepository())

	_, err := NewManager(s, config.RetentionConfig{Cron: "not a cron", MaxAge: time.Hour})
	assert.Error(t, err)
	_, err = NewManager(s, config.RetentionConfig{Cron: "0 3 * * *"})
	assert.Error(t, err)

	m, err := NewManager(s, config.RetentionConfig{MaxAge: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, defaultCron, m.cron)
}

func TestRunOncePurgesOnlyOldReadNotifications(t *testing.T) {
	ctx := context.Background()
	s := store.New(repository.NewMemoryKVRepository())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour).UnixMilli()
	fresh := now.Add(-time.Hour).UnixMilli()

	seed := []model.Notification{
		{ID: "old-read", UserID: "u1", Read: true, Timestamp: old},
		{ID: "old-unread", UserID: "u1", Read: false, Timestamp: old},
		{ID: "fresh-read", UserID: "u1", Read: true, Timestamp: fresh},
		{ID: "other-user", UserID: "u2", Read: true, Timestamp: old},
	}
	items := make([]store.Item, len(seed))
	for i, n := range seed {
		items[i] = store.Item{Key: store.NewKey(model.CollectionNotifications, n.UserID, n.ID), Value: n}
	}
	require.NoError(t, s.BatchCreate(ctx, items))

	m, err := NewManager(s, config.RetentionConfig{MaxAge: 24 * time.Hour})
	require.NoError(t, err)
	m.now = func() time.Time { return now }

	purged, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	left := store.List[model.Notification](ctx, s, model.CollectionNotifications, "u1")
	ids := make([]string, len(left))
	for i, n := range left {
		ids[i] = n.ID
	}
	assert.ElementsMatch(t, []string{"old-unread", "fresh-read"}, ids)
	assert.Empty(t, store.List[model.Notification](ctx, s, model.CollectionNotifications, "u2"))

	purged, err = m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestRunJobSkipsWhenAlreadyRunning(t *testing.T) {
	s := store.New(repository.NewMemoryKVRepository())
	m, err := NewManager(s, config.RetentionConfig{MaxAge: time.Hour})
	require.NoError(t, err)

	m.running = true
	m.runJob(context.Background())
	assert.True(t, m.running, "an overlapping run leaves the flag to its owner")
}
