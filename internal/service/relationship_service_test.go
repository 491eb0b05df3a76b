package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/localsync/internal/store"
)

func newRelFixture() (RelationshipService, *flakyKV, *recordingNotifier) {
	kv := newFlakyKV()
	st := store.New(kv)
	n := &recordingNotifier{}
	return NewRelationshipService(st, NewFanout(st, nil), n), kv, n
}

func TestFollowWritesBothSides(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newRelFixture()

	assert.ErrorIs(t, svc.Follow(ctx, "u1", "u1"), ErrFollowSelf)

	require.NoError(t, svc.Follow(ctx, "u1", "u2"))
	require.NoError(t, svc.Follow(ctx, "u3", "u2"))
	require.NoError(t, svc.Follow(ctx, "u1", "u2"))

	assert.True(t, svc.IsFollowing(ctx, "u1", "u2"))
	assert.False(t, svc.IsFollowing(ctx, "u2", "u1"))

	following, err := svc.ListFollowing(ctx, "u1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, following)

	fans, err := svc.ListFans(ctx, "u2", 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u3"}, fans)

	// 重复关注不再重复通知
	require.Len(t, n.sent, 2)
	assert.Equal(t, sentNotification{kind: "follow", recipient: "u2", from: "u1"}, n.sent[0])

	require.NoError(t, svc.Unfollow(ctx, "u1", "u2"))
	assert.False(t, svc.IsFollowing(ctx, "u1", "u2"))
	fans, _ = svc.ListFans(ctx, "u2", 1, 10)
	assert.Equal(t, []string{"u3"}, fans)
}

func TestFollowFansSideFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	svc, kv, _ := newRelFixture()
	kv.setFailing("u2", true)

	require.NoError(t, svc.Follow(ctx, "u1", "u2"))
	assert.True(t, svc.IsFollowing(ctx, "u1", "u2"))
	fans, _ := svc.ListFans(ctx, "u2", 1, 10)
	assert.Empty(t, fans)

	kv.setFailing("u1", true)
	assert.ErrorIs(t, svc.Follow(ctx, "u1", "u3"), store.ErrStorageUnavailable)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, paginate(items, 1, 2))
	assert.Equal(t, []int{5}, paginate(items, 3, 2))
	assert.Empty(t, paginate(items, 4, 2))
	assert.Equal(t, items, paginate(items, 0, 0))
}

func TestFanoutErrorMatchesSentinel(t *testing.T) {
	res := FanoutResult{Op: "send_message", Intents: []WriteIntent{
		{Key: store.NewKey("messages", "A", "m1")},
		{Key: store.NewKey("messages", "B", "m1"), Err: errDiskFull},
	}}
	err := res.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialFanout))
	assert.Contains(t, err.Error(), "messages:B:m1")
	assert.True(t, res.Succeeded("A"))
	assert.False(t, res.Succeeded("B"))

	assert.NoError(t, joinFanout(FanoutResult{Op: "noop"}))
}
