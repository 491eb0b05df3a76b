package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/repository"
)

var errBoom = errors.New("boom")

// brokenKV 所有操作都失败
type brokenKV struct{ repository.KVRepository }

func (brokenKV) Get(context.Context, string) ([]byte, error)             { return nil, errBoom }
func (brokenKV) Set(context.Context, string, []byte) error               { return errBoom }
func (brokenKV) Remove(context.Context, string) error                    { return errBoom }
func (brokenKV) MultiGet(context.Context, []string) ([][]byte, error)    { return nil, errBoom }
func (brokenKV) MultiSet(context.Context, []repository.KV) error         { return errBoom }
func (brokenKV) MultiRemove(context.Context, []string) error             { return errBoom }
func (brokenKV) Keys(context.Context, string) ([]string, error)          { return nil, errBoom }

type note struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

func newTestStore() (*Store, repository.KVRepository) {
	kv := repository.NewMemoryKVRepository()
	return New(kv), kv
}

func TestLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	key := NewKey(model.CollectionNotifications, "u1", "n1")

	require.NoError(t, s.Create(ctx, key, note{ID: "n1", Text: "A"}))
	require.NoError(t, s.Create(ctx, key, note{ID: "n1", Text: "B"}))

	got, ok := Get[note](ctx, s, key)
	require.True(t, ok)
	assert.Equal(t, "B", got.Text)
}

func TestReadMissingIsAbsent(t *testing.T) {
	s, _ := newTestStore()
	_, ok := Get[note](context.Background(), s, NewKey(model.CollectionNotifications, "u1", "nope"))
	assert.False(t, ok)
}

func TestUpdateMergesAndSkipsAbsent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	key := NewKey(model.CollectionNotifications, "u1", "n1")

	updated, err := s.Update(ctx, key, map[string]any{"read": true})
	require.NoError(t, err)
	assert.False(t, updated)
	assert.False(t, s.Exists(ctx, key))

	require.NoError(t, s.Create(ctx, key, note{ID: "n1", Text: "hi", Timestamp: 1700000000123}))
	updated, err = s.Update(ctx, key, map[string]any{"read": true})
	require.NoError(t, err)
	assert.True(t, updated)

	got, ok := Get[note](ctx, s, key)
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, int64(1700000000123), got.Timestamp)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	key := NewKey(model.CollectionBookmarks, "u1", "p1")
	require.NoError(t, s.Create(ctx, key, note{ID: "p1"}))
	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, s.Exists(ctx, key))
}

func TestListSortsNewestFirstAndScopesPartition(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	require.NoError(t, s.BatchCreate(ctx, []Item{
		{Key: NewKey(model.CollectionNotifications, "u1", "a"), Value: note{ID: "a", Timestamp: 10}},
		{Key: NewKey(model.CollectionNotifications, "u1", "b"), Value: note{ID: "b", Timestamp: 30}},
		{Key: NewKey(model.CollectionNotifications, "u1", "c"), Value: note{ID: "c", Timestamp: 20}},
		{Key: NewKey(model.CollectionNotifications, "u10", "d"), Value: note{ID: "d", Timestamp: 40}},
	}))

	got := List[note](ctx, s, model.CollectionNotifications, "u1")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})

	unread := Search(ctx, s, model.CollectionNotifications, "u1", func(n note) bool { return n.Timestamp < 25 })
	assert.Len(t, unread, 2)

	all := s.ListCollection(ctx, model.CollectionNotifications)
	assert.Len(t, all, 4)
}

func TestPartitionWithSeparatorIsEscaped(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	require.NoError(t, s.Create(ctx, NewKey(model.CollectionChats, "a:b", "c1"), note{ID: "x"}))
	require.NoError(t, s.Create(ctx, NewKey(model.CollectionChats, "a", "b:c1"), note{ID: "y"}))

	assert.Len(t, List[note](ctx, s, model.CollectionChats, "a:b"), 1)
	assert.Len(t, List[note](ctx, s, model.CollectionChats, "a"), 1)

	k, ok := ParseKey(NewKey(model.CollectionChats, "a:b%", "c1").String())
	require.True(t, ok)
	assert.Equal(t, "a:b%", k.Partition)
}

func TestBatchDeleteAndClearPartition(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	k1 := NewKey(model.CollectionNotifications, "u1", "a")
	k2 := NewKey(model.CollectionNotifications, "u1", "b")
	k3 := NewKey(model.CollectionNotifications, "u1", "c")
	require.NoError(t, s.BatchCreate(ctx, []Item{{Key: k1, Value: note{}}, {Key: k2, Value: note{}}, {Key: k3, Value: note{}}}))

	require.NoError(t, s.BatchDelete(ctx, []Key{k1, k2}))
	assert.True(t, s.Exists(ctx, k3))

	n, err := s.ClearPartition(ctx, model.CollectionNotifications, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, s.ListRecords(ctx, model.CollectionNotifications, "u1"))
}

func TestStorageFailuresSurfaceOnWritesOnly(t *testing.T) {
	ctx := context.Background()
	s := New(brokenKV{})
	key := NewKey(model.CollectionChats, "u1", "c1")

	assert.ErrorIs(t, s.Create(ctx, key, note{}), ErrStorageUnavailable)
	assert.ErrorIs(t, s.Delete(ctx, key), ErrStorageUnavailable)
	_, err := s.Update(ctx, key, map[string]any{"read": true})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, s.BatchCreate(ctx, []Item{{Key: key, Value: note{}}}), ErrStorageUnavailable)
	assert.ErrorIs(t, s.BatchDelete(ctx, []Key{key}), ErrStorageUnavailable)

	_, ok := Get[note](ctx, s, key)
	assert.False(t, ok)
	assert.Empty(t, List[note](ctx, s, model.CollectionChats, "u1"))
	assert.Empty(t, Search(ctx, s, model.CollectionChats, "u1", func(note) bool { return true }))
}

func TestVersionGuardStampsOnceAndRunsMigrations(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepository()
	runs := 0
	s := New(kv, WithMigrations(Migration{
		Version: 2,
		Name:    "noop",
		Apply: func(context.Context, repository.KVRepository) error {
			runs++
			return nil
		},
	}))

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, _ = Get[note](ctx, s, NewKey(model.CollectionUsers, "u1", "u1"))
	require.NoError(t, s.Create(ctx, NewKey(model.CollectionUsers, "u1", "u1"), note{}))
	_ = List[note](ctx, s, model.CollectionUsers, "u1")

	assert.Equal(t, 1, runs)
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// 同一份数据上重新打开：版本已是最新，不再迁移
	s2 := New(kv, WithMigrations(Migration{Version: 2, Name: "noop", Apply: func(context.Context, repository.KVRepository) error {
		runs++
		return nil
	}}))
	_ = s2.Exists(ctx, NewKey(model.CollectionUsers, "u1", "u1"))
	assert.Equal(t, 1, runs)
}

func TestVersionMarkerNotListed(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore()
	require.NoError(t, s.Create(ctx, NewKey(model.CollectionUsers, "u1", "u1"), note{}))

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, keys, SchemaVersionKey)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Keys)
	assert.Equal(t, 1, st.Collections[model.CollectionUsers])
	assert.Equal(t, CurrentSchemaVersion, st.SchemaVersion)
	assert.True(t, strings.Contains(st.String(), "users"))
}
