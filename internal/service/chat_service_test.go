package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/internal/subscription"
	"github.com/d60-Lab/localsync/pkg/metrics"
)

var errDiskFull = errors.New("disk full")

// flakyKV 对指定分区（或指定集合下的分区）的写入失败
type flakyKV struct {
	repository.KVRepository
	mu   sync.Mutex
	fail map[string]bool
}

func newFlakyKV() *flakyKV {
	return &flakyKV{KVRepository: repository.NewMemoryKVRepository(), fail: map[string]bool{}}
}

func (f *flakyKV) setFailing(partition string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[partition] = on
}

func (f *flakyKV) setFailingIn(c model.Collection, partition string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[string(c)+"/"+partition] = on
}

func (f *flakyKV) failing(raw string) bool {
	k, ok := store.ParseKey(raw)
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[k.Partition] || f.fail[string(k.Collection)+"/"+k.Partition]
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failing(key) {
		return errDiskFull
	}
	return f.KVRepository.Set(ctx, key, value)
}

func (f *flakyKV) MultiSet(ctx context.Context, pairs []repository.KV) error {
	for _, p := range pairs {
		if f.failing(p.Key) {
			return errDiskFull
		}
	}
	return f.KVRepository.MultiSet(ctx, pairs)
}

type sentNotification struct {
	kind      string
	recipient string
	from      string
	text      string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) SendMessageNotification(_ context.Context, recipientID, senderID, preview, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: "message", recipient: recipientID, from: senderID, text: preview})
	return nil
}

func (n *recordingNotifier) SendFollowNotification(_ context.Context, recipientID, followerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: "follow", recipient: recipientID, from: followerID})
	return nil
}

type chatFixture struct {
	kv       *flakyKV
	store    *store.Store
	sched    *subscription.ManualScheduler
	notifier *recordingNotifier
	svc      ChatService
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	kv := newFlakyKV()
	st := store.New(kv)
	f := &chatFixture{kv: kv, store: st, sched: subscription.NewManualScheduler(), notifier: &recordingNotifier{}}
	f.svc = NewChatService(st, NewFanout(st, nil),
		WithNotifier(f.notifier),
		WithPolling(f.sched, 0, 0),
	)
	return f
}

func (f *chatFixture) summary(t *testing.T, user, conv string) model.Conversation {
	t.Helper()
	c, ok := f.svc.GetConversation(context.Background(), conv, user)
	require.True(t, ok, "conversation copy for %s", user)
	return c
}

func send(t *testing.T, svc ChatService, conv, from, text string) string {
	t.Helper()
	id, err := svc.SendMessage(context.Background(), model.Message{ConversationID: conv, SenderID: from, Text: text})
	require.NoError(t, err)
	return id
}

func TestSendMessageScenario(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	conv, err := f.svc.CreateConversation(ctx, []string{"A", "B"})
	require.NoError(t, err)
	send(t, f.svc, conv, "A", "hi")

	msgs := f.svc.GetMessages(ctx, conv, "B")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, model.MessageStatusSent, msgs[0].Status)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, model.MessageTypeText, msgs[0].Type)

	b := f.summary(t, "B", conv)
	assert.Equal(t, 1, b.UnreadCount)
	assert.Equal(t, "hi", b.LastMessageText)
	assert.Equal(t, 0, f.summary(t, "A", conv).UnreadCount)

	require.NoError(t, f.svc.MarkMessagesAsRead(ctx, conv, "B"))
	assert.Equal(t, 0, f.summary(t, "B", conv).UnreadCount)
	msgs = f.svc.GetMessages(ctx, conv, "B")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, sentNotification{kind: "message", recipient: "B", from: "A", text: "hi"}, f.notifier.sent[0])
}

func TestCreateConversationReplicatesToEveryParticipant(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	conv, err := f.svc.CreateConversation(ctx, []string{"A", "B", "C", "B"})
	require.NoError(t, err)

	a := f.summary(t, "A", conv)
	assert.Equal(t, []string{"A", "B", "C"}, a.Participants)
	for _, p := range []string{"B", "C"} {
		assert.Equal(t, a.Participants, f.summary(t, p, conv).Participants)
	}

	_, err = f.svc.CreateConversation(ctx, []string{"A", "A"})
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestUnreadAccounting(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, err := f.svc.CreateConversation(ctx, []string{"A", "B"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		send(t, f.svc, conv, "A", "ping")
	}
	own := send(t, f.svc, conv, "B", "pong")

	assert.Equal(t, 3, f.summary(t, "B", conv).UnreadCount)
	assert.Equal(t, 1, f.summary(t, "A", conv).UnreadCount)

	require.NoError(t, f.svc.MarkMessagesAsRead(ctx, conv, "B"))
	assert.Equal(t, 0, f.summary(t, "B", conv).UnreadCount)
	assert.Equal(t, 1, f.summary(t, "A", conv).UnreadCount)

	for _, m := range f.svc.GetMessages(ctx, conv, "B") {
		if m.ID == own {
			assert.False(t, m.Read, "reader's own message stays untouched")
			continue
		}
		assert.True(t, m.Read)
	}
	// 读者分区之外不受影响
	for _, m := range f.svc.GetMessages(ctx, conv, "A") {
		assert.False(t, m.Read)
	}
}

func TestGetMessagesAscendingAndScopedToConversation(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	c1, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})
	c2, _ := f.svc.CreateConversation(ctx, []string{"A", "C"})

	for i, ts := range []int64{300, 100, 200} {
		_, err := f.svc.SendMessage(ctx, model.Message{ConversationID: c1, SenderID: "A", Text: string(rune('x' + i)), Timestamp: ts})
		require.NoError(t, err)
	}
	send(t, f.svc, c2, "A", "other")

	msgs := f.svc.GetMessages(ctx, c1, "A")
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{msgs[0].Timestamp, msgs[1].Timestamp, msgs[2].Timestamp})

	convs := f.svc.GetConversations(ctx, "A")
	require.Len(t, convs, 2)
	assert.Equal(t, c2, convs[0].ID)
}

func TestSendMessagePreviewPerType(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})

	_, err := f.svc.SendMessage(ctx, model.Message{
		ConversationID: conv, SenderID: "A", Type: model.MessageTypeFile,
		FileData: &model.FileData{URI: "file:///tmp/r.pdf", Name: "report.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "📎 report.pdf", f.summary(t, "B", conv).LastMessageText)

	_, err = f.svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "A", Type: model.MessageTypeImage})
	require.NoError(t, err)
	assert.Equal(t, "📷 Photo", f.summary(t, "A", conv).LastMessageText)

	_, err = f.svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "A", Type: "sticker"})
	assert.Error(t, err)
}

func TestSendMessageRequiresSenderCopy(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})

	_, err := f.svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "Z", Text: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = f.svc.SendMessage(ctx, model.Message{ConversationID: "missing", SenderID: "A", Text: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestPartialFanoutIsReportedAndHealsOnNextSend(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)

	f.kv.setFailing("B", true)
	conv, err := f.svc.CreateConversation(ctx, []string{"A", "B"})
	require.NoError(t, err, "only the creator's copy is required")
	_, ok := f.svc.GetConversation(ctx, conv, "B")
	assert.False(t, ok)

	_, err = f.svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "A", Text: "lost"})
	require.ErrorIs(t, err, ErrPartialFanout)
	var fe *FanoutError
	require.True(t, errors.As(err, &fe))
	require.Len(t, fe.Results, 1, "no summary is written where the message is missing")
	assert.Equal(t, "B", fe.Results[0].Failed()[0].Key.Partition)
	assert.Empty(t, f.svc.GetMessages(ctx, conv, "B"))
	assert.Len(t, f.svc.GetMessages(ctx, conv, "A"), 1)
	assert.Empty(t, f.notifier.sent)

	f.kv.setFailing("B", false)
	send(t, f.svc, conv, "A", "again")
	b := f.summary(t, "B", conv)
	assert.Equal(t, []string{"A", "B"}, b.Participants)
	assert.Equal(t, 1, b.UnreadCount)
	assert.Equal(t, "again", b.LastMessageText)
	assert.Len(t, f.svc.GetMessages(ctx, conv, "B"), 1)
}

func TestSummarySkippedWhereMessageWriteFailed(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, err := f.svc.CreateConversation(ctx, []string{"A", "B"})
	require.NoError(t, err)

	f.kv.setFailingIn(model.CollectionMessages, "B", true)
	id, err := f.svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "A", Text: "hi"})
	require.ErrorIs(t, err, ErrPartialFanout)
	assert.NotEmpty(t, id)

	assert.Empty(t, f.svc.GetMessages(ctx, conv, "B"))
	b := f.summary(t, "B", conv)
	assert.Equal(t, 0, b.UnreadCount)
	assert.Empty(t, b.LastMessageText)
	assert.Empty(t, f.notifier.sent)

	a := f.summary(t, "A", conv)
	assert.Equal(t, "hi", a.LastMessageText)
	assert.Len(t, f.svc.GetMessages(ctx, conv, "A"), 1)
}

func TestSenderCopyFailureAbortsSend(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, err := f.svc.CreateConversation(ctx, []string{"A", "B"})
	require.NoError(t, err)

	f.kv.setFailingIn(model.CollectionMessages, "A", true)
	id, err := f.svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "A", Text: "hi"})
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrPartialFanout)

	assert.Empty(t, f.svc.GetMessages(ctx, conv, "B"))
	assert.Equal(t, 0, f.summary(t, "B", conv).UnreadCount)
	assert.Empty(t, f.summary(t, "A", conv).LastMessageText)
	assert.Empty(t, f.notifier.sent)
}

func TestCreatorWriteFailureIsReturned(t *testing.T) {
	f := newChatFixture(t)
	f.kv.setFailing("A", true)
	_, err := f.svc.CreateConversation(context.Background(), []string{"A", "B"})
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}

func TestReconcilerBackfillsMissingCopies(t *testing.T) {
	ctx := context.Background()
	kv := newFlakyKV()
	st := store.New(kv)
	rec := NewReconciler(st, 16)
	svc := NewChatService(st, NewFanout(st, rec), WithPolling(subscription.NewManualScheduler(), 0, 0))

	kv.setFailing("B", true)
	conv, err := svc.CreateConversation(ctx, []string{"A", "B"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, model.Message{ConversationID: conv, SenderID: "A", Text: "hi"})
	require.ErrorIs(t, err, ErrPartialFanout)
	assert.Equal(t, 2, rec.QueueLen(), "conversation and message copies queued")

	latencySamples := func() uint64 {
		var m dto.Metric
		require.NoError(t, metrics.ReconcileLatency.Write(&m))
		return m.GetHistogram().GetSampleCount()
	}
	before := latencySamples()

	kv.setFailing("B", false)
	stop := rec.Start(2)
	ctxStop, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, stop(ctxStop))

	b, ok := svc.GetConversation(ctx, conv, "B")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, b.Participants)
	assert.Len(t, svc.GetMessages(ctx, conv, "B"), 1)
	assert.Equal(t, 0, rec.QueueLen())
	assert.Equal(t, before+2, latencySamples(), "each backfilled copy is timed")
}

func TestUpdateMessageStatusFollowsStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})
	id := send(t, f.svc, conv, "A", "hi")

	require.NoError(t, f.svc.UpdateMessageStatus(ctx, conv, id, "B", model.MessageStatusDelivered))
	for _, p := range []string{"A", "B"} {
		msgs := f.svc.GetMessages(ctx, conv, p)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.MessageStatusDelivered, msgs[0].Status)
	}

	err := f.svc.UpdateMessageStatus(ctx, conv, id, "A", model.MessageStatusSent)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = f.svc.UpdateMessageStatus(ctx, conv, id, "A", model.MessageStatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, f.svc.UpdateMessageStatus(ctx, conv, id, "A", model.MessageStatusRead))

	err = f.svc.UpdateMessageStatus(ctx, conv, "nope", "A", model.MessageStatusRead)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestEditDeleteAndReactions(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})
	id := send(t, f.svc, conv, "A", "helo")

	assert.ErrorIs(t, f.svc.EditMessage(ctx, conv, id, "B", "hijack"), ErrNotSender)
	require.NoError(t, f.svc.EditMessage(ctx, conv, id, "A", "hello"))
	m := f.svc.GetMessages(ctx, conv, "B")[0]
	assert.Equal(t, "hello", m.Text)
	assert.True(t, m.Edited)
	assert.NotZero(t, m.EditedAt)

	require.NoError(t, f.svc.ToggleReaction(ctx, conv, id, "B", "👍"))
	require.NoError(t, f.svc.ToggleReaction(ctx, conv, id, "A", "👍"))
	assert.Equal(t, []string{"B", "A"}, f.svc.GetMessages(ctx, conv, "A")[0].Reactions["👍"])
	require.NoError(t, f.svc.ToggleReaction(ctx, conv, id, "B", "👍"))
	require.NoError(t, f.svc.ToggleReaction(ctx, conv, id, "A", "👍"))
	assert.Empty(t, f.svc.GetMessages(ctx, conv, "B")[0].Reactions)

	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, conv, id, "B"), ErrNotSender)
	require.NoError(t, f.svc.DeleteMessage(ctx, conv, id, "A"))
	m = f.svc.GetMessages(ctx, conv, "B")[0]
	assert.True(t, m.Deleted)
	assert.Equal(t, "Message deleted", m.PreviewText())
}

func TestDeleteConversationOnlyRemovesCallerCopy(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})
	send(t, f.svc, conv, "A", "hi")

	require.NoError(t, f.svc.DeleteConversation(ctx, conv, "B"))
	_, ok := f.svc.GetConversation(ctx, conv, "B")
	assert.False(t, ok)
	assert.Empty(t, f.svc.GetMessages(ctx, conv, "B"))

	_, ok = f.svc.GetConversation(ctx, conv, "A")
	assert.True(t, ok)
	assert.Len(t, f.svc.GetMessages(ctx, conv, "A"), 1)
}

func TestFindDirectConversation(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	_, _ = f.svc.CreateConversation(ctx, []string{"A", "B", "C"})
	direct, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})

	c, ok := f.svc.FindDirectConversation(ctx, "B", "A")
	require.True(t, ok)
	assert.Equal(t, direct, c.ID)
	_, ok = f.svc.FindDirectConversation(ctx, "A", "C")
	assert.False(t, ok)
}

func TestSubscriptionsPollThroughRegistry(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	conv, _ := f.svc.CreateConversation(ctx, []string{"A", "B"})

	var msgSnaps [][]model.Message
	var convSnaps [][]model.Conversation
	unsubMsgs := f.svc.SubscribeToMessages(ctx, conv, "B", func(m []model.Message) { msgSnaps = append(msgSnaps, m) })
	unsubConvs := f.svc.SubscribeToConversations(ctx, "B", func(c []model.Conversation) { convSnaps = append(convSnaps, c) })

	require.Len(t, msgSnaps, 1)
	assert.Empty(t, msgSnaps[0])
	require.Len(t, convSnaps, 1)

	send(t, f.svc, conv, "A", "hi")
	f.sched.Tick(DefaultConversationPollInterval)
	require.Len(t, msgSnaps, 2)
	assert.Len(t, msgSnaps[1], 1)
	assert.Len(t, convSnaps, 1, "user-scoped poller runs on its own interval")

	f.sched.Tick(DefaultUserPollInterval)
	require.Len(t, convSnaps, 2)
	assert.Equal(t, 1, convSnaps[1][0].UnreadCount)

	unsubMsgs()
	unsubConvs()
	assert.Equal(t, 0, f.sched.Pending())
}
