package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/internal/service"
	"github.com/d60-Lab/localsync/internal/store"
)

// 比较单次 Store 写入与 SendMessage（消息 + 摘要各扇出到 PARTICIPANTS 个分区）的延迟
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	ctx := context.Background()
	kv, err := repository.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer kv.Close()
	st := store.New(kv)
	chat := service.NewChatService(st, service.NewFanout(st, nil))

	PARTICIPANTS := envInt("PARTICIPANTS", 8)
	REPEAT := envInt("REPEAT", 50)

	users := make([]string, PARTICIPANTS)
	for i := range users {
		users[i] = fmt.Sprintf("bench-user-%03d", i)
	}
	convID, err := chat.CreateConversation(ctx, users)
	if err != nil {
		panic(err)
	}

	single := func(i int) time.Duration {
		t0 := time.Now()
		_ = st.Create(ctx, store.NewKey(model.CollectionMessages, users[0], fmt.Sprintf("single-%d", i)),
			model.Message{ID: strconv.Itoa(i), ConversationID: convID, SenderID: users[0], Text: "x", Timestamp: model.NowMillis()})
		return time.Since(t0)
	}
	send := func(i int) (time.Duration, bool) {
		t0 := time.Now()
		_, err := chat.SendMessage(ctx, model.Message{
			ConversationID: convID,
			SenderID:       users[i%PARTICIPANTS],
			Text:           fmt.Sprintf("msg %d", i),
			Type:           model.MessageTypeText,
		})
		return time.Since(t0), err == nil
	}

	singles := make([]time.Duration, 0, REPEAT)
	sends := make([]time.Duration, 0, REPEAT)
	partial := 0
	for i := 0; i < REPEAT; i++ {
		singles = append(singles, single(i))
	}
	for i := 0; i < REPEAT; i++ {
		d, ok := send(i)
		if !ok {
			partial++
		}
		sends = append(sends, d)
	}

	pct := func(vs []time.Duration, p float64) time.Duration {
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(float64(len(xs)) * p)
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}
	avg := func(vs []time.Duration) time.Duration {
		var sum time.Duration
		for _, d := range vs {
			sum += d
		}
		return sum / time.Duration(len(vs))
	}

	fmt.Printf("DRIVER=%s PARTICIPANTS=%d REPEAT=%d\n", cfg.Storage.Driver, PARTICIPANTS, REPEAT)
	fmt.Printf("Single-partition write: avg=%v p95=%v p99=%v\n", avg(singles), pct(singles, 0.95), pct(singles, 0.99))
	fmt.Printf("SendMessage fan-out x%d: avg=%v p95=%v p99=%v partial=%d\n", PARTICIPANTS, avg(sends), pct(sends, 0.95), pct(sends, 0.99), partial)
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}
