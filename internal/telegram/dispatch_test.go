package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func msgUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: chatID},
			Text: text,
		},
	}
}

func TestDispatchKeepsPerChatOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{})
	d := newDispatcher(func(_ context.Context, upd tgbotapi.Update) {
		mu.Lock()
		seen = append(seen, upd.Message.Text)
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.dispatch(ctx, msgUpdate(1, "a"))
	d.dispatch(ctx, msgUpdate(1, "b"))
	d.dispatch(ctx, msgUpdate(1, "c"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updates not handled")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("same-chat order broken: %v", seen)
	}
}

func TestDispatchSlowChatDoesNotBlockOthers(t *testing.T) {
	slowGate := make(chan struct{})
	fastDone := make(chan struct{})

	d := newDispatcher(func(_ context.Context, upd tgbotapi.Update) {
		switch upd.Message.Chat.ID {
		case 1:
			<-slowGate
		case 2:
			close(fastDone)
		}
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.dispatch(ctx, msgUpdate(1, "slow"))
	d.dispatch(ctx, msgUpdate(2, "fast"))

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast chat blocked behind slow chat")
	}
	close(slowGate)
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	gate := make(chan struct{})
	d := newDispatcher(func(context.Context, tgbotapi.Update) {
		<-gate
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One in the handler plus a full queue; the rest must drop, not block.
	for i := 0; i < chatQueueSize+5; i++ {
		d.dispatch(ctx, msgUpdate(1, "x"))
	}
	close(gate)
}
