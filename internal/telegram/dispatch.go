package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const chatQueueSize = 16

// dispatcher fans updates out to one worker goroutine per chat: updates from
// the same chat are handled strictly in arrival order, while different chats
// proceed in parallel. Workers live until the context is done; the set is
// bounded by the number of distinct chats seen.
type dispatcher struct {
	handle func(context.Context, tgbotapi.Update)
	log    *zap.Logger

	mu     sync.Mutex
	queues map[int64]chan tgbotapi.Update
}

func newDispatcher(handle func(context.Context, tgbotapi.Update), log *zap.Logger) *dispatcher {
	return &dispatcher{
		handle: handle,
		log:    log,
		queues: make(map[int64]chan tgbotapi.Update),
	}
}

func (d *dispatcher) dispatch(ctx context.Context, upd tgbotapi.Update) {
	chatID := updateChatID(upd)
	if chatID == 0 {
		// No chat to order by; handle inline, these are cheap.
		d.handle(ctx, upd)
		return
	}

	d.mu.Lock()
	q, ok := d.queues[chatID]
	if !ok {
		q = make(chan tgbotapi.Update, chatQueueSize)
		d.queues[chatID] = q
		go d.worker(ctx, q)
	}
	d.mu.Unlock()

	select {
	case q <- upd:
	default:
		d.log.Warn("chat queue full, dropping update", zap.Int64("chatID", chatID))
	}
}

func (d *dispatcher) worker(ctx context.Context, q chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-q:
			d.handle(ctx, upd)
		}
	}
}

// updateChatID picks the chat an update belongs to for ordering purposes.
// Callback queries order by the acting user, same as their messages.
func updateChatID(upd tgbotapi.Update) int64 {
	if upd.Message != nil {
		return upd.Message.Chat.ID
	}
	if upd.CallbackQuery != nil && upd.CallbackQuery.From != nil {
		return upd.CallbackQuery.From.ID
	}
	return 0
}

// Dispatch hands the update to the per-chat worker pool. The app's update
// loop calls this instead of HandleUpdate so a slow classification for one
// user never blocks the others.
func (g *Gateway) Dispatch(ctx context.Context, upd tgbotapi.Update) {
	g.disp.dispatch(ctx, upd)
}
