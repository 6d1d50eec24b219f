package sync

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/store"
	"github.com/jmadeira/wabridge/internal/wa"
)

// ChatNamer resolves display names for chats as messages arrive.
type ChatNamer interface {
	ChatName(ctx context.Context, chat types.JID, convName, pushName string) (name string, fallback bool)
}

// Engine consumes parsed message events and persists them. It is the
// only writer of chats and messages, so ordering within a chat follows
// bus delivery order.
type Engine struct {
	db     *store.DB
	namer  ChatNamer
	bus    *bus.Bus
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a message ingestion engine.
func NewEngine(db *store.DB, namer ChatNamer, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		namer:  namer,
		bus:    b,
		logger: logger,
	}
}

// Start begins consuming message events until Stop is called.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	ch, unsub := e.bus.Subscribe("wa.", 256)
	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				e.handle(ctx, evt)
			}
		}
	}()
}

// Stop halts the consumer loop and waits for it to drain.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handle(ctx context.Context, evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case *wa.ParsedMessage:
		if err := e.IngestMessage(ctx, payload); err != nil {
			e.logger.Error("failed to ingest message",
				zap.String("msg_id", payload.MsgID), zap.Error(err))
		}
	case *wa.HistoryBatch:
		if err := e.IngestHistory(ctx, payload); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err))
		}
	}
}

// IngestMessage persists one live message and its chat row.
func (e *Engine) IngestMessage(ctx context.Context, msg *wa.ParsedMessage) error {
	name, fallback := e.namer.ChatName(ctx, msg.Chat, "", msg.PushName)
	if err := e.db.UpsertChat(&store.Chat{
		JID:           msg.Chat.String(),
		Name:          name,
		NameFallback:  fallback,
		LastMessageAt: msg.Timestamp,
	}); err != nil {
		return err
	}
	if err := e.db.UpsertMessage(&store.Message{
		MsgID:     msg.MsgID,
		ChatJID:   msg.Chat.String(),
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		FromMe:    msg.FromMe,
		Media:     msg.Media,
	}); err != nil {
		return err
	}

	direction := "received"
	if msg.FromMe {
		direction = "sent"
	}
	e.logger.Info("message stored",
		zap.String("direction", direction),
		zap.String("chat", msg.Chat.String()),
		zap.String("sender", msg.Sender),
		zap.String("content", truncate(msg.Content, 60)))
	return nil
}

// IngestHistory persists a parsed history batch. Each conversation's
// messages are written in one transaction; a failing conversation is
// logged and skipped so the rest of the batch still lands.
func (e *Engine) IngestHistory(ctx context.Context, batch *wa.HistoryBatch) error {
	stored, failed := 0, 0
	for _, conv := range batch.Conversations {
		n, err := e.ingestConversation(ctx, conv)
		if err != nil {
			e.logger.Error("failed to ingest conversation",
				zap.String("chat", conv.Chat.String()), zap.Error(err))
			failed++
			continue
		}
		stored += n
	}

	e.logger.Info("history batch ingested",
		zap.Int("conversations", len(batch.Conversations)),
		zap.Int("messages", stored),
		zap.Int("skipped", batch.Skipped),
		zap.Int("failed", failed))

	e.bus.Publish(bus.Event{
		Kind:      "sync.history_batch",
		Timestamp: time.Now(),
		Payload: map[string]int{
			"conversations": len(batch.Conversations),
			"messages":      stored,
			"skipped":       batch.Skipped,
			"failed":        failed,
		},
	})
	return nil
}

func (e *Engine) ingestConversation(ctx context.Context, conv *wa.HistoryConversation) (int, error) {
	var newest int64
	var pushName string
	for _, msg := range conv.Messages {
		if msg.Timestamp > newest {
			newest = msg.Timestamp
		}
		if msg.PushName != "" {
			pushName = msg.PushName
		}
	}

	name, fallback := e.namer.ChatName(ctx, conv.Chat, conv.DisplayName, pushName)
	if err := e.db.UpsertChat(&store.Chat{
		JID:           conv.Chat.String(),
		Name:          name,
		NameFallback:  fallback,
		LastMessageAt: newest,
	}); err != nil {
		return 0, err
	}

	tx, err := e.db.Begin()
	if err != nil {
		return 0, err
	}
	stored := 0
	for _, msg := range conv.Messages {
		if err := store.UpsertMessageTx(tx, &store.Message{
			MsgID:     msg.MsgID,
			ChatJID:   conv.Chat.String(),
			Sender:    msg.Sender,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			FromMe:    msg.FromMe,
			Media:     msg.Media,
		}); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if msg.Content != "" || msg.Media.MediaType != "" {
			stored++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
