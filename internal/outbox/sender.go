package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/store"
	"github.com/jmadeira/wabridge/internal/wa"
)

// Transport sends composed messages over the wire.
type Transport interface {
	IsConnected() bool
	SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (string, error)
	OwnUserID() string
}

// Composer builds outgoing protocol messages, uploading attachments as
// needed.
type Composer interface {
	ComposeMessage(ctx context.Context, body, mediaPath string) (*waE2E.Message, error)
}

// Sender drains a database-backed queue of outgoing messages. Queueing
// and sending are decoupled so the gateway can accept a send while the
// link is down.
type Sender struct {
	db        *store.DB
	transport Transport
	composer  Composer
	bus       *bus.Bus
	logger    *zap.Logger

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, transport Transport, composer Composer, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		transport: transport,
		composer:  composer,
		bus:       b,
		logger:    logger,
		interval:  500 * time.Millisecond,
	}
}

// Queue validates the recipient and enqueues a message, returning the
// client-side id the caller can correlate with.
func (s *Sender) Queue(recipient, body, mediaPath string) (string, error) {
	if body == "" && mediaPath == "" {
		return "", fmt.Errorf("message is empty")
	}
	jid, err := wa.ParseRecipient(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient: %w", err)
	}

	clientID := uuid.New().String()
	if err := s.db.QueueOutbox(clientID, jid.String(), body, mediaPath); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}
	s.logger.Info("message queued",
		zap.String("client_id", clientID), zap.String("chat", jid.String()))
	return clientID, nil
}

// Start begins the drain loop until Stop is called.
func (s *Sender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.drain(ctx)
			}
		}
	}()
}

// Stop halts the drain loop.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// drain sends every queued entry in order. Entries stay queued while
// the link is down; a compose or send failure marks just that entry
// failed.
func (s *Sender) drain(ctx context.Context) {
	if !s.transport.IsConnected() {
		return
	}
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark outbox entry", zap.Error(err))
		return
	}

	msg, err := s.composer.ComposeMessage(ctx, entry.Body, entry.MediaPath)
	if err != nil {
		s.fail(entry, err)
		return
	}
	jid, err := types.ParseJID(entry.ChatJID)
	if err != nil {
		s.fail(entry, err)
		return
	}

	serverID, err := s.transport.SendMessage(ctx, jid, msg)
	if err != nil {
		s.fail(entry, err)
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverID); err != nil {
		s.logger.Error("failed to mark outbox entry sent", zap.Error(err))
	}

	// Record our own copy so the chat reads back complete without
	// waiting for a round trip.
	now := time.Now().UnixMilli()
	if err := s.db.UpsertChat(&store.Chat{JID: entry.ChatJID, LastMessageAt: now}); err == nil {
		_ = s.db.UpsertMessage(&store.Message{
			MsgID:     serverID,
			ChatJID:   entry.ChatJID,
			Sender:    s.transport.OwnUserID(),
			Content:   entry.Body,
			Timestamp: now,
			FromMe:    true,
		})
	}

	s.logger.Info("message sent",
		zap.String("client_id", entry.ClientMsgID),
		zap.String("server_id", serverID),
		zap.String("chat", entry.ChatJID))

	s.bus.Publish(bus.Event{
		Kind:      "outbox.sent",
		Timestamp: time.Now(),
		Payload:   map[string]string{"client_id": entry.ClientMsgID, "server_id": serverID},
	})
}

func (s *Sender) fail(entry store.OutboxEntry, cause error) {
	s.logger.Error("failed to send message",
		zap.String("client_id", entry.ClientMsgID), zap.Error(cause))
	if err := s.db.MarkOutboxFailed(entry.ClientMsgID, cause.Error()); err != nil {
		s.logger.Error("failed to mark outbox entry failed", zap.Error(err))
	}
}
