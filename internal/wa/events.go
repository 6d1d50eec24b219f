package wa

import (
	"time"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/status"
)

// EventHandler translates raw network events into typed bus events and
// state machine transitions. Events outside its vocabulary are dropped.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	self    func() string
}

// NewEventHandler creates a handler. self returns the phone-number part
// of our own identity, used when attributing history messages we sent.
func NewEventHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger, self func() string) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		logger:  logger,
		self:    self,
	}
}

// Handle is registered as the whatsmeow event callback.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.publish("wa.message", ParseLiveMessage(evt))

	case *events.HistorySync:
		batch := ParseHistoryBatch(evt, h.self())
		h.logger.Info("history sync received",
			zap.Int("conversations", len(batch.Conversations)),
			zap.Int("skipped", batch.Skipped))
		if len(batch.Conversations) > 0 {
			h.publish("wa.history_batch", batch)
		}

	case *events.Connected:
		h.transition(status.Connected)
		h.publish("wa.connected", nil)

	case *events.Disconnected:
		// The client auto-reconnects after a socket drop.
		if err := h.machine.Transition(status.Reconnecting); err != nil {
			h.transition(status.Disconnected)
		}
		h.publish("wa.disconnected", nil)

	case *events.LoggedOut:
		h.logger.Warn("device logged out", zap.String("reason", evt.Reason.String()))
		h.transition(status.LoggedOut)
		h.publish("session.logged_out", nil)
	}
}

func (h *EventHandler) publish(kind string, payload any) {
	h.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (h *EventHandler) transition(to status.State) {
	if err := h.machine.Transition(to); err != nil {
		h.logger.Debug("ignored state transition", zap.String("to", string(to)), zap.Error(err))
	}
}
