package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds form a closed set, namespaced by producer:
//
//	wa.message          *wa.ParsedMessage   live inbound message
//	wa.history_batch    *wa.HistoryBatch    parsed bulk backfill
//	wa.connected                             link established
//	wa.disconnected                          link lost
//	session.logged_out                       device credentials invalidated
//	session.status_changed  status.Change    state machine transition
//	sync.history_batch   map[string]int      reconciliation counters
//	outbox.sent          map[string]string   queued message delivered
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
