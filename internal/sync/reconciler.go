package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
)

// HistoryRequester is the subset of the network adapter the reconciler
// needs.
type HistoryRequester interface {
	IsConnected() bool
	RequestHistorySync(ctx context.Context, count int) error
}

// Reconciler requests a history backfill from the primary device after
// each (re)connect, retrying a few times before giving up. Persisting
// the resulting batches is the engine's job.
type Reconciler struct {
	adapter HistoryRequester
	bus     *bus.Bus
	logger  *zap.Logger
	retries int
	count   int

	settleDelay time.Duration
	retryStep   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a reconciler that requests up to count messages
// with the given number of attempts per connect.
func NewReconciler(adapter HistoryRequester, b *bus.Bus, logger *zap.Logger, retries, count int) *Reconciler {
	if retries < 1 {
		retries = 1
	}
	return &Reconciler{
		adapter:     adapter,
		bus:         b,
		logger:      logger,
		retries:     retries,
		count:       count,
		settleDelay: 5 * time.Second,
		retryStep:   5 * time.Second,
	}
}

// Start begins watching for connection events until Stop is called.
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	ch, unsub := r.bus.Subscribe("wa.connected", 8)
	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				r.run(ctx)
			}
		}
	}()
}

// Stop halts the watcher.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Trigger requests a backfill immediately, for the manual sync
// endpoint.
func (r *Reconciler) Trigger(ctx context.Context) error {
	if !r.adapter.IsConnected() {
		return fmt.Errorf("not connected")
	}
	return r.adapter.RequestHistorySync(ctx, r.count)
}

// run waits for the connection to settle, then requests history with
// retries spaced increasingly far apart.
func (r *Reconciler) run(ctx context.Context) {
	if !sleep(ctx, r.settleDelay) {
		return
	}

	for attempt := 1; attempt <= r.retries; attempt++ {
		if !r.adapter.IsConnected() {
			r.logger.Warn("connection lost before history request", zap.Int("attempt", attempt))
			return
		}
		err := r.adapter.RequestHistorySync(ctx, r.count)
		if err == nil {
			r.logger.Info("history sync requested",
				zap.Int("attempt", attempt), zap.Int("count", r.count))
			return
		}
		r.logger.Warn("history sync request failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", r.retries), zap.Error(err))
		if attempt < r.retries {
			if !sleep(ctx, time.Duration(attempt)*r.retryStep) {
				return
			}
		}
	}
	r.logger.Error("history sync abandoned", zap.Int("attempts", r.retries))
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
