package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
)

type fakeRequester struct {
	connected atomic.Bool
	requests  atomic.Int32
	failures  int32
}

func (f *fakeRequester) IsConnected() bool { return f.connected.Load() }

func (f *fakeRequester) RequestHistorySync(context.Context, int) error {
	n := f.requests.Add(1)
	if n <= f.failures {
		return errors.New("transient failure")
	}
	return nil
}

func testReconciler(adapter *fakeRequester, b *bus.Bus, retries int) *Reconciler {
	r := NewReconciler(adapter, b, zap.NewNop(), retries, 100)
	r.settleDelay = time.Millisecond
	r.retryStep = time.Millisecond
	return r
}

func waitRequests(t *testing.T, f *fakeRequester, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.requests.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("requests = %d, want %d", f.requests.Load(), want)
}

func TestReconcilerRequestsOnConnect(t *testing.T) {
	b := bus.New()
	adapter := &fakeRequester{}
	adapter.connected.Store(true)

	r := testReconciler(adapter, b, 3)
	r.Start()
	defer r.Stop()

	b.Publish(bus.Event{Kind: "wa.connected", Timestamp: time.Now()})
	waitRequests(t, adapter, 1)
}

func TestReconcilerRetriesThenSucceeds(t *testing.T) {
	b := bus.New()
	adapter := &fakeRequester{failures: 2}
	adapter.connected.Store(true)

	r := testReconciler(adapter, b, 3)
	r.Start()
	defer r.Stop()

	b.Publish(bus.Event{Kind: "wa.connected", Timestamp: time.Now()})
	waitRequests(t, adapter, 3)
}

func TestReconcilerGivesUpAfterRetries(t *testing.T) {
	b := bus.New()
	adapter := &fakeRequester{failures: 100}
	adapter.connected.Store(true)

	r := testReconciler(adapter, b, 2)
	r.Start()
	defer r.Stop()

	b.Publish(bus.Event{Kind: "wa.connected", Timestamp: time.Now()})
	waitRequests(t, adapter, 2)

	// No further attempts after giving up.
	time.Sleep(50 * time.Millisecond)
	if got := adapter.requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestReconcilerSkipsWhenDisconnected(t *testing.T) {
	b := bus.New()
	adapter := &fakeRequester{}

	r := testReconciler(adapter, b, 3)
	r.Start()
	defer r.Stop()

	b.Publish(bus.Event{Kind: "wa.connected", Timestamp: time.Now()})

	time.Sleep(50 * time.Millisecond)
	if got := adapter.requests.Load(); got != 0 {
		t.Errorf("requests = %d, want 0 while disconnected", got)
	}
}

func TestTriggerRequiresConnection(t *testing.T) {
	adapter := &fakeRequester{}
	r := testReconciler(adapter, bus.New(), 3)

	if err := r.Trigger(context.Background()); err == nil {
		t.Error("expected error while disconnected")
	}

	adapter.connected.Store(true)
	if err := r.Trigger(context.Background()); err != nil {
		t.Errorf("Trigger() error: %v", err)
	}
	if adapter.requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", adapter.requests.Load())
	}
}
