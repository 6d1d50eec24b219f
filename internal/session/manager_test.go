package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/status"
)

type fakeAdapter struct {
	mu        sync.Mutex
	loggedIn  bool
	connected bool

	qrChannels atomic.Int32
	qrItems    []whatsmeow.QRChannelItem
	deleted    atomic.Int32
	connects   atomic.Int32
}

func (f *fakeAdapter) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeAdapter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) Connect() error {
	f.connects.Add(1)
	return nil
}

func (f *fakeAdapter) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeAdapter) Logout(context.Context) error { return nil }

func (f *fakeAdapter) DeleteSession(context.Context) error {
	f.deleted.Add(1)
	f.mu.Lock()
	f.loggedIn = false
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	f.qrChannels.Add(1)
	ch := make(chan whatsmeow.QRChannelItem, len(f.qrItems))
	for _, item := range f.qrItems {
		ch <- item
	}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) JID() string { return "559999999999:1@s.whatsapp.net" }

func testManager(adapter *fakeAdapter) (*Manager, *status.Machine) {
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager(adapter, machine, b, zap.NewNop(), time.Second)
	m.repairDelay = time.Millisecond
	m.exitFn = func(int) {}
	return m, machine
}

func waitPairingDone(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.pairing.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pairing loop never finished")
}

func TestPairingShowsAndClearsCode(t *testing.T) {
	adapter := &fakeAdapter{
		qrItems: []whatsmeow.QRChannelItem{
			{Event: whatsmeow.QRChannelEventCode, Code: "pair-me", Timeout: time.Minute},
			whatsmeow.QRChannelSuccess,
		},
	}
	m, _ := testManager(adapter)

	// Synchronous CAS, then the loop runs.
	m.StartPairing()
	waitPairingDone(t, m)

	if _, _, ok := m.QR(); ok {
		t.Error("QR code should be cleared after success")
	}
	if adapter.connects.Load() != 1 {
		t.Errorf("connects = %d, want 1", adapter.connects.Load())
	}
}

func TestPairingTimeoutReturnsToUnpaired(t *testing.T) {
	adapter := &fakeAdapter{
		qrItems: []whatsmeow.QRChannelItem{
			{Event: whatsmeow.QRChannelEventCode, Code: "pair-me", Timeout: time.Minute},
			whatsmeow.QRChannelTimeout,
		},
	}
	m, machine := testManager(adapter)

	m.StartPairing()
	waitPairingDone(t, m)

	if machine.Current() != status.Unpaired {
		t.Errorf("state = %s, want UNPAIRED", machine.Current())
	}
	if _, _, ok := m.QR(); ok {
		t.Error("QR code should be cleared after timeout")
	}
}

func TestStartPairingSingleFlight(t *testing.T) {
	block := make(chan struct{})
	adapter := &fakeAdapter{}
	m, _ := testManager(adapter)

	// Hold the pairing flag as a running attempt would.
	m.pairing.Store(true)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-block
			m.StartPairing()
			m.Repair()
		}()
	}
	close(block)
	wg.Wait()

	if got := adapter.qrChannels.Load(); got != 0 {
		t.Errorf("QR channels opened = %d, want 0 while an attempt is in flight", got)
	}
	if got := adapter.deleted.Load(); got != 0 {
		t.Errorf("sessions deleted = %d, want 0 while an attempt is in flight", got)
	}
	m.pairing.Store(false)
}

func TestRepairDropsSessionAndRepairs(t *testing.T) {
	adapter := &fakeAdapter{
		loggedIn: true,
		qrItems:  []whatsmeow.QRChannelItem{whatsmeow.QRChannelTimeout},
	}
	m, machine := testManager(adapter)
	walk(t, machine, status.Connected, status.LoggedOut)

	m.Repair()
	waitPairingDone(t, m)

	if adapter.deleted.Load() != 1 {
		t.Errorf("sessions deleted = %d, want 1", adapter.deleted.Load())
	}
	if adapter.qrChannels.Load() != 1 {
		t.Errorf("QR channels opened = %d, want 1", adapter.qrChannels.Load())
	}
}

func TestLogoutSchedulesRepair(t *testing.T) {
	adapter := &fakeAdapter{
		loggedIn:  true,
		connected: true,
		qrItems:   []whatsmeow.QRChannelItem{whatsmeow.QRChannelTimeout},
	}
	m, machine := testManager(adapter)
	walk(t, machine, status.Connected)

	if err := m.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if adapter.deleted.Load() == 0 {
		t.Error("session not deleted on logout")
	}

	// The delayed re-pair kicks in and opens a QR channel.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if adapter.qrChannels.Load() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("re-pair never started after logout")
}

func TestQRExpiry(t *testing.T) {
	m, _ := testManager(&fakeAdapter{})

	m.setQR("short-lived", 10*time.Millisecond)
	if code, _, ok := m.QR(); !ok || code != "short-lived" {
		t.Fatalf("QR() = %q, %v", code, ok)
	}

	time.Sleep(20 * time.Millisecond)
	if _, _, ok := m.QR(); ok {
		t.Error("expired code still reported")
	}
}

func TestQRDataURL(t *testing.T) {
	m, _ := testManager(&fakeAdapter{})
	m.setQR("2@abcdef,ghijkl", time.Minute)

	dataURL, expiresIn, ok := m.QRDataURL()
	if !ok {
		t.Fatal("no data URL for active code")
	}
	if !strings.HasPrefix(dataURL, "data:image/png;base64,") {
		t.Errorf("dataURL prefix = %.30s", dataURL)
	}
	if expiresIn <= 0 {
		t.Errorf("expiresIn = %v, want positive", expiresIn)
	}
}

func walk(t *testing.T, m *status.Machine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}
