package session

import (
	"context"
	"encoding/base64"
	"os"
	"sync"
	"sync/atomic"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/status"
)

// Client is the subset of the network adapter the session manager
// drives.
type Client interface {
	IsLoggedIn() bool
	IsConnected() bool
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	DeleteSession(ctx context.Context) error
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	JID() string
}

// Manager owns the pairing lifecycle: showing rotating QR codes,
// reacting to logouts, and tearing sessions down. Re-pairing is
// single-flight; a second trigger while one is underway is a no-op.
type Manager struct {
	adapter Client
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	pairTimeout time.Duration
	repairDelay time.Duration
	pairing     atomic.Bool
	exitFn      func(int)

	mu        sync.Mutex
	qrCode    string
	qrExpires time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session manager.
func NewManager(adapter Client, machine *status.Machine, b *bus.Bus, logger *zap.Logger, pairTimeout time.Duration) *Manager {
	return &Manager{
		adapter:     adapter,
		machine:     machine,
		bus:         b,
		logger:      logger,
		pairTimeout: pairTimeout,
		repairDelay: 2 * time.Second,
		exitFn:      os.Exit,
	}
}

// Start connects an existing session or begins pairing, and watches for
// server-side logouts.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	ch, unsub := m.bus.Subscribe("session.logged_out", 8)
	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				m.logger.Warn("session invalidated by server, scheduling re-pair")
				time.AfterFunc(m.repairDelay, m.Repair)
			}
		}
	}()

	if m.adapter.IsLoggedIn() {
		if err := m.adapter.Connect(); err != nil {
			m.logger.Error("initial connect failed", zap.Error(err))
			_ = m.machine.Transition(status.Disconnected)
		}
		return
	}
	m.StartPairing()
}

// Stop halts the logout watcher.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// StartPairing begins a pairing attempt unless one is already running.
func (m *Manager) StartPairing() {
	if !m.pairing.CompareAndSwap(false, true) {
		m.logger.Debug("pairing already in progress")
		return
	}
	go m.pairLoop()
}

func (m *Manager) pairLoop() {
	defer m.pairing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), m.pairTimeout)
	defer cancel()

	if err := m.machine.Transition(status.Pairing); err != nil {
		m.logger.Warn("cannot start pairing", zap.Error(err))
		return
	}

	ch, err := m.adapter.GetQRChannel(ctx)
	if err != nil {
		m.logger.Error("failed to open QR channel", zap.Error(err))
		_ = m.machine.Transition(status.Unpaired)
		return
	}
	if err := m.adapter.Connect(); err != nil {
		m.logger.Error("connect for pairing failed", zap.Error(err))
		m.clearQR()
		_ = m.machine.Transition(status.Unpaired)
		return
	}

	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			m.setQR(item.Code, item.Timeout)
			m.logger.Info("pairing code issued",
				zap.Duration("valid_for", item.Timeout))
		case whatsmeow.QRChannelSuccess.Event:
			// The Connected event moves the state machine.
			m.clearQR()
			m.logger.Info("device paired")
			return
		case whatsmeow.QRChannelEventError:
			m.clearQR()
			m.logger.Error("pairing failed", zap.Error(item.Error))
			_ = m.machine.Transition(status.Unpaired)
			return
		default:
			// Timeout or an unexpected channel event.
			m.clearQR()
			m.logger.Warn("pairing ended without scan", zap.String("event", item.Event))
			_ = m.machine.Transition(status.Unpaired)
			return
		}
	}
}

func (m *Manager) setQR(code string, validFor time.Duration) {
	m.mu.Lock()
	m.qrCode = code
	m.qrExpires = time.Now().Add(validFor)
	m.mu.Unlock()
}

func (m *Manager) clearQR() {
	m.mu.Lock()
	m.qrCode = ""
	m.qrExpires = time.Time{}
	m.mu.Unlock()
}

// QR returns the current pairing code and how long it remains valid.
// ok is false when no code is active.
func (m *Manager) QR() (code string, expiresIn time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.qrCode == "" || time.Now().After(m.qrExpires) {
		return "", 0, false
	}
	return m.qrCode, time.Until(m.qrExpires), true
}

// QRDataURL returns the active pairing code rendered as a PNG data URL,
// ready for an <img> tag.
func (m *Manager) QRDataURL() (dataURL string, expiresIn time.Duration, ok bool) {
	code, expiresIn, ok := m.QR()
	if !ok {
		return "", 0, false
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		m.logger.Error("failed to render QR code", zap.Error(err))
		return "", 0, false
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), expiresIn, true
}

// Logout tears the session down on both ends and schedules a re-pair.
func (m *Manager) Logout(ctx context.Context) error {
	if m.adapter.IsConnected() {
		if err := m.adapter.Logout(ctx); err != nil {
			m.logger.Warn("server-side logout failed", zap.Error(err))
		}
	}
	m.adapter.Disconnect()
	if err := m.adapter.DeleteSession(ctx); err != nil {
		return err
	}
	m.clearQR()
	if err := m.machine.Transition(status.LoggedOut); err != nil {
		m.logger.Debug("logout transition skipped", zap.Error(err))
	}
	m.logger.Info("logged out, re-pairing shortly")
	time.AfterFunc(m.repairDelay, m.Repair)
	return nil
}

// Repair drops the dead session and starts a fresh pairing attempt.
// Safe to call from multiple paths; only one attempt runs at a time.
func (m *Manager) Repair() {
	if m.pairing.Load() {
		m.logger.Debug("re-pair skipped, pairing already in progress")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	m.adapter.Disconnect()
	if err := m.adapter.DeleteSession(ctx); err != nil {
		m.logger.Error("failed to delete session", zap.Error(err))
	}
	_ = m.machine.Transition(status.Unpaired)
	m.StartPairing()
}

// Restart exits the process after a short delay so the supervisor can
// bring it back up. The delay lets the HTTP response flush first.
func (m *Manager) Restart() {
	m.logger.Info("restart requested")
	time.AfterFunc(time.Second, func() { m.exitFn(0) })
}

// Connected reports whether the link is up.
func (m *Manager) Connected() bool {
	return m.adapter.IsConnected()
}

// JID returns the paired device identity, empty when unpaired.
func (m *Manager) JID() string {
	return m.adapter.JID()
}

// State returns the current session state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}
