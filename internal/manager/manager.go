// Package manager owns the WhatsApp connection lifecycle and bridges
// protocol events to the store, the persistence engine and the event bus.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/outbox"
	"github.com/matheus3301/wppdash/internal/persist"
	"github.com/matheus3301/wppdash/internal/status"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by commands that need an open connection.
var ErrNotConnected = errors.New("whatsapp not connected")

// Client is the protocol connection the manager drives.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
	SendText(ctx context.Context, chatID, text string) (string, error)
	MarkRead(ctx context.Context, chatID, msgID, sender string) error
	IsLoggedIn() bool
	Close() error
}

// EventSink receives translated protocol events for one client. It has the
// same method set as wa.Sink.
type EventSink interface {
	OnQR(code, image string)
	OnConnected()
	OnClosed(loggedOut bool, reason string)
	OnMessage(msg store.Message)
	OnHistoryChats(chats []store.RawChat)
	OnPresence(chatID string, online bool)
	OnChatPatch(patch store.ChatPatch)
}

// Factory opens a protocol client that reports to sink. It is called on
// every (re)initialization so credentials are reloaded each time.
type Factory func(ctx context.Context, sink EventSink) (Client, error)

// Options tunes reconnect timing and auth handling.
type Options struct {
	ReconnectDelay time.Duration
	RestartDelay   time.Duration
	// ClearAuth deletes the stored pairing credentials.
	ClearAuth  func() error
	Registerer prometheus.Registerer
	Now        func() time.Time
}

func (o *Options) setDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = 2 * time.Second
	}
	if o.ClearAuth == nil {
		o.ClearAuth = func() error { return nil }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Manager is the session manager. It holds at most one active client.
type Manager struct {
	store   *store.Store
	engine  *persist.Engine
	sendLog *outbox.Log
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	factory Factory
	opts    Options
	metrics *Metrics

	startedAt time.Time

	// ops serializes connection-mutating commands.
	ops sync.Mutex

	mu          sync.Mutex
	client      Client
	gen         uint64
	qrCode      string
	qrImage     string
	connectedAt *time.Time
	timers      []*time.Timer
	closed      bool
}

// New creates a manager. The store must already be wired to engine as its
// tracker.
func New(st *store.Store, engine *persist.Engine, sendLog *outbox.Log, machine *status.Machine, b *bus.Bus, factory Factory, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	m := &Manager{
		store:     st,
		engine:    engine,
		sendLog:   sendLog,
		machine:   machine,
		bus:       b,
		logger:    logger,
		factory:   factory,
		opts:      opts,
		startedAt: opts.Now(),
	}
	m.metrics = NewMetrics(opts.Registerer, func() float64 {
		if machine.IsConnected() {
			return 1
		}
		return 0
	})
	return m
}

// Initialize opens a protocol client and starts connecting. It is a no-op
// when a client is already active.
func (m *Manager) Initialize(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.initialize(ctx)
}

func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.client != nil {
		m.mu.Unlock()
		m.logger.Debug("initialize skipped, client already active")
		return nil
	}
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connecting); err != nil {
		m.machine.Force(status.Connecting)
	}
	m.bus.Emit(bus.SessionConnecting, nil)
	m.metrics.Connects.Inc()
	m.logger.Info("initializing WhatsApp connection")

	client, err := m.factory(ctx, &clientSink{m: m, gen: gen})
	if err != nil {
		m.machine.Force(status.Disconnected)
		return fmt.Errorf("open client: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		_ = client.Close()
		return nil
	}
	m.client = client
	m.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		m.logger.Warn("connect failed", zap.Error(err))
		m.handleClosed(gen, false, err.Error())
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect flushes and backs up all data, logs the device out, and closes
// the connection. Logout failures are logged and ignored.
func (m *Manager) Disconnect(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.teardown(ctx, true)
}

// Shutdown is Disconnect without logging out, for process exit. Pending
// reconnects are cancelled and never run again.
func (m *Manager) Shutdown(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.teardown(ctx, false)
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) teardown(ctx context.Context, logout bool) {
	m.logger.Info("saving all data before disconnect")
	if err := m.engine.ForceSave(); err != nil {
		m.logger.Error("save before disconnect failed", zap.Error(err))
	}

	m.mu.Lock()
	m.stopTimersLocked()
	client := m.client
	m.client = nil
	m.gen++
	m.qrCode, m.qrImage = "", ""
	m.connectedAt = nil
	m.mu.Unlock()

	if client != nil {
		if logout && m.machine.IsConnected() {
			if err := client.Logout(ctx); err != nil {
				m.logger.Warn("logout failed, connection may already be closed", zap.Error(err))
			}
		}
		if err := client.Close(); err != nil {
			m.logger.Warn("close client", zap.Error(err))
		}
	}

	m.engine.SetConnected(nil)
	m.machine.Force(status.Disconnected)
	m.logger.Info("WhatsApp disconnected")
	m.bus.Emit(bus.SessionDisconnected, map[string]any{"reason": "manual"})
}

// RestartConnection disconnects without logging out and initializes again
// after the restart delay, so a still-valid pairing is reused.
func (m *Manager) RestartConnection(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.logger.Info("restarting WhatsApp connection")
	m.teardown(ctx, false)
	m.schedule(m.opts.RestartDelay)
}

// ForceNewQRCode disconnects, deletes the stored credentials and
// initializes again so a fresh pairing code is produced.
func (m *Manager) ForceNewQRCode(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.logger.Info("forcing new QR code")
	m.teardown(ctx, true)
	if err := m.opts.ClearAuth(); err != nil {
		m.logger.Error("clear auth failed", zap.Error(err))
		return fmt.Errorf("clear auth: %w", err)
	}
	return m.initialize(context.WithoutCancel(ctx))
}

// schedule runs Initialize after delay. Overlapping schedules are harmless
// because Initialize is a no-op once a client is active.
func (m *Manager) schedule(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	t := time.AfterFunc(delay, func() {
		if err := m.Initialize(context.Background()); err != nil {
			m.logger.Error("reconnect failed", zap.Error(err))
		}
	})
	m.timers = append(m.timers, t)
}

func (m *Manager) stopTimersLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

// State returns the current connection state.
func (m *Manager) State() status.State { return m.machine.Current() }

// ConnectionStatus reports the connected and connecting flags.
func (m *Manager) ConnectionStatus() (connected, connecting bool) {
	return m.machine.IsConnected(), m.machine.IsConnecting()
}

// QRCode returns the current pairing code and its rendered image. Both are
// empty when no pairing is pending.
func (m *Manager) QRCode() (code, image string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qrCode, m.qrImage
}

// SystemStatus summarizes the daemon for the status endpoint.
type SystemStatus struct {
	Connected     bool       `json:"whatsappConnected"`
	State         string     `json:"state"`
	TotalChats    int        `json:"totalChats"`
	TotalContacts int        `json:"totalContacts"`
	Backups       int        `json:"availableBackups"`
	LatestBackup  string     `json:"lastBackup,omitempty"`
	LastConnected *time.Time `json:"lastConnected"`
	Uptime        float64    `json:"uptime"`
}

// SystemStatus returns counts, backup information and uptime in seconds.
func (m *Manager) SystemStatus() SystemStatus {
	chats, contacts := m.store.Counts()
	st := SystemStatus{
		Connected:     m.machine.IsConnected(),
		State:         string(m.machine.Current()),
		TotalChats:    chats,
		TotalContacts: contacts,
		Uptime:        m.opts.Now().Sub(m.startedAt).Seconds(),
	}
	if backups, err := m.engine.ListBackups(); err == nil {
		st.Backups = len(backups)
		if len(backups) > 0 {
			st.LatestBackup = backups[0]
		}
	} else {
		m.logger.Warn("list backups", zap.Error(err))
	}
	m.mu.Lock()
	if m.connectedAt != nil {
		at := *m.connectedAt
		st.LastConnected = &at
	}
	m.mu.Unlock()
	return st
}
