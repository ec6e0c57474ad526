package manager

import (
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/status"
	"github.com/matheus3301/wppdash/internal/store"
	"go.uber.org/zap"
)

// clientSink forwards events from one client generation. Events from a
// client the manager already dropped are ignored.
type clientSink struct {
	m   *Manager
	gen uint64
}

func (s *clientSink) current() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.gen == s.gen
}

func (s *clientSink) OnQR(code, image string) {
	if s.current() {
		s.m.handleQR(code, image)
	}
}

func (s *clientSink) OnConnected() {
	if s.current() {
		s.m.handleConnected()
	}
}

func (s *clientSink) OnClosed(loggedOut bool, reason string) {
	s.m.handleClosed(s.gen, loggedOut, reason)
}

func (s *clientSink) OnMessage(msg store.Message) {
	if s.current() {
		s.m.handleMessage(msg)
	}
}

func (s *clientSink) OnHistoryChats(chats []store.RawChat) {
	if s.current() {
		s.m.handleHistory(chats)
	}
}

func (s *clientSink) OnPresence(chatID string, online bool) {
	if s.current() {
		s.m.store.UpdatePresence(chatID, online)
	}
}

func (s *clientSink) OnChatPatch(patch store.ChatPatch) {
	if s.current() {
		s.m.store.PatchChat(patch)
	}
}

// QREvent is the payload of session.qr events.
type QREvent struct {
	Code  string `json:"code"`
	Image string `json:"qr"`
}

func (m *Manager) handleQR(code, image string) {
	m.mu.Lock()
	m.qrCode, m.qrImage = code, image
	m.mu.Unlock()

	if err := m.machine.Transition(status.QRPending); err != nil {
		m.logger.Debug("QR received outside a connection attempt", zap.Error(err))
	}
	m.logger.Info("QR code generated")
	m.bus.Emit(bus.SessionQR, QREvent{Code: code, Image: image})
}

func (m *Manager) handleConnected() {
	now := m.opts.Now()
	m.mu.Lock()
	m.qrCode, m.qrImage = "", ""
	m.connectedAt = &now
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connected); err != nil {
		m.logger.Warn("unexpected connected event", zap.Error(err))
		m.machine.Force(status.Connected)
	}
	m.engine.SetConnected(&now)
	m.logger.Info("WhatsApp connected")
	m.bus.Emit(bus.SessionConnected, nil)
	m.SyncChats()
}

// handleClosed reacts to the end of a client generation. A logout is
// terminal and clears the credentials; anything else schedules a reconnect.
func (m *Manager) handleClosed(gen uint64, loggedOut bool, reason string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	client := m.client
	m.client = nil
	m.gen++
	m.qrCode, m.qrImage = "", ""
	m.connectedAt = nil
	m.mu.Unlock()

	m.engine.SetConnected(nil)

	if loggedOut {
		m.logger.Warn("WhatsApp logged out, pairing required", zap.String("reason", reason))
		if err := m.machine.Transition(status.LoggedOut); err != nil {
			m.machine.Force(status.LoggedOut)
		}
		// Closing from inside a client callback must not block the
		// client's event loop.
		go func() {
			if client != nil {
				_ = client.Close()
			}
			if err := m.opts.ClearAuth(); err != nil {
				m.logger.Error("clear auth failed", zap.Error(err))
			}
		}()
		m.bus.Emit(bus.SessionLoggedOut, map[string]any{"reason": reason})
		return
	}

	m.logger.Info("connection closed, reconnecting",
		zap.String("reason", reason), zap.Duration("delay", m.opts.ReconnectDelay))
	if err := m.machine.Transition(status.Disconnected); err != nil {
		m.machine.Force(status.Disconnected)
	}
	if client != nil {
		go func() { _ = client.Close() }()
	}
	m.metrics.Reconnects.Inc()
	m.bus.Emit(bus.SessionDisconnected, map[string]any{"reason": reason})
	m.schedule(m.opts.ReconnectDelay)
}

func (m *Manager) handleMessage(msg store.Message) {
	if !m.store.RecordMessage(msg) {
		return
	}
	m.metrics.Messages.WithLabelValues("in").Inc()
	m.bus.Emit(bus.MessageReceived, msg)
}

func (m *Manager) handleHistory(chats []store.RawChat) {
	added := 0
	for _, raw := range chats {
		if _, created := m.store.UpsertChatFromEvent(raw); created {
			added++
		}
	}
	m.logger.Info("history chats processed", zap.Int("received", len(chats)), zap.Int("created", added))
	m.SyncChats()
}
