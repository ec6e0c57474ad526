package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/outbox"
	"github.com/matheus3301/wppdash/internal/persist"
	"github.com/matheus3301/wppdash/internal/store"
	"go.uber.org/zap"
)

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	To    string `json:"to"`
	Error string `json:"error"`
}

// SendMessage sends a text message and records it in the chat history the
// same way an inbound message is recorded. Failures are published as
// message.send_failed and returned.
func (m *Manager) SendMessage(ctx context.Context, to, body string) (store.Message, error) {
	to = store.NormalizeChatID(to)
	switch {
	case to == "":
		return store.Message{}, store.ErrChatIDRequired
	case strings.TrimSpace(body) == "":
		return store.Message{}, &store.ValidationError{Field: "message", Reason: "required"}
	}

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !m.machine.IsConnected() {
		return store.Message{}, m.sendFailed(to, ErrNotConnected)
	}

	clientID, serverID, err := m.sendLog.Send(ctx, client, to, body)
	if err != nil {
		return store.Message{}, m.sendFailed(to, err)
	}
	m.logger.Info("message sent", zap.String("chat_id", to), zap.String("msg_id", serverID))

	id := serverID
	if id == "" {
		id = clientID
	}
	msg := store.Message{
		ID:        id,
		From:      store.Me,
		To:        to,
		Body:      body,
		Timestamp: m.opts.Now(),
		FromMe:    true,
		IsGroup:   store.IsGroupID(to),
	}
	if chat, ok := m.store.Chat(to); ok {
		msg.ChatName = chat.Name
	}
	m.store.RecordMessage(msg)
	m.store.TouchLastInteraction(to)
	m.metrics.Messages.WithLabelValues("out").Inc()
	m.bus.Emit(bus.MessageSent, msg)
	return msg, nil
}

func (m *Manager) sendFailed(to string, err error) error {
	m.logger.Warn("send message failed", zap.String("chat_id", to), zap.Error(err))
	m.metrics.SendFailures.Inc()
	m.bus.Emit(bus.MessageSendFailed, SendFailure{To: to, Error: err.Error()})
	return err
}

// MarkAsRead sends a read receipt when connected and resets the chat's
// unread counter. Receipt errors are logged only.
func (m *Manager) MarkAsRead(ctx context.Context, chatID, messageID string) bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client != nil && m.machine.IsConnected() && messageID != "" {
		sender := ""
		for _, msg := range m.store.Messages(chatID) {
			if msg.ID == messageID && msg.IsGroup {
				sender = msg.Participant
			}
		}
		if err := client.MarkRead(ctx, chatID, messageID, sender); err != nil {
			m.logger.Warn("mark read failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	return m.store.MarkChatRead(chatID)
}

// SyncChats republishes the current chat list as chats.synced.
func (m *Manager) SyncChats() []store.Chat {
	chats := m.store.Chats()
	m.bus.Emit(bus.ChatsSynced, chats)
	return chats
}

// Chats returns the chats safe to display.
func (m *Manager) Chats() []store.Chat { return m.store.VisibleChats() }

// Messages returns the displayable messages of a chat.
func (m *Manager) Messages(chatID string) []store.Message { return m.store.ReadableMessages(chatID) }

// Contacts returns saved contacts, newest first.
func (m *Manager) Contacts() []store.SavedContact { return m.store.Contacts() }

// Contact returns one saved contact or store.ErrNotFound.
func (m *Manager) Contact(id string) (store.SavedContact, error) {
	c, ok := m.store.Contact(id)
	if !ok {
		return store.SavedContact{}, store.ErrNotFound
	}
	return c, nil
}

// IsContactSaved reports whether id is a saved contact.
func (m *Manager) IsContactSaved(id string) bool { return m.store.IsSaved(id) }

// SaveContact saves a contact, creating a placeholder chat when needed.
func (m *Manager) SaveContact(chatID, name, notes, gender string) (store.SavedContact, error) {
	return m.store.Save(chatID, name, notes, gender)
}

// UpdateContact patches a saved contact or returns store.ErrNotFound.
func (m *Manager) UpdateContact(id string, p store.ContactPatch) (store.SavedContact, error) {
	c, ok := m.store.Update(id, p)
	if !ok {
		return store.SavedContact{}, store.ErrNotFound
	}
	return c, nil
}

// RemoveContact deletes a saved contact.
func (m *Manager) RemoveContact(id string) bool { return m.store.Remove(id) }

// StartChatWithContact makes sure a chat exists for a saved contact.
func (m *Manager) StartChatWithContact(id string) bool { return m.store.StartChat(id) }

// SanitizeChats removes corrupt chats and returns how many were removed.
func (m *Manager) SanitizeChats() int {
	n := m.store.SanitizeChats()
	m.logger.Info("chats sanitized", zap.Int("removed", n))
	return n
}

// ClearChatMessages empties one chat's history.
func (m *Manager) ClearChatMessages(chatID string) int { return m.store.ClearChatMessages(chatID) }

// ClearCorruptedData drops every chat and message from memory. Saved
// contacts are kept.
func (m *Manager) ClearCorruptedData() {
	m.store.ClearAll()
	m.logger.Info("conversation data cleared")
}

// ForceSave flushes every dataset and creates a backup.
func (m *Manager) ForceSave() error { return m.engine.ForceSave() }

// ListBackups returns backup names, newest first.
func (m *Manager) ListBackups() ([]string, error) { return m.engine.ListBackups() }

// RestoreBackup restores a snapshot and reloads the store. It reports
// false when the snapshot does not exist or cannot be copied.
func (m *Manager) RestoreBackup(name string) bool {
	if err := m.engine.RestoreBackup(name); err != nil {
		if !errors.Is(err, persist.ErrBackupNotFound) {
			m.logger.Error("restore backup failed", zap.String("backup", name), zap.Error(err))
		}
		return false
	}
	return true
}

// SendLog returns the most recent send attempts.
func (m *Manager) SendLog(limit int) ([]outbox.Entry, error) {
	entries, err := m.sendLog.Recent(limit)
	if err != nil {
		return nil, fmt.Errorf("read send log: %w", err)
	}
	return entries, nil
}
