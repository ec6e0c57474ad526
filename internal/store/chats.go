package store

import (
	"slices"
	"strings"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/sanitize"
	"go.uber.org/zap"
)

const statusBroadcast = "status@broadcast"

// UpsertChatFromEvent adds a chat delivered by history sync. Existing chats
// are never overwritten: after the first write only live messages update a
// chat. Records whose name or time carry the invalid-date sentinel are
// rejected. Reports whether the chat was added.
func (s *Store) UpsertChatFromEvent(raw RawChat) (Chat, bool) {
	if raw.ID == "" || strings.Contains(raw.ID, statusBroadcast) {
		return Chat{}, false
	}

	now := s.now()
	ts := now
	if raw.Timestamp != 0 {
		var ok bool
		ts, ok = sanitize.Timestamp(raw.Timestamp, now)
		if !ok {
			s.logger.Debug("chat timestamp replaced with now",
				zap.String("chat_id", raw.ID), zap.Int64("raw", raw.Timestamp))
		}
	}
	clock := sanitize.FormatClock(ts)

	name := firstNonEmpty(raw.Name, raw.Notify, DisplayName(raw.ID))
	if sanitize.Corrupt(name, clock) {
		s.logger.Warn("rejecting synced chat with invalid date",
			zap.String("chat_id", raw.ID), zap.String("name", name), zap.String("time", clock))
		return Chat{}, false
	}

	chat := Chat{
		ID:              raw.ID,
		Name:            name,
		Phone:           FormatPhone(raw.ID),
		IsGroup:         IsGroupID(raw.ID),
		LastMessage:     firstNonEmpty(raw.LastMessage, "New conversation"),
		LastMessageTime: clock,
		UnreadCount:     max(raw.UnreadCount, 0),
	}
	if chat.IsGroup {
		chat.Participants = slices.Clone(raw.Participants)
		if chat.Participants == nil {
			chat.Participants = []string{}
		}
	}

	s.mu.Lock()
	if _, exists := s.chats[raw.ID]; exists {
		s.mu.Unlock()
		return Chat{}, false
	}
	s.insertChatLocked(chat)
	s.mu.Unlock()

	s.tracker.MarkDirty(Chats)
	s.bus.Emit(bus.ChatCreated, chat)
	return chat, true
}

// RecordMessage stores a message under its owning chat, dropping duplicates.
// A message is a duplicate of a stored one when the ids match, or when the
// bodies match and the timestamps are closer than the dedup window. Stored
// messages update the chat summary, or create it when the chat is unknown;
// this is the only path that creates chats from live traffic. Reports
// whether the message was stored.
func (s *Store) RecordMessage(msg Message) bool {
	chatID := msg.ChatID()
	if chatID == "" || chatID == Me {
		s.logger.Warn("dropping message without chat address", zap.String("msg_id", msg.ID))
		return false
	}
	msg.Timestamp, _ = sanitize.Time(msg.Timestamp, s.now())

	var (
		events      []bus.Event
		created     bool
		persistMsgs bool
	)

	s.mu.Lock()
	list := s.messages[chatID]
	if s.isDuplicateLocked(list, msg) {
		s.mu.Unlock()
		s.logger.Debug("duplicate message ignored", zap.String("chat_id", chatID), zap.String("msg_id", msg.ID))
		return false
	}
	list = append(list, msg)
	s.messages[chatID] = list
	n := len(list)
	persistMsgs = n == 1 || n%5 == 0

	clock := sanitize.FormatClock(msg.Timestamp)
	if entry, ok := s.chats[chatID]; ok {
		entry.LastMessage = msg.Body
		entry.LastMessageTime = clock
		if !msg.FromMe {
			entry.UnreadCount++
		}
		events = append(events, bus.NewEvent(bus.ChatUpdated, cloneChat(entry.Chat)))
	} else {
		chat := Chat{
			ID:              chatID,
			Name:            chatName(msg.ChatName, chatID),
			Phone:           FormatPhone(chatID),
			IsGroup:         msg.IsGroup || IsGroupID(chatID),
			LastMessage:     msg.Body,
			LastMessageTime: clock,
		}
		if !msg.FromMe {
			chat.UnreadCount = 1
		}
		if chat.IsGroup {
			chat.Participants = []string{}
		}
		s.insertChatLocked(chat)
		created = true
		events = append(events, bus.NewEvent(bus.ChatCreated, cloneChat(chat)))
	}
	s.mu.Unlock()

	s.tracker.MarkDirty(Messages, Chats)
	if persistMsgs {
		s.tracker.Persist(Messages)
	}
	if created {
		s.tracker.Persist(Chats)
	}
	s.emit(events)
	return true
}

func (s *Store) isDuplicateLocked(list []Message, msg Message) bool {
	for _, existing := range list {
		if msg.ID != "" && existing.ID == msg.ID {
			return true
		}
		if existing.Body == msg.Body {
			d := existing.Timestamp.Sub(msg.Timestamp)
			if d < 0 {
				d = -d
			}
			if d < s.dedupWindow {
				return true
			}
		}
	}
	return false
}

// Messages returns the chat's messages in arrival order. Unknown chats
// yield an empty slice.
func (s *Store) Messages(chatID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.messages[chatID])
	if out == nil {
		out = []Message{}
	}
	return out
}

// ReadableMessages returns Messages filtered to entries fit for display.
func (s *Store) ReadableMessages(chatID string) []Message {
	all := s.Messages(chatID)
	out := all[:0]
	for _, m := range all {
		if m.Readable() {
			out = append(out, m)
		}
	}
	return out
}

// Chat returns a single chat.
func (s *Store) Chat(chatID string) (Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.chats[chatID]
	if !ok {
		return Chat{}, false
	}
	return cloneChat(entry.Chat), true
}

// Chats returns every chat in creation order.
func (s *Store) Chats() []Chat {
	s.mu.RLock()
	entries := make([]*chatEntry, 0, len(s.chats))
	for _, e := range s.chats {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *chatEntry) int { return int(a.seq) - int(b.seq) })
	out := make([]Chat, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneChat(e.Chat))
	}
	s.mu.RUnlock()
	return out
}

// VisibleChats returns Chats without records carrying the invalid-date
// sentinel, which may still be present in legacy persisted data.
func (s *Store) VisibleChats() []Chat {
	all := s.Chats()
	out := all[:0]
	for _, c := range all {
		if sanitize.Corrupt(c.Name, c.LastMessageTime) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SanitizeChats deletes every chat (and its messages) whose name or time
// carries the invalid-date sentinel. Returns the number removed.
func (s *Store) SanitizeChats() int {
	s.mu.Lock()
	removed := 0
	for id, entry := range s.chats {
		if sanitize.Corrupt(entry.Name, entry.LastMessageTime) {
			s.logger.Info("removing corrupted chat",
				zap.String("chat_id", id), zap.String("name", entry.Name), zap.String("time", entry.LastMessageTime))
			delete(s.chats, id)
			delete(s.messages, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.tracker.MarkDirty(Chats, Messages)
	}
	return removed
}

// ClearChatMessages empties one chat's message list, keeping the chat.
// Returns how many messages were dropped.
func (s *Store) ClearChatMessages(chatID string) int {
	s.mu.Lock()
	n := len(s.messages[chatID])
	if _, ok := s.messages[chatID]; ok {
		s.messages[chatID] = []Message{}
	}
	s.mu.Unlock()

	if n > 0 {
		s.tracker.MarkDirty(Messages)
	}
	return n
}

// ClearAll drops every chat and message from memory. Disk is rewritten on
// the next flush.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.chats = make(map[string]*chatEntry)
	s.messages = make(map[string][]Message)
	s.mu.Unlock()
	s.tracker.MarkDirty(Chats, Messages)
}

// UpdatePresence records best-effort online state for a known chat.
func (s *Store) UpdatePresence(chatID string, online bool) bool {
	s.mu.Lock()
	entry, ok := s.chats[chatID]
	if ok {
		entry.IsOnline = online
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.tracker.MarkDirty(Chats)
	s.bus.Emit(bus.ChatPresence, Presence{ChatID: chatID, IsOnline: online})
	return true
}

// PatchChat applies protocol-side metadata changes to a known chat.
func (s *Store) PatchChat(p ChatPatch) bool {
	s.mu.Lock()
	entry, ok := s.chats[p.ID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if p.Name != nil && *p.Name != "" && !sanitize.InvalidName(*p.Name) {
		entry.Name = *p.Name
	}
	if p.UnreadCount != nil {
		entry.UnreadCount = max(*p.UnreadCount, 0)
	}
	chat := cloneChat(entry.Chat)
	s.mu.Unlock()

	s.tracker.MarkDirty(Chats)
	s.bus.Emit(bus.ChatUpdated, chat)
	return true
}

// MarkChatRead resets a chat's unread counter.
func (s *Store) MarkChatRead(chatID string) bool {
	zero := 0
	return s.PatchChat(ChatPatch{ID: chatID, UnreadCount: &zero})
}

func cloneChat(c Chat) Chat {
	c.Participants = slices.Clone(c.Participants)
	return c
}

// chatName returns name unless it is blank or carries the invalid-date
// sentinel, in which case the address-derived name is used.
func chatName(name, chatID string) string {
	if strings.TrimSpace(name) == "" || sanitize.InvalidName(name) {
		return DisplayName(chatID)
	}
	return name
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
