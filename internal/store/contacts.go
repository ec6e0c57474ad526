package store

import (
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/sanitize"
	"go.uber.org/zap"
)

// Save creates (or replaces) a saved contact for chatID. Defaults come from
// the existing chat; without one a name is required and a placeholder chat
// is synthesized so the conversation can be opened right away.
func (s *Store) Save(chatID, name, notes, gender string) (SavedContact, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return SavedContact{}, ErrChatIDRequired
	}
	name = strings.TrimSpace(name)
	now := s.now()

	var (
		events      []bus.Event
		chatCreated bool
	)

	s.mu.Lock()
	entry, hasChat := s.chats[chatID]
	if !hasChat && name == "" {
		s.mu.Unlock()
		return SavedContact{}, ErrNameRequired
	}

	contact := SavedContact{
		ID:        chatID,
		Name:      name,
		Phone:     FormatPhone(chatID),
		DateAdded: now,
		Notes:     notes,
		Gender:    gender,
	}
	if hasChat {
		if contact.Name == "" {
			contact.Name = entry.Name
		}
		if entry.Phone != "" {
			contact.Phone = entry.Phone
		}
		contact.Avatar = entry.Avatar
	} else {
		chat := s.placeholderLocked(chatID, contact.Name, now)
		chatCreated = true
		events = append(events, bus.NewEvent(bus.ChatCreated, chat))
	}
	s.contacts[chatID] = &contact
	events = append(events, bus.NewEvent(bus.ContactSaved, contact))
	s.mu.Unlock()

	s.logger.Info("contact saved", zap.String("contact_id", chatID), zap.Bool("new_chat", chatCreated))
	s.tracker.MarkDirty(Contacts, Chats)
	s.tracker.Persist(Contacts)
	s.emit(events)
	return contact, nil
}

// Update merge-patches a saved contact. Reports false when it is unknown.
func (s *Store) Update(contactID string, p ContactPatch) (SavedContact, bool) {
	s.mu.Lock()
	c, ok := s.contacts[contactID]
	if !ok {
		s.mu.Unlock()
		return SavedContact{}, false
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.Avatar != nil {
		c.Avatar = *p.Avatar
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.Gender != nil {
		c.Gender = *p.Gender
	}
	updated := cloneContact(*c)
	s.mu.Unlock()

	s.tracker.MarkDirty(Contacts)
	s.tracker.Persist(Contacts)
	s.bus.Emit(bus.ContactUpdated, updated)
	return updated, true
}

// Remove deletes a saved contact. The chat, if any, is left alone.
func (s *Store) Remove(contactID string) bool {
	s.mu.Lock()
	_, ok := s.contacts[contactID]
	delete(s.contacts, contactID)
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.tracker.MarkDirty(Contacts)
	s.tracker.Persist(Contacts)
	s.bus.Emit(bus.ContactRemoved, map[string]string{"id": contactID})
	return true
}

// TouchLastInteraction stamps the contact's last interaction with now. The
// change is flushed on the next cycle only.
func (s *Store) TouchLastInteraction(contactID string) bool {
	now := s.now()
	s.mu.Lock()
	c, ok := s.contacts[contactID]
	if ok {
		c.LastInteraction = &now
	}
	s.mu.Unlock()
	if ok {
		s.tracker.MarkDirty(Contacts)
	}
	return ok
}

// StartChat touches the contact and makes sure a chat exists for it.
func (s *Store) StartChat(contactID string) bool {
	if !s.TouchLastInteraction(contactID) {
		return false
	}

	s.mu.Lock()
	var created *Chat
	if _, ok := s.chats[contactID]; !ok {
		name := contactID
		if c, ok := s.contacts[contactID]; ok && c.Name != "" {
			name = c.Name
		}
		chat := s.placeholderLocked(contactID, name, s.now())
		created = &chat
	}
	s.mu.Unlock()

	if created != nil {
		s.tracker.MarkDirty(Chats)
		s.bus.Emit(bus.ChatCreated, *created)
	}
	return true
}

// Contacts returns every saved contact, most recently added first.
func (s *Store) Contacts() []SavedContact {
	s.mu.RLock()
	out := make([]SavedContact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, cloneContact(*c))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b SavedContact) int {
		if c := b.DateAdded.Compare(a.DateAdded); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Contact returns one saved contact.
func (s *Store) Contact(contactID string) (SavedContact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return SavedContact{}, false
	}
	return cloneContact(*c), true
}

// IsSaved reports whether contactID has a saved contact.
func (s *Store) IsSaved(contactID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contacts[contactID]
	return ok
}

// placeholderLocked creates an empty chat for an address nobody has talked
// to yet. Caller must hold s.mu.
func (s *Store) placeholderLocked(chatID, name string, now time.Time) Chat {
	chat := Chat{
		ID:              chatID,
		Name:            chatName(name, chatID),
		Phone:           FormatPhone(chatID),
		IsGroup:         IsGroupID(chatID),
		LastMessageTime: sanitize.FormatClock(now),
	}
	if chat.IsGroup {
		chat.Participants = []string{}
	}
	s.insertChatLocked(chat)
	return chat
}

func cloneContact(c SavedContact) SavedContact {
	if c.LastInteraction != nil {
		t := *c.LastInteraction
		c.LastInteraction = &t
	}
	return c
}
