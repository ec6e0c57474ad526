package store

import (
	"strings"
	"time"
)

// Me is the local identity sentinel used in Message.From / Message.To.
const Me = "me"

// Chat is the conversation-level summary keyed by chat address.
type Chat struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Phone           string   `json:"phone"`
	IsGroup         bool     `json:"isGroup"`
	LastMessage     string   `json:"lastMessage"`
	LastMessageTime string   `json:"lastMessageTime"`
	UnreadCount     int      `json:"unreadCount"`
	IsOnline        bool     `json:"isOnline"`
	Avatar          string   `json:"avatar,omitempty"`
	Participants    []string `json:"participants,omitempty"`
}

// Message is a single text message stored under its owning chat.
type Message struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Body        string    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
	FromMe      bool      `json:"fromMe"`
	IsGroup     bool      `json:"isGroup"`
	Participant string    `json:"participant,omitempty"`
	ChatName    string    `json:"chatName,omitempty"`
}

// ChatID returns the address of the chat that owns the message.
func (m Message) ChatID() string {
	if m.FromMe {
		return m.To
	}
	return m.From
}

// Readable reports whether the message is fit for display.
func (m Message) Readable() bool {
	return strings.TrimSpace(m.Body) != "" && !m.Timestamp.IsZero()
}

// SavedContact is a durable, user-curated contact. Its ID is the chat
// address of the conversation it was saved from.
type SavedContact struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Avatar          string     `json:"avatar,omitempty"`
	DateAdded       time.Time  `json:"dateAdded"`
	LastInteraction *time.Time `json:"lastInteraction,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Gender          string     `json:"gender,omitempty"`
}

// ContactPatch carries the fields of a merge-patch update. Nil fields are
// left untouched.
type ContactPatch struct {
	Name   *string `json:"name,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Notes  *string `json:"notes,omitempty"`
	Gender *string `json:"gender,omitempty"`
}

// RawChat is a chat as delivered by the protocol client's history sync.
// Timestamp is the raw protocol value (seconds or milliseconds).
type RawChat struct {
	ID           string
	Name         string
	Notify       string
	Timestamp    int64
	LastMessage  string
	UnreadCount  int
	Participants []string
}

// ChatPatch carries protocol-side chat metadata changes.
type ChatPatch struct {
	ID          string
	Name        *string
	UnreadCount *int
}

// Presence is the payload of presence events.
type Presence struct {
	ChatID   string `json:"chatId"`
	IsOnline bool   `json:"isOnline"`
}

// Dataset identifies one of the independently persisted stores.
type Dataset int

const (
	Contacts Dataset = iota
	Chats
	Messages
	Config
)

// Datasets lists every dataset in flush order.
var Datasets = []Dataset{Contacts, Chats, Messages, Config}

func (d Dataset) String() string {
	switch d {
	case Contacts:
		return "contacts"
	case Chats:
		return "chats"
	case Messages:
		return "messages"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Tracker receives change notifications from the store. MarkDirty records
// that a dataset has unflushed changes; Persist asks for an immediate flush.
// The store never writes to disk itself.
type Tracker interface {
	MarkDirty(ds ...Dataset)
	Persist(ds ...Dataset)
}

type nopTracker struct{}

func (nopTracker) MarkDirty(...Dataset) {}
func (nopTracker) Persist(...Dataset)   {}
