package bus

import "time"

// Kind identifies a domain event. Kinds are namespaced with a dot so
// subscribers can filter by prefix ("session.", "chat.", ...).
type Kind string

const (
	SessionConnecting    Kind = "session.connecting"
	SessionConnected     Kind = "session.connected"
	SessionDisconnected  Kind = "session.disconnected"
	SessionLoggedOut     Kind = "session.logged_out"
	SessionQR            Kind = "session.qr"
	SessionStatusChanged Kind = "session.status_changed"

	MessageReceived   Kind = "message.received"
	MessageSent       Kind = "message.sent"
	MessageSendFailed Kind = "message.send_failed"

	ChatCreated  Kind = "chat.created"
	ChatUpdated  Kind = "chat.updated"
	ChatPresence Kind = "chat.presence"
	ChatsSynced  Kind = "chats.synced"

	ContactSaved   Kind = "contact.saved"
	ContactUpdated Kind = "contact.updated"
	ContactRemoved Kind = "contact.removed"

	BackupCreated  Kind = "backup.created"
	BackupRestored Kind = "backup.restored"
)

// Kinds lists every event kind the daemon publishes.
var Kinds = []Kind{
	SessionConnecting, SessionConnected, SessionDisconnected, SessionLoggedOut, SessionQR, SessionStatusChanged,
	MessageReceived, MessageSent, MessageSendFailed,
	ChatCreated, ChatUpdated, ChatPresence, ChatsSynced,
	ContactSaved, ContactUpdated, ContactRemoved,
	BackupCreated, BackupRestored,
}

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind Kind, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
