package wa

import (
	"time"

	"github.com/matheus3301/wppdash/internal/store"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Sink receives protocol events already translated into domain values.
// The session manager implements it.
type Sink interface {
	OnQR(code, image string)
	OnConnected()
	OnClosed(loggedOut bool, reason string)
	OnMessage(msg store.Message)
	OnHistoryChats(chats []store.RawChat)
	OnPresence(chatID string, online bool)
	OnChatPatch(patch store.ChatPatch)
}

// EventHandler translates whatsmeow events for a Sink.
type EventHandler struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewEventHandler creates a new event handler.
func NewEventHandler(sink Sink, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{sink: sink, logger: logger, now: time.Now}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.sink.OnConnected()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.sink.OnClosed(false, "disconnected")
	case *events.StreamReplaced:
		h.logger.Warn("WhatsApp stream replaced by another client")
		h.sink.OnClosed(false, "stream replaced")
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.sink.OnClosed(true, evt.Reason.String())
	case *events.ConnectFailure:
		h.logger.Warn("WhatsApp connect failure",
			zap.String("reason", evt.Reason.String()), zap.String("message", evt.Message))
		h.sink.OnClosed(evt.Reason.IsLoggedOut(), evt.Reason.String())
	case *events.Message:
		h.handleMessage(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.Presence:
		h.sink.OnPresence(evt.From.ToNonAD().String(), !evt.Unavailable)
	case *events.PushName:
		if evt.NewPushName == "" {
			return
		}
		name := evt.NewPushName
		h.sink.OnChatPatch(store.ChatPatch{ID: evt.JID.ToNonAD().String(), Name: &name})
	case *events.MarkChatAsRead:
		if evt.Action == nil || !evt.Action.GetRead() {
			return
		}
		zero := 0
		h.sink.OnChatPatch(store.ChatPatch{ID: evt.JID.ToNonAD().String(), UnreadCount: &zero})
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	msg, ok := ParseLiveMessage(evt, h.now())
	if !ok {
		h.logger.Debug("skipping message without displayable content", zap.String("msg_id", evt.Info.ID))
		return
	}
	h.sink.OnMessage(msg)
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	chats := make([]store.RawChat, 0, len(data.GetConversations()))
	for _, conv := range data.GetConversations() {
		if conv.GetID() == "" {
			continue
		}
		chats = append(chats, rawChatFromConversation(conv))
	}
	h.logger.Info("history sync received", zap.Int("chats", len(chats)))
	h.sink.OnHistoryChats(chats)
}

func rawChatFromConversation(conv *waHistorySync.Conversation) store.RawChat {
	raw := store.RawChat{
		ID:          NormalizeJID(conv.GetID()),
		Name:        conv.GetName(),
		Notify:      conv.GetDisplayName(),
		Timestamp:   int64(conv.GetConversationTimestamp()),
		UnreadCount: int(conv.GetUnreadCount()),
	}

	var newest uint64
	for _, hm := range conv.GetMessages() {
		info := hm.GetMessage()
		if info == nil {
			continue
		}
		body := extractBody(info.GetMessage())
		if body == "" {
			continue
		}
		if ts := info.GetMessageTimestamp(); ts >= newest {
			newest = ts
			raw.LastMessage = body
		}
	}

	for _, p := range conv.GetParticipant() {
		if jid := p.GetUserJID(); jid != "" {
			raw.Participants = append(raw.Participants, NormalizeJID(jid))
		}
	}
	if raw.Timestamp == 0 && newest > 0 {
		raw.Timestamp = int64(newest)
	}
	return raw
}
