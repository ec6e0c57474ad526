package wa

import (
	"time"

	"github.com/matheus3301/wppdash/internal/sanitize"
	"github.com/matheus3301/wppdash/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// MediaPlaceholder is the body stored for media without a caption.
const MediaPlaceholder = "[Media]"

// NormalizeJID strips the device part of an address. Unparseable input is
// returned unchanged.
func NormalizeJID(raw string) string {
	jid, err := types.ParseJID(raw)
	if err != nil || jid.IsEmpty() {
		return raw
	}
	return jid.ToNonAD().String()
}

// ParseLiveMessage converts a live message event into a store message.
// It reports false for events that carry nothing displayable: status
// broadcasts, protocol messages and reactions.
func ParseLiveMessage(evt *events.Message, now time.Time) (store.Message, bool) {
	if evt == nil || evt.Message == nil {
		return store.Message{}, false
	}
	chat := evt.Info.Chat.ToNonAD()
	if chat.IsEmpty() || chat == types.StatusBroadcastJID || chat.Server == types.BroadcastServer {
		return store.Message{}, false
	}
	body := extractBody(evt.Message)
	if body == "" {
		return store.Message{}, false
	}

	ts, _ := sanitize.Time(evt.Info.Timestamp, now)
	msg := store.Message{
		ID:        evt.Info.ID,
		Body:      body,
		Timestamp: ts,
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
	}
	if msg.FromMe {
		msg.From, msg.To = store.Me, chat.String()
	} else {
		msg.From, msg.To = chat.String(), store.Me
		if !msg.IsGroup {
			msg.ChatName = evt.Info.PushName
		}
	}
	if msg.IsGroup && !msg.FromMe {
		msg.Participant = evt.Info.Sender.ToNonAD().String()
	}
	return msg, true
}

// extractBody returns the text of a message, its caption, or the media
// placeholder. Messages that are neither text nor media yield "".
func extractBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText()
	}
	if c := msg.GetImageMessage().GetCaption(); c != "" {
		return c
	}
	if c := msg.GetVideoMessage().GetCaption(); c != "" {
		return c
	}
	if c := msg.GetDocumentMessage().GetCaption(); c != "" {
		return c
	}
	if detectMessageType(msg) == "unknown" {
		return ""
	}
	return MediaPlaceholder
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
