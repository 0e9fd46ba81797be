package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized inbound message ready for the chat engine.
type ParsedMessage struct {
	Peer      string
	StanzaID  string
	Sender    string
	Resource  string
	Body      string
	FromMe    bool
	Timestamp time.Time
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		Peer:      evt.Info.Chat.ToNonAD().String(),
		StanzaID:  evt.Info.ID,
		Sender:    evt.Info.Sender.ToNonAD().String(),
		Resource:  evt.Info.PushName,
		Body:      messageBody(evt.Message),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}
}

// NormalizeJID strips device/agent suffixes so that history sync and live
// messages resolve to the same peer. Unparseable input is returned as-is.
func NormalizeJID(jid string) string {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return jid
	}
	return parsed.ToNonAD().String()
}

// messageBody returns the displayable body: real text when present, an
// attachment placeholder otherwise.
func messageBody(msg *waE2E.Message) string {
	if text := extractTextBody(msg); text != "" {
		return text
	}
	return attachmentLabel(msg)
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func attachmentLabel(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetImageMessage() != nil:
		return "[image]"
	case msg.GetVideoMessage() != nil:
		return "[video]"
	case msg.GetAudioMessage() != nil:
		return "[audio]"
	case msg.GetDocumentMessage() != nil:
		return "[document]"
	case msg.GetStickerMessage() != nil:
		return "[sticker]"
	case msg.GetContactMessage() != nil:
		return "[contact]"
	case msg.GetLocationMessage() != nil:
		return "[location]"
	default:
		return ""
	}
}
