package wa

import (
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jmadeira/wabridge/internal/store"
)

// ParsedMessage is the transport-independent form of a single message,
// shared by the live event path and history sync ingestion.
type ParsedMessage struct {
	Chat      types.JID
	MsgID     string
	Sender    string
	PushName  string
	Content   string
	Timestamp int64
	FromMe    bool
	Media     store.MediaInfo
}

// HistoryConversation is one chat's slice of a history sync blob.
type HistoryConversation struct {
	Chat        types.JID
	DisplayName string
	Messages    []*ParsedMessage
}

// HistoryBatch is a parsed history sync payload. Skipped counts
// conversations and messages dropped for missing identifiers.
type HistoryBatch struct {
	Conversations []*HistoryConversation
	Skipped       int
}

// ParseLiveMessage converts a live message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return &ParsedMessage{
		Chat:      evt.Info.Chat.ToNonAD(),
		MsgID:     evt.Info.ID,
		Sender:    evt.Info.Sender.User,
		PushName:  evt.Info.PushName,
		Content:   extractText(evt.Message),
		Timestamp: evt.Info.Timestamp.UnixMilli(),
		FromMe:    evt.Info.IsFromMe,
		Media:     extractMediaInfo(evt.Message, evt.Info.Timestamp),
	}
}

// ParseHistoryBatch converts a history sync event. ownUser is the
// phone-number part of our own JID, used as the sender for messages we
// sent from other devices.
func ParseHistoryBatch(evt *events.HistorySync, ownUser string) *HistoryBatch {
	batch := &HistoryBatch{}
	for _, conv := range evt.Data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil || chat.User == "" {
			batch.Skipped++
			continue
		}
		// Device-suffix JIDs would split one chat into several.
		chat = chat.ToNonAD()
		parsed := &HistoryConversation{
			Chat:        chat,
			DisplayName: historyDisplayName(conv),
		}
		for _, hmsg := range conv.GetMessages() {
			msg := parseHistoryMessage(hmsg, chat, ownUser)
			if msg == nil {
				batch.Skipped++
				continue
			}
			parsed.Messages = append(parsed.Messages, msg)
		}
		batch.Conversations = append(batch.Conversations, parsed)
	}
	return batch
}

func historyDisplayName(conv *waHistorySync.Conversation) string {
	if name := conv.GetDisplayName(); name != "" {
		return name
	}
	return conv.GetName()
}

func parseHistoryMessage(hmsg *waHistorySync.HistorySyncMsg, chat types.JID, ownUser string) *ParsedMessage {
	info := hmsg.GetMessage()
	if info == nil || info.GetKey().GetID() == "" {
		return nil
	}

	fromMe := info.GetKey().GetFromMe()
	sender := chat.User
	if fromMe {
		sender = ownUser
	} else if part := info.GetKey().GetParticipant(); part != "" {
		if pj, err := types.ParseJID(part); err == nil {
			sender = pj.User
		}
	}

	ts := time.Unix(int64(info.GetMessageTimestamp()), 0)
	return &ParsedMessage{
		Chat:      chat,
		MsgID:     info.GetKey().GetID(),
		Sender:    sender,
		Content:   extractText(info.GetMessage()),
		Timestamp: ts.UnixMilli(),
		FromMe:    fromMe,
		Media:     extractMediaInfo(info.GetMessage(), ts),
	}
}

// extractText pulls the plain text body out of the message envelope.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// extractMediaInfo pulls the attachment descriptor out of the message
// envelope, if any. The filename is synthesized from the message time
// except for documents, which carry their own.
func extractMediaInfo(msg *waE2E.Message, ts time.Time) store.MediaInfo {
	if msg == nil {
		return store.MediaInfo{}
	}
	stamp := ts.Format("20060102_150405")

	if img := msg.GetImageMessage(); img != nil {
		return store.MediaInfo{
			MediaType:     "image",
			Filename:      fmt.Sprintf("image_%s.jpg", stamp),
			URL:           img.GetURL(),
			MediaKey:      img.GetMediaKey(),
			FileSHA256:    img.GetFileSHA256(),
			FileEncSHA256: img.GetFileEncSHA256(),
			FileLength:    img.GetFileLength(),
		}
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return store.MediaInfo{
			MediaType:     "video",
			Filename:      fmt.Sprintf("video_%s.mp4", stamp),
			URL:           vid.GetURL(),
			MediaKey:      vid.GetMediaKey(),
			FileSHA256:    vid.GetFileSHA256(),
			FileEncSHA256: vid.GetFileEncSHA256(),
			FileLength:    vid.GetFileLength(),
		}
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return store.MediaInfo{
			MediaType:     "audio",
			Filename:      fmt.Sprintf("audio_%s.ogg", stamp),
			URL:           aud.GetURL(),
			MediaKey:      aud.GetMediaKey(),
			FileSHA256:    aud.GetFileSHA256(),
			FileEncSHA256: aud.GetFileEncSHA256(),
			FileLength:    aud.GetFileLength(),
		}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		filename := doc.GetFileName()
		if filename == "" {
			filename = fmt.Sprintf("document_%s", stamp)
		}
		return store.MediaInfo{
			MediaType:     "document",
			Filename:      filename,
			URL:           doc.GetURL(),
			MediaKey:      doc.GetMediaKey(),
			FileSHA256:    doc.GetFileSHA256(),
			FileEncSHA256: doc.GetFileEncSHA256(),
			FileLength:    doc.GetFileLength(),
		}
	}
	return store.MediaInfo{}
}
