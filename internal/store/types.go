package store

// Chat represents a conversation, individual or group. The JID is
// network-assigned and immutable; the name may be refined over time.
type Chat struct {
	JID           string
	Name          string
	NameFallback  bool
	LastMessageAt int64
}

// Message represents a single inbound or outbound event. The pair
// (MsgID, ChatJID) is the primary key.
type Message struct {
	MsgID     string
	ChatJID   string
	Sender    string
	Content   string
	Timestamp int64
	FromMe    bool
	Media     MediaInfo
}

// MediaInfo is the descriptor needed to fetch and decrypt an
// attachment. All five of URL, MediaKey, FileSHA256, FileEncSHA256 and
// FileLength must be present for the descriptor to be downloadable.
type MediaInfo struct {
	MediaType     string
	Filename      string
	URL           string
	MediaKey      []byte
	FileSHA256    []byte
	FileEncSHA256 []byte
	FileLength    uint64
}

// Complete reports whether the descriptor can be resolved to bytes.
func (m *MediaInfo) Complete() bool {
	return m.URL != "" &&
		len(m.MediaKey) > 0 &&
		len(m.FileSHA256) > 0 &&
		len(m.FileEncSHA256) > 0 &&
		m.FileLength > 0
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatJID      string
	Body         string
	MediaPath    string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
