package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + outbox)", result.Version)
	}
}

func TestChatUpsertAndList(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{JID: "111@s.whatsapp.net", Name: "Alice", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{JID: "222@s.whatsapp.net", Name: "Bob", LastMessageAt: 2000}); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	// Most recent activity first.
	if chats[0].JID != "222@s.whatsapp.net" {
		t.Errorf("first chat = %s, want 222@s.whatsapp.net", chats[0].JID)
	}
}

func TestChatNameNeverDowngraded(t *testing.T) {
	db := testDB(t)
	jid := "333@s.whatsapp.net"

	// Fallback name first.
	if err := db.UpsertChat(&Chat{JID: jid, Name: "+333", NameFallback: true, LastMessageAt: 1}); err != nil {
		t.Fatal(err)
	}
	// A real name replaces the fallback.
	if err := db.UpsertChat(&Chat{JID: jid, Name: "Carol", LastMessageAt: 2}); err != nil {
		t.Fatal(err)
	}
	// A later fallback must not replace the real name.
	if err := db.UpsertChat(&Chat{JID: jid, Name: "+333", NameFallback: true, LastMessageAt: 3}); err != nil {
		t.Fatal(err)
	}
	// Neither does an empty name.
	if err := db.UpsertChat(&Chat{JID: jid, Name: "", LastMessageAt: 4}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat(jid)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Carol" {
		t.Errorf("name = %q, want Carol", c.Name)
	}
	if c.NameFallback {
		t.Error("name_fallback = true, want false")
	}
	if c.LastMessageAt != 4 {
		t.Errorf("last_message_at = %d, want 4", c.LastMessageAt)
	}
}

func TestChatLastActivityOnlyMovesForward(t *testing.T) {
	db := testDB(t)
	jid := "444@s.whatsapp.net"

	if err := db.UpsertChat(&Chat{JID: jid, Name: "Dan", LastMessageAt: 5000}); err != nil {
		t.Fatal(err)
	}
	// History replay with an older timestamp.
	if err := db.UpsertChat(&Chat{JID: jid, Name: "Dan", LastMessageAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat(jid)
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 5000 {
		t.Errorf("last_message_at = %d, want 5000", c.LastMessageAt)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{JID: "c@s"}); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UnixMilli()
	msg := &Message{MsgID: "m1", ChatJID: "c@s", Sender: "555", Content: "hello", Timestamp: now}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c@s", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("content = %q, want hello", msgs[0].Content)
	}
}

func TestEmptyMessageSkipped(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{JID: "c@s"}); err != nil {
		t.Fatal(err)
	}

	// No content, no media: carries no durable information.
	if err := db.UpsertMessage(&Message{MsgID: "m0", ChatJID: "c@s", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("message count = %d, want 0", count)
	}
}

func TestRetentionBoundary(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{JID: "c@s"}); err != nil {
		t.Fatal(err)
	}

	window := 21 * 24 * time.Hour
	old := time.Now().Add(-window - time.Hour).UnixMilli()
	recent := time.Now().Add(-window + time.Hour).UnixMilli()

	if err := db.UpsertMessage(&Message{MsgID: "old", ChatJID: "c@s", Content: "stale", Timestamp: old}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{MsgID: "new", ChatJID: "c@s", Content: "fresh", Timestamp: recent}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c@s", window, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].MsgID != "new" {
		t.Errorf("returned %q, want the in-window message", msgs[0].MsgID)
	}

	// The old row is excluded, not deleted.
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("message count = %d, want 2", count)
	}

	// Unbounded window returns both, ascending.
	all, err := db.ListMessages("c@s", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].MsgID != "old" {
		t.Errorf("unbounded list = %v, want [old new]", all)
	}
}

func TestMediaMergePrefersCompleteRecord(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{JID: "c@s"}); err != nil {
		t.Fatal(err)
	}

	full := &Message{
		MsgID: "m1", ChatJID: "c@s", Timestamp: 1000,
		Media: MediaInfo{
			MediaType:     "image",
			Filename:      "image_1.jpg",
			URL:           "https://mmg.example.net/v/file.enc",
			MediaKey:      []byte{1, 2},
			FileSHA256:    []byte{3, 4},
			FileEncSHA256: []byte{5, 6},
			FileLength:    42,
		},
	}
	if err := db.UpsertMessage(full); err != nil {
		t.Fatal(err)
	}

	// Degraded replay of the same id: media type only.
	partial := &Message{
		MsgID: "m1", ChatJID: "c@s", Timestamp: 1000,
		Media: MediaInfo{MediaType: "image", Filename: "image_1.jpg"},
	}
	if err := db.UpsertMessage(partial); err != nil {
		t.Fatal(err)
	}

	info, err := db.GetMediaInfo("m1", "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("media info not found")
	}
	if !info.Complete() {
		t.Errorf("descriptor hollowed out by partial replay: %+v", info)
	}
	if info.FileLength != 42 {
		t.Errorf("file_length = %d, want 42", info.FileLength)
	}
}

func TestAttachAndGetMediaInfo(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&Chat{JID: "c@s"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{
		MsgID: "m1", ChatJID: "c@s", Timestamp: 1000,
		Media: MediaInfo{MediaType: "audio", Filename: "note.ogg"},
	}); err != nil {
		t.Fatal(err)
	}

	attach := &MediaInfo{
		URL:           "https://mmg.example.net/v/a.enc",
		MediaKey:      []byte{9},
		FileSHA256:    []byte{8},
		FileEncSHA256: []byte{7},
		FileLength:    100,
	}
	if err := db.AttachMediaInfo("m1", "c@s", attach); err != nil {
		t.Fatal(err)
	}

	info, err := db.GetMediaInfo("m1", "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if info == nil || !info.Complete() {
		t.Fatalf("descriptor not complete after attach: %+v", info)
	}
	if info.MediaType != "audio" || info.Filename != "note.ogg" {
		t.Errorf("kind/filename lost during attach: %+v", info)
	}

	missing, err := db.GetMediaInfo("nope", "c@s")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for unknown message")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "c@s", "hi", ""); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "client1" {
		t.Fatalf("pending = %v, want one entry client1", pending)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}
