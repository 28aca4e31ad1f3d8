package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const testSchema = `
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY,
	id TEXT
);
CREATE TABLE chat (
	ROWID INTEGER PRIMARY KEY,
	style INTEGER,
	display_name TEXT,
	chat_identifier TEXT
);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY,
	date INTEGER,
	handle_id INTEGER,
	text TEXT,
	attributedBody BLOB,
	cache_has_attachments INTEGER,
	is_audio_message INTEGER,
	is_from_me INTEGER,
	thread_originator_guid TEXT
);
CREATE TABLE chat_message_join (
	chat_id INTEGER,
	message_id INTEGER
);
CREATE TABLE attachment (
	ROWID INTEGER PRIMARY KEY,
	filename TEXT,
	mime_type TEXT,
	transfer_name TEXT,
	total_bytes INTEGER
);
CREATE TABLE message_attachment_join (
	message_id INTEGER,
	attachment_id INTEGER
);
`

// setupTestDB creates a fixture chat.db with the message/chat/handle/
// chat_message_join tables the poll query joins across, and returns both a
// writable handle for seeding fixtures and a *Store opened read-only on the
// same file.
func setupTestDB(t *testing.T) (seed *sql.DB, st *Store, cleanup func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	path := filepath.Join(dir, "chat.db")

	seed, err = sql.Open("sqlite3", path)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("open seed db: %v", err)
	}
	if _, err := seed.Exec(testSchema); err != nil {
		os.RemoveAll(dir)
		t.Fatalf("create schema: %v", err)
	}

	st, err = Open(path)
	if err != nil {
		seed.Close()
		os.RemoveAll(dir)
		t.Fatalf("Open: %v", err)
	}

	return seed, st, func() {
		st.Close()
		seed.Close()
		os.RemoveAll(dir)
	}
}

// toMacosDate converts a wall-clock time to the Cocoa-epoch nanosecond value
// the message table stores, the inverse of macosToTime.
func toMacosDate(t time.Time) int64 {
	return (t.Unix() - macosEpochOffset) * 1_000_000_000
}

func insertHandle(t *testing.T, db *sql.DB, rowID int64, phone string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO handle (ROWID, id) VALUES (?, ?)`, rowID, phone); err != nil {
		t.Fatalf("insert handle: %v", err)
	}
}

func insertChat(t *testing.T, db *sql.DB, rowID, style int64, displayName, identifier string) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO chat (ROWID, style, display_name, chat_identifier) VALUES (?, ?, ?, ?)`,
		rowID, style, displayName, identifier); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
}

func joinChat(t *testing.T, db *sql.DB, chatRowID, messageRowID int64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`,
		chatRowID, messageRowID); err != nil {
		t.Fatalf("insert chat_message_join: %v", err)
	}
}

type messageFixture struct {
	rowID          int64
	handleID       int64
	text           string
	hasAttachments bool
	isAudio        bool
	isFromMe       bool
}

func insertMessage(t *testing.T, db *sql.DB, f messageFixture) {
	t.Helper()
	date := toMacosDate(time.Now())
	_, err := db.Exec(`INSERT INTO message
		(ROWID, date, handle_id, text, cache_has_attachments, is_audio_message, is_from_me, thread_originator_guid)
		VALUES (?, ?, ?, ?, ?, ?, ?, '')`,
		f.rowID, date, f.handleID, f.text, boolToInt(f.hasAttachments), boolToInt(f.isAudio), boolToInt(f.isFromMe))
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestPollSinceOneToOneMessage(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	insertHandle(t, seed, 1, "+15551234567")
	insertChat(t, seed, 1, 45, "", "+15551234567")
	insertMessage(t, seed, messageFixture{rowID: 1, handleID: 1, text: "hello there"})
	joinChat(t, seed, 1, 1)

	msgs, err := st.PollSince(0)
	if err != nil {
		t.Fatalf("PollSince: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Text != "hello there" {
		t.Errorf("Text = %q, want %q", m.Text, "hello there")
	}
	if m.IsGroup {
		t.Error("IsGroup = true, want false for a non-group chat.style")
	}
	if m.ChatID != "+15551234567" {
		t.Errorf("ChatID = %q, want %q", m.ChatID, "+15551234567")
	}
}

func TestPollSinceDetectsGroupChat(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	insertHandle(t, seed, 1, "+15551234567")
	insertChat(t, seed, 1, groupChatStyle, "Family Chat", "chat123456")
	insertMessage(t, seed, messageFixture{rowID: 1, handleID: 1, text: "hi everyone"})
	joinChat(t, seed, 1, 1)

	msgs, err := st.PollSince(0)
	if err != nil {
		t.Fatalf("PollSince: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if !m.IsGroup {
		t.Error("IsGroup = false, want true for chat.style == groupChatStyle")
	}
	if m.GroupName != "Family Chat" {
		t.Errorf("GroupName = %q, want %q", m.GroupName, "Family Chat")
	}
	if m.ChatID != "chat123456" {
		t.Errorf("ChatID = %q, want %q", m.ChatID, "chat123456")
	}
}

func TestPollSinceDropsTextlessAttachmentlessRow(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	insertHandle(t, seed, 1, "+15551234567")
	insertChat(t, seed, 1, 45, "", "+15551234567")
	insertMessage(t, seed, messageFixture{rowID: 1, handleID: 1, text: ""})
	joinChat(t, seed, 1, 1)

	msgs, err := st.PollSince(0)
	if err != nil {
		t.Fatalf("PollSince: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("len(msgs) = %d, want 0 (textless, attachmentless row must be dropped)", len(msgs))
	}
}

func TestPollSinceSkipsRowWithNoHandle(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	// No handle row at all, and handle_id points nowhere.
	insertMessage(t, seed, messageFixture{rowID: 1, handleID: 999, text: "orphaned"})

	msgs, err := st.PollSince(0)
	if err != nil {
		t.Fatalf("PollSince: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("len(msgs) = %d, want 0 (row with no resolvable sender phone must be dropped)", len(msgs))
	}
}

// TestPollSinceRepairsRaceOnChatJoin exercises requeryChatJoin: the message
// row is inserted and immediately visible to PollSince before its
// chat_message_join row lands, mimicking the write ordering Messages.app
// itself can produce. PollSince must requery and still resolve chat.style.
func TestPollSinceRepairsRaceOnChatJoin(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	insertHandle(t, seed, 1, "+15551234567")
	insertChat(t, seed, 1, groupChatStyle, "Race Group", "chatrace123")
	insertMessage(t, seed, messageFixture{rowID: 1, handleID: 1, text: "race condition"})

	go func() {
		time.Sleep(chatJoinRequeryDelay / 2)
		joinChat(t, seed, 1, 1)
	}()

	msgs, err := st.PollSince(0)
	if err != nil {
		t.Fatalf("PollSince: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].ChatID != "chatrace123" {
		t.Errorf("ChatID = %q, want %q (requery should have resolved chat_identifier)", msgs[0].ChatID, "chatrace123")
	}
	if !msgs[0].IsGroup {
		t.Error("IsGroup = false, want true (requery should have resolved chat.style)")
	}
}

func TestPollSinceOnlyReturnsRowsAfterCursor(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	insertHandle(t, seed, 1, "+15551234567")
	insertChat(t, seed, 1, 45, "", "+15551234567")
	for i := int64(1); i <= 3; i++ {
		insertMessage(t, seed, messageFixture{rowID: i, handleID: 1, text: fmt.Sprintf("msg %d", i)})
		joinChat(t, seed, 1, i)
	}

	msgs, err := st.PollSince(1)
	if err != nil {
		t.Fatalf("PollSince: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (only ROWID > 1)", len(msgs))
	}
}

func TestLatestRowID(t *testing.T) {
	seed, st, cleanup := setupTestDB(t)
	defer cleanup()

	insertHandle(t, seed, 1, "+15551234567")
	insertChat(t, seed, 1, 45, "", "+15551234567")
	insertMessage(t, seed, messageFixture{rowID: 5, handleID: 1, text: "five"})
	joinChat(t, seed, 1, 5)

	latest, err := st.LatestRowID()
	if err != nil {
		t.Fatalf("LatestRowID: %v", err)
	}
	if latest != 5 {
		t.Errorf("LatestRowID() = %d, want 5", latest)
	}
}
