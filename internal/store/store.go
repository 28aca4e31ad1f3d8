// Package store reads messages out of the Messages.app SQLite database
// (~/Library/Messages/chat.db) without ever writing to it. The connection is
// opened read-only and with SQLite's mutex disabled, since this process
// only ever issues one query at a time and Messages.app itself owns the
// write path.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/smsd/internal/blob"
	"github.com/vthunder/smsd/internal/logging"
	"github.com/vthunder/smsd/internal/types"
)

// macOS Core Data stores timestamps as nanoseconds since 2001-01-01, the
// "Cocoa epoch". macosEpochOffset converts that to a Unix epoch offset.
const macosEpochOffset = 978307200

// groupChatStyle is the chat.style value Messages.app uses for group chats.
const groupChatStyle = 43

// chatJoinRequeryDelay is how long to wait before re-querying a row whose
// chat join hadn't committed yet when first read. chat_message_join is
// usually populated within single-digit milliseconds of the message insert,
// but not always before our poll fires.
const chatJoinRequeryDelay = 50 * time.Millisecond

// Store wraps a read-only handle onto the Messages.app database.
type Store struct {
	db *sql.DB
}

// Open connects to the chat.db at path in read-only, no-mutex mode.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_mutex=no&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping message store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LatestRowID returns the highest message ROWID currently in the store, for
// seeding an initial poll cursor so the daemon never replays history on
// first start.
func (s *Store) LatestRowID() (int64, error) {
	var rowID sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(ROWID) FROM message`).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("latest rowid: %w", err)
	}
	return rowID.Int64, nil
}

const pollQuery = `
SELECT message.ROWID, message.date, handle.id as phone, message.text,
       message.attributedBody, message.cache_has_attachments,
       message.is_audio_message, message.is_from_me, chat.style,
       chat.display_name, chat.chat_identifier, message.thread_originator_guid
FROM message
LEFT JOIN handle ON message.handle_id = handle.ROWID
LEFT JOIN chat_message_join ON message.ROWID = chat_message_join.message_id
LEFT JOIN chat ON chat_message_join.chat_id = chat.ROWID
WHERE message.ROWID > ?
ORDER BY message.date ASC
`

const requeryChatQuery = `
SELECT chat.style, chat.display_name, chat.chat_identifier
FROM message
LEFT JOIN chat_message_join ON message.ROWID = chat_message_join.message_id
LEFT JOIN chat ON chat_message_join.chat_id = chat.ROWID
WHERE message.ROWID = ?
`

type rawRow struct {
	rowID                int64
	date                 int64
	phone                sql.NullString
	text                 sql.NullString
	attributedBody       []byte
	hasAttachments       bool
	isAudioMessage       bool
	isFromMe             bool
	chatStyle            sql.NullInt64
	chatDisplayName      sql.NullString
	chatIdentifier       sql.NullString
	threadOriginatorGUID sql.NullString
}

// PollSince returns every message with ROWID > sinceRowID, in ascending
// date order. Rows with no sender phone, and rows with no resolvable text,
// audio transcription, or attachments, are silently skipped. Skipped rows
// are not returned, so their ROWIDs never reach the caller: they are read
// (and skipped) again on each later poll until a returned message with a
// higher ROWID moves the caller's cursor past them. The caller advances its
// cursor over every returned message, including ones it chooses not to act
// on.
func (s *Store) PollSince(sinceRowID int64) ([]types.Message, error) {
	rows, err := s.db.Query(pollQuery, sinceRowID)
	if err != nil {
		return nil, fmt.Errorf("poll messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var r rawRow
		if err := rows.Scan(&r.rowID, &r.date, &r.phone, &r.text, &r.attributedBody,
			&r.hasAttachments, &r.isAudioMessage, &r.isFromMe, &r.chatStyle,
			&r.chatDisplayName, &r.chatIdentifier, &r.threadOriginatorGUID); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		if !r.phone.Valid || r.phone.String == "" {
			continue
		}

		if !r.chatStyle.Valid {
			s.requeryChatJoin(&r)
		}

		msg, ok := s.buildMessage(r)
		if !ok {
			continue
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// requeryChatJoin repairs a race: chat_message_join can still be uncommitted
// when we first read a freshly-inserted message row, leaving chat.style
// NULL. Sleeping briefly and re-reading just the chat columns resolves it in
// the overwhelming majority of cases; any remaining failure just leaves the
// original NULL values in place.
func (s *Store) requeryChatJoin(r *rawRow) {
	time.Sleep(chatJoinRequeryDelay)

	var style sql.NullInt64
	var displayName, chatIdentifier sql.NullString
	err := s.db.QueryRow(requeryChatQuery, r.rowID).Scan(&style, &displayName, &chatIdentifier)
	switch {
	case err == sql.ErrNoRows:
		logging.Debug("store", "requery rowid=%d: no chat row found", r.rowID)
	case err != nil:
		logging.Debug("store", "requery rowid=%d failed: %v", r.rowID, err)
	case !style.Valid:
		logging.Debug("store", "requery rowid=%d: chat.style still null", r.rowID)
	default:
		logging.Debug("store", "requery rowid=%d: resolved chat.style=%d", r.rowID, style.Int64)
		r.chatStyle = style
		r.chatDisplayName = displayName
		r.chatIdentifier = chatIdentifier
	}
}

func (s *Store) buildMessage(r rawRow) (types.Message, bool) {
	text, audioTranscription := resolveText(r)
	if text == "" && audioTranscription == "" && !r.hasAttachments {
		return types.Message{}, false
	}

	isGroup := r.chatStyle.Valid && r.chatStyle.Int64 == groupChatStyle

	chatID := r.phone.String
	if r.chatIdentifier.Valid && r.chatIdentifier.String != "" {
		chatID = r.chatIdentifier.String
	}

	groupName := ""
	if isGroup && r.chatDisplayName.Valid {
		groupName = r.chatDisplayName.String
	}

	var attachments []types.Attachment
	if r.hasAttachments {
		var err error
		attachments, err = s.attachmentsForMessage(r.rowID)
		if err != nil {
			logging.Info("store", "rowid=%d: attachment lookup failed: %v", r.rowID, err)
		}
	}

	return types.Message{
		RowID:                r.rowID,
		Timestamp:            macosToTime(r.date),
		Sender:               r.phone.String,
		Text:                 text,
		ChatID:               chatID,
		IsFromMe:             r.isFromMe,
		IsGroup:              isGroup,
		IsAudioMessage:       r.isAudioMessage,
		GroupName:            groupName,
		AudioTranscription:   audioTranscription,
		ThreadOriginatorGUID: r.threadOriginatorGUID.String,
		Attachments:          attachments,
	}, true
}

// resolveText prefers the plaintext column; the placeholder U+FFFC ("object
// replacement character") means the real text lives only in the
// attributedBody blob, same as an empty/absent plaintext column.
func resolveText(r rawRow) (text string, audioTranscription string) {
	if r.text.Valid && r.text.String != "" && r.text.String != "￼" {
		return r.text.String, ""
	}
	if len(r.attributedBody) > 0 {
		return blob.Decode(r.attributedBody)
	}
	return "", ""
}

const attachmentsQuery = `
SELECT attachment.filename, attachment.mime_type, attachment.transfer_name, attachment.total_bytes
FROM attachment
JOIN message_attachment_join ON attachment.ROWID = message_attachment_join.attachment_id
WHERE message_attachment_join.message_id = ?
`

func (s *Store) attachmentsForMessage(messageRowID int64) ([]types.Attachment, error) {
	rows, err := s.db.Query(attachmentsQuery, messageRowID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	home, _ := os.UserHomeDir()

	var out []types.Attachment
	for rows.Next() {
		var filename, mimeType, transferName sql.NullString
		var totalBytes sql.NullInt64
		if err := rows.Scan(&filename, &mimeType, &transferName, &totalBytes); err != nil {
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}

		path := filename.String
		if strings.HasPrefix(path, "~/") && home != "" {
			path = filepath.Join(home, path[2:])
		}

		mime := mimeType.String
		if mime == "" {
			mime = "unknown"
		}

		name := transferName.String
		if name == "" && path != "" {
			name = filepath.Base(path)
		}

		out = append(out, types.Attachment{
			Path: path,
			MIME: mime,
			Name: name,
			Size: totalBytes.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachment rows: %w", err)
	}
	return out, nil
}

// macosToTime converts a macOS Core Data timestamp (nanoseconds since
// 2001-01-01) to a Go time in UTC.
func macosToTime(ts int64) time.Time {
	unix := ts/1_000_000_000 + macosEpochOffset
	return time.Unix(unix, 0).UTC()
}
