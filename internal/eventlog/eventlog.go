// Package eventlog is an append-only journal of session lifecycle events
// (create, kill, restart, health transitions), kept independent of the
// session registry so a forensic trail survives even if the registry file
// itself is lost or corrupted. It is backed by a pure-Go SQLite driver so
// this write path never needs a C toolchain, unlike the cgo-based message
// store reader.
package eventlog

import (
	"container/ring"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vthunder/smsd/internal/logging"
)

// Kind labels the type of lifecycle event recorded.
type Kind string

const (
	KindCreated         Kind = "created"
	KindKilled          Kind = "killed"
	KindRestarted       Kind = "restarted"
	KindHealthUnhealthy Kind = "health_unhealthy"
	KindHealthRecovered Kind = "health_recovered"
)

// Entry is one row of the event log.
type Entry struct {
	ID        string
	Timestamp time.Time
	ChatID    string
	Kind      Kind
	Detail    string
}

// fallbackCapacity bounds the in-memory ring buffer Recent falls back to
// when the database itself is unreachable, so the inspection server (C11)
// always has something recent to show even mid-outage.
const fallbackCapacity = 64

// Log appends session lifecycle events to a local SQLite database. Append
// is best-effort: a write failure is logged and swallowed, never
// propagated to the caller, since nothing in the daemon's core loop should
// ever block or abort because the event log is unavailable.
type Log struct {
	db *sql.DB

	mu        sync.Mutex
	recentBuf *ring.Ring // fallback cache, most-recent-first is computed on read
}

// Open creates (if needed) and opens the event log database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		chat_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}
	return &Log{db: db, recentBuf: ring.New(fallbackCapacity)}, nil
}

// Close releases the underlying connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append records one lifecycle event. Errors are logged at warn level and
// never returned.
func (l *Log) Append(chatID string, kind Kind, detail string) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		ChatID:    chatID,
		Kind:      kind,
		Detail:    detail,
	}

	l.mu.Lock()
	l.recentBuf.Value = entry
	l.recentBuf = l.recentBuf.Next()
	l.mu.Unlock()

	_, err := l.db.Exec(`INSERT INTO events (id, ts, chat_id, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UnixNano(), entry.ChatID, string(entry.Kind), entry.Detail)
	if err != nil {
		logging.Warn("eventlog", "append failed for chat_id=%s kind=%s: %v", chatID, kind, err)
	}
}

// Recent returns up to limit entries for chatID, most recent first. If the
// database query fails, Recent falls back to the in-memory ring buffer of
// the last fallbackCapacity entries across all chats, filtered to chatID.
func (l *Log) Recent(chatID string, limit int) []Entry {
	rows, err := l.db.Query(`SELECT id, ts, chat_id, kind, detail FROM events
		WHERE chat_id = ? ORDER BY ts DESC LIMIT ?`, chatID, limit)
	if err != nil {
		logging.Warn("eventlog", "recent query failed for chat_id=%s: %v", chatID, err)
		return l.recentFromFallback(chatID, limit)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tsNano int64
		var kind string
		if err := rows.Scan(&e.ID, &tsNano, &e.ChatID, &kind, &e.Detail); err != nil {
			logging.Warn("eventlog", "scan failed: %v", err)
			continue
		}
		e.Timestamp = time.Unix(0, tsNano).UTC()
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out
}

func (l *Log) recentFromFallback(chatID string, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []Entry
	l.recentBuf.Do(func(v any) {
		if v == nil {
			return
		}
		if e, ok := v.(Entry); ok && e.ChatID == chatID {
			all = append(all, e)
		}
	})

	// ring.Do walks oldest-to-newest from the current cursor; reverse so
	// the most recent entry comes first, matching the SQL path's ORDER BY
	// ts DESC.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}
