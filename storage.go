// This file contains the durable store: an append-only chat log and the
// business-hours schedule, backed by SQLite. Log writes are fire-and-forget
// from the relay's point of view; a failed append is reported and dropped,
// never retried and never blocking the live path.
package chatrelay

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// LogEntry is one append-only chat log record.
type LogEntry struct {
	Timestamp      time.Time
	ConversationID string
	UID            int64
	Name           string
	SessionID      string
	Text           string
	Kind           LogKind
}

// DayHours holds the open and close boundaries for one weekday, in minutes
// since midnight. A nil Open means open from start of day, a nil Close
// means open until end of day, both nil means closed all day.
type DayHours struct {
	Open  *int
	Close *int
}

// WeekSchedule maps weekday 1..7 to its hours. Day 7 is Sunday.
type WeekSchedule map[int]DayHours

// ChatStore is the durable-store collaborator: the chat log and the
// business-hours schedule.
type ChatStore interface {
	AppendLog(ctx context.Context, entry LogEntry) error
	Schedule(ctx context.Context) (WeekSchedule, error)
	Close() error
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS chat_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	conversation_id TEXT NOT NULL,
	uid INTEGER NOT NULL,
	name TEXT NOT NULL,
	session_id TEXT NOT NULL,
	msg TEXT NOT NULL,
	kind INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_log_conversation ON chat_log (conversation_id, timestamp);
CREATE TABLE IF NOT EXISTS opening_hours (
	weekday INTEGER PRIMARY KEY,
	open_minute INTEGER,
	close_minute INTEGER
);
`

// SQLiteStore implements ChatStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapF(err, "failed to open sqlite database at %s", path)
	}
	// The driver is safe for concurrent use but SQLite serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, wrapF(err, "failed to create schema in %s", path)
	}
	return &SQLiteStore{db: db}, nil
}

// AppendLog writes one chat log record.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_log (timestamp, conversation_id, uid, name, session_id, msg, kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.Unix(), entry.ConversationID, entry.UID, entry.Name,
		entry.SessionID, entry.Text, int(entry.Kind))
	if err != nil {
		return wrapF(err, "failed to append chat log entry for conversation %s", entry.ConversationID)
	}
	return nil
}

// Schedule reads the full business-hours schedule. Missing weekdays are
// simply absent from the result, which callers treat as closed.
func (s *SQLiteStore) Schedule(ctx context.Context) (WeekSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT weekday, open_minute, close_minute FROM opening_hours`)
	if err != nil {
		return nil, unavailable("", "failed to read opening hours").withCause(err)
	}
	defer rows.Close()

	schedule := make(WeekSchedule)
	for rows.Next() {
		var weekday int
		var open, close sql.NullInt64
		if err := rows.Scan(&weekday, &open, &close); err != nil {
			return nil, wrapF(err, "failed to scan opening hours row")
		}
		var day DayHours
		if open.Valid {
			v := int(open.Int64)
			day.Open = &v
		}
		if close.Valid {
			v := int(close.Int64)
			day.Close = &v
		}
		schedule[weekday] = day
	}
	if err := rows.Err(); err != nil {
		return nil, wrapF(err, "failed to iterate opening hours")
	}
	return schedule, nil
}

// SaveSchedule replaces the stored schedule. Used by provisioning tooling
// and tests; the engine itself only reads.
func (s *SQLiteStore) SaveSchedule(ctx context.Context, schedule WeekSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapF(err, "failed to begin schedule transaction")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM opening_hours`); err != nil {
		tx.Rollback()
		return wrapF(err, "failed to clear opening hours")
	}
	for weekday, day := range schedule {
		var open, close interface{}
		if day.Open != nil {
			open = *day.Open
		}
		if day.Close != nil {
			close = *day.Close
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO opening_hours (weekday, open_minute, close_minute) VALUES (?, ?, ?)`,
			weekday, open, close); err != nil {
			tx.Rollback()
			return wrapF(err, "failed to store opening hours for weekday %d", weekday)
		}
	}
	return tx.Commit()
}

// ConversationLog returns the log entries for one conversation in append
// order. Used by the history endpoint and tests.
func (s *SQLiteStore) ConversationLog(ctx context.Context, conversationID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, conversation_id, uid, name, session_id, msg, kind
		 FROM chat_log WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, unavailable("", "failed to read chat log").withCause(err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var ts int64
		var kind int
		if err := rows.Scan(&ts, &entry.ConversationID, &entry.UID, &entry.Name,
			&entry.SessionID, &entry.Text, &kind); err != nil {
			return nil, wrapF(err, "failed to scan chat log row")
		}
		entry.Timestamp = time.Unix(ts, 0)
		entry.Kind = LogKind(kind)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
