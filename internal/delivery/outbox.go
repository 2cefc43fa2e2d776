package delivery

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Outbox is a SQLite-backed delivery queue.
type Outbox struct {
	db *sql.DB
}

// NewOutbox opens or creates the outbox table at path.
func NewOutbox(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("outbox pragma: %w", err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		recipient TEXT NOT NULL,
		payload TEXT NOT NULL,
		sent INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox schema: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Enqueue inserts one pending message.
func (o *Outbox) Enqueue(ctx context.Context, channel Channel, recipient, payload string) error {
	_, err := o.db.ExecContext(ctx,
		"INSERT INTO outbox (channel, recipient, payload) VALUES (?, ?, ?)",
		string(channel), recipient, payload)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Pending returns up to limit unsent messages, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := o.db.QueryContext(ctx,
		"SELECT id, channel, recipient, payload, created_at FROM outbox WHERE sent = 0 ORDER BY id LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("pending: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var channel string
		if err := rows.Scan(&m.ID, &channel, &m.Recipient, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		m.Channel = Channel(channel)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkSent flags one message as delivered.
func (o *Outbox) MarkSent(ctx context.Context, id int64) error {
	res, err := o.db.ExecContext(ctx, "UPDATE outbox SET sent = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark sent: message %d not found", id)
	}
	return nil
}

// Close releases the database handle.
func (o *Outbox) Close() error {
	return o.db.Close()
}
