// Package ledger keeps an append-only history of device events.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/eventbus"
)

// Entry is one recorded event.
type Entry struct {
	ID        int64
	EventType eventbus.EventType
	Timestamp time.Time
	Payload   map[string]any
	Source    string // boot session id
}

// Ledger stores entries in the event_ledger table.
type Ledger struct {
	db *sql.DB
}

// New creates a ledger on db.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append records an event.
func (l *Ledger) Append(eventType eventbus.EventType, at time.Time, source string, payload map[string]any) error {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source) VALUES (?, ?, ?, ?)`,
		string(eventType), at.UTC().UnixMilli(), string(payloadJSON), source,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return nil
}

// Recorder returns a bus handler that appends every event under source.
func (l *Ledger) Recorder(source string) eventbus.Handler {
	return func(e eventbus.Event) {
		if err := l.Append(e.Type, e.At, source, e.Data); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to record event")
		}
	}
}

// GetByType returns the newest entries of eventType.
func (l *Ledger) GetByType(eventType eventbus.EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetBySource returns the entries of one boot session, oldest first.
func (l *Ledger) GetBySource(source string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source
		FROM event_ledger
		WHERE source = ?
		ORDER BY id ASC
		LIMIT ?
	`, source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than retention before now.
func (l *Ledger) DeleteOlderThan(now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payload, source sql.NullString
		var ts int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &ts, &payload, &source); err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(ts).UTC()
		entry.Source = source.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
