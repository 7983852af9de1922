// Package transcript implements the Transcript Sink: an append-only, typed
// event log, one file per session, recoverable by re-reading sequentially
// (spec §6). Storage is a pure-Go SQLite file so that attach_from_seq
// replay (spec §4.6) can be served with an indexed range query instead of
// scanning a flat file.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentcore/agentcore/pkg/core"
	_ "modernc.org/sqlite"
)

// Sink is one session's append-only event log.
type Sink struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open creates (or reopens) the transcript file for sessionID under dir.
func Open(dir, sessionID string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer handle per session (spec §5)
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY,
	turn_id TEXT,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	at TEXT NOT NULL
);`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: init schema: %w", err)
	}
	return &Sink{db: db, path: path}, nil
}

// Append writes one Event. Writes are serialized per session via this
// Sink's own mutex, matching the single writer-handle contract of spec §5.
func (s *Sink) Append(ctx context.Context, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("transcript: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(seq, turn_id, type, payload, at) VALUES (?, ?, ?, ?, ?)`,
		ev.Seq, ev.TurnID, string(ev.Type), string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// Since returns every event with seq > fromSeq, in seq order, for
// attach_from_seq replay.
func (s *Sink) Since(ctx context.Context, fromSeq uint64) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE seq > ? ORDER BY seq ASC`, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("transcript: query: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("transcript: unmarshal: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the underlying file handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Path returns the on-disk file location, exposed for operational tooling.
func (s *Sink) Path() string {
	return s.path
}
