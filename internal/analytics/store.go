// Package analytics is the persistent event store: SQLite with FTS5
// full-text search over event messages, indexed by timestamp, type,
// and severity, auto-pruned past a retention window. It is the only
// write path events reach once internal/pipeline flushes a batch.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bannin-agent/bannin/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts REAL NOT NULL,
	source TEXT NOT NULL,
	machine TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	severity TEXT,
	message TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts
USING fts5(message, source, type, content=events, content_rowid=id);

CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
	INSERT INTO events_fts(rowid, message, source, type)
	VALUES (new.id, new.message, new.source, new.type);
END;

CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
	INSERT INTO events_fts(events_fts, rowid, message, source, type)
	VALUES ('delete', old.id, old.message, old.source, old.type);
END;
`

// Store is a SQLite-backed analytics store. modernc.org/sqlite is a
// pure-Go driver (cgo-free) so the binary stays statically linkable;
// it builds FTS5 in by default.
type Store struct {
	db          *sql.DB
	path        string
	ftsAvailable bool
}

// Open creates (if needed) and opens the store at path. An empty path
// defaults to ~/.bannin/store.db.
func Open(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("analytics: resolve home dir: %w", err)
		}
		dir := home + "/.bannin"
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("analytics: create store dir: %w", err)
		}
		path = dir + "/store.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; modernc.org/sqlite has no internal connection pool semantics for WAL writers

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("analytics: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("analytics: create schema: %w", err)
	}
	if _, err := s.db.Exec(ftsSchema); err == nil {
		s.ftsAvailable = true
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteEvents batch-inserts events; satisfies pipeline.Store.
func (s *Store) WriteEvents(events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("analytics: begin tx: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO events (ts, source, machine, type, severity, message, data) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("analytics: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			data = []byte("{}")
		}
		var severity any
		if e.Severity != "" {
			severity = e.Severity
		}
		if _, err := stmt.Exec(e.Epoch, e.Source, e.Machine, e.Type, severity, e.Message, string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("analytics: insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("analytics: commit: %w", err)
	}
	return nil
}

// QueryFilter selects which stored events Query returns.
type QueryFilter struct {
	Type     string
	Severity string
	Source   string
	Since    *float64
	Until    *float64
	Limit    int
	Offset   int
}

// Query returns events matching filter, newest first.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]model.Event, error) {
	var conditions []string
	var args []any

	if f.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}
	if f.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, *f.Until)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf("SELECT id, ts, source, machine, type, severity, message, data FROM events %s ORDER BY ts DESC LIMIT ? OFFSET ?", where)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: query: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Search runs a full-text search over event messages, falling back to
// a LIKE scan when FTS5 is unavailable in this build.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if s.ftsAvailable {
		rows, err := s.db.QueryContext(ctx, `
			SELECT e.id, e.ts, e.source, e.machine, e.type, e.severity, e.message, e.data
			FROM events e
			JOIN events_fts f ON e.id = f.rowid
			WHERE events_fts MATCH ?
			ORDER BY rank
			LIMIT ?`, query, limit)
		if err == nil {
			defer rows.Close()
			return scanEvents(rows)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, source, machine, type, severity, message, data FROM events WHERE message LIKE ? ORDER BY ts DESC LIMIT ?",
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: search: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Stats is the GetStats payload.
type Stats struct {
	TotalEvents  int64          `json:"total_events"`
	ByType       map[string]int `json:"by_type"`
	BySeverity   map[string]int `json:"by_severity"`
	OldestEvent  *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent  *time.Time     `json:"newest_event,omitempty"`
	DBSizeMB     float64        `json:"db_size_mb"`
	DBPath       string         `json:"db_path"`
	FTSAvailable bool           `json:"fts_available"`
}

// GetStats summarizes the store's contents.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: map[string]int{}, BySeverity: map[string]int{}, DBPath: s.path, FTSAvailable: s.ftsAvailable}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents); err != nil {
		return stats, fmt.Errorf("analytics: count events: %w", err)
	}

	typeRows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM events GROUP BY type ORDER BY COUNT(*) DESC")
	if err != nil {
		return stats, fmt.Errorf("analytics: group by type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var t string
		var cnt int
		if err := typeRows.Scan(&t, &cnt); err != nil {
			return stats, err
		}
		stats.ByType[t] = cnt
	}

	sevRows, err := s.db.QueryContext(ctx, "SELECT severity, COUNT(*) FROM events WHERE severity IS NOT NULL GROUP BY severity")
	if err != nil {
		return stats, fmt.Errorf("analytics: group by severity: %w", err)
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sev string
		var cnt int
		if err := sevRows.Scan(&sev, &cnt); err != nil {
			return stats, err
		}
		stats.BySeverity[sev] = cnt
	}

	var oldest, newest sql.NullFloat64
	s.db.QueryRowContext(ctx, "SELECT MIN(ts) FROM events").Scan(&oldest)
	s.db.QueryRowContext(ctx, "SELECT MAX(ts) FROM events").Scan(&newest)
	if oldest.Valid {
		t := time.Unix(0, int64(oldest.Float64*1e9)).UTC()
		stats.OldestEvent = &t
	}
	if newest.Valid {
		t := time.Unix(0, int64(newest.Float64*1e9)).UTC()
		stats.NewestEvent = &t
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DBSizeMB = round2(float64(info.Size()) / (1024 * 1024))
	}

	return stats, nil
}

// GetTimeline returns events newest-first, optionally since a cutoff
// and restricted to a set of types.
func (s *Store) GetTimeline(ctx context.Context, since *float64, limit int, types []string) ([]model.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	var conditions []string
	var args []any
	if since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, *since)
	}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		conditions = append(conditions, "type IN ("+strings.Join(placeholders, ",")+")")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id, ts, source, machine, type, severity, message, data FROM events %s ORDER BY ts DESC LIMIT ?", where), args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: timeline: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CostTrendDay is one day's LLM cost summary.
type CostTrendDay struct {
	Day       string  `json:"day"`
	Calls     int     `json:"calls"`
	TotalCost float64 `json:"total_cost"`
}

// GetCostTrend returns a daily LLM cost breakdown for the last days days.
func (s *Store) GetCostTrend(ctx context.Context, days int) ([]CostTrendDay, error) {
	if days <= 0 {
		days = 7
	}
	since := float64(time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix())

	rows, err := s.db.QueryContext(ctx, `
		SELECT date(created_at) as day, COUNT(*) as calls, SUM(json_extract(data, '$.cost_usd')) as total_cost
		FROM events
		WHERE type = 'llm_call' AND ts >= ?
		GROUP BY date(created_at)
		ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("analytics: cost trend: %w", err)
	}
	defer rows.Close()

	var out []CostTrendDay
	for rows.Next() {
		var day CostTrendDay
		var totalCost sql.NullFloat64
		if err := rows.Scan(&day.Day, &day.Calls, &totalCost); err != nil {
			return nil, err
		}
		day.TotalCost = totalCost.Float64
		out = append(out, day)
	}
	return out, nil
}

// Prune deletes events older than maxAgeDays and reclaims space.
func (s *Store) Prune(ctx context.Context, maxAgeDays int) error {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	cutoff := float64(time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour).Unix())
	if _, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff); err != nil {
		return fmt.Errorf("analytics: prune: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("analytics: vacuum: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		var e model.Event
		var severity sql.NullString
		var data string
		if err := rows.Scan(&e.ID, &e.Epoch, &e.Source, &e.Machine, &e.Type, &severity, &e.Message, &data); err != nil {
			return nil, fmt.Errorf("analytics: scan row: %w", err)
		}
		e.Severity = severity.String
		e.Timestamp = time.Unix(0, int64(e.Epoch*1e9)).UTC()
		e.Data = map[string]any{}
		_ = json.Unmarshal([]byte(data), &e.Data)
		out = append(out, e)
	}
	return out, rows.Err()
}

func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }
