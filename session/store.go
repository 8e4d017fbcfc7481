package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record строка истории сессий
type Record struct {
	ID            string    `json:"id"`
	DeviceName    string    `json:"deviceName"`
	Engine        string    `json:"engine"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt,omitempty"`
	Status        string    `json:"status"`
	DroppedFrames uint64    `json:"droppedFrames"`
	EventCount    int       `json:"eventCount"`
}

// ErrSessionNotFound нет такой сессии в истории
var ErrSessionNotFound = errors.New("session not found")

// Store история сессий и событий в SQLite
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenStore открывает (или создаёт) базу. path ":memory:" - база в памяти.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	dsn := "file::memory:?_pragma=foreign_keys(ON)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// одно соединение: для :memory: каждое соединение - отдельная база
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	log.Debugf("History store opened: %s", path)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    device_name TEXT NOT NULL,
    engine TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    status TEXT NOT NULL,
    dropped_frames INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    language TEXT,
    translated INTEGER NOT NULL DEFAULT 0,
    target_language TEXT,
    segment_index INTEGER NOT NULL,
    segment_start INTEGER,
    segment_offset_ms INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, segment_index);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close закрывает базу
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession добавляет запись о начале сессии
func (s *Store) CreateSession(ctx context.Context, rec Record) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.clock()
	}
	if rec.Status == "" {
		rec.Status = string(StateCapturing)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, device_name, engine, started_at, status) VALUES(?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceName, rec.Engine, rec.StartedAt.UnixMilli(), rec.Status)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession фиксирует окончание сессии
func (s *Store) FinishSession(ctx context.Context, id, status string, dropped uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, status = ?, dropped_frames = ? WHERE id = ?`,
		s.clock().UnixMilli(), status, int64(dropped), id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendEvent сохраняет событие транскрипта
func (s *Store) AppendEvent(ctx context.Context, sessionID string, ev TranscriptEvent) error {
	created := ev.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	var segStart any
	if !ev.SegmentStart.IsZero() {
		segStart = ev.SegmentStart.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, kind, text, language, translated, target_language,
		   segment_index, segment_start, segment_offset_ms, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(ev.Kind), ev.Text, ev.Language, ev.Translated, ev.TargetLanguage,
		ev.SegmentIndex, segStart, ev.SegmentOffset.Milliseconds(), ev.Duration.Milliseconds(),
		created.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListSessions последние limit сессий, новые первыми
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.device_name, s.engine, s.started_at, s.ended_at, s.status, s.dropped_frames,
		        (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		 FROM sessions s ORDER BY s.started_at DESC, s.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			started int64
			ended   sql.NullInt64
			dropped int64
		)
		if err := rows.Scan(&r.ID, &r.DeviceName, &r.Engine, &started, &ended, &r.Status, &dropped, &r.EventCount); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			r.EndedAt = time.UnixMilli(ended.Int64)
		}
		r.DroppedFrames = uint64(dropped)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events события сессии в порядке сегментов
func (s *Store) Events(ctx context.Context, sessionID string) ([]TranscriptEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, text, language, translated, target_language, segment_index,
		        segment_start, segment_offset_ms, duration_ms, created_at
		 FROM events WHERE session_id = ? ORDER BY segment_index ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TranscriptEvent
	for rows.Next() {
		var (
			ev                       TranscriptEvent
			kind                     string
			lang, target             sql.NullString
			segStart                 sql.NullInt64
			offsetMs, durMs, created int64
		)
		if err := rows.Scan(&kind, &ev.Text, &lang, &ev.Translated, &target, &ev.SegmentIndex,
			&segStart, &offsetMs, &durMs, &created); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		ev.Language = lang.String
		ev.TargetLanguage = target.String
		if segStart.Valid {
			ev.SegmentStart = time.UnixMilli(segStart.Int64)
		}
		ev.SegmentOffset = time.Duration(offsetMs) * time.Millisecond
		ev.Duration = time.Duration(durMs) * time.Millisecond
		ev.CreatedAt = time.UnixMilli(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteSession удаляет сессию вместе с событиями
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
