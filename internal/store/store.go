package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrSessionNotFound is returned when a session ID matches no row.
var ErrSessionNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection that records sessions and the alerts they raised.
// A single pgx.Conn is not safe for concurrent use, so calls are serialized.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// SessionRecord is one detection session.
type SessionRecord struct {
	ID          uuid.UUID
	Name        string
	Source      string
	Mode        types.Mode
	Sensitivity float64
	Camera      types.CameraSettings
	StartedAt   time.Time
	EndedAt     *time.Time
	Ticks       int64
	Alerts      int64
}

// AlertRecord is one dispatched alert, without its spots.
type AlertRecord struct {
	ID          int64
	SessionID   uuid.UUID
	SessionName string
	Tick        int64
	Mode        types.Mode
	Confidence  float64
	SpotCount   int
	CapturedAt  time.Time
}

// AlertFilter narrows ListAlerts. Zero values mean no restriction; Limit <= 0 means 50.
type AlertFilter struct {
	SessionID uuid.UUID
	Limit     int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			name TEXT,
			source TEXT NOT NULL,
			mode TEXT NOT NULL,
			sensitivity DOUBLE PRECISION NOT NULL,
			iso INT NOT NULL,
			exposure DOUBLE PRECISION NOT NULL,
			white_balance DOUBLE PRECISION NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			ticks BIGINT NOT NULL DEFAULT 0,
			alerts BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			tick BIGINT NOT NULL,
			mode TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			spot_count INT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS alert_spots (
			id BIGSERIAL PRIMARY KEY,
			alert_id BIGINT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			intensity DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			pattern TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS alerts_session_id_idx ON alerts (session_id);
		CREATE INDEX IF NOT EXISTS alert_spots_alert_id_idx ON alert_spots (alert_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// CreateSession registers a new session. StartedAt defaults to now.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	var name *string
	if rec.Name != "" {
		name = &rec.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sessions (id, name, source, mode, sensitivity, iso, exposure, white_balance, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, name, rec.Source, string(rec.Mode), rec.Sensitivity,
		rec.Camera.ISO, rec.Camera.Exposure, rec.Camera.WhiteBalance, rec.StartedAt)
	return err
}

// EndSession stamps the end time and the final tick count. The alert counter is kept by InsertAlert.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time, ticks uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, `
		UPDATE sessions SET ended_at = $2, ticks = $3 WHERE id = $1
	`, id, endedAt, int64(ticks))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RenameSession gives a session a human name.
func (s *Store) RenameSession(ctx context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// InsertAlert saves an alert and its spots in one transaction and returns the alert ID.
func (s *Store) InsertAlert(ctx context.Context, sessionID uuid.UUID, r types.DetectionResult) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// 1. Alert header
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO alerts (session_id, tick, mode, confidence, spot_count, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
	`, sessionID, int64(r.Tick), string(r.Mode), r.Confidence, len(r.Spots), r.CapturedAt).Scan(&id)
	if err != nil {
		return 0, err
	}

	// 2. Spots, bulk-copied: an IR alert can carry hundreds of anchors
	rows := make([][]any, len(r.Spots))
	for i, sp := range r.Spots {
		rows[i] = []any{id, sp.X, sp.Y, sp.Intensity, sp.Size, string(sp.Pattern)}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"alert_spots"},
		[]string{"alert_id", "x", "y", "intensity", "size", "pattern"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy alert spots: %w", err)
	}

	// 3. Keep the session counter live for `alerts` while a session is running
	if _, err := tx.Exec(ctx, "UPDATE sessions SET alerts = alerts + 1 WHERE id = $1", sessionID); err != nil {
		return 0, err
	}

	return id, tx.Commit(ctx)
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]AlertRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT a.id, a.session_id, COALESCE(s.name, ''), a.tick, a.mode, a.confidence, a.spot_count, a.captured_at
		FROM alerts a JOIN sessions s ON s.id = a.session_id`
	args := []any{limit}
	if f.SessionID != uuid.Nil {
		query += " WHERE a.session_id = $2"
		args = append(args, f.SessionID)
	}
	query += " ORDER BY a.captured_at DESC, a.id DESC LIMIT $1"

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var a AlertRecord
		var mode string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.SessionName, &a.Tick, &mode, &a.Confidence, &a.SpotCount, &a.CapturedAt); err != nil {
			return nil, err
		}
		a.Mode = types.Mode(mode)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AlertSpots loads the spots recorded with an alert, in insertion order.
func (s *Store) AlertSpots(ctx context.Context, alertID int64) ([]types.BrightSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT x, y, intensity, size, pattern FROM alert_spots WHERE alert_id = $1 ORDER BY id
	`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	spots := []types.BrightSpot{}
	for rows.Next() {
		var sp types.BrightSpot
		var pattern string
		if err := rows.Scan(&sp.X, &sp.Y, &sp.Intensity, &sp.Size, &pattern); err != nil {
			return nil, err
		}
		if sp.Pattern, err = types.ParsePattern(pattern); err != nil {
			return nil, err
		}
		spots = append(spots, sp)
	}
	return spots, rows.Err()
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT id, COALESCE(name, ''), source, mode, sensitivity, iso, exposure, white_balance,
		       started_at, ended_at, ticks, alerts
		FROM sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var mode string
		if err := rows.Scan(&r.ID, &r.Name, &r.Source, &mode, &r.Sensitivity,
			&r.Camera.ISO, &r.Camera.Exposure, &r.Camera.WhiteBalance,
			&r.StartedAt, &r.EndedAt, &r.Ticks, &r.Alerts); err != nil {
			return nil, err
		}
		r.Mode = types.Mode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS alert_spots CASCADE;
		DROP TABLE IF EXISTS alerts CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
