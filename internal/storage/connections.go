package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxConnections is how many recent connections are kept. Older rows are
// pruned on every save.
const maxConnections = 20

// Connection is the last known state of one device session.
type Connection struct {
	Key               string
	DeviceID          string
	SessionID         string
	Status            string
	LastConnectedAt   time.Time // Zero if the session never connected.
	ReconnectAttempts int
	LastError         string
	UpdatedAt         time.Time
}

// SaveConnection inserts or replaces the row for c.Key and prunes the
// table to the most recent maxConnections rows.
func (s *SQLiteStore) SaveConnection(c Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	var lastConnected sql.NullString
	if !c.LastConnectedAt.IsZero() {
		lastConnected = sql.NullString{String: c.LastConnectedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO connections
			(key, device_id, session_id, status, last_connected_at, reconnect_attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.Key,
		c.DeviceID,
		c.SessionID,
		c.Status,
		lastConnected,
		c.ReconnectAttempts,
		c.LastError,
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	res, err := s.db.Exec(`
		DELETE FROM connections WHERE key NOT IN (
			SELECT key FROM connections ORDER BY updated_at DESC LIMIT ?
		)
	`, maxConnections)
	if err != nil {
		return fmt.Errorf("prune connections: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("pruned connections", zap.Int64("rows", n))
	}
	return nil
}

// GetConnection returns the row for key, or nil if there is none.
func (s *SQLiteStore) GetConnection(key string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT key, device_id, session_id, status, last_connected_at, reconnect_attempts, last_error, updated_at
		FROM connections WHERE key = ?
	`, key)

	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// ListConnections returns up to limit connections, most recently updated
// first. A limit <= 0 returns every stored row.
func (s *SQLiteStore) ListConnections(limit int) ([]Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT key, device_id, session_id, status, last_connected_at, reconnect_attempts, last_error, updated_at
		FROM connections ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return out, nil
}

// DeleteConnection removes the row for key. Deleting a missing key is not
// an error.
func (s *SQLiteStore) DeleteConnection(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM connections WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(r rowScanner) (*Connection, error) {
	var (
		c             Connection
		lastConnected sql.NullString
		updatedAt     string
	)
	err := r.Scan(
		&c.Key,
		&c.DeviceID,
		&c.SessionID,
		&c.Status,
		&lastConnected,
		&c.ReconnectAttempts,
		&c.LastError,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastConnected.Valid {
		c.LastConnectedAt, err = time.Parse(time.RFC3339Nano, lastConnected.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_connected_at: %w", err)
		}
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}
