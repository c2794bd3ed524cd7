package fact

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS facts (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	type       TEXT    NOT NULL,
	actor_id   TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
)`

// SQLiteStore persists facts in a SQLite database.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (or creates) the fact database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append inserts facts in one transaction after checking they continue the
// stored sequence.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, facts []Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(facts) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM facts WHERE session_id = ?`, sessionID,
	).Scan(&last); err != nil {
		return fmt.Errorf("read last sequence: %w", err)
	}
	if err := Verify(facts, uint64(last.Int64)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO facts (session_id, seq, type, actor_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		if _, err := stmt.ExecContext(ctx,
			sessionID,
			int64(f.Sequence),
			string(f.Type),
			f.ActorID,
			[]byte(f.Payload),
			f.Timestamp.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert fact %d: %w", f.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns every fact of the session ordered by sequence.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, type, actor_id, payload, created_at FROM facts WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var (
			seq     int64
			typ     string
			actor   string
			payload []byte
			created int64
		)
		if err := rows.Scan(&seq, &typ, &actor, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, Fact{
			Type:      Type(typ),
			ActorID:   actor,
			Payload:   payload,
			Timestamp: time.Unix(0, created).UTC(),
			Sequence:  uint64(seq),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}
