package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps every thread's snapshot history in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments that need durable threads
//   - Prototyping before migrating to a shared database
//
// SQLiteStore uses WAL mode for concurrent reads and transactional appends.
// The sequence check and the insert run in one transaction, and the
// PRIMARY KEY(thread_id, seq) constraint backs up the optimistic-concurrency
// guarantee even under racing connections.
//
// Schema:
//   - thread_snapshots: append-only snapshot log, one row per (thread, seq)
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./threads.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and schema, enables WAL
// mode, and configures a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./threads.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the snapshot log schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS thread_snapshots (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step TEXT NOT NULL,
			source TEXT NOT NULL,
			state TEXT NOT NULL,
			pending TEXT NOT NULL,
			interrupts TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, seq)
		)
	`
	_, err := s.db.ExecContext(ctx, table)
	return err
}

// Append persists a snapshot inside a transaction that re-checks the
// thread's latest sequence number. Returns ErrConflict when the snapshot's
// Seq does not follow the committed history.
func (s *SQLiteStore) Append(ctx context.Context, snap Snapshot) (int64, error) {
	stateJSON, pendingJSON, interruptsJSON, err := marshalSnapshotColumns(snap)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM thread_snapshots WHERE thread_id = ?`,
		snap.ThreadID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest seq: %w", err)
	}
	if snap.Seq != latest+1 {
		return 0, ErrConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO thread_snapshots (thread_id, seq, step, source, state, pending, interrupts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ThreadID, snap.Seq, snap.Step, string(snap.Source),
		stateJSON, pendingJSON, interruptsJSON,
	)
	if err != nil {
		// A racing writer can slip between the MAX(seq) read and the insert;
		// the primary key turns that into a conflict rather than a corrupt log.
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return snap.Seq, nil
}

// Latest returns the thread's most recent snapshot.
func (s *SQLiteStore) Latest(ctx context.Context, threadID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, seq, step, source, state, pending, interrupts
		 FROM thread_snapshots
		 WHERE thread_id = ?
		 ORDER BY seq DESC
		 LIMIT 1`,
		threadID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	return snap, err
}

// History returns a lazy forward cursor backed by a streaming query.
func (s *SQLiteStore) History(ctx context.Context, threadID string) (Cursor, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thread_snapshots WHERE thread_id = ?`, threadID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check thread history: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, seq, step, source, state, pending, interrupts
		 FROM thread_snapshots
		 WHERE thread_id = ?
		 ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return &rowsCursor{rows: rows}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowsCursor streams snapshots from a sql.Rows result set.
type rowsCursor struct {
	rows *sql.Rows
}

func (c *rowsCursor) Next(_ context.Context) (Snapshot, bool, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return Snapshot{}, false, err
		}
		return Snapshot{}, false, nil
	}
	snap, err := scanSnapshot(c.rows)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c *rowsCursor) Close() error {
	return c.rows.Close()
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var snap Snapshot
	var source, stateJSON, pendingJSON, interruptsJSON string
	if err := row.Scan(&snap.ThreadID, &snap.Seq, &snap.Step, &source,
		&stateJSON, &pendingJSON, &interruptsJSON); err != nil {
		return Snapshot{}, err
	}
	snap.Source = Source(source)
	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode state: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &snap.Pending); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode pending: %w", err)
	}
	if err := json.Unmarshal([]byte(interruptsJSON), &snap.Interrupts); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode interrupts: %w", err)
	}
	return snap, nil
}

func marshalSnapshotColumns(snap Snapshot) (state, pending, interrupts string, err error) {
	st := snap.State
	if st == nil {
		st = State{}
	}
	stateBytes, err := json.Marshal(st)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode state: %w", err)
	}
	pd := snap.Pending
	if pd == nil {
		pd = []string{}
	}
	pendingBytes, err := json.Marshal(pd)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode pending: %w", err)
	}
	ints := snap.Interrupts
	if ints == nil {
		ints = []Interrupt{}
	}
	interruptBytes, err := json.Marshal(ints)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode interrupts: %w", err)
	}
	return string(stateBytes), string(pendingBytes), string(interruptBytes), nil
}

// isUniqueViolation reports whether err is a primary-key or unique constraint
// failure. modernc.org/sqlite surfaces these as textual errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
