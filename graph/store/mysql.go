package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It keeps thread snapshot histories in a relational database.
// Designed for:
//   - Production threads requiring persistence
//   - Multiple worker processes sharing one snapshot log
//   - Long-lived threads that survive process restarts
//   - Audit trails and compliance requirements
//
// MySQLStore uses connection pooling and transactions. Racing appends to the
// same thread are serialized by the PRIMARY KEY (thread_id, seq): exactly one
// writer commits a contested sequence number, the other observes ErrConflict.
//
// Schema:
//   - thread_snapshots: append-only snapshot log, one row per (thread, seq)
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/threads
//	user:password@tcp(127.0.0.1:3306)/threads?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    if dsn == "" {
//	        log.Fatal("MYSQL_DSN environment variable not set")
//	    }
//	    st, err := store.NewMySQLStore(dsn)
//
// The store automatically creates required tables and configures connection
// pooling.
//
// Example:
//
//	st, err := store.NewMySQLStore("user:pass@tcp(localhost:3306)/threads")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the snapshot log schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS thread_snapshots (
			thread_id VARCHAR(255) NOT NULL,
			seq BIGINT NOT NULL,
			step VARCHAR(255) NOT NULL,
			source VARCHAR(16) NOT NULL,
			state JSON NOT NULL,
			pending JSON NOT NULL,
			interrupts JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, seq)
		) ENGINE=InnoDB
	`
	_, err := m.db.ExecContext(ctx, table)
	return err
}

// Append persists a snapshot inside a transaction that re-checks the
// thread's latest committed sequence number.
func (m *MySQLStore) Append(ctx context.Context, snap Snapshot) (int64, error) {
	stateJSON, pendingJSON, interruptsJSON, err := marshalSnapshotColumns(snap)
	if err != nil {
		return 0, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM thread_snapshots WHERE thread_id = ? FOR UPDATE`,
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
		if isMySQLDuplicate(err) {
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
func (m *MySQLStore) Latest(ctx context.Context, threadID string) (Snapshot, error) {
	row := m.db.QueryRowContext(ctx,
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
func (m *MySQLStore) History(ctx context.Context, threadID string) (Cursor, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thread_snapshots WHERE thread_id = ?`, threadID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check thread history: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	rows, err := m.db.QueryContext(ctx,
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
func (m *MySQLStore) Close() error {
	return m.db.Close()
}

// isMySQLDuplicate reports whether err is a duplicate-key error (1062).
func isMySQLDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
