package store

import (
	"context"
	"os"
	"testing"
)

// TestMySQLStoreContract runs the store contract against a real MySQL
// instance. Set MYSQL_TEST_DSN to enable, e.g.:
//
//	MYSQL_TEST_DSN="user:pass@tcp(localhost:3306)/stategraph_test" go test ./graph/store/
//
// Each run truncates the snapshot table first, so point the DSN at a
// throwaway database.
func TestMySQLStoreContract(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set; skipping MySQL integration test")
	}

	testStoreContract(t, func(t *testing.T) Store {
		st, err := NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })

		if _, err := st.db.ExecContext(context.Background(), "TRUNCATE TABLE thread_snapshots"); err != nil {
			t.Fatalf("failed to reset table: %v", err)
		}
		return st
	})
}
