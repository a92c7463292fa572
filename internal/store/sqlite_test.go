package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newTestStore(t) })
}

// TestSQLiteFileStore runs the suite against an on-disk database, which uses
// a connection pool instead of the single in-memory connection.
func TestSQLiteFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "splitify.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitify.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLite(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("ping #%d: %v", i+1, err)
		}
		_ = s.Close()
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in       string
		prefix   string
		contains []string
	}{
		{":memory:", "file::memory:?", []string{"foreign_keys(1)"}},
		{"splitify.db", "splitify.db?", []string{"foreign_keys(1)", "journal_mode(WAL)", "_txlock=immediate"}},
		{"file:data.db?mode=rwc", "file:data.db?mode=rwc&", []string{"busy_timeout(5000)"}},
	}
	for _, tt := range tests {
		got := sqliteDSN(tt.in)
		if !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("sqliteDSN(%q) = %q, want prefix %q", tt.in, got, tt.prefix)
		}
		for _, want := range tt.contains {
			if !strings.Contains(got, want) {
				t.Errorf("sqliteDSN(%q) = %q, missing %q", tt.in, got, want)
			}
		}
	}
}

func TestRebindDollar(t *testing.T) {
	got := rebindDollar("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("rebindDollar: got %q, want %q", got, want)
	}
}
