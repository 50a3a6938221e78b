package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	j, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer j.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		j, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		j.Close()
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	j, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer j.Close()

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := j.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpenSQLite_ReplayIndex(t *testing.T) {
	j, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer j.Close()

	var name string
	err = j.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_events_replay'`).Scan(&name)
	if err != nil {
		t.Fatalf("replay index missing: %v", err)
	}
}

func TestSQLite_RejectsInvalidKind(t *testing.T) {
	j, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer j.Close()

	_, err = j.db.Exec(`
		INSERT INTO events (universe_id, id, store_key, timestamp, kind, value, caused_by, origin)
		VALUES ('u1', 'a', 'k', 1, 'explode', '1', '[]', 'u1')
	`)
	if err == nil {
		t.Fatal("expected CHECK constraint violation")
	}
}

func TestSQLite_CloseNil(t *testing.T) {
	var j SQLite
	if err := j.Close(); err != nil {
		t.Fatalf("Close() on zero value: %v", err)
	}
}
