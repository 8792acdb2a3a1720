package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "pragmas.sqlite"), DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
}

func seed(t *testing.T, path string) {
	t.Helper()
	db, err := Open(context.Background(), path, DefaultOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE programs (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 200; i++ {
		if _, err := db.Exec("INSERT INTO programs (name) VALUES (hex(randomblob(64)))"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	_ = db.Close()
}

func TestCheck_DetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.db")
	seed(t, path)

	issues, err := Check(context.Background(), path, QuickCheck)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if issues != nil {
		t.Fatalf("intact database reported %v", issues)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	junk := make([]byte, 100)
	for i := range junk {
		junk[i] = 0xA5
	}
	_, err = f.WriteAt(junk, 4096)
	_ = f.Close()
	if err != nil {
		t.Fatalf("write junk: %v", err)
	}

	issues, err = Check(context.Background(), path, FullCheck)
	if err != nil {
		t.Fatalf("Check() after corruption error = %v", err)
	}
	if issues == nil {
		t.Error("corrupted database passed the integrity check")
	}
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "programs.db")
	if err := os.WriteFile(path, []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+"-wal", []byte("wal"), 0o600); err != nil {
		t.Fatal(err)
	}

	dst, err := Quarantine(path, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}
	if want := path + ".corrupt-20250102T030405"; dst != want {
		t.Errorf("dst = %s, want %s", dst, want)
	}
	for _, p := range []string{dst, dst + "-wal"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("original still present: %v", err)
	}
}
