package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// CheckMode selects the integrity pragma.
type CheckMode int

const (
	// QuickCheck runs PRAGMA quick_check.
	QuickCheck CheckMode = iota
	// FullCheck runs PRAGMA integrity_check.
	FullCheck
)

// Check opens path read-only and returns SQLite's diagnostics, or nil when the
// database is intact. Corruption reported as a query error is a diagnostic,
// not an error.
func Check(ctx context.Context, path string, mode CheckMode) ([]string, error) {
	db, err := Open(ctx, path, Options{BusyTimeout: 2 * time.Second, ReadOnly: true})
	if err != nil {
		if isCorruption(err) {
			return []string{err.Error()}, nil
		}
		return nil, err
	}
	defer db.Close()

	pragma := "PRAGMA quick_check"
	if mode == FullCheck {
		pragma = "PRAGMA integrity_check"
	}
	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		if isCorruption(err) {
			return []string{err.Error()}, nil
		}
		return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		if isCorruption(err) {
			return append(out, err.Error()), nil
		}
		return nil, err
	}

	switch {
	case len(out) == 1 && strings.EqualFold(out[0], "ok"):
		return nil, nil
	case len(out) == 0:
		return []string{"integrity check returned no rows"}, nil
	}
	return out, nil
}

func isCorruption(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt") || strings.Contains(msg, "not a database")
}

// Quarantine moves the database and its WAL files aside and returns the new
// path of the main file.
func Quarantine(path string, now time.Time) (string, error) {
	dst := path + ".corrupt-" + now.UTC().Format("20060102T150405")
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Rename(path+suffix, dst+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return dst, err
		}
	}
	return dst, nil
}
