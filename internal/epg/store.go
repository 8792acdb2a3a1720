// SPDX-License-Identifier: MIT

package epg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/metrics"
	"github.com/ManuGH/tunerd/internal/mpegts"
	"github.com/ManuGH/tunerd/internal/persistence/sqlite"
)

const (
	schemaVersion = 1

	// queueSize bounds the number of EIT sections waiting to be persisted.
	queueSize = 4096
)

// Sink receives decoded EIT schedule sections.
type Sink interface {
	Write(eit *mpegts.EIT)
}

// Program is a stored EIT event.
type Program struct {
	ID          int64
	NetworkID   uint16
	ServiceID   uint16
	EventID     uint16
	StartAt     time.Time
	Duration    time.Duration
	Name        string
	Description string
}

// EndAt returns the scheduled end time.
func (p Program) EndAt() time.Time {
	return p.StartAt.Add(p.Duration)
}

// Store persists EIT events in SQLite. Writes are queued and applied by a
// background writer so that Write never blocks the demux path.
type Store struct {
	DB *sql.DB

	queue   chan *mpegts.EIT
	pending sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

// OpenStore opens (or creates) the program database at dbPath and starts the
// writer. A corrupt database is moved aside and replaced by an empty one; the
// guide is gathered again on the next pass.
func OpenStore(dbPath string) (*Store, error) {
	ctx := context.Background()
	logger := log.WithComponent("epg.store")

	if _, err := os.Stat(dbPath); err == nil {
		issues, err := sqlite.Check(ctx, dbPath, sqlite.QuickCheck)
		if err != nil {
			return nil, fmt.Errorf("program store: integrity check: %w", err)
		}
		if len(issues) > 0 {
			dst, err := sqlite.Quarantine(dbPath, time.Now())
			if err != nil {
				return nil, fmt.Errorf("program store: quarantine: %w", err)
			}
			logger.Warn().
				Str(log.FieldEvent, "epg.store_quarantined").
				Str(log.FieldPath, dst).
				Strs("issues", issues).
				Msg("program database is corrupt, starting empty")
		}
	}

	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultOptions())
	if err != nil {
		return nil, err
	}

	s := &Store{
		DB:     db,
		queue:  make(chan *mpegts.EIT, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("program store: migration failed: %w", err)
	}

	go s.run()
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema := `
	CREATE TABLE IF NOT EXISTS programs (
		id INTEGER PRIMARY KEY,
		network_id INTEGER NOT NULL,
		service_id INTEGER NOT NULL,
		event_id INTEGER NOT NULL,
		start_at_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		updated_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_programs_service ON programs(network_id, service_id, start_at_ms);
	CREATE INDEX IF NOT EXISTS idx_programs_end ON programs(start_at_ms, duration_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Write queues an EIT section for persistence. When the queue is full the
// section is dropped; the next schedule cycle carries it again.
func (s *Store) Write(eit *mpegts.EIT) {
	select {
	case <-s.done:
		return
	default:
	}

	s.pending.Add(1)
	select {
	case s.queue <- eit:
	default:
		s.pending.Done()
		metrics.IncEPGDropped()
		s.logger.Warn().Str(log.FieldEvent, "epg.queue_full").
			Uint16(log.FieldNetworkID, eit.OriginalNetworkID).
			Uint16(log.FieldServiceID, eit.ServiceID).
			Msg("program store queue full, dropping EIT section")
	}
}

// Flush blocks until every queued section has been written or ctx ends.
func (s *Store) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) run() {
	for {
		select {
		case <-s.done:
			return
		case eit := <-s.queue:
			if err := s.insert(eit); err != nil {
				s.logger.Error().Err(err).Str(log.FieldEvent, "epg.store_failed").
					Uint16(log.FieldNetworkID, eit.OriginalNetworkID).
					Uint16(log.FieldServiceID, eit.ServiceID).
					Msg("failed to store EIT section")
			}
			s.pending.Done()
		}
	}
}

func (s *Store) insert(eit *mpegts.EIT) error {
	if len(eit.Events) == 0 {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
	INSERT INTO programs (id, network_id, service_id, event_id, start_at_ms, duration_ms, name, description, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		start_at_ms = excluded.start_at_ms,
		duration_ms = excluded.duration_ms,
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE programs.name END,
		description = CASE WHEN excluded.description != '' THEN excluded.description ELSE programs.description END,
		updated_at_ms = excluded.updated_at_ms
	`
	now := time.Now().UnixMilli()
	stored := 0
	for _, ev := range eit.Events {
		if ev.StartTime.IsZero() {
			continue
		}
		id := ProgramID(eit.OriginalNetworkID, eit.ServiceID, ev.EventID)
		if _, err := tx.Exec(query,
			id, eit.OriginalNetworkID, eit.ServiceID, ev.EventID,
			ev.StartTime.UnixMilli(), ev.Duration.Milliseconds(), ev.Name, ev.Text, now,
		); err != nil {
			return err
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.AddEPGEventsStored(stored)
	return nil
}

const programColumns = `id, network_id, service_id, event_id, start_at_ms, duration_ms, name, description`

func scanProgram(row interface{ Scan(...any) error }) (Program, error) {
	var p Program
	var startMS, durMS int64
	if err := row.Scan(&p.ID, &p.NetworkID, &p.ServiceID, &p.EventID, &startMS, &durMS, &p.Name, &p.Description); err != nil {
		return Program{}, err
	}
	p.StartAt = time.UnixMilli(startMS).In(mpegts.BroadcastZone)
	p.Duration = time.Duration(durMS) * time.Millisecond
	return p, nil
}

// Get returns the program with the given id.
func (s *Store) Get(ctx context.Context, id int64) (Program, bool) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id = ?`, id)
	p, err := scanProgram(row)
	if err != nil {
		return Program{}, false
	}
	return p, true
}

// FindByService returns the programs of one service ordered by start time.
func (s *Store) FindByService(ctx context.Context, networkID, serviceID uint16) ([]Program, error) {
	return s.query(ctx, `SELECT `+programColumns+` FROM programs WHERE network_id = ? AND service_id = ? ORDER BY start_at_ms`,
		networkID, serviceID)
}

// All returns every stored program ordered by service and start time.
func (s *Store) All(ctx context.Context) ([]Program, error) {
	return s.query(ctx, `SELECT `+programColumns+` FROM programs ORDER BY network_id, service_id, start_at_ms`)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Program, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune removes programs that ended before cutoff and returns how many were deleted.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM programs WHERE start_at_ms + duration_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close stops the writer and closes the database. Queued sections that were
// not written yet are discarded.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.DB.Close()
	})
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
