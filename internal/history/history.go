// Package history persists completed simulation results in a local sqlite
// database so earlier experiments can be listed and compared.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

// DefaultRetention is how long records are kept when no retention is given.
const DefaultRetention = 14 * 24 * time.Hour

// timeLayout is fixed-width so text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("history record not found")

// Record is one completed experiment.
type Record struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Params    config.Simulation      `json:"params"`
	Results   models.AggregateResult `json:"results"`
}

// Store is a sqlite-backed history of completed runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (creating if needed) the database at path and removes records
// older than retention. A non-positive retention uses DefaultRetention.
func Open(ctx context.Context, path string, retention time.Duration, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		params TEXT NOT NULL,
		results TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS history_timestamp ON history(timestamp)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	s := &Store{db: db, now: time.Now, log: logger.Default}
	for _, opt := range opts {
		opt(s)
	}

	if retention <= 0 {
		retention = DefaultRetention
	}
	removed, err := s.Prune(ctx, retention)
	if err != nil {
		db.Close()
		return nil, err
	}
	if removed > 0 {
		s.log.Info("pruned history", "removed", removed, "retention", retention.String())
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add appends a completed run and returns the stored record.
func (s *Store) Add(ctx context.Context, runID string, params config.Simulation, results models.AggregateResult) (*Record, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}

	rec := &Record{
		ID:        utils.GenerateRecordID(),
		RunID:     runID,
		Timestamp: s.now().UTC(),
		Params:    params,
		Results:   results,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, run_id, timestamp, params, results) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Timestamp.Format(timeLayout), string(paramsJSON), string(resultsJSON),
	); err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}
	return rec, nil
}

// List returns records newest first. limit <= 0 returns every record.
// Rows whose payload cannot be decoded are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, run_id, timestamp, params, results FROM history ORDER BY timestamp DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.log.Warn("skipping unreadable history record", "error", err)
			continue
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Get returns a single record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, timestamp, params, results FROM history WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Prune deletes records older than olderThan and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	return s.exec(ctx, `DELETE FROM history WHERE timestamp < ?`, cutoff)
}

// DeleteSince deletes records created within the last d.
func (s *Store) DeleteSince(ctx context.Context, d time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-d).Format(timeLayout)
	return s.exec(ctx, `DELETE FROM history WHERE timestamp >= ?`, cutoff)
}

// DeleteAll empties the history.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	return s.exec(ctx, `DELETE FROM history`)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                    Record
		ts, params, resultsRaw string
	)
	if err := row.Scan(&rec.ID, &rec.RunID, &ts, &params, &resultsRaw); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("record %s: timestamp: %w", rec.ID, err)
	}
	rec.Timestamp = t
	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("record %s: params: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(resultsRaw), &rec.Results); err != nil {
		return nil, fmt.Errorf("record %s: results: %w", rec.ID, err)
	}
	return &rec, nil
}
