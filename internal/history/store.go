// Package history stores position reports in SQLite and loads them back as
// replay tracks.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/replay"
)

var logf = monitoring.Component("history")

// ErrNoReports is returned when a track query matches nothing.
var ErrNoReports = errors.New("no stored reports for entity in range")

// TrackLoader loads a stored track for replay.
type TrackLoader interface {
	LoadTrack(ctx context.Context, entityID string, from, to time.Time) (replay.Track, error)
}

// Store is the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for the SQL debug console.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func millis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

// InsertReports stores valid reports, skipping invalid ones and duplicates of
// an (entity, timestamp) pair already stored. It returns the number of rows
// written.
func (s *Store) InsertReports(ctx context.Context, reports []position.Report) (int, error) {
	valid, dropped := position.Filter(reports)
	if dropped > 0 {
		logf("skipping %d invalid reports", dropped)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO reports (
			entity_id, latitude, longitude, speed, heading,
			firm_ms, server_ms, ts_ms, attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for _, r := range valid {
		attrs, err := json.Marshal(r.Attributes)
		if err != nil {
			return 0, fmt.Errorf("encode attributes for %s: %w", r.EntityID, err)
		}
		var heading sql.NullFloat64
		if r.Heading != nil {
			heading = sql.NullFloat64{Float64: *r.Heading, Valid: true}
		}
		res, err := stmt.ExecContext(ctx,
			r.EntityID, r.Latitude, r.Longitude, r.Speed, heading,
			millis(r.FirmTime), millis(r.ServerTime), r.Timestamp().UnixMilli(), string(attrs),
		)
		if err != nil {
			return 0, fmt.Errorf("insert report for %s: %w", r.EntityID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// LoadTrack returns entityID's reports with timestamps in [from, to],
// ordered by timestamp. A zero bound is open.
func (s *Store) LoadTrack(ctx context.Context, entityID string, from, to time.Time) (replay.Track, error) {
	lo, hi := int64(-1<<62), int64(1<<62)
	if !from.IsZero() {
		lo = from.UnixMilli()
	}
	if !to.IsZero() {
		hi = to.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, latitude, longitude, speed, heading, firm_ms, server_ms, attributes
		FROM reports
		WHERE entity_id = ? AND ts_ms BETWEEN ? AND ?
		ORDER BY ts_ms`, entityID, lo, hi)
	if err != nil {
		return replay.Track{}, err
	}
	defer rows.Close()

	var reports []position.Report
	for rows.Next() {
		var (
			r         position.Report
			heading   sql.NullFloat64
			firm, srv sql.NullInt64
			attrs     sql.NullString
		)
		if err := rows.Scan(&r.EntityID, &r.Latitude, &r.Longitude, &r.Speed, &heading, &firm, &srv, &attrs); err != nil {
			return replay.Track{}, err
		}
		if heading.Valid {
			h := heading.Float64
			r.Heading = &h
		}
		r.FirmTime, r.ServerTime = fromMillis(firm), fromMillis(srv)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &r.Attributes); err != nil {
				return replay.Track{}, fmt.Errorf("decode attributes for %s: %w", entityID, err)
			}
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return replay.Track{}, err
	}
	if len(reports) == 0 {
		return replay.Track{}, fmt.Errorf("%s: %w", entityID, ErrNoReports)
	}
	return replay.NewTrack(reports), nil
}

// TrackSummary describes the stored reports of one entity.
type TrackSummary struct {
	EntityID string    `json:"entityId"`
	Reports  int       `json:"reports"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
}

// Summaries lists every stored entity with its report count and time range.
func (s *Store) Summaries(ctx context.Context) ([]TrackSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, COUNT(*), MIN(ts_ms), MAX(ts_ms)
		FROM reports
		GROUP BY entity_id
		ORDER BY entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackSummary
	for rows.Next() {
		var ts TrackSummary
		var first, last int64
		if err := rows.Scan(&ts.EntityID, &ts.Reports, &first, &last); err != nil {
			return nil, err
		}
		ts.First, ts.Last = time.UnixMilli(first).UTC(), time.UnixMilli(last).UTC()
		out = append(out, ts)
	}
	return out, rows.Err()
}

// RecordImport notes a completed import in the imports table.
func (s *Store) RecordImport(ctx context.Context, entityID, source string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (entity_id, source, reports) VALUES (?, ?, ?)`,
		entityID, source, n)
	return err
}
