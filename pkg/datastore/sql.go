package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/doatrack/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.000"

// Store provides SQLite-backed persistence for the bearing log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bearings (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			angle  REAL NOT NULL,
			source TEXT NOT NULL,
			at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bearings_at ON bearings(at);
		CREATE INDEX IF NOT EXISTS idx_bearings_source ON bearings(source);
	`)
	return err
}

// RecordBearing validates and inserts one bearing, filling in its ID and
// defaulting At to now.
func (s *Store) RecordBearing(b *model.Bearing) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("datastore: record bearing: %w", err)
	}
	if b.At.IsZero() {
		b.At = time.Now().UTC()
	}

	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO bearings (angle, source, at) VALUES (?, ?, ?)",
		b.Angle, b.Source, b.At.UTC().Format(dbTimeLayout))
	if err != nil {
		return fmt.Errorf("datastore: insert bearing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("datastore: bearing id: %w", err)
	}
	b.ID = id
	return nil
}

// ListBearings returns recorded bearings, newest first, narrowed by the
// given filters.
func (s *Store) ListBearings(filters model.BearingFilters) ([]model.Bearing, error) {
	query := "SELECT id, angle, source, at FROM bearings WHERE 1=1"
	var args []any

	if filters.Source != "" {
		query += " AND source = ?"
		args = append(args, filters.Source)
	}
	if !filters.Since.IsZero() {
		query += " AND at >= ?"
		args = append(args, filters.Since.UTC().Format(dbTimeLayout))
	}
	query += " ORDER BY at DESC, id DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: list bearings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Bearing
	for rows.Next() {
		var b model.Bearing
		var at string
		if err := rows.Scan(&b.ID, &b.Angle, &b.Source, &at); err != nil {
			return nil, fmt.Errorf("datastore: scan bearing: %w", err)
		}
		t, err := time.Parse(dbTimeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("datastore: parse bearing time: %w", err)
		}
		b.At = t.UTC()
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: list bearings: %w", err)
	}
	return result, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
