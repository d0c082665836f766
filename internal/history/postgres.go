package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/sprout/internal/audio"
)

// PostgresStore keeps the history index in PostgreSQL while audio files stay
// on local disk. Useful when several service instances share one database.
type PostgresStore struct {
	pool  *pgxpool.Pool
	files *sampleFiles
}

func NewPostgresStore(ctx context.Context, databaseURL, cacheDir string) (*PostgresStore, error) {
	files, err := newSampleFiles(cacheDir)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, files: files}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			id TEXT PRIMARY KEY,
			prompt TEXT NOT NULL,
			requested_duration_ms BIGINT NOT NULL,
			guidance_scale DOUBLE PRECISION NOT NULL,
			channels INT NOT NULL,
			seed BIGINT,
			file_path TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_actual_ms BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_entries_created ON history_entries (created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, entry Entry, buf audio.Buffer) (Entry, error) {
	if entry.ID == "" {
		entry.ID = DeriveID(entry.Prompt, entry.RequestedDuration, entry.GuidanceScale, entry.Seed)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	path, err := s.files.write(entry.ID, buf)
	if err != nil {
		return Entry{}, err
	}
	entry.FilePath = path
	entry.DurationActual = buf.Duration()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO history_entries
			(id, prompt, requested_duration_ms, guidance_scale, channels, seed, file_path, created_at, duration_actual_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			created_at = EXCLUDED.created_at,
			duration_actual_ms = EXCLUDED.duration_actual_ms`,
		entry.ID,
		entry.Prompt,
		entry.RequestedDuration.Milliseconds(),
		entry.GuidanceScale,
		entry.Channels,
		entry.Seed,
		entry.FilePath,
		entry.CreatedAt,
		entry.DurationActual.Milliseconds(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("save history entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, prompt, requested_duration_ms, guidance_scale, channels, seed, file_path, created_at, duration_actual_ms
		 FROM history_entries ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var items []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, audio.Buffer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, prompt, requested_duration_ms, guidance_scale, channels, seed, file_path, created_at, duration_actual_ms
		 FROM history_entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, audio.Buffer{}, ErrNotFound
		}
		return Entry{}, audio.Buffer{}, err
	}

	buf, err := s.files.read(e.FilePath)
	if err != nil {
		return Entry{}, audio.Buffer{}, err
	}
	return e, buf, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e           Entry
		requestedMS int64
		actualMS    int64
	)
	err := row.Scan(&e.ID, &e.Prompt, &requestedMS, &e.GuidanceScale, &e.Channels,
		&e.Seed, &e.FilePath, &e.CreatedAt, &actualMS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan history row: %w", err)
	}
	e.RequestedDuration = time.Duration(requestedMS) * time.Millisecond
	e.DurationActual = time.Duration(actualMS) * time.Millisecond
	return e, nil
}
