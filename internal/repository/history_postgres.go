package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iago/vidai-studio/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const historySchema = `
	CREATE TABLE IF NOT EXISTS history_entries (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		source_url  TEXT NOT NULL,
		platform    TEXT NOT NULL,
		state       TEXT NOT NULL,
		entry       JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS history_entries_recorded_at_idx ON history_entries (recorded_at DESC);
`

// PostgresHistoryRepository keeps history in a shared database for server deployments.
type PostgresHistoryRepository struct {
	pool     *pgxpool.Pool
	maxItems int
}

func NewPostgresHistoryRepository(ctx context.Context, databaseURL string, maxItems int) (*PostgresHistoryRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, historySchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	if maxItems <= 0 {
		maxItems = DefaultHistoryMaxItems
	}
	return &PostgresHistoryRepository{pool: pool, maxItems: maxItems}, nil
}

func (r *PostgresHistoryRepository) Close() {
	r.pool.Close()
}

func (r *PostgresHistoryRepository) Append(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.ID == "" {
		return errors.New("history entry id is required")
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO history_entries (id, kind, source_url, platform, state, entry, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind,
			source_url = EXCLUDED.source_url,
			platform = EXCLUDED.platform,
			state = EXCLUDED.state,
			entry = EXCLUDED.entry,
			created_at = EXCLUDED.created_at,
			recorded_at = now()
	`,
		entry.ID,
		string(entry.Kind),
		entry.SourceURL,
		entry.Platform,
		string(entry.State),
		encoded,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert history entry: %w", err)
	}
	return nil
}

func (r *PostgresHistoryRepository) List(ctx context.Context) ([]domain.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entry
		FROM history_entries
		ORDER BY recorded_at DESC, created_at DESC
		LIMIT $1
	`, r.maxItems)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		var entry domain.HistoryEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate history: %w", rows.Err())
	}
	return entries, nil
}

func (r *PostgresHistoryRepository) Get(ctx context.Context, id string) (domain.HistoryEntry, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT entry FROM history_entries WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.HistoryEntry{}, ErrNotFound
		}
		return domain.HistoryEntry{}, fmt.Errorf("query history entry: %w", err)
	}
	var entry domain.HistoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("decode history entry: %w", err)
	}
	return entry, nil
}

func (r *PostgresHistoryRepository) Delete(ctx context.Context, id string) error {
	command, err := r.pool.Exec(ctx, `DELETE FROM history_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresHistoryRepository) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
