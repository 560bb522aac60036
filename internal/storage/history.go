package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/jackc/pgx/v5"
)

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertPostgresHistory(ctx context.Context, q pgQuerier, entry *types.HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO feeding_history (device_id, timestamp, portion, feed_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, entry.DeviceID, entry.Timestamp.UTC(), entry.Portion, string(entry.FeedType)).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func (p *PostgresClient) AppendHistory(ctx context.Context, entry *types.HistoryEntry) error {
	return insertPostgresHistory(ctx, p.pool, entry)
}

// RecentHistory returns up to limit entries, newest first.
func (p *PostgresClient) RecentHistory(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT h.id, h.device_id, d.name, h.timestamp, h.portion, h.feed_type
		FROM feeding_history h
		JOIN devices d ON d.id = h.device_id
		ORDER BY h.timestamp DESC, h.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []types.HistoryEntry{}
	for rows.Next() {
		var e types.HistoryEntry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceName, &e.Timestamp, &e.Portion, &e.FeedType); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceSchedules swaps the stored schedule set for the given one.
func (p *PostgresClient) ReplaceSchedules(ctx context.Context, schedules []types.Schedule) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM feeding_schedules`); err != nil {
		return fmt.Errorf("failed to clear schedules: %w", err)
	}

	for i := range schedules {
		err := tx.QueryRow(ctx, `
			INSERT INTO feeding_schedules (time_of_day, portion) VALUES ($1, $2) RETURNING id
		`, schedules[i].Time, schedules[i].Portion).Scan(&schedules[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresClient) ListSchedules(ctx context.Context) ([]types.Schedule, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, time_of_day, portion FROM feeding_schedules ORDER BY time_of_day, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []types.Schedule{}
	for rows.Next() {
		var s types.Schedule
		if err := rows.Scan(&s.ID, &s.Time, &s.Portion); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}
