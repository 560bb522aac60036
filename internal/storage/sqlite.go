package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// sqliteTimeLayout is fixed width so that TEXT columns sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the embedded backend. All access goes through one
// connection, which serializes transactions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(sqliteSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, v)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

func scanSQLiteDevice(row rowScanner) (*types.Device, error) {
	var (
		d                    types.Device
		lastConnected        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.DeviceID, &d.Name, &d.IPAddress, &d.Port, &d.IsActive, &lastConnected, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if lastConnected.Valid && lastConnected.String != "" {
		t, err := parseTime(lastConnected.String)
		if err != nil {
			return nil, err
		}
		d.LastConnected = &t
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) UpsertDevice(ctx context.Context, in types.DeviceUpsert) (*types.Device, error) {
	seen := formatTime(in.SeenAt)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (device_id, name, ip_address, port, is_active, last_connected, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			name = excluded.name,
			ip_address = excluded.ip_address,
			port = excluded.port,
			is_active = excluded.is_active,
			last_connected = excluded.last_connected,
			updated_at = excluded.updated_at
		RETURNING `+deviceColumns,
		in.DeviceID, in.Name, in.IPAddress, in.Port, in.IsActive, seen, seen, seen,
	)

	device, err := scanSQLiteDevice(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", err)
	}
	return device, nil
}

func (s *SQLiteStore) HeartbeatDevice(ctx context.Context, deviceID, ipAddress string, seenAt time.Time) (*types.Device, error) {
	seen := formatTime(seenAt)
	row := s.db.QueryRowContext(ctx, `
		UPDATE devices
		SET ip_address = ?, is_active = 1, last_connected = ?, updated_at = ?
		WHERE device_id = ?
		RETURNING `+deviceColumns,
		ipAddress, seen, seen, deviceID,
	)

	device, err := scanSQLiteDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return device, nil
}

func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*types.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)

	device, err := scanSQLiteDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

func (s *SQLiteStore) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := []types.Device{}
	for rows.Next() {
		device, err := scanSQLiteDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

func (s *SQLiteStore) FirstActiveDevice(ctx context.Context) (*types.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE is_active = 1
		ORDER BY last_connected IS NULL, last_connected DESC, id ASC
		LIMIT 1
	`)

	device, err := scanSQLiteDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNoActiveDevice
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick active device: %w", err)
	}
	return device, nil
}

func (s *SQLiteStore) TouchDevice(ctx context.Context, id int64, seenAt time.Time) error {
	seen := formatTime(seenAt)
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET last_connected = ?, updated_at = ? WHERE id = ?`, seen, seen, id)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrDeviceNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteDevice(ctx context.Context, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrDeviceNotFound
	}
	return nil
}

func scanSQLiteCommand(row rowScanner) (*types.Command, error) {
	var (
		cmd                  types.Command
		id, params           string
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &cmd.DeviceID, &cmd.DeviceName, &cmd.Type, &params, &cmd.Status, &cmd.Origin, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if cmd.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid command id %q: %w", id, err)
	}
	cmd.Parameters = []byte(params)
	if cmd.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cmd.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (s *SQLiteStore) CreateCommand(ctx context.Context, cmd *types.Command) error {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	cmd.UpdatedAt = cmd.CreatedAt

	params := string(cmd.Parameters)
	if params == "" {
		params = "{}"
	}

	created := formatTime(cmd.CreatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_commands (id, device_id, command_type, parameters, status, origin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cmd.ID.String(), cmd.DeviceID, string(cmd.Type), params, string(cmd.Status), string(cmd.Origin), created, created)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

// DrainPendingCommands runs on the single connection, so a concurrent drain
// waits for this transaction and then finds the commands already sent.
func (s *SQLiteStore) DrainPendingCommands(ctx context.Context, devicePK int64) ([]types.Command, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.device_id = ? AND c.status = 'pending' AND c.origin = 'queue'
		ORDER BY c.created_at, c.rowid
	`, devicePK)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending commands: %w", err)
	}

	commands := []types.Command{}
	for rows.Next() {
		cmd, err := scanSQLiteCommand(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending commands: %w", err)
	}

	now := time.Now().UTC()
	for i := range commands {
		if _, err := tx.ExecContext(ctx, `
			UPDATE device_commands SET status = 'sent', updated_at = ? WHERE id = ? AND status = 'pending'
		`, formatTime(now), commands[i].ID.String()); err != nil {
			return nil, fmt.Errorf("failed to mark command sent: %w", err)
		}
		commands[i].Status = types.StatusSent
		commands[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return commands, nil
}

func (s *SQLiteStore) TransitionCommand(ctx context.Context, t types.Transition) (*types.Command, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.id = ? AND c.device_id = ?
	`, t.CommandID.String(), t.DeviceID)

	cmd, err := scanSQLiteCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, types.ErrCommandNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load command: %w", err)
	}

	proceed, err := decideTransition(cmd, t)
	if err != nil || !proceed {
		return cmd, false, err
	}

	entry, err := applyTransition(cmd, t)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE device_commands SET status = ?, updated_at = ? WHERE id = ?
	`, string(t.To), formatTime(now), cmd.ID.String()); err != nil {
		return nil, false, fmt.Errorf("failed to update command: %w", err)
	}

	if entry != nil {
		if err := insertSQLiteHistory(ctx, tx, entry); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	cmd.Status = t.To
	cmd.UpdatedAt = now
	return cmd, true, nil
}

func (s *SQLiteStore) GetCommand(ctx context.Context, devicePK int64, id uuid.UUID) (*types.Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.id = ? AND c.device_id = ?
	`, id.String(), devicePK)

	cmd, err := scanSQLiteCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	return cmd, nil
}

func (s *SQLiteStore) ListCommands(ctx context.Context, devicePK int64, limit int) ([]types.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.device_id = ?
		ORDER BY c.created_at DESC, c.rowid DESC
		LIMIT ?
	`, devicePK, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	commands := []types.Command{}
	for rows.Next() {
		cmd, err := scanSQLiteCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	return commands, rows.Err()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteHistory(ctx context.Context, ex sqlExecer, entry *types.HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	res, err := ex.ExecContext(ctx, `
		INSERT INTO feeding_history (device_id, timestamp, portion, feed_type) VALUES (?, ?, ?, ?)
	`, entry.DeviceID, formatTime(entry.Timestamp), entry.Portion, string(entry.FeedType))
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *types.HistoryEntry) error {
	return insertSQLiteHistory(ctx, s.db, entry)
}

func (s *SQLiteStore) RecentHistory(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.device_id, d.name, h.timestamp, h.portion, h.feed_type
		FROM feeding_history h
		JOIN devices d ON d.id = h.device_id
		ORDER BY h.timestamp DESC, h.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []types.HistoryEntry{}
	for rows.Next() {
		var (
			e  types.HistoryEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceName, &ts, &e.Portion, &e.FeedType); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		// An unparsable timestamp is surfaced as the zero time so the
		// ledger can log and skip the row.
		e.Timestamp, _ = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) ReplaceSchedules(ctx context.Context, schedules []types.Schedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feeding_schedules`); err != nil {
		return fmt.Errorf("failed to clear schedules: %w", err)
	}

	for i := range schedules {
		res, err := tx.ExecContext(ctx, `INSERT INTO feeding_schedules (time_of_day, portion) VALUES (?, ?)`,
			schedules[i].Time, schedules[i].Portion)
		if err != nil {
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			schedules[i].ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]types.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, time_of_day, portion FROM feeding_schedules ORDER BY time_of_day, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []types.Schedule{}
	for rows.Next() {
		var sch types.Schedule
		if err := rows.Scan(&sch.ID, &sch.Time, &sch.Portion); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}
