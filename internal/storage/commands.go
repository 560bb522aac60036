package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const commandColumns = `c.id, c.device_id, d.name, c.command_type, c.parameters, c.status, c.origin, c.created_at, c.updated_at`

func scanPostgresCommand(row rowScanner) (*types.Command, error) {
	var (
		cmd    types.Command
		params []byte
	)
	err := row.Scan(
		&cmd.ID,
		&cmd.DeviceID,
		&cmd.DeviceName,
		&cmd.Type,
		&params,
		&cmd.Status,
		&cmd.Origin,
		&cmd.CreatedAt,
		&cmd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cmd.Parameters = params
	return &cmd, nil
}

func (p *PostgresClient) CreateCommand(ctx context.Context, cmd *types.Command) error {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	now := time.Now().UTC()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = cmd.CreatedAt

	params := cmd.Parameters
	if len(params) == 0 {
		params = []byte("{}")
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO device_commands (id, device_id, command_type, parameters, status, origin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, cmd.ID, cmd.DeviceID, string(cmd.Type), []byte(params), string(cmd.Status), string(cmd.Origin), cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

// DrainPendingCommands marks every queued pending command of the device as
// sent and returns them oldest first. Rows locked by a concurrent drain are
// skipped so each command is handed out once.
func (p *PostgresClient) DrainPendingCommands(ctx context.Context, devicePK int64) ([]types.Command, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.device_id = $1 AND c.status = 'pending' AND c.origin = 'queue'
		ORDER BY c.created_at, c.id
		FOR UPDATE OF c SKIP LOCKED
	`, devicePK)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending commands: %w", err)
	}

	commands := []types.Command{}
	for rows.Next() {
		cmd, err := scanPostgresCommand(rows)
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

	if len(commands) == 0 {
		return commands, nil
	}

	ids := make([]string, len(commands))
	for i := range commands {
		ids[i] = commands[i].ID.String()
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE device_commands SET status = 'sent', updated_at = $2 WHERE id = ANY($1::uuid[])
	`, ids, now); err != nil {
		return nil, fmt.Errorf("failed to mark commands sent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for i := range commands {
		commands[i].Status = types.StatusSent
		commands[i].UpdatedAt = now
	}
	return commands, nil
}

// TransitionCommand locks the command row, checks the transition guard and
// writes the new status together with any history entry produced by
// t.Apply. The bool result is false when the command was already terminal.
func (p *PostgresClient) TransitionCommand(ctx context.Context, t types.Transition) (*types.Command, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.id = $1 AND c.device_id = $2
		FOR UPDATE OF c
	`, t.CommandID, t.DeviceID)

	cmd, err := scanPostgresCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, types.ErrCommandNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock command: %w", err)
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
	if _, err := tx.Exec(ctx, `
		UPDATE device_commands SET status = $2, updated_at = $3 WHERE id = $1
	`, cmd.ID, string(t.To), now); err != nil {
		return nil, false, fmt.Errorf("failed to update command: %w", err)
	}

	if entry != nil {
		if err := insertPostgresHistory(ctx, tx, entry); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	cmd.Status = t.To
	cmd.UpdatedAt = now
	return cmd, true, nil
}

func (p *PostgresClient) GetCommand(ctx context.Context, devicePK int64, id uuid.UUID) (*types.Command, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.id = $1 AND c.device_id = $2
	`, id, devicePK)

	cmd, err := scanPostgresCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	return cmd, nil
}

// ListCommands returns the audit trail of a device, newest first.
func (p *PostgresClient) ListCommands(ctx context.Context, devicePK int64, limit int) ([]types.Command, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+commandColumns+`
		FROM device_commands c
		JOIN devices d ON d.id = c.device_id
		WHERE c.device_id = $1
		ORDER BY c.created_at DESC, c.id
		LIMIT $2
	`, devicePK, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	commands := []types.Command{}
	for rows.Next() {
		cmd, err := scanPostgresCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	return commands, rows.Err()
}
