package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, device_id, name, ip_address, port, is_active, last_connected, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresDevice(row rowScanner) (*types.Device, error) {
	var d types.Device
	err := row.Scan(
		&d.ID,
		&d.DeviceID,
		&d.Name,
		&d.IPAddress,
		&d.Port,
		&d.IsActive,
		&d.LastConnected,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDevice registers a device or refreshes an existing row by device_id.
func (p *PostgresClient) UpsertDevice(ctx context.Context, in types.DeviceUpsert) (*types.Device, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, name, ip_address, port, is_active, last_connected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (device_id) DO UPDATE SET
			name = EXCLUDED.name,
			ip_address = EXCLUDED.ip_address,
			port = EXCLUDED.port,
			is_active = EXCLUDED.is_active,
			last_connected = EXCLUDED.last_connected,
			updated_at = EXCLUDED.updated_at
		RETURNING `+deviceColumns,
		in.DeviceID, in.Name, in.IPAddress, in.Port, in.IsActive, in.SeenAt.UTC(),
	)

	device, err := scanPostgresDevice(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device: %w", err)
	}
	return device, nil
}

func (p *PostgresClient) HeartbeatDevice(ctx context.Context, deviceID, ipAddress string, seenAt time.Time) (*types.Device, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE devices
		SET ip_address = $2, is_active = TRUE, last_connected = $3, updated_at = $3
		WHERE device_id = $1
		RETURNING `+deviceColumns,
		deviceID, ipAddress, seenAt.UTC(),
	)

	device, err := scanPostgresDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return device, nil
}

func (p *PostgresClient) GetDevice(ctx context.Context, deviceID string) (*types.Device, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)

	device, err := scanPostgresDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return device, nil
}

func (p *PostgresClient) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := []types.Device{}
	for rows.Next() {
		device, err := scanPostgresDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

// FirstActiveDevice returns the most recently seen active device, lowest id
// first on ties.
func (p *PostgresClient) FirstActiveDevice(ctx context.Context) (*types.Device, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE is_active
		ORDER BY last_connected DESC NULLS LAST, id ASC
		LIMIT 1
	`)

	device, err := scanPostgresDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNoActiveDevice
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick active device: %w", err)
	}
	return device, nil
}

func (p *PostgresClient) TouchDevice(ctx context.Context, id int64, seenAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE devices SET last_connected = $2, updated_at = $2 WHERE id = $1
	`, id, seenAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrDeviceNotFound
	}
	return nil
}

func (p *PostgresClient) DeleteDevice(ctx context.Context, deviceID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrDeviceNotFound
	}
	return nil
}
