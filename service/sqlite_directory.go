package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"remoteconsole/models"
)

// Compile-time interface check.
var _ DeviceDirectory = (*SQLiteDirectory)(nil)

// SQLiteDirectory reads the registration subsystem's devices table.
// It never writes; the database is opened read-only by config.OpenDatabase.
type SQLiteDirectory struct {
	db *sql.DB
}

func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

const deviceColumns = "id, name, model, status, resolution, last_seen"

func (d *SQLiteDirectory) Lookup(ctx context.Context, deviceID string) (*models.Device, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", deviceID)

	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up device %s: %w", deviceID, err)
	}
	return &device, nil
}

func (d *SQLiteDirectory) List(ctx context.Context) ([]models.Device, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (models.Device, error) {
	var (
		device     models.Device
		model      sql.NullString
		resolution sql.NullString
		lastSeen   sql.NullInt64
	)
	if err := row.Scan(&device.ID, &device.Name, &model, &device.Status, &resolution, &lastSeen); err != nil {
		return models.Device{}, err
	}
	device.Model = model.String
	device.Resolution = resolution.String
	device.LastSeen = lastSeen.Int64
	return device, nil
}
