package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
)

func TestDeviceManager_LookupAndList(t *testing.T) {
	m := testDirectory()
	ctx := context.Background()

	d, err := m.Lookup(ctx, testDeviceID)
	require.NoError(t, err)
	assert.True(t, d.Online())

	// lookups return copies
	d.Status = models.DeviceOffline
	again, _ := m.Lookup(ctx, testDeviceID)
	assert.True(t, again.Online())

	_, err = m.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	devices, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, testDeviceID, devices[0].ID)
	assert.Equal(t, "tablet", devices[1].ID)
}

func TestDeviceManager_SetStatus(t *testing.T) {
	m := testDirectory()

	require.NoError(t, m.SetStatus("tablet", models.DeviceOnline))
	d, _ := m.Lookup(context.Background(), "tablet")
	assert.True(t, d.Online())

	assert.ErrorIs(t, m.SetStatus("nope", models.DeviceOnline), ErrUnknownDevice)
}

func newTestDevicesDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		model TEXT,
		status TEXT NOT NULL,
		resolution TEXT,
		last_seen INTEGER
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO devices VALUES
		('pixel-7', 'Pixel 7', 'GP4BC', 'online', '1080x2400', 1735732800),
		('old-phone', 'Moto G', NULL, 'offline', NULL, NULL)`)
	require.NoError(t, err)
	return db
}

func TestSQLiteDirectory(t *testing.T) {
	dir := NewSQLiteDirectory(newTestDevicesDB(t))
	ctx := context.Background()

	d, err := dir.Lookup(ctx, "pixel-7")
	require.NoError(t, err)
	assert.Equal(t, models.Device{
		ID:         "pixel-7",
		Name:       "Pixel 7",
		Model:      "GP4BC",
		Status:     models.DeviceOnline,
		Resolution: "1080x2400",
		LastSeen:   1735732800,
	}, *d)

	old, err := dir.Lookup(ctx, "old-phone")
	require.NoError(t, err)
	assert.False(t, old.Online())
	assert.Empty(t, old.Resolution)

	_, err = dir.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	devices, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "old-phone", devices[0].ID)
}
