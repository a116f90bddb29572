package agent

import (
	"context"
	"errors"
	"fmt"

	"remoteconsole/adb"
	"remoteconsole/models"
)

// ErrUnsupported is reported for commands the device cannot serve
var ErrUnsupported = errors.New("unsupported on this device")

// Device is what the agent drives. ADBDevice is the real implementation.
type Device interface {
	Info(ctx context.Context) (models.Device, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	Key(ctx context.Context, keycode int) error
	Text(ctx context.Context, text string) error
	OpenApp(ctx context.Context, packageName string) error
	ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Notifications(ctx context.Context) ([]models.Notification, error)
	Stats(ctx context.Context) (models.DeviceStats, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// ADBDevice binds an ADB client to one device serial
type ADBDevice struct {
	client *adb.ADBClient
	serial string
}

// Compile-time interface check.
var _ Device = (*ADBDevice)(nil)

func NewADBDevice(client *adb.ADBClient, serial string) *ADBDevice {
	return &ADBDevice{client: client, serial: serial}
}

// Serial returns the adb serial this device is bound to
func (d *ADBDevice) Serial() string {
	return d.serial
}

func (d *ADBDevice) Info(ctx context.Context) (models.Device, error) {
	return d.client.Device(ctx, d.serial)
}

func (d *ADBDevice) Tap(ctx context.Context, x, y int) error {
	return d.client.SendTap(ctx, d.serial, x, y)
}

func (d *ADBDevice) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	return d.client.SendSwipe(ctx, d.serial, x1, y1, x2, y2, durationMs)
}

func (d *ADBDevice) Key(ctx context.Context, keycode int) error {
	return d.client.SendKey(ctx, d.serial, keycode)
}

func (d *ADBDevice) Text(ctx context.Context, text string) error {
	return d.client.SendText(ctx, d.serial, text)
}

func (d *ADBDevice) OpenApp(ctx context.Context, packageName string) error {
	return d.client.OpenApp(ctx, d.serial, packageName)
}

func (d *ADBDevice) ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error) {
	return d.client.ListFiles(ctx, d.serial, dir)
}

func (d *ADBDevice) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return d.client.ReadFile(ctx, d.serial, path)
}

func (d *ADBDevice) Notifications(ctx context.Context) ([]models.Notification, error) {
	return d.client.Notifications(ctx, d.serial)
}

func (d *ADBDevice) Stats(ctx context.Context) (models.DeviceStats, error) {
	level, charging, err := d.client.Battery(ctx, d.serial)
	if err != nil {
		return models.DeviceStats{}, fmt.Errorf("battery: %w", err)
	}
	stats := models.DeviceStats{Battery: level, Charging: charging}
	if resolution, err := d.client.ScreenResolution(ctx, d.serial); err == nil {
		stats.Resolution = resolution
	}
	if network, err := d.client.Property(ctx, d.serial, "gsm.network.type"); err == nil {
		stats.Network = network
	}
	if free, err := d.client.FreeStorageMB(ctx, d.serial); err == nil {
		stats.StorageFreeMB = free
	}
	return stats, nil
}

func (d *ADBDevice) Screenshot(ctx context.Context) ([]byte, error) {
	return d.client.ScreenCapture(ctx, d.serial)
}
