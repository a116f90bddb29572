package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"remoteconsole/models"
)

// DeviceDirectory is the read-only view of the registration subsystem
type DeviceDirectory interface {
	Lookup(ctx context.Context, deviceID string) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
}

// Compile-time interface check.
var _ DeviceDirectory = (*DeviceManager)(nil)

// DeviceManager is an in-memory directory, filled from the config file
type DeviceManager struct {
	devices map[string]*models.Device
	mu      sync.RWMutex
}

func NewDeviceManager(devices ...models.Device) *DeviceManager {
	m := &DeviceManager{
		devices: make(map[string]*models.Device),
	}
	for _, d := range devices {
		m.Put(d)
	}
	return m
}

// Put adds or replaces a device
func (m *DeviceManager) Put(device models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := device
	m.devices[d.ID] = &d
}

// SetStatus updates the status of a known device
func (m *DeviceManager) SetStatus(deviceID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	d.Status = status
	return nil
}

// Lookup returns a copy of a single device by ID
func (m *DeviceManager) Lookup(_ context.Context, deviceID string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	device := *d
	return &device, nil
}

// List returns all devices ordered by ID
func (m *DeviceManager) List(_ context.Context) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]models.Device, 0, len(m.devices))
	for _, device := range m.devices {
		devices = append(devices, *device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}
