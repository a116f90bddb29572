package adb

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"remoteconsole/models"
)

// ADBClient wraps ADB command execution
type ADBClient struct {
	ADBPath string
}

// NewADBClient creates a new ADB client. An empty path assumes adb is in PATH.
func NewADBClient(adbPath string) *ADBClient {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &ADBClient{
		ADBPath: adbPath,
	}
}

func (c *ADBClient) output(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.ADBPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("adb %s: %w, stderr: %s", args[len(args)-1], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (c *ADBClient) shell(ctx context.Context, deviceID string, args ...string) (string, error) {
	out, err := c.output(ctx, append([]string{"-s", deviceID, "shell"}, args...)...)
	return string(out), err
}

// ListDevices returns a list of connected Android devices
// If the same physical device is connected via both USB and WiFi, WiFi is preferred
func (c *ADBClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	output, err := c.output(ctx, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := ParseDeviceList(string(output))
	for i := range devices {
		if devices[i].Status != models.DeviceOnline {
			continue
		}
		if resolution, err := c.ScreenResolution(ctx, devices[i].ID); err == nil {
			devices[i].Resolution = resolution
		}
	}

	// Deduplicate: If same physical device connected via USB and WiFi, prefer WiFi
	return c.deduplicateDevices(ctx, devices), nil
}

// Device returns a single device by adb serial. A serial adb does not list
// is reported offline rather than as an error.
func (c *ADBClient) Device(ctx context.Context, deviceID string) (models.Device, error) {
	output, err := c.output(ctx, "devices", "-l")
	if err != nil {
		return models.Device{}, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range ParseDeviceList(string(output)) {
		if d.ID != deviceID {
			continue
		}
		if d.Status == models.DeviceOnline {
			if resolution, err := c.ScreenResolution(ctx, deviceID); err == nil {
				d.Resolution = resolution
			}
		}
		return d, nil
	}
	return models.Device{ID: deviceID, Name: deviceID, Status: models.DeviceOffline}, nil
}

// getSerialNumber gets the hardware serial number of the device
func (c *ADBClient) getSerialNumber(ctx context.Context, adbDeviceID string) string {
	output, err := c.shell(ctx, adbDeviceID, "getprop", "ro.serialno")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(output)
}

// isWiFiConnection checks if the device ID is a WiFi connection (IP:port format)
func isWiFiConnection(adbDeviceID string) bool {
	return strings.Contains(adbDeviceID, ":")
}

// deduplicateDevices removes duplicate entries when same device is connected via USB and WiFi
// WiFi connections are preferred over USB
func (c *ADBClient) deduplicateDevices(ctx context.Context, devices []models.Device) []models.Device {
	serialToDevice := make(map[string]models.Device)
	var order []string

	for _, device := range devices {
		hwSerial := ""
		if device.Status == models.DeviceOnline {
			hwSerial = c.getSerialNumber(ctx, device.ID)
		}
		if hwSerial == "" {
			// Can't get serial, keep device as-is using ADB ID as key
			hwSerial = device.ID
		}

		existing, exists := serialToDevice[hwSerial]
		if !exists {
			serialToDevice[hwSerial] = device
			order = append(order, hwSerial)
		} else if isWiFiConnection(device.ID) && !isWiFiConnection(existing.ID) {
			serialToDevice[hwSerial] = device
		}
	}

	result := make([]models.Device, 0, len(serialToDevice))
	for _, hwSerial := range order {
		result = append(result, serialToDevice[hwSerial])
	}

	// Only log if deduplication actually happened
	if len(result) != len(devices) {
		log.Printf("📊 Dedup: %d devices (from %d raw)", len(result), len(devices))
	}
	return result
}

// ParseDeviceList parses the output of 'adb devices -l'
func ParseDeviceList(output string) []models.Device {
	var devices []models.Device
	now := time.Now().Unix()

	for i, line := range strings.Split(output, "\n") {
		// Skip header line and empty lines
		if i == 0 || strings.TrimSpace(line) == "" || strings.HasPrefix(line, "*") {
			continue
		}

		// Expected format: <serial> <state> [device info]
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		serial := parts[0]
		device := models.Device{
			ID:       serial,
			Name:     serial, // Will be updated with model name
			Status:   models.DeviceOffline,
			LastSeen: now,
		}
		// unauthorized and offline entries stay listed but cannot take a session
		if parts[1] == "device" {
			device.Status = models.DeviceOnline
		}

		for _, part := range parts[2:] {
			if strings.HasPrefix(part, "model:") {
				device.Model = strings.TrimPrefix(part, "model:")
				device.Name = strings.ReplaceAll(device.Model, "_", " ")
			}
		}
		devices = append(devices, device)
	}

	return devices
}

// Property gets a system property from the device
func (c *ADBClient) Property(ctx context.Context, deviceID, property string) (string, error) {
	output, err := c.shell(ctx, deviceID, "getprop", property)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// ScreenResolution gets the device screen resolution
// Prioritizes "Override size" if set, otherwise uses "Physical size"
func (c *ADBClient) ScreenResolution(ctx context.Context, deviceID string) (string, error) {
	output, err := c.shell(ctx, deviceID, "wm", "size")
	if err != nil {
		return "", err
	}
	return ParseScreenResolution(output)
}

// ParseScreenResolution extracts the active size from `wm size` output
func ParseScreenResolution(output string) (string, error) {
	var physicalSize string
	var overrideSize string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "Physical size:") {
			parts := strings.Split(line, ":")
			if len(parts) >= 2 {
				physicalSize = strings.TrimSpace(parts[1])
			}
		}
		if strings.Contains(line, "Override size:") {
			parts := strings.Split(line, ":")
			if len(parts) >= 2 {
				overrideSize = strings.TrimSpace(parts[1])
			}
		}
	}

	// Override size is what is actually displayed
	if overrideSize != "" {
		return overrideSize, nil
	}
	if physicalSize != "" {
		return physicalSize, nil
	}
	return "", fmt.Errorf("screen size not found")
}

// Battery gets the device battery level (0-100) and charging state
func (c *ADBClient) Battery(ctx context.Context, deviceID string) (int, bool, error) {
	output, err := c.shell(ctx, deviceID, "dumpsys", "battery")
	if err != nil {
		return 0, false, err
	}
	return ParseBattery(output)
}

// ParseBattery reads level and charging state from `dumpsys battery`
func ParseBattery(output string) (int, bool, error) {
	level := -1
	charging := false
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "level":
			if n, err := strconv.Atoi(value); err == nil {
				level = n
			}
		case "AC powered", "USB powered", "Wireless powered":
			if value == "true" {
				charging = true
			}
		}
	}
	if level < 0 {
		return 0, false, fmt.Errorf("battery level not found")
	}
	return level, charging, nil
}

// FreeStorageMB reports free space on /sdcard
func (c *ADBClient) FreeStorageMB(ctx context.Context, deviceID string) (int64, error) {
	output, err := c.shell(ctx, deviceID, "df", "-k", "/sdcard")
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output")
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return 0, fmt.Errorf("unexpected df output")
	}
	availKB, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing df output: %w", err)
	}
	return availKB / 1024, nil
}

// ScreenCapture captures the device screen and returns PNG bytes
func (c *ADBClient) ScreenCapture(ctx context.Context, deviceID string) ([]byte, error) {
	out, err := c.output(ctx, "-s", deviceID, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	return out, nil
}

// ReadFile streams a device file through exec-out
func (c *ADBClient) ReadFile(ctx context.Context, deviceID, filePath string) ([]byte, error) {
	out, err := c.output(ctx, "-s", deviceID, "exec-out", "cat", filePath)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", filePath, err)
	}
	return out, nil
}

// ListFiles lists a directory; `ls -p` marks directories with a trailing slash
func (c *ADBClient) ListFiles(ctx context.Context, deviceID, dir string) ([]models.FileEntry, error) {
	output, err := c.shell(ctx, deviceID, "ls", "-p", quote(dir))
	if err != nil {
		return nil, fmt.Errorf("listing %s failed: %w", dir, err)
	}
	return ParseFileList(dir, output), nil
}

// ParseFileList turns `ls -p` output into entries under dir
func ParseFileList(dir, output string) []models.FileEntry {
	entries := []models.FileEntry{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		isDir := strings.HasSuffix(name, "/")
		name = strings.TrimSuffix(name, "/")
		entries = append(entries, models.FileEntry{
			Name:  name,
			Path:  path.Join(dir, name),
			IsDir: isDir,
		})
	}
	return entries
}

// Notifications returns the posted notifications from `dumpsys notification`
func (c *ADBClient) Notifications(ctx context.Context, deviceID string) ([]models.Notification, error) {
	output, err := c.shell(ctx, deviceID, "dumpsys", "notification", "--noredact")
	if err != nil {
		return nil, fmt.Errorf("dumpsys notification failed: %w", err)
	}
	return ParseNotifications(output), nil
}

// ParseNotifications reads NotificationRecord blocks: the package from
// "pkg=" and title/text from the android.title / android.text extras.
func ParseNotifications(output string) []models.Notification {
	notifications := []models.Notification{}
	var current *models.Notification

	flush := func() {
		if current != nil && current.Package != "" {
			notifications = append(notifications, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "NotificationRecord("):
			flush()
			current = &models.Notification{}
			if i := strings.Index(line, "pkg="); i >= 0 {
				pkg := line[i+len("pkg="):]
				if end := strings.IndexAny(pkg, " )"); end >= 0 {
					pkg = pkg[:end]
				}
				current.Package = pkg
			}
		case current == nil:
			continue
		case strings.HasPrefix(line, "android.title="):
			current.Title = extraValue(line, "android.title=")
		case strings.HasPrefix(line, "android.text="):
			current.Text = extraValue(line, "android.text=")
		case strings.HasPrefix(line, "postTime="):
			if ms, err := strconv.ParseInt(strings.TrimPrefix(line, "postTime="), 10, 64); err == nil {
				current.PostedAt = ms
			}
		}
	}
	flush()
	return notifications
}

// extraValue strips the "String (...)" wrapper dumpsys puts around extras
func extraValue(line, prefix string) string {
	v := strings.TrimPrefix(line, prefix)
	if i := strings.Index(v, "("); i >= 0 && strings.HasSuffix(v, ")") {
		v = v[i+1 : len(v)-1]
	}
	return strings.TrimSpace(v)
}

// SendTap sends a tap event to the device
func (c *ADBClient) SendTap(ctx context.Context, deviceID string, x, y int) error {
	if _, err := c.shell(ctx, deviceID, "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("tap failed: %w", err)
	}
	return nil
}

// SendSwipe sends a swipe gesture to the device
func (c *ADBClient) SendSwipe(ctx context.Context, deviceID string, x1, y1, x2, y2, duration int) error {
	_, err := c.shell(ctx, deviceID, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1),
		strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(duration))
	if err != nil {
		return fmt.Errorf("swipe failed: %w", err)
	}
	return nil
}

// SendText sends text input to the device
func (c *ADBClient) SendText(ctx context.Context, deviceID, text string) error {
	// input text treats %s as a space
	escapedText := strings.ReplaceAll(text, " ", "%s")
	if _, err := c.shell(ctx, deviceID, "input", "text", quote(escapedText)); err != nil {
		return fmt.Errorf("text input failed: %w", err)
	}
	return nil
}

// SendKey sends a key event to the device
func (c *ADBClient) SendKey(ctx context.Context, deviceID string, keycode int) error {
	if _, err := c.shell(ctx, deviceID, "input", "keyevent", strconv.Itoa(keycode)); err != nil {
		return fmt.Errorf("key event failed: %w", err)
	}
	return nil
}

// OpenApp opens an app by package name
func (c *ADBClient) OpenApp(ctx context.Context, deviceID, packageName string) error {
	_, err := c.shell(ctx, deviceID, "monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("app launch failed: %w", err)
	}
	return nil
}

// quote wraps s in single quotes for the device shell
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
