package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"remoteconsole/adb"
	"remoteconsole/models"
)

const (
	commandQueueSize = 100
	commandDeadline  = 30 * time.Second

	defaultGalleryDir = "/sdcard/DCIM/Camera"
	defaultFilesDir   = "/sdcard"
)

// ErrQueueFull is returned when the device falls behind on commands
var ErrQueueFull = errors.New("command queue full")

// completion is what the dispatcher reports back for each command
type completion struct {
	SessionID string             `json:"session_id"`
	Type      models.CommandType `json:"type"`
	RequestID uint64             `json:"request_id,omitempty"`
	Success   bool               `json:"success"`
	Result    interface{}        `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// CommandDispatcher executes queued commands one at a time on the device
// and reports every outcome through report.
type CommandDispatcher struct {
	device Device
	mirror *MirrorLoop
	report func(completion)
	queue  chan models.CommandMessage
}

func NewCommandDispatcher(device Device, mirror *MirrorLoop, report func(completion)) *CommandDispatcher {
	return &CommandDispatcher{
		device: device,
		mirror: mirror,
		report: report,
		queue:  make(chan models.CommandMessage, commandQueueSize),
	}
}

// Dispatch adds a command to the queue
func (d *CommandDispatcher) Dispatch(cmd models.CommandMessage) error {
	select {
	case d.queue <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes the queue until ctx is done
func (d *CommandDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue:
			d.process(ctx, cmd)
		}
	}
}

func (d *CommandDispatcher) process(ctx context.Context, cmd models.CommandMessage) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandDeadline)
	defer cancel()

	result, err := d.execute(cmdCtx, cmd)
	c := completion{
		SessionID: cmd.SessionID,
		Type:      cmd.Type,
		RequestID: cmd.RequestID,
		Success:   err == nil,
		Result:    result,
	}
	if err != nil {
		c.Error = err.Error()
		log.Printf("❌ Command %s #%d failed: %v", cmd.Type, cmd.RequestID, err)
	}
	d.report(c)
}

// execute runs a single command on the device
func (d *CommandDispatcher) execute(ctx context.Context, cmd models.CommandMessage) (interface{}, error) {
	p := params(cmd.Payload)

	switch cmd.Type {
	case models.CmdTap:
		x, err := p.int("x")
		if err != nil {
			return nil, err
		}
		y, err := p.int("y")
		if err != nil {
			return nil, err
		}
		return nil, d.device.Tap(ctx, x, y)

	case models.CmdSwipe:
		coords := make([]int, 4)
		for i, key := range []string{"x1", "y1", "x2", "y2"} {
			v, err := p.int(key)
			if err != nil {
				return nil, err
			}
			coords[i] = v
		}
		duration := 300 // default
		if v, err := p.int("duration"); err == nil {
			duration = v
		}
		return nil, d.device.Swipe(ctx, coords[0], coords[1], coords[2], coords[3], duration)

	case models.CmdKey:
		keycode, err := p.int("keycode")
		if err != nil {
			name, nameErr := p.string("key")
			if nameErr != nil {
				return nil, fmt.Errorf("key needs keycode or key")
			}
			if keycode, err = adb.Keycode(name); err != nil {
				return nil, err
			}
		}
		return nil, d.device.Key(ctx, keycode)

	case models.CmdText:
		text, err := p.string("text")
		if err != nil {
			return nil, err
		}
		return nil, d.device.Text(ctx, text)

	case models.CmdOpenApp:
		packageName, err := p.string("package")
		if err != nil {
			return nil, err
		}
		return nil, d.device.OpenApp(ctx, packageName)

	case models.CmdNotifications:
		return d.device.Notifications(ctx)

	case models.CmdGallery, models.CmdFiles:
		dir := defaultFilesDir
		if cmd.Type == models.CmdGallery {
			dir = defaultGalleryDir
		}
		if v, err := p.string("path"); err == nil {
			dir = v
		}
		entries, err := d.device.ListFiles(ctx, dir)
		if err != nil {
			return nil, err
		}
		return models.FileListing{Path: dir, Entries: entries}, nil

	case models.CmdViewFile:
		path, err := p.string("path")
		if err != nil {
			return nil, err
		}
		data, err := d.device.ReadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return models.Photo{Name: path, Image: data}, nil

	case models.CmdStats:
		return d.device.Stats(ctx)

	case models.CmdStartMirror:
		return nil, d.mirror.Start()

	case models.CmdStopMirror:
		d.mirror.Stop()
		return nil, nil

	case models.CmdStartCamera, models.CmdStopCamera, models.CmdCameraCapture, models.CmdAudioRecord:
		return nil, fmt.Errorf("%s: %w", cmd.Type, ErrUnsupported)

	default:
		return nil, fmt.Errorf("unknown command type: %s", cmd.Type)
	}
}

// params reads typed values out of a JSON-decoded payload
type params map[string]interface{}

func (p params) int(key string) (int, error) {
	switch v := p[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case nil:
		return 0, fmt.Errorf("missing %q", key)
	default:
		return 0, fmt.Errorf("%q must be a number", key)
	}
}

func (p params) string(key string) (string, error) {
	v, ok := p[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing %q", key)
	}
	return v, nil
}
