package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"remoteconsole/models"
)

// Config holds settings for both the console server and the development agent
type Config struct {
	Console  ConsoleConfig  `yaml:"console"`
	Commands CommandsConfig `yaml:"commands"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
	Agent    AgentConfig    `yaml:"agent"`

	// DevicesDB is the registration subsystem's sqlite file. When empty the
	// static Devices list is used instead.
	DevicesDB string          `yaml:"devices_db"`
	Devices   []models.Device `yaml:"devices"`
}

type ConsoleConfig struct {
	Addr         string        `yaml:"addr"`
	GatewayURL   string        `yaml:"gateway_url"`
	Credential   string        `yaml:"credential"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	AutoSync     bool          `yaml:"auto_sync"`
}

type CommandsConfig struct {
	// Timeout of zero keeps unanswered commands pending until the session ends
	Timeout time.Duration `yaml:"timeout"`
}

type WebRTCConfig struct {
	STUNURLs []string `yaml:"stun_urls"`
}

type AgentConfig struct {
	Addr       string  `yaml:"addr"`
	ADBPath    string  `yaml:"adb_path"`
	Serial     string  `yaml:"serial"`
	Credential string  `yaml:"credential"`
	MirrorFPS  float64 `yaml:"mirror_fps"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Console: ConsoleConfig{
			Addr:         ":8080",
			GatewayURL:   "ws://localhost:8090/device",
			StartTimeout: 10 * time.Second,
		},
		WebRTC: WebRTCConfig{
			STUNURLs: []string{"stun:stun.l.google.com:19302"},
		},
		Agent: AgentConfig{
			Addr:      ":8090",
			ADBPath:   "adb",
			MirrorFPS: 5,
		},
	}
}

// Load reads path (optional) over the defaults, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Console.Addr = getEnv("CONSOLE_ADDR", c.Console.Addr)
	c.Console.GatewayURL = getEnv("DEVICE_GATEWAY_URL", c.Console.GatewayURL)
	c.Console.Credential = getEnv("OPERATOR_TOKEN", c.Console.Credential)
	c.DevicesDB = getEnv("DEVICES_DB", c.DevicesDB)
	c.Agent.Addr = getEnv("AGENT_ADDR", c.Agent.Addr)
	c.Agent.ADBPath = getEnv("ADB_PATH", c.Agent.ADBPath)
	c.Agent.Serial = getEnv("ADB_SERIAL", c.Agent.Serial)

	if v := os.Getenv("COMMAND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COMMAND_TIMEOUT: %w", err)
		}
		c.Commands.Timeout = d
	}
	if v := os.Getenv("AUTO_SYNC"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_SYNC: %w", err)
		}
		c.Console.AutoSync = on
	}
	if v := os.Getenv("STUN_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		c.WebRTC.STUNURLs = urls
	}
	return nil
}

// getEnv gets environment variable with fallback default
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
