package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"homewire/internal/capture"
	"homewire/internal/hub"
	"homewire/internal/rfxcom"
	"homewire/internal/transport"
	"homewire/internal/units"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Devices []DeviceConfig `yaml:"devices"`
	Units   struct {
		Temperature string `yaml:"temperature"` // "°C", "°F" or empty to keep device units
	} `yaml:"units"`
	Capture struct {
		Enabled   bool   `yaml:"enabled"`
		Path      string `yaml:"path"`
		Retention int    `yaml:"retention"` // frames kept per device
	} `yaml:"capture"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	ScriptsDir string `yaml:"scripts_dir"`
}

type DeviceConfig struct {
	Name           string                  `yaml:"name"`
	Protocol       string                  `yaml:"protocol"`
	Address        string                  `yaml:"address"`
	Group          byte                    `yaml:"group"`
	Transceiver    *rfxcom.TransceiverMode `yaml:"transceiver"`
	ReplyTimeout   time.Duration           `yaml:"reply_timeout"`
	HealthInterval time.Duration           `yaml:"health_interval"`
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return errors.New("at least one device is required")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d].name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true

		if _, err := transport.ParseAddress(d.Address); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		switch d.Protocol {
		case hub.ProtocolDreamScreen:
			if d.Transceiver != nil {
				return fmt.Errorf("device %s: transceiver is only valid for rfxcom", d.Name)
			}
		case hub.ProtocolRFXCOM:
			if d.Transceiver != nil {
				if _, err := d.Transceiver.Type(); err != nil {
					return fmt.Errorf("device %s: %w", d.Name, err)
				}
			}
		default:
			return fmt.Errorf("device %s: protocol must be %q or %q, got %q",
				d.Name, hub.ProtocolDreamScreen, hub.ProtocolRFXCOM, d.Protocol)
		}
		if d.ReplyTimeout < 0 || d.HealthInterval < 0 {
			return fmt.Errorf("device %s: durations must not be negative", d.Name)
		}
	}

	if c.Units.Temperature != "" {
		u, err := units.Parse(c.Units.Temperature)
		if err != nil {
			return fmt.Errorf("units.temperature: %w", err)
		}
		if u.Dimension() != units.Temperature {
			return fmt.Errorf("units.temperature: %s is not a temperature unit", u)
		}
	}
	if c.Capture.Retention < 0 {
		return fmt.Errorf("capture.retention must not be negative, got %d", c.Capture.Retention)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// hubConfig converts the validated configuration for hub.New.
func (c *Config) hubConfig() (hub.Config, error) {
	var hc hub.Config
	if c.Units.Temperature != "" {
		u, err := units.Parse(c.Units.Temperature)
		if err != nil {
			return hc, err
		}
		hc.TemperatureUnit = u
	}
	for _, d := range c.Devices {
		hc.Devices = append(hc.Devices, hub.DeviceConfig{
			Name:           d.Name,
			Protocol:       d.Protocol,
			Address:        d.Address,
			Group:          d.Group,
			Transceiver:    d.Transceiver,
			ReplyTimeout:   d.ReplyTimeout,
			HealthInterval: d.HealthInterval,
		})
	}
	return hc, nil
}

func (c *Config) deviceNames() []string {
	names := make([]string, len(c.Devices))
	for i, d := range c.Devices {
		names[i] = d.Name
	}
	return names
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Capture.Path == "" {
		cfg.Capture.Path = "homewire-capture.db"
	}
	if cfg.Capture.Retention == 0 {
		cfg.Capture.Retention = capture.DefaultRetention
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "homewire"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
