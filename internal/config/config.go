package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/coreman2200/funtimes-dotstar/internal/strip"
)

var ErrInvalid = errors.New("invalid config")

type Serial struct {
	Device        string `yaml:"device" toml:"device"` // e.g. /dev/ttyACM1
	Baud          int    `yaml:"baud" toml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
}

type Relay struct {
	Pin           string `yaml:"pin" toml:"pin"`
	TurnOnDelayMs int    `yaml:"turn_on_delay_ms" toml:"turn_on_delay_ms"`
}

type Strip struct {
	Port          string `yaml:"port" toml:"port"` // spireg name, "" for the first port
	SpeedHz       int    `yaml:"speed_hz" toml:"speed_hz"`
	LEDCount      int    `yaml:"led_count" toml:"led_count"`
	PayloadPolicy string `yaml:"payload_policy" toml:"payload_policy"`
	Sim           bool   `yaml:"sim" toml:"sim"`
}

type SafeMode struct {
	Pin                  string   `yaml:"pin" toml:"pin"`
	ResetHigh            bool     `yaml:"reset_high" toml:"reset_high"`
	Command              string   `yaml:"command" toml:"command"`
	EnablePinTrigger     bool     `yaml:"enable_pin_trigger" toml:"enable_pin_trigger"`
	EnableCommandTrigger bool     `yaml:"enable_command_trigger" toml:"enable_command_trigger"`
	MarkerPath           string   `yaml:"marker_path" toml:"marker_path"`
	ResetCommand         []string `yaml:"reset_command" toml:"reset_command"`
}

type Command struct {
	MaxLength int `yaml:"max_length" toml:"max_length"`
}

type Monitor struct {
	Addr string `yaml:"addr" toml:"addr"` // "" disables the monitor
}

type Config struct {
	LogLevel string   `yaml:"log_level" toml:"log_level"`
	Serial   Serial   `yaml:"serial" toml:"serial"`
	Relay    Relay    `yaml:"relay" toml:"relay"`
	Strip    Strip    `yaml:"strip" toml:"strip"`
	SafeMode SafeMode `yaml:"safemode" toml:"safemode"`
	Command  Command  `yaml:"command" toml:"command"`
	Monitor  Monitor  `yaml:"monitor" toml:"monitor"`
}

// Default matches the wiring of the original board: relay on GP16, sense
// pin on GP22 pulled up, SPI clock GP18 / MOSI GP19.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Serial: Serial{
			Device:        "/dev/ttyACM1",
			Baud:          115200,
			ReadTimeoutMs: 1000,
		},
		Relay: Relay{
			Pin:           "GPIO16",
			TurnOnDelayMs: 2000,
		},
		Strip: Strip{
			SpeedHz:       4000000,
			LEDCount:      67,
			PayloadPolicy: string(strip.PolicyVerbatim),
		},
		SafeMode: SafeMode{
			Pin:        "GPIO22",
			ResetHigh:  false,
			Command:    "^safemode",
			MarkerPath: "/run/dotstard/safemode",
		},
		Command: Command{
			MaxLength: 4096,
		},
	}
}

// Load decodes path over the defaults. Files ending in .toml are TOML,
// anything else YAML.
func Load(path string) (*Config, error) {
	c := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c as YAML or TOML, chosen by extension like Load.
func Save(path string, c *Config) error {
	var b []byte
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(c); err != nil {
			return err
		}
		b = []byte(sb.String())
	} else {
		var err error
		if b, err = yaml.Marshal(c); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Serial.Device) == "" {
		return fmt.Errorf("%w: serial device missing", ErrInvalid)
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		return fmt.Errorf("%w: serial read_timeout_ms must be positive", ErrInvalid)
	}
	if strings.TrimSpace(c.Relay.Pin) == "" {
		return fmt.Errorf("%w: relay pin missing", ErrInvalid)
	}
	if c.Relay.TurnOnDelayMs < 0 {
		return fmt.Errorf("%w: relay turn_on_delay_ms negative", ErrInvalid)
	}
	if c.Strip.LEDCount < 0 {
		return fmt.Errorf("%w: strip led_count negative", ErrInvalid)
	}
	if !c.Strip.Sim && c.Strip.SpeedHz <= 0 {
		return fmt.Errorf("%w: strip speed_hz must be positive", ErrInvalid)
	}
	if _, err := strip.ParsePolicy(c.Strip.PayloadPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.SafeMode.EnablePinTrigger && strings.TrimSpace(c.SafeMode.Pin) == "" {
		return fmt.Errorf("%w: safemode pin trigger enabled without a pin", ErrInvalid)
	}
	if c.SafeMode.EnableCommandTrigger && c.SafeMode.Command == "" {
		return fmt.Errorf("%w: safemode command trigger enabled without a command", ErrInvalid)
	}
	if c.SafeMode.Command == "^poweroff" || strings.ContainsRune(c.SafeMode.Command, '!') {
		return fmt.Errorf("%w: safemode command %q cannot be sent", ErrInvalid, c.SafeMode.Command)
	}
	return nil
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) TurnOnDelay() time.Duration {
	return time.Duration(c.Relay.TurnOnDelayMs) * time.Millisecond
}
