// Package config loads and validates the optional FileShare YAML
// bootstrap configuration. It applies defaults so the daemon can rely
// on fully populated values; runtime behavior lives in the settings
// store under the share instead.
package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	IdleTimeoutSec int    `yaml:"idle_timeout_sec"`
}

// FTPConfig holds FTP server settings. The FTP listener runs by
// default; set disable to switch it off.
type FTPConfig struct {
	Disable      bool   `yaml:"disable"`
	Port         int    `yaml:"port"`
	PassivePorts string `yaml:"passive_ports"`
	PublicHost   string `yaml:"public_host"`
}

// BridgeConfig holds the Proxy-Protocol-v2 TCP bridge settings. When
// enabled, the bridge listens on Port and relays to the HTTP server.
type BridgeConfig struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

// TranscoderConfig names the external transcoder collaborator.
type TranscoderConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// Config mirrors the fileshare.yaml schema.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	FTP        FTPConfig        `yaml:"ftp"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
}

// Default returns the fully populated default configuration used when
// no config file is given.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

// Load reads a YAML config file, applies defaults, and validates it.
// It returns a fully populated Config or a descriptive error.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults populates zero-values with sane defaults.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 3000
	}
	if c.HTTP.IdleTimeoutSec == 0 {
		c.HTTP.IdleTimeoutSec = 120
	}
	if c.FTP.Port == 0 {
		c.FTP.Port = 2121
	}
	if c.FTP.PassivePorts == "" {
		c.FTP.PassivePorts = "50000-50100"
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = c.HTTP.Port + 1
	}
	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Transcoder.FFprobePath == "" {
		c.Transcoder.FFprobePath = "ffprobe"
	}
}

// validate performs basic sanity checks for required fields and ranges.
// It does not mutate the config.
func validate(c *Config) error {
	if strings.TrimSpace(c.Log.Level) == "" {
		return errors.New("log.level is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	if c.FTP.Port <= 0 || c.FTP.Port > 65535 {
		return errors.New("ftp.port is invalid")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return errors.New("bridge.port is invalid")
	}
	if c.Bridge.Enable && c.Bridge.Port == c.HTTP.Port {
		return errors.New("bridge.port must differ from http.port")
	}
	return nil
}
