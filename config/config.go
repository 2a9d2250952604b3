package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "meshweb"
	// DefaultHTTPListenAddr is the web server bind address when no override exists.
	DefaultHTTPListenAddr = ":8080"
	// DefaultSerialBaudRate matches the MeshCore companion default.
	DefaultSerialBaudRate = 115200
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// Config contains persistent local settings for the web client.
type Config struct {
	NodeName       string `json:"node_name"`
	HTTPListenAddr string `json:"http_listen_addr"`
	SerialPort     string `json:"serial_port"`
	SerialBaudRate int    `json:"serial_baud_rate"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If MESHWEB_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("MESHWEB_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// DefaultSerialPort returns the platform-default radio device path.
func DefaultSerialPort() string {
	if runtime.GOOS == "windows" {
		return "COM3"
	}
	return "/dev/ttyUSB0"
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
//
// Environment overrides (MESHWEB_HTTP_ADDR, MESHWEB_SERIAL_PORT,
// MESHWEB_SERIAL_BAUD) are applied after loading and are never persisted.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		applyEnvOverrides(cfg)
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, cfgPath, nil
}

func defaultConfig() *Config {
	nodeName := "MeshCore Web Client"
	if host, err := os.Hostname(); err == nil && host != "" {
		nodeName = host
	}

	return &Config{
		NodeName:       nodeName,
		HTTPListenAddr: DefaultHTTPListenAddr,
		SerialPort:     DefaultSerialPort(),
		SerialBaudRate: DefaultSerialBaudRate,
	}
}

func normalizeDefaults(cfg *Config) bool {
	updated := false

	if cfg.NodeName == "" {
		nodeName := "MeshCore Web Client"
		if host, err := os.Hostname(); err == nil && host != "" {
			nodeName = host
		}
		cfg.NodeName = nodeName
		updated = true
	}

	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = DefaultHTTPListenAddr
		updated = true
	}

	if cfg.SerialPort == "" {
		cfg.SerialPort = DefaultSerialPort()
		updated = true
	}

	if cfg.SerialBaudRate <= 0 {
		cfg.SerialBaudRate = DefaultSerialBaudRate
		updated = true
	}

	return updated
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("MESHWEB_HTTP_ADDR"); addr != "" {
		cfg.HTTPListenAddr = addr
	}
	if port := os.Getenv("MESHWEB_SERIAL_PORT"); port != "" {
		cfg.SerialPort = port
	}
	if baud := os.Getenv("MESHWEB_SERIAL_BAUD"); baud != "" {
		if value, err := strconv.Atoi(baud); err == nil && value > 0 {
			cfg.SerialBaudRate = value
		}
	}
}
