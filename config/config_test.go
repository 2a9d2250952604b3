package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("MESHWEB_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.NodeName == "" {
		t.Fatalf("expected non-empty node name")
	}
	if firstCfg.HTTPListenAddr != DefaultHTTPListenAddr {
		t.Fatalf("expected default listen addr %q, got %q", DefaultHTTPListenAddr, firstCfg.HTTPListenAddr)
	}
	if firstCfg.SerialBaudRate != DefaultSerialBaudRate {
		t.Fatalf("expected default baud rate %d, got %d", DefaultSerialBaudRate, firstCfg.SerialBaudRate)
	}
	if firstCfg.SerialPort != DefaultSerialPort() {
		t.Fatalf("expected default serial port %q, got %q", DefaultSerialPort(), firstCfg.SerialPort)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.NodeName != firstCfg.NodeName {
		t.Fatalf("expected stable node name, got %q then %q", firstCfg.NodeName, secondCfg.NodeName)
	}
}

func TestLoadOrCreateNormalizesMissingFields(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("MESHWEB_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	raw := []byte(`{"node_name":"bench-node","serial_baud_rate":0}`)
	if err := os.WriteFile(cfgPath, raw, 0o600); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.NodeName != "bench-node" {
		t.Fatalf("expected node name to survive normalization, got %q", cfg.NodeName)
	}
	if cfg.HTTPListenAddr != DefaultHTTPListenAddr {
		t.Fatalf("expected normalized listen addr, got %q", cfg.HTTPListenAddr)
	}
	if cfg.SerialBaudRate != DefaultSerialBaudRate {
		t.Fatalf("expected normalized baud rate, got %d", cfg.SerialBaudRate)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("reload normalized config: %v", err)
	}
	if reloaded.SerialBaudRate != DefaultSerialBaudRate {
		t.Fatalf("expected normalization to be persisted, got %d", reloaded.SerialBaudRate)
	}
}

func TestEnvOverridesAreNotPersisted(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("MESHWEB_DATA_DIR", tempDir)
	t.Setenv("MESHWEB_HTTP_ADDR", "127.0.0.1:9191")
	t.Setenv("MESHWEB_SERIAL_PORT", "/dev/ttyACM7")
	t.Setenv("MESHWEB_SERIAL_BAUD", "57600")

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.HTTPListenAddr != "127.0.0.1:9191" {
		t.Fatalf("expected HTTP addr override, got %q", cfg.HTTPListenAddr)
	}
	if cfg.SerialPort != "/dev/ttyACM7" {
		t.Fatalf("expected serial port override, got %q", cfg.SerialPort)
	}
	if cfg.SerialBaudRate != 57600 {
		t.Fatalf("expected baud override, got %d", cfg.SerialBaudRate)
	}

	onDisk, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load persisted config: %v", err)
	}
	if onDisk.HTTPListenAddr != DefaultHTTPListenAddr {
		t.Fatalf("expected persisted addr to stay default, got %q", onDisk.HTTPListenAddr)
	}
	if onDisk.SerialPort != DefaultSerialPort() {
		t.Fatalf("expected persisted port to stay default, got %q", onDisk.SerialPort)
	}
}
