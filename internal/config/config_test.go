// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadNodeConfigExampleFile(t *testing.T) {
	cfgPath := filepath.Join("..", "..", "configs", "node.example.yaml")
	cfg, err := LoadNodeConfig(cfgPath)
	if err != nil {
		t.Fatalf("failed to load node example config: %v", err)
	}

	if cfg.Listen.Address != "0.0.0.0:9847" {
		t.Errorf("expected listen.address '0.0.0.0:9847', got %q", cfg.Listen.Address)
	}
	if cfg.TLS.CACert != "/etc/fibre-peer/ca.pem" {
		t.Errorf("expected tls.ca_cert to be set, got %q", cfg.TLS.CACert)
	}
	if cfg.Pipes.PoolCapacity != 16 {
		t.Errorf("expected pipes.pool_capacity 16, got %d", cfg.Pipes.PoolCapacity)
	}
	if cfg.Pipes.ResendInterval != 150*time.Millisecond {
		t.Errorf("expected pipes.resend_interval 150ms, got %v", cfg.Pipes.ResendInterval)
	}
	if cfg.Channel.SendBufferSizeRaw != 64*1024 {
		t.Errorf("expected channel.send_buffer_size_raw 65536, got %d", cfg.Channel.SendBufferSizeRaw)
	}
	if cfg.Channel.BandwidthLimitRaw != 10*1024*1024 {
		t.Errorf("expected channel.bandwidth_limit_raw 10485760, got %d", cfg.Channel.BandwidthLimitRaw)
	}
	if cfg.Logging.File != "/var/log/fibre-peer/node.log" {
		t.Errorf("expected logging.file to be set, got %q", cfg.Logging.File)
	}
}

func TestLoadNodeConfigDefaultsWhenFieldsOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  dial: \"peer.example.com:9847\"\n"), 0o644); err != nil {
		t.Fatalf("writing minimal config: %v", err)
	}

	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("LoadNodeConfig: %v", err)
	}
	if cfg.Pipes.PoolCapacity != 10 {
		t.Errorf("expected default pool_capacity 10, got %d", cfg.Pipes.PoolCapacity)
	}
	if cfg.Pipes.ResendInterval != 100*time.Millisecond {
		t.Errorf("expected default resend_interval 100ms, got %v", cfg.Pipes.ResendInterval)
	}
	if cfg.Channel.SendBufferSizeRaw != 4*1024 {
		t.Errorf("expected default send_buffer_size_raw 4096, got %d", cfg.Channel.SendBufferSizeRaw)
	}
	if cfg.Channel.BandwidthLimitRaw != 0 {
		t.Errorf("expected default bandwidth_limit_raw 0 (unlimited), got %d", cfg.Channel.BandwidthLimitRaw)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging level/format info/json, got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadNodeConfigRequiresAddressOrDial(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadNodeConfig(path); err == nil {
		t.Fatalf("expected an error when neither listen.address nor listen.dial is set")
	}
}

func TestLoadNodeConfigRejectsPartialTLS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial-tls.yaml")
	content := "listen:\n  address: \"0.0.0.0:9847\"\ntls:\n  cert: \"/tmp/a.pem\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadNodeConfig(path); err == nil {
		t.Fatalf("expected an error for a partially-specified tls block")
	}
}

func TestParseByteSizeSuffixes(t *testing.T) {
	cases := map[string]int64{
		"0":     0,
		"512":   512,
		"4kb":   4 * 1024,
		"64kb":  64 * 1024,
		"10mb":  10 * 1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
		"  2MB": 2 * 1024 * 1024,
	}
	for input, want := range cases {
		got, err := ParseByteSize(input)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseByteSizeRejectsGarbage(t *testing.T) {
	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Fatalf("expected an error for a malformed size string")
	}
}
