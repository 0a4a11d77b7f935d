// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the YAML configuration for a fibre node: pipe pool
// sizing, the reference transport's listen address and TLS material, and
// logging, following the teacher's config package shape (a typed struct
// tree, a Load*Config(path) function, human-friendly size strings parsed
// into raw byte counts at load time).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig is the complete configuration for one fibre-peer process.
type NodeConfig struct {
	Listen  ListenConfig  `yaml:"listen"`
	TLS     TLSConfig     `yaml:"tls"`
	Pipes   PipeConfig    `yaml:"pipes"`
	Channel ChannelConfig `yaml:"channel"`
	Logging LoggingInfo   `yaml:"logging"`
}

// ListenConfig is the reference transport's TCP listen address, and the
// address of a remote peer to dial when acting as a client.
type ListenConfig struct {
	Address string `yaml:"address"`
	Dial    string `yaml:"dial"`
}

// TLSConfig holds the mTLS material for the reference transport. All three
// fields are optional; when empty the reference transport listens/dials
// in plaintext, which is only appropriate for local testing.
type TLSConfig struct {
	CACert     string `yaml:"ca_cert"`
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	ServerName string `yaml:"server_name"`
}

// PipeConfig sizes a RemoteNode's client/server pipe pools and tunes the
// resend timer (spec §3, §4.6).
type PipeConfig struct {
	PoolCapacity   int           `yaml:"pool_capacity"`   // default 10
	ResendInterval time.Duration `yaml:"resend_interval"` // default 100ms
}

// ChannelConfig bounds the reference transport's per-write chunk budget
// and outbound rate.
type ChannelConfig struct {
	SendBufferSize    string `yaml:"send_buffer_size"` // e.g. "64kb" (default: 4kb)
	SendBufferSizeRaw int64  `yaml:"-"`

	BandwidthLimit    string `yaml:"bandwidth_limit"` // e.g. "10mb", "0" disables throttling (default)
	BandwidthLimitRaw int64  `yaml:"-"`

	DSCP string `yaml:"dscp"` // e.g. "AF41", "EF"; empty disables DSCP marking
}

// LoggingInfo configures the ambient slog logger.
type LoggingInfo struct {
	Level      string `yaml:"level"`        // debug|info|warn|error (default: info)
	Format     string `yaml:"format"`       // json|text (default: json)
	File       string `yaml:"file"`         // optional process-wide log path
	NodeLogDir string `yaml:"node_log_dir"` // optional dir for one log file per RemoteNode peer UUID
}

// LoadNodeConfig reads and validates a node configuration file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node config: %w", err)
	}

	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing node config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating node config: %w", err)
	}
	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.Listen.Address == "" && c.Listen.Dial == "" {
		return fmt.Errorf("listen.address or listen.dial is required")
	}

	if c.Pipes.PoolCapacity <= 0 {
		c.Pipes.PoolCapacity = 10
	}
	if c.Pipes.ResendInterval <= 0 {
		c.Pipes.ResendInterval = 100 * time.Millisecond
	}

	if c.Channel.SendBufferSize == "" {
		c.Channel.SendBufferSize = "4kb"
	}
	sendBuf, err := ParseByteSize(c.Channel.SendBufferSize)
	if err != nil {
		return fmt.Errorf("channel.send_buffer_size: %w", err)
	}
	if sendBuf <= 0 {
		return fmt.Errorf("channel.send_buffer_size must be > 0, got %s", c.Channel.SendBufferSize)
	}
	c.Channel.SendBufferSizeRaw = sendBuf

	if c.Channel.BandwidthLimit == "" {
		c.Channel.BandwidthLimit = "0"
	}
	bw, err := ParseByteSize(c.Channel.BandwidthLimit)
	if err != nil {
		return fmt.Errorf("channel.bandwidth_limit: %w", err)
	}
	c.Channel.BandwidthLimitRaw = bw

	if (c.TLS.CACert != "" || c.TLS.Cert != "" || c.TLS.Key != "") &&
		(c.TLS.CACert == "" || c.TLS.Cert == "" || c.TLS.Key == "") {
		return fmt.Errorf("tls: ca_cert, cert, and key must all be set together or all left empty")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
