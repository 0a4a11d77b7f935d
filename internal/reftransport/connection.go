// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reftransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/fibre-rpc/fibre/internal/config"
	"github.com/fibre-rpc/fibre/internal/remotenode"
	"github.com/fibre-rpc/fibre/internal/runtime"
	"github.com/fibre-rpc/fibre/internal/wire"
)

const readBufferSize = 32 * 1024

// readDeadline bounds how long a connection may sit with no bytes at all
// before it is treated as dead, matching the teacher's own half-open
// connection detection on both ends of a stream.
const readDeadline = 30 * time.Second

// Serve accepts connections on ln until ctx is cancelled, registering each
// peer's RemoteNode with rt. It blocks; callers typically run it in its own
// goroutine.
func Serve(ctx context.Context, ln net.Listener, rt *runtime.Runtime, cfg *config.NodeConfig, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				consecutiveErrors++
				logger.Error("reftransport: accept", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}
		consecutiveErrors = 0
		go handleConn(ctx, conn, rt, cfg, logger)
	}
}

// Dial connects to a peer at addr and registers its RemoteNode with rt. It
// returns once the handshake completes; the connection is then serviced by
// a background reader goroutine until ctx is cancelled or the connection
// fails.
func Dial(ctx context.Context, addr string, rt *runtime.Runtime, cfg *config.NodeConfig, logger *slog.Logger) (*remotenode.Node, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("reftransport: dialing %s: %w", addr, err)
	}

	// DSCP marks the raw socket, so it must be applied before any TLS wrap.
	ApplyDSCP(conn, cfg.Channel.DSCP, logger)

	if tlsCfg, tlsErr := clientTLSConfig(cfg); tlsErr != nil {
		conn.Close()
		return nil, tlsErr
	} else if tlsCfg != nil {
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("reftransport: TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	node, err := attachConn(ctx, conn, rt, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return node, nil
}

func handleConn(ctx context.Context, conn net.Conn, rt *runtime.Runtime, cfg *config.NodeConfig, logger *slog.Logger) {
	if _, err := attachConn(ctx, conn, rt, cfg, logger); err != nil {
		logger.Error("reftransport: inbound connection failed", "error", err)
		conn.Close()
	}
}

func attachConn(ctx context.Context, conn net.Conn, rt *runtime.Runtime, cfg *config.NodeConfig, logger *slog.Logger) (*remotenode.Node, error) {
	conn.SetDeadline(time.Now().Add(readDeadline))
	peerUUID, err := remotenode.Handshake(conn, rt.UUID)
	if err != nil {
		return nil, fmt.Errorf("reftransport: handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})

	node := rt.GetOrCreateNode(ctx, peerUUID)

	channel := NewTCPChannel(conn, logger, int(cfg.Channel.SendBufferSizeRaw), cfg.Channel.BandwidthLimitRaw, cfg.Pipes.ResendInterval)
	node.AddOutputChannel(channel)

	decoder := wire.NewChannelDecoder(node, logger)

	go func() {
		defer func() {
			node.RemoveOutputChannel(channel)
			channel.Close()
		}()
		readLoop(conn, decoder, logger)
	}()

	return node, nil
}

func readLoop(conn net.Conn, decoder *wire.ChannelDecoder, logger *slog.Logger) {
	buf := make([]byte, readBufferSize)
	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.ProcessBytes(buf[:n])
		}
		if err != nil {
			logger.Debug("reftransport: connection closed", "error", err)
			return
		}
	}
}

func clientTLSConfig(cfg *config.NodeConfig) (*tls.Config, error) {
	if cfg.TLS.Cert == "" {
		return nil, nil
	}
	tlsCfg, err := clientTLSConfigFromFiles(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key)
	if err != nil {
		return nil, err
	}
	tlsCfg.ServerName = cfg.TLS.ServerName
	return tlsCfg, nil
}

// NewListener builds the listener Serve accepts on: a plain TCP listener, or
// (when TLS material is configured) one requiring mutual TLS, matching the
// teacher's own listen setup (internal/server/server.go).
func NewListener(cfg *config.NodeConfig) (net.Listener, error) {
	if cfg.TLS.Cert == "" {
		return net.Listen("tcp", cfg.Listen.Address)
	}
	tlsCfg, err := serverTLSConfigFromFiles(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", cfg.Listen.Address, tlsCfg)
}
