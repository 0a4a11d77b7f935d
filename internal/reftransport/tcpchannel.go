// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package reftransport is the reference StreamSource/OutputChannel
// implementation over TCP (spec §1 names this an external collaborator,
// not part of the core): it handshakes a peer UUID, decodes the incoming
// chunk stream into a RemoteNode's input pipes, and paces outbound writes
// under an optional bandwidth limit.
package reftransport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// queueDepth bounds how many already-framed chunks may sit ahead of the
// socket write. It counts frames, not bytes, so many small frames can fill
// it before MinNonBlockingBytes reaches 0.
const queueDepth = 64

// TCPChannel is a remotenode.OutputChannel backed by one net.Conn. Writes
// are enqueued without blocking and drained by a dedicated sender
// goroutine, mirroring the teacher's producer/ring-buffer/sender-goroutine
// split (internal/agent/dispatcher.go) rather than writing to the socket
// directly from the scheduler's goroutine.
type TCPChannel struct {
	conn           net.Conn
	logger         *slog.Logger
	sendBufferSize int
	resendInterval time.Duration
	limiter        *rate.Limiter // nil disables bandwidth throttling

	queued    atomic.Int64
	frames    chan []byte
	closeOnce sync.Once
	done      chan struct{}
	writeErr  error
	errMu     sync.Mutex
}

// NewTCPChannel constructs a channel over conn. bandwidthLimit is in
// bytes/second; 0 disables throttling. sendBufferSize bounds how many bytes
// of budget MinNonBlockingBytes reports outstanding at once.
func NewTCPChannel(conn net.Conn, logger *slog.Logger, sendBufferSize int, bandwidthLimit int64, resendInterval time.Duration) *TCPChannel {
	var limiter *rate.Limiter
	if bandwidthLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(bandwidthLimit), sendBufferSize)
	}
	c := &TCPChannel{
		conn:           conn,
		logger:         logger,
		sendBufferSize: sendBufferSize,
		resendInterval: resendInterval,
		limiter:        limiter,
		frames:         make(chan []byte, queueDepth),
		done:           make(chan struct{}),
	}
	go c.senderLoop()
	return c
}

// MinNonBlockingBytes reports how much of the send budget is not currently
// queued waiting to go out.
func (c *TCPChannel) MinNonBlockingBytes() int {
	free := c.sendBufferSize - int(c.queued.Load())
	if free < 0 {
		return 0
	}
	return free
}

// WriteBytes enqueues a fully-formed frame for the sender goroutine. It
// does not write to the socket itself, but it blocks while queueDepth
// frames are already waiting, until the sender goroutine takes one or the
// channel is closed.
func (c *TCPChannel) WriteBytes(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	c.queued.Add(int64(len(frame)))
	select {
	case c.frames <- frame:
		return nil
	case <-c.done:
		c.queued.Add(-int64(len(frame)))
		return fmt.Errorf("reftransport: channel closed")
	}
}

// ResendInterval implements remotenode.OutputChannel.
func (c *TCPChannel) ResendInterval() time.Duration { return c.resendInterval }

// Reliable reports true: TCP guarantees in-order, lossless byte delivery.
func (c *TCPChannel) Reliable() bool { return true }

func (c *TCPChannel) senderLoop() {
	for {
		var frame []byte
		select {
		case frame = <-c.frames:
		case <-c.done:
			return
		}

		if c.limiter != nil {
			if err := c.limiter.WaitN(context.Background(), min(len(frame), c.limiter.Burst())); err != nil {
				c.setErr(fmt.Errorf("reftransport: bandwidth wait: %w", err))
			}
		}
		c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		written := 0
		for written < len(frame) {
			n, err := c.conn.Write(frame[written:])
			written += n
			if err != nil {
				c.setErr(fmt.Errorf("reftransport: write: %w", err))
				break
			}
		}
		c.queued.Add(-int64(len(frame)))
	}
}

func (c *TCPChannel) setErr(err error) {
	c.errMu.Lock()
	if c.writeErr == nil {
		c.writeErr = err
	}
	c.errMu.Unlock()
	if c.logger != nil {
		c.logger.Warn("reftransport write error", "error", err)
	}
}

// Err returns the first write error observed by the sender goroutine, if
// any.
func (c *TCPChannel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.writeErr
}

// Close stops accepting new frames and closes the underlying connection at
// once; frames still queued are not sent.
func (c *TCPChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
