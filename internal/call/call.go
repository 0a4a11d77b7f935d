// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package call implements the Call/Connection abstraction: a transient
// object binding one client-initiated pipe pair to a single function
// invocation, with a two-phase (sending, receiving) lifecycle and abort
// (spec §4.7), plus the RemoteFunction wrapper that drives it with typed
// arguments (spec §4.8).
package call

import (
	"context"
	"fmt"

	"github.com/fibre-rpc/fibre/internal/codec"
	"github.com/fibre-rpc/fibre/internal/fibreerr"
	"github.com/fibre-rpc/fibre/internal/remotenode"
	"github.com/fibre-rpc/fibre/internal/streamqueue"
)

// phase tracks the two-phase lifecycle spec §4.7 describes: a Call starts
// in sending, moves to receiving once the request is closed out, and ends
// in done (either normally or aborted).
type phase int

const (
	phaseSending phase = iota
	phaseReceiving
	phaseDone
)

// Call owns one client-initiated pipe pair for the duration of a single
// function invocation.
type Call struct {
	node  *remotenode.Node
	pair  *remotenode.PipePair
	queue *streamqueue.Queue

	startOffset int64
	written     int64
	phase       phase
}

// Start acquires a fresh client pipe pair from node and begins the sending
// phase. ensureDelivery controls whether the underlying OutputPipe waits
// for acknowledgement of everything it sends (the normal case for a call
// expecting a response).
func Start(node *remotenode.Node, ensureDelivery bool) *Call {
	pair := node.GetClientPipePair(-1, ensureDelivery)
	queue := streamqueue.New()
	pair.Input.SetInputHandler(queue)

	return &Call{
		node:        node,
		pair:        pair,
		queue:       queue,
		startOffset: pair.Output.CurrentPos(),
		phase:       phaseSending,
	}
}

// StartingOffset is the absolute OutputPipe offset this call began writing
// at. Combined with the pipe id it is the server's at-most-once dedup key
// (spec §4.7).
func (c *Call) StartingOffset() int64 {
	return c.startOffset
}

// PipeID is the wire pipe id of this call's pipe pair.
func (c *Call) PipeID() int64 {
	return c.pair.Output.PipeID
}

// WriteArgument encodes value with codec and appends it to the request,
// followed by a one-byte frame boundary that both the caller and the
// callee know to skip when decoding — the InputPipe forwards every byte
// verbatim (including break placeholders) to its handler, so framing here
// is purely a matter of both sides agreeing how many bytes a value and its
// trailing break occupy; see internal/pipe's SendBytes(data, true).
func (c *Call) WriteArgument(codec codec.Codec, value any) error {
	if c.phase != phaseSending {
		return fmt.Errorf("call: cannot write argument after request is closed: %w", fibreerr.ErrArgumentInvalid)
	}
	buf, err := codec.Encode(value)
	if err != nil {
		return err
	}
	c.pair.Output.SendBytes(buf, true)
	c.written += int64(len(buf)) + 1
	return nil
}

// CloseRequest ends the sending phase: no more argument bytes will be
// written, and the call moves on to awaiting response chunks.
func (c *Call) CloseRequest() {
	if c.phase == phaseSending {
		c.phase = phaseReceiving
	}
}

// ReadOutput blocks until codec.Length()+1 bytes (value plus its trailing
// frame-boundary byte) have arrived from the peer, decodes the value, and
// discards the boundary byte.
func (c *Call) ReadOutput(ctx context.Context, valueCodec codec.Codec) (any, error) {
	if c.phase == phaseDone {
		return nil, fmt.Errorf("call: read after close: %w", fibreerr.ErrClosed)
	}
	buf, err := c.queue.ReadExact(ctx, valueCodec.Length()+1)
	if err != nil {
		return nil, err
	}
	return valueCodec.Decode(buf[:valueCodec.Length()])
}

// Abort ends the call early: any bytes already written for this call but
// not yet acknowledged are dropped via drop_range, and the response queue
// is closed out with err so any blocked ReadOutput returns immediately.
func (c *Call) Abort(err error) {
	if c.phase == phaseDone {
		return
	}
	c.pair.Output.DropRange(c.startOffset, c.written)
	c.queue.CloseWithError(err)
	c.phase = phaseDone
}

// Close releases the call's pipe pair back to the node's pool. It must be
// called exactly once, whether the call completed normally or was aborted.
func (c *Call) Close() {
	if c.phase != phaseDone {
		c.queue.CloseWithError(fibreerr.ErrClosed)
		c.phase = phaseDone
	}
	slot := int(c.pair.Output.PipeID >> 1)
	c.node.ReleaseClientPipePair(slot)
}
