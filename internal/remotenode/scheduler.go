// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package remotenode

import (
	"context"
	"log/slog"
	"time"

	"github.com/fibre-rpc/fibre/internal/pipe"
	"github.com/fibre-rpc/fibre/internal/wire"
)

// schedulerLoop is the RemoteNode's single writer goroutine. Each round it
// wakes on either an explicit NotifyOutputPipeReady or the earliest pending
// resend due-time, then for every output channel with non-blocking capacity
// it drains eligible chunks from the node's active pipes until the
// channel's budget for this round is exhausted.
func (n *Node) schedulerLoop(ctx context.Context) {
	for {
		wait := n.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-n.readyCh:
			timer.Stop()
		case <-timer.C:
		}

		now := time.Now()
		for _, ch := range n.channelsSnapshot() {
			n.serviceChannel(ch, now)
		}
	}
}

// nextWait computes how long the scheduler should sleep absent an explicit
// wake, based on the earliest resend due-time across every active pipe in
// both pools. It never returns a non-positive duration to time.NewTimer.
func (n *Node) nextWait() time.Duration {
	const idleWait = 5 * time.Second
	now := time.Now()
	earliest := now.Add(idleWait)
	found := false

	for _, pair := range n.clientPool.ActiveItems() {
		if due := pair.Output.GetDueTime(); !due.IsZero() && due.Before(earliest) {
			earliest = due
			found = true
		}
	}
	for _, pair := range n.serverPool.ActiveItems() {
		if due := pair.Output.GetDueTime(); !due.IsZero() && due.Before(earliest) {
			earliest = due
			found = true
		}
	}
	if !found {
		return idleWait
	}
	if d := earliest.Sub(now); d > 0 {
		return d
	}
	return time.Millisecond
}

// serviceChannel writes as many pending chunks as fit in ch's current
// non-blocking budget, visiting the active pipe pairs in the same order
// every round (client pool first, then server pool); each pair takes what it
// can from whatever budget the pairs before it left.
func (n *Node) serviceChannel(ch OutputChannel, now time.Time) {
	budget := ch.MinNonBlockingBytes() - wire.PerPacketOverhead
	if budget <= 0 {
		return
	}

	pairs := append(n.clientPool.ActiveItems(), n.serverPool.ActiveItems()...)
	for _, pair := range pairs {
		if budget <= wire.PerChunkOverhead {
			return
		}
		budget -= n.emitFromPipe(pair.Output, ch, now, budget)
	}
}

// emitFromPipe writes as many of outputPipe's pending chunks as fit within
// budget to ch and returns the number of budget bytes consumed.
func (n *Node) emitFromPipe(outputPipe *pipe.OutputPipe, ch OutputChannel, now time.Time, budget int) int {
	spent := 0
	for _, chunk := range outputPipe.PendingChunks(now) {
		available := budget - spent - wire.PerChunkOverhead
		if available <= 0 {
			break
		}

		payload := chunk.Data
		truncated := false
		if len(payload) > available {
			payload = payload[:available]
			truncated = true
		}

		header := wire.NewChunkHeader(uint16(outputPipe.PipeID), uint16(chunk.Offset), chunk.CRCInit, len(payload), chunk.Drop || (chunk.PacketBreak && !truncated))
		frame := header.Encode()
		if err := ch.WriteBytes(append(frame[:], payload...)); err != nil {
			n.logger.Warn("scheduler: write failed", slog.Int64("pipe_id", outputPipe.PipeID), slog.Any("err", err))
			return spent
		}

		emittedLen := int64(len(payload))
		spent += wire.PerChunkOverhead + len(payload)

		if !outputPipe.EnsureDelivery() {
			outputPipe.DidReceiveResponse(chunk.Offset, emittedLen)
		} else {
			next := outputPipe.GetDueTime().Add(ch.ResendInterval())
			if next.Before(now) {
				next = now.Add(ch.ResendInterval())
			}
			outputPipe.DidEmit(chunk.Offset, emittedLen, ch.Reliable(), next)
		}

		if truncated {
			break
		}
	}
	return spent
}
