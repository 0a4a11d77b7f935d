// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package remotenode implements the per-peer-UUID RemoteNode: two pipe
// pools (client- and server-initiated), a list of output channels, and the
// scheduler thread that multiplexes pipes onto channels under per-channel
// backpressure (spec §4.6).
package remotenode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fibre-rpc/fibre/internal/crc"
	"github.com/fibre-rpc/fibre/internal/pipe"
)

// PipePair is one (InputPipe, OutputPipe) sharing a pool slot index.
type PipePair struct {
	Input  *pipe.InputPipe
	Output *pipe.OutputPipe
}

type suspendedPair struct {
	in  pipe.SuspendedInputPipe
	out pipe.SuspendedOutputPipe
}

// Node is one RemoteNode: owns the pipe pools, output channels, and
// scheduler goroutine for a single peer UUID.
type Node struct {
	PeerUUID [16]byte

	logger *slog.Logger

	clientPool *pipe.IndexPool[PipePair]
	serverPool *pipe.IndexPool[PipePair]

	mu                   sync.Mutex
	clientContinue       []suspendedPair
	serverContinue       []suspendedPair
	channels             []OutputChannel
	lastChannelRemovedAt time.Time

	readyCh chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	interrogator func(ctx context.Context, n *Node)
}

// New constructs a RemoteNode with a pipe pool capacity of n in each
// direction (default 10 per spec §3). The scheduler does not run until
// Start is called.
func New(peerUUID [16]byte, logger *slog.Logger, capacity int) *Node {
	if capacity <= 0 {
		capacity = 10
	}
	return &Node{
		PeerUUID:       peerUUID,
		logger:         logger,
		clientPool:     pipe.NewIndexPool[PipePair](capacity),
		serverPool:     pipe.NewIndexPool[PipePair](capacity),
		clientContinue: make([]suspendedPair, capacity),
		serverContinue: make([]suspendedPair, capacity),
		readyCh:        make(chan struct{}, 1),
	}
}

// SetInterrogator attaches the lifecycle hook for the peer type-description
// handshake (SPEC_FULL.md §D.4). The type layer itself is out of scope; this
// is the second goroutine the original starts and tears down with the node,
// ready for a type-layer collaborator to use.
func (n *Node) SetInterrogator(fn func(ctx context.Context, n *Node)) {
	n.mu.Lock()
	n.interrogator = fn
	n.mu.Unlock()
}

// Start launches the scheduler goroutine and, if one is set, the
// interrogation goroutine. Both terminate when ctx is cancelled or Stop is
// called.
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.schedulerLoop(ctx)
	}()

	n.mu.Lock()
	interrogator := n.interrogator
	n.mu.Unlock()
	if interrogator != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			interrogator(ctx, n)
		}()
	}
}

// Stop cancels the node's cancellation token and waits for the scheduler
// and interrogation goroutines to exit.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

// NotifyOutputPipeReady implements pipe.Notifier: it wakes the scheduler
// loop. Redundant signals coalesce, mirroring the original's auto-reset
// event semantics.
func (n *Node) NotifyOutputPipeReady() {
	select {
	case n.readyCh <- struct{}{}:
	default:
	}
}

// AddOutputChannel registers ch for scheduling. If it already has
// non-blocking capacity, the scheduler is woken immediately.
func (n *Node) AddOutputChannel(ch OutputChannel) {
	n.mu.Lock()
	n.channels = append(n.channels, ch)
	n.lastChannelRemovedAt = time.Time{}
	n.mu.Unlock()
	if ch.MinNonBlockingBytes() != 0 {
		n.NotifyOutputPipeReady()
	}
}

// RemoveOutputChannel unregisters ch. The node survives as long as at
// least one channel remains or it is otherwise retained by its owner; once
// the last channel is removed, the node starts being reported as idle by
// IdleSince so a reaper can eventually evict it.
func (n *Node) RemoveOutputChannel(ch OutputChannel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.channels {
		if c == ch {
			n.channels = append(n.channels[:i], n.channels[i+1:]...)
			if len(n.channels) == 0 {
				n.lastChannelRemovedAt = time.Now()
			}
			return
		}
	}
}

// IdleSince reports how long this node has had zero output channels. ok is
// false if the node currently has at least one channel, or has never had
// one removed.
func (n *Node) IdleSince() (d time.Duration, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.channels) != 0 || n.lastChannelRemovedAt.IsZero() {
		return 0, false
	}
	return time.Since(n.lastChannelRemovedAt), true
}

func (n *Node) channelsSnapshot() []OutputChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]OutputChannel, len(n.channels))
	copy(out, n.channels)
	return out
}

// pipeID packs a pool selector bit and slot index into the wire pipe id:
// bit 0 set selects the client pool, per spec §6.1.
func pipeID(clientPool bool, slot int) uint16 {
	id := uint16(slot) << 1
	if clientPool {
		id |= 1
	}
	return id
}

func pairFactory(logger *slog.Logger, slot int, continuation suspendedPair, notifier pipe.Notifier, clientPool bool, ensureDelivery bool) func(int) *PipePair {
	return func(idx int) *PipePair {
		id := int64(pipeID(clientPool, idx))
		// A slot offset of 0 means this continuation was never actually
		// suspended mid-stream (the slot is being created for the first
		// time), so the CRC must start at the protocol's initial value
		// rather than the zero value a fresh suspendedPair carries.
		in := continuation.in
		if in.Offset == 0 {
			in.CRC = crc.CRC16Init
		}
		out := continuation.out
		if out.Offset == 0 {
			out.CRC = crc.CRC16Init
		}
		return &PipePair{
			Input:  pipe.NewInputPipe(id, logger, in),
			Output: pipe.NewOutputPipe(id, notifier, out, ensureDelivery),
		}
	}
}

// GetClientPipePair returns (lazily constructing if needed) the pipe pair
// at index from the client-initiated pool. index < 0 blocks until a free
// slot exists and picks one.
func (n *Node) GetClientPipePair(index int, ensureDelivery bool) *PipePair {
	return n.acquire(n.clientPool, n.clientContinue, index, true, ensureDelivery)
}

// GetServerPipePair is the server-pool analogue of GetClientPipePair.
func (n *Node) GetServerPipePair(index int, ensureDelivery bool) *PipePair {
	return n.acquire(n.serverPool, n.serverContinue, index, false, ensureDelivery)
}

// ServerPipePairs returns a snapshot of every currently active
// server-initiated pipe pair, i.e. one per slot a peer's call has
// addressed at least once. A call-dispatch layer (internal/object) polls
// this to notice newly arrived calls it has not started servicing yet.
func (n *Node) ServerPipePairs() []*PipePair {
	return n.serverPool.ActiveItems()
}

func (n *Node) acquire(pool *pipe.IndexPool[PipePair], continuations []suspendedPair, index int, clientPool, ensureDelivery bool) *PipePair {
	return pool.Acquire(index, func(idx int) *PipePair {
		var cont suspendedPair
		if idx < len(continuations) {
			cont = continuations[idx]
		}
		return pairFactory(n.logger, idx, cont, n, clientPool, ensureDelivery)(idx)
	})
}

// ReleaseClientPipePair closes both pipes of the client-pool slot, records
// their continuation for a future reacquire, and frees the slot.
func (n *Node) ReleaseClientPipePair(index int) {
	n.release(n.clientPool, n.clientContinue, index)
}

// ReleaseServerPipePair is the server-pool analogue of ReleaseClientPipePair.
func (n *Node) ReleaseServerPipePair(index int) {
	n.release(n.serverPool, n.serverContinue, index)
}

func (n *Node) release(pool *pipe.IndexPool[PipePair], continuations []suspendedPair, index int) {
	if pair := pool.Peek(index); pair != nil && index < len(continuations) {
		continuations[index] = suspendedPair{in: pair.Input.Close(), out: pair.Output.Close()}
	}
	pool.Release(index)
}

// ResolveInputPipe implements wire.PipeResolver: it looks up (lazily
// creating, per spec §4.6) the input pipe a decoded chunk header addresses.
func (n *Node) ResolveInputPipe(clientPool bool, slotIndex uint16) (*pipe.InputPipe, error) {
	idx := int(slotIndex)
	var pair *PipePair
	if clientPool {
		if idx >= n.clientPool.Capacity() {
			return nil, fmt.Errorf("remotenode: client slot %d out of range", idx)
		}
		pair = n.GetClientPipePair(idx, true)
	} else {
		if idx >= n.serverPool.Capacity() {
			return nil, fmt.Errorf("remotenode: server slot %d out of range", idx)
		}
		pair = n.GetServerPipePair(idx, true)
	}
	return pair.Input, nil
}
