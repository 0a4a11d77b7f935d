// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package object

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fibre-rpc/fibre/internal/codec"
	"github.com/fibre-rpc/fibre/internal/remotenode"
	"github.com/fibre-rpc/fibre/internal/streamqueue"
)

// pollInterval is how often Serve checks node.ServerPipePairs for newly
// addressed slots. A call's first bytes land on the pipe as soon as the
// peer's channel decoder resolves it, independent of this loop, so the
// interval only bounds dispatch latency for the very first call on a
// previously untouched slot.
const pollInterval = 5 * time.Millisecond

// HandlerFunc executes one server-side function invocation and returns one
// value per output codec, in declaration order.
type HandlerFunc func(args []any) ([]any, error)

// FunctionSpec is one registered endpoint: its argument/return codec
// tables and the handler that implements it.
type FunctionSpec struct {
	Inputs  []codec.Codec
	Outputs []codec.Codec
	Handler HandlerFunc
}

type execKey struct {
	pipeID      int64
	startOffset int64
}

// Dispatcher maps endpoint handles to registered functions and tracks
// which (pipe id, starting offset) invocations have already executed, so a
// retransmitted request chunk that somehow reaches the handler layer (the
// InputPipe's own duplicate/disjoint-ahead checks are the first line of
// defense; this is the belt-and-suspenders second one named by spec §4.7)
// cannot run a handler twice.
type Dispatcher struct {
	mu        sync.Mutex
	functions map[uint16]FunctionSpec
	executed  map[execKey]struct{}
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		functions: make(map[uint16]FunctionSpec),
		executed:  make(map[execKey]struct{}),
	}
}

// Register associates endpointID with spec. Registering the same
// endpointID twice replaces the previous spec.
func (d *Dispatcher) Register(endpointID uint16, spec FunctionSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.functions[endpointID] = spec
}

// markExecuted reports whether this is the first time key has been seen,
// atomically recording it as seen either way.
func (d *Dispatcher) markExecuted(key execKey) (first bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, seen := d.executed[key]; seen {
		return false
	}
	d.executed[key] = struct{}{}
	return true
}

// HandleCall reads one inbound invocation from a freshly acquired server
// pipe pair: the endpoint handle, then each input argument (value bytes
// plus its trailing frame-boundary byte, mirroring internal/call's
// Call.WriteArgument encoding on the client side), looks up and at-most-
// once executes the registered handler, and writes back each output value
// the same way. It blocks until the full request has arrived or ctx is
// cancelled.
func (d *Dispatcher) HandleCall(ctx context.Context, pair *remotenode.PipePair) error {
	queue := streamqueue.New()
	pair.Input.SetInputHandler(queue)
	startOffset := pair.Input.Pos()

	handleBuf, err := queue.ReadExact(ctx, codec.ObjectReference.Length())
	if err != nil {
		return fmt.Errorf("object: reading endpoint handle: %w", err)
	}
	handleValue, err := codec.ObjectReference.Decode(handleBuf)
	if err != nil {
		return err
	}
	handle := handleValue.(codec.ObjectRef)

	d.mu.Lock()
	spec, ok := d.functions[handle.ObjectID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("object: no function registered for endpoint %d", handle.ObjectID)
	}

	args := make([]any, len(spec.Inputs))
	for i, in := range spec.Inputs {
		buf, err := queue.ReadExact(ctx, in.Length()+1)
		if err != nil {
			return fmt.Errorf("object: reading argument %d: %w", i, err)
		}
		value, err := in.Decode(buf[:in.Length()])
		if err != nil {
			return fmt.Errorf("object: decoding argument %d: %w", i, err)
		}
		args[i] = value
	}

	key := execKey{pipeID: pair.Output.PipeID, startOffset: startOffset}
	if !d.markExecuted(key) {
		return nil
	}

	outputs, err := spec.Handler(args)
	if err != nil {
		return err
	}
	if len(outputs) != len(spec.Outputs) {
		return fmt.Errorf("object: handler for endpoint %d returned %d outputs, expected %d", handle.ObjectID, len(outputs), len(spec.Outputs))
	}
	for i, out := range spec.Outputs {
		buf, err := out.Encode(outputs[i])
		if err != nil {
			return fmt.Errorf("object: encoding output %d: %w", i, err)
		}
		pair.Output.SendBytes(buf, true)
	}
	return nil
}

// Serve watches node for server-initiated pipe pairs a peer has addressed
// and services each with a dedicated goroutine that loops HandleCall
// forever on it, so a pool slot keeps being serviced across many
// sequential calls for as long as the peer keeps it acquired. Serve itself
// returns once ctx is cancelled; the per-pair goroutines it started follow
// suit.
func (d *Dispatcher) Serve(ctx context.Context, node *remotenode.Node, logger *slog.Logger) {
	seen := make(map[*remotenode.PipePair]struct{})
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, pair := range node.ServerPipePairs() {
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}
			go d.serveLoop(ctx, pair, logger)
		}
	}
}

func (d *Dispatcher) serveLoop(ctx context.Context, pair *remotenode.PipePair, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := d.HandleCall(ctx, pair); err != nil {
			if logger != nil {
				logger.Warn("object: call handling stopped", "pipe_id", pair.Output.PipeID, "error", err)
			}
			return
		}
	}
}
